package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/clarsbyte/washedmcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// upsertBatchSize is the number of entities written per transaction
const upsertBatchSize = 500

// Match pairs an entity with its search score in [0, 1]
type Match struct {
	Entity types.Entity
	Score  float64
}

// Stats summarizes the contents of a store
type Stats struct {
	Entities  int
	Files     int
	Dimension int
	Path      string
	BuildMode string
}

// Store is a SQLite-backed entity store. A Store handle is passed
// explicitly to every component that reads or writes it; there is no
// package-level instance.
//
// Writes (Clear, UpsertEntities, ReplaceCalledBy) are serialized by an
// internal mutex so a call-graph rebuild can never interleave with an
// index write.
type Store struct {
	db   *sql.DB
	path string

	writeMu sync.Mutex
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Open creates or opens a store at the given path (":memory:" for an
// in-memory store) and applies pending migrations.
func Open(dbPath string) (*Store, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the location this store was opened at
func (s *Store) Path() string {
	return s.path
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Clear removes every entity. Combined with content-addressed IDs this
// makes a full re-index idempotent.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM entities"); err != nil {
		return fmt.Errorf("failed to clear entities: %w", err)
	}
	return nil
}

// UpsertEntities bulk-writes entities in batches. Input duplicates (same
// ID) are dropped, first occurrence wins. Every entity must carry code
// text and a vector, and all vectors in one write must share a dimension.
func (s *Store) UpsertEntities(ctx context.Context, entities []types.Entity) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	dim := 0
	seen := make(map[string]bool, len(entities))
	deduped := make([]types.Entity, 0, len(entities))
	for i := range entities {
		e := entities[i]
		e.Normalize()
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		if e.Code == "" {
			return fmt.Errorf("entity %s (%s): %w", e.Name, e.ID, types.ErrEmptyContent)
		}
		if len(e.Vector) == 0 {
			return fmt.Errorf("entity %s (%s): %w", e.Name, e.ID, types.ErrInvalidVector)
		}
		if dim == 0 {
			dim = len(e.Vector)
		} else if len(e.Vector) != dim {
			return fmt.Errorf("entity %s (%s): got %d dimensions, batch has %d: %w",
				e.Name, e.ID, len(e.Vector), dim, types.ErrDimensionMatch)
		}
		deduped = append(deduped, e)
	}

	for start := 0; start < len(deduped); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(deduped) {
			end = len(deduped)
		}
		if err := s.upsertBatch(ctx, deduped[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertBatch(ctx context.Context, entities []types.Entity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i := range entities {
		if err := s.upsertEntityWithQuerier(ctx, tx, &entities[i]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// upsertEntityWithQuerier is the internal implementation that uses a querier
func (s *Store) upsertEntityWithQuerier(ctx context.Context, q querier, e *types.Entity) error {
	calls, err := json.Marshal(e.Calls)
	if err != nil {
		return fmt.Errorf("marshal calls: %w", err)
	}
	calledBy, err := json.Marshal(e.CalledBy)
	if err != nil {
		return fmt.Errorf("marshal called_by: %w", err)
	}

	query := `
		INSERT INTO entities (id, name, kind, code, summary, file_path, line_start, line_end,
		                      language, exported, calls, called_by, vector, dimension)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			code = excluded.code,
			summary = excluded.summary,
			file_path = excluded.file_path,
			line_start = excluded.line_start,
			line_end = excluded.line_end,
			language = excluded.language,
			exported = excluded.exported,
			calls = excluded.calls,
			called_by = excluded.called_by,
			vector = excluded.vector,
			dimension = excluded.dimension
	`
	_, err = q.ExecContext(ctx, query,
		e.ID, e.Name, string(e.Kind), e.Code, e.Summary, e.FilePath, e.LineStart, e.LineEnd,
		e.Language, e.Exported, string(calls), string(calledBy),
		serializeVector(e.Vector), len(e.Vector))
	if err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", e.ID, err)
	}
	return nil
}

const entityColumns = `id, name, kind, code, summary, file_path, line_start, line_end,
	language, exported, calls, called_by, vector, dimension`

// scanEntity reads one entity row
func scanEntity(row interface{ Scan(...interface{}) error }) (*types.Entity, error) {
	var e types.Entity
	var kind, calls, calledBy string
	var vector []byte
	var dimension int
	err := row.Scan(&e.ID, &e.Name, &kind, &e.Code, &e.Summary, &e.FilePath,
		&e.LineStart, &e.LineEnd, &e.Language, &e.Exported, &calls, &calledBy,
		&vector, &dimension)
	if err != nil {
		return nil, err
	}
	e.Kind = types.EntityKind(kind)
	if err := json.Unmarshal([]byte(calls), &e.Calls); err != nil {
		return nil, fmt.Errorf("unmarshal calls for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(calledBy), &e.CalledBy); err != nil {
		return nil, fmt.Errorf("unmarshal called_by for %s: %w", e.ID, err)
	}
	e.Vector = deserializeVector(vector)
	e.Normalize()
	return &e, nil
}

// GetByID returns the entity with the given ID
func (s *Store) GetByID(ctx context.Context, id string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByName returns the first entity with the given bare name. When
// several entities share a name the match is the one that sorts first by
// (file_path, line_start); the ambiguity is inherent to name-keyed lookup.
func (s *Store) GetByName(ctx context.Context, name string) (*types.Entity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE name = ? ORDER BY file_path, line_start LIMIT 1", name)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// GetByFile returns all entities in a file ordered by position
func (s *Store) GetByFile(ctx context.Context, filePath string) ([]types.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE file_path = ? ORDER BY line_start", filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// CallEdge is the projection of an entity the graph engine rebuilds from
type CallEdge struct {
	ID    string
	Name  string
	Calls []string
}

// ListCallEdges returns (id, name, calls) for every entity in insertion
// order, the minimum needed to invert the call graph.
func (s *Store) ListCallEdges(ctx context.Context) ([]CallEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, calls FROM entities ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var edges []CallEdge
	for rows.Next() {
		var edge CallEdge
		var calls string
		if err := rows.Scan(&edge.ID, &edge.Name, &calls); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(calls), &edge.Calls); err != nil {
			return nil, fmt.Errorf("unmarshal calls for %s: %w", edge.ID, err)
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// ReplaceCalledBy overwrites the called_by list of every entity in one
// transaction. Entities absent from the map are reset to an empty list, so
// the result always reflects a full recompute.
func (s *Store) ReplaceCalledBy(ctx context.Context, calledBy map[string][]string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE entities SET called_by = '[]'"); err != nil {
		return fmt.Errorf("failed to reset called_by: %w", err)
	}

	for id, callers := range calledBy {
		encoded, err := json.Marshal(callers)
		if err != nil {
			return fmt.Errorf("marshal callers for %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE entities SET called_by = ? WHERE id = ?", string(encoded), id); err != nil {
			return fmt.Errorf("failed to update called_by for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of stored entities
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&n)
	return n, err
}

// GetStats summarizes the store contents
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Path: s.path, BuildMode: BuildMode}

	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT file_path), COALESCE(MAX(dimension), 0) FROM entities").
		Scan(&stats.Entities, &stats.Files, &stats.Dimension)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Query performs vector similarity search and returns the topK closest
// entities with scores in [0, 1], best first.
func (s *Store) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return []Match{}, nil
	}
	return searchVector(ctx, s.db, vector, topK)
}

// SearchText performs BM25 full-text search over names, code, and
// summaries.
func (s *Store) SearchText(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		return []Match{}, nil
	}
	return searchText(ctx, s.db, query, limit)
}
