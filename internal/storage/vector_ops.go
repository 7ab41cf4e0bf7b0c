package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/clarsbyte/washedmcp/pkg/types"
)

// searchVector performs cosine-similarity search, using the sqlite-vec
// extension when the build provides it and a Go fallback otherwise
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, limit int) ([]Match, error) {
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, queryVector, limit)
	}
	return searchVectorFallback(ctx, db, queryVector, limit)
}

// searchVectorOptimized computes distance at the database layer.
// vec_distance_cosine returns distance (lower is better); converted to
// similarity as 1 - distance/2 so the score lands in [0, 1].
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, limit int) ([]Match, error) {
	blob := serializeVector(queryVector)
	query := `
		SELECT ` + entityColumns + `,
		       1.0 - vec_distance_cosine(vector, ?) / 2.0 AS similarity
		FROM entities
		WHERE dimension = ?
		ORDER BY similarity DESC
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, blob, len(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]Match, 0, limit)
	for rows.Next() {
		var e entityRow
		var score float64
		if err := rows.Scan(e.dest(&score)...); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		ent, err := e.toEntity()
		if err != nil {
			return nil, err
		}
		results = append(results, Match{Entity: *ent, Score: score})
	}
	return results, rows.Err()
}

// searchVectorFallback loads candidate vectors and ranks them in Go
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, limit int) ([]Match, error) {
	rows, err := db.QueryContext(ctx, "SELECT id, vector FROM entities WHERE dimension = ?", len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type candidate struct {
		id    string
		score float64
	}
	candidates := make([]candidate, 0, 1000)
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue
		}
		// cosine in [-1, 1] mapped to [0, 1]
		score := (cosineSimilarity(queryVector, vector) + 1.0) / 2.0
		candidates = append(candidates, candidate{id: id, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if limit > len(candidates) {
		limit = len(candidates)
	}

	results := make([]Match, 0, limit)
	for _, c := range candidates[:limit] {
		row := db.QueryRowContext(ctx, "SELECT "+entityColumns+" FROM entities WHERE id = ?", c.id)
		ent, err := scanEntity(row)
		if err != nil {
			return nil, err
		}
		results = append(results, Match{Entity: *ent, Score: c.score})
	}
	return results, nil
}

// searchText performs BM25 full-text search using FTS5
func searchText(ctx context.Context, db *sql.DB, query string, limit int) ([]Match, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, fmt.Errorf("empty search query")
	}

	sqlQuery := `
		SELECT ` + prefixedEntityColumns("e") + `,
		       bm25(entities_fts) AS score
		FROM entities_fts
		INNER JOIN entities e ON entities_fts.rowid = e.rowid
		WHERE entities_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, sqlQuery, sanitized, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]Match, 0, limit)
	for rows.Next() {
		var e entityRow
		var raw float64
		if err := rows.Scan(e.dest(&raw)...); err != nil {
			return nil, err
		}
		ent, err := e.toEntity()
		if err != nil {
			return nil, err
		}
		// BM25 scores are negative, lower is better; normalize to (0, 1]
		score := 1.0 / (1.0 + math.Abs(raw)/50.0)
		results = append(results, Match{Entity: *ent, Score: score})
	}
	return results, rows.Err()
}

// prefixedEntityColumns qualifies the entity column list with a table alias
func prefixedEntityColumns(alias string) string {
	cols := strings.Split(entityColumns, ",")
	for i, col := range cols {
		cols[i] = alias + "." + strings.TrimSpace(col)
	}
	return strings.Join(cols, ", ")
}

// entityRow buffers one scanned row plus a trailing score column
type entityRow struct {
	id, name, kind, code, summary, filePath string
	lineStart, lineEnd                      int
	language                                string
	exported                                bool
	calls, calledBy                         string
	vector                                  []byte
	dimension                               int
}

func (r *entityRow) dest(score *float64) []interface{} {
	return []interface{}{
		&r.id, &r.name, &r.kind, &r.code, &r.summary, &r.filePath,
		&r.lineStart, &r.lineEnd, &r.language, &r.exported,
		&r.calls, &r.calledBy, &r.vector, &r.dimension, score,
	}
}

func (r *entityRow) toEntity() (*types.Entity, error) {
	var e types.Entity
	e.ID, e.Name, e.Code, e.Summary = r.id, r.name, r.code, r.summary
	e.Kind = types.EntityKind(r.kind)
	e.FilePath, e.LineStart, e.LineEnd = r.filePath, r.lineStart, r.lineEnd
	e.Language, e.Exported = r.language, r.exported
	if err := json.Unmarshal([]byte(r.calls), &e.Calls); err != nil {
		return nil, fmt.Errorf("unmarshal calls for %s: %w", r.id, err)
	}
	if err := json.Unmarshal([]byte(r.calledBy), &e.CalledBy); err != nil {
		return nil, fmt.Errorf("unmarshal called_by for %s: %w", r.id, err)
	}
	e.Vector = deserializeVector(r.vector)
	e.Normalize()
	return &e, nil
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sanitizeFTSQuery rewrites a raw query into a safe FTS5 MATCH expression.
// Each whitespace-separated token is double-quoted so user input can never
// inject FTS5 operators or column filters.
func sanitizeFTSQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " ")
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

// SanitizeFTSQuery is an exported helper for testing
func SanitizeFTSQuery(query string) string {
	return sanitizeFTSQuery(query)
}
