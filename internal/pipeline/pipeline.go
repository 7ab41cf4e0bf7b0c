// Package pipeline runs the end-to-end indexing flow: scan, parse,
// embed, store, rebuild call relations. One run owns the store for its
// duration; concurrent runs are rejected rather than queued.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/clarsbyte/washedmcp/internal/embedder"
	"github.com/clarsbyte/washedmcp/internal/graph"
	"github.com/clarsbyte/washedmcp/internal/parser"
	"github.com/clarsbyte/washedmcp/internal/scanner"
	"github.com/clarsbyte/washedmcp/internal/security"
	"github.com/clarsbyte/washedmcp/internal/storage"
	"github.com/clarsbyte/washedmcp/pkg/types"
)

var (
	ErrIndexInProgress = errors.New("an indexing run is already in progress")
	ErrCancelled       = errors.New("indexing cancelled")
	ErrTimeout         = errors.New("indexing timed out")
	ErrNotDirectory    = errors.New("path is not a directory")
)

const (
	// DefaultYieldEvery is how many files the parse loop processes
	// between context checks.
	DefaultYieldEvery = 10

	// DefaultEmbedBatchSize is the number of entity texts sent to the
	// embedding provider per call.
	DefaultEmbedBatchSize = 50
)

// DefaultStorePath returns the index database location for a codebase root.
func DefaultStorePath(root string) string {
	return filepath.Join(root, scanner.StoreDirName, "index.db")
}

// Config holds the pipeline's collaborators.
type Config struct {
	Embedder embedder.Embedder
	Logger   *log.Logger
}

// Options controls a single indexing run.
type Options struct {
	// Path is the codebase root to index.
	Path string
	// SkipSummaries leaves entity summaries empty.
	SkipSummaries bool
	// Progress receives snapshots as the run advances. May be nil.
	Progress types.ProgressFunc
	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration
	// MaxFileSizeMB overrides the scanner's per-file size limit.
	MaxFileSizeMB float64
	// YieldEvery overrides how often the parse loop polls the context.
	YieldEvery int
	// EmbedBatchSize overrides the embedding batch size.
	EmbedBatchSize int
}

func (o *Options) applyDefaults() {
	if o.YieldEvery <= 0 {
		o.YieldEvery = DefaultYieldEvery
	}
	if o.EmbedBatchSize <= 0 {
		o.EmbedBatchSize = DefaultEmbedBatchSize
	}
}

// Result summarizes a finished indexing run.
type Result struct {
	Status           types.IndexStatus `json:"status"`
	FilesProcessed   int               `json:"files_processed"`
	FunctionsIndexed int               `json:"functions_indexed"`
	Duration         time.Duration     `json:"duration"`
	Path             string            `json:"path"`
}

// Pipeline coordinates one indexing run at a time.
type Pipeline struct {
	embedder embedder.Embedder
	parser   *parser.Parser
	logger   *log.Logger
	lock     IndexLock
}

// New creates a pipeline using the given embedder and logger.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[pipeline] ", log.LstdFlags)
	}
	return &Pipeline{
		embedder: cfg.Embedder,
		parser:   parser.New(),
		logger:   logger,
	}
}

// Run indexes the codebase at opts.Path into store. It returns
// ErrIndexInProgress without touching the store if another run holds the
// lock. On cancellation the run stops at the next yield point; phases
// already committed to the store are not rolled back.
func (p *Pipeline) Run(ctx context.Context, store *storage.Store, opts Options) (*Result, error) {
	if !p.lock.TryAcquire() {
		return nil, ErrIndexInProgress
	}
	defer p.lock.Release()

	opts.applyDefaults()
	start := time.Now()

	root, err := security.SanitizePath(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	track := newTracker(opts.Progress)

	result, err := p.run(ctx, store, root, opts, track)
	if err != nil {
		err = p.mapRunError(err, track)
		return &Result{
			Status:   track.snapshot().Status,
			Duration: time.Since(start),
			Path:     root,
		}, err
	}

	result.Duration = time.Since(start)
	result.Path = root
	return result, nil
}

// mapRunError translates context errors into the pipeline's sentinels and
// records the terminal state on the tracker.
func (p *Pipeline) mapRunError(err error, track *tracker) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
		track.fail(err.Error())
	case errors.Is(err, context.Canceled):
		err = fmt.Errorf("%w: %v", ErrCancelled, err)
		track.cancel()
	default:
		track.fail(err.Error())
	}
	return err
}

func (p *Pipeline) run(ctx context.Context, store *storage.Store, root string, opts Options, track *tracker) (*Result, error) {
	// Phase 1: scan.
	track.setPhase(types.PhaseScanning, 0)
	sc := scanner.New(scanner.Config{
		MaxFileSizeMB: opts.MaxFileSizeMB,
		Logger:        p.logger,
	})
	files, err := sc.Scan(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	track.update(func(pr *types.IndexProgress) {
		pr.TotalFiles = len(files)
	})
	p.logger.Printf("scan found %d files under %s", len(files), root)

	// An empty scan is a successful no-op. The existing index is left
	// untouched so pointing a run at the wrong directory cannot destroy it.
	if len(files) == 0 {
		track.complete()
		return &Result{Status: types.StatusComplete}, nil
	}

	// Phase 2: parse.
	entities, err := p.parsePhase(ctx, files, opts, track)
	if err != nil {
		return nil, err
	}

	if !opts.SkipSummaries {
		for i := range entities {
			entities[i].Summary = summarize(&entities[i])
		}
	}

	// Phase 3: embed.
	if err := p.embedPhase(ctx, entities, opts, track); err != nil {
		return nil, err
	}

	// Phase 4: store. A full replace keeps re-indexing idempotent.
	track.setPhase(types.PhaseStoring, embedBudgetEnd)
	if err := store.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear store: %w", err)
	}
	if err := store.UpsertEntities(ctx, entities); err != nil {
		return nil, fmt.Errorf("store entities: %w", err)
	}

	// Phase 5: call relations.
	track.setPhase(types.PhaseRelations, storeBudgetEnd)
	if err := graph.NewEngine(store).Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild call graph: %w", err)
	}

	track.complete()
	snap := track.snapshot()
	return &Result{
		Status:           types.StatusComplete,
		FilesProcessed:   snap.FilesProcessed,
		FunctionsIndexed: len(entities),
	}, nil
}

// parsePhase parses every scanned file, skipping files that fail to parse.
// The context is polled every opts.YieldEvery files so cancellation takes
// effect mid-phase.
func (p *Pipeline) parsePhase(ctx context.Context, files []string, opts Options, track *tracker) ([]types.Entity, error) {
	var entities []types.Entity
	for i, file := range files {
		if i%opts.YieldEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		parsed, err := p.parser.ParseFile(file)
		if err != nil {
			p.logger.Printf("skipping unparseable file %s: %v", file, err)
		} else {
			entities = append(entities, parsed...)
		}

		processed := i + 1
		track.update(func(pr *types.IndexProgress) {
			pr.Phase = types.PhaseParsing
			pr.FilesProcessed = processed
			pr.CurrentFile = file
			pr.FunctionsFound = len(entities)
			pr.Progress = float64(processed) / float64(len(files)) * parseBudgetEnd
		})
	}
	return entities, nil
}

// embedPhase fills in entity vectors batch by batch. A provider failure on
// any batch fails the whole run.
func (p *Pipeline) embedPhase(ctx context.Context, entities []types.Entity, opts Options, track *tracker) error {
	track.setPhase(types.PhaseEmbedding, parseBudgetEnd)
	if len(entities) == 0 {
		return nil
	}

	for start := 0; start < len(entities); start += opts.EmbedBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + opts.EmbedBatchSize
		if end > len(entities) {
			end = len(entities)
		}
		batch := entities[start:end]

		texts := make([]string, len(batch))
		for i := range batch {
			texts[i] = embeddingText(&batch[i])
		}

		vectors, err := p.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if err := security.ValidateEmbeddings(vectors, p.embedder.Dimension()); err != nil {
			return fmt.Errorf("embed batch at %d: %w", start, err)
		}
		for i := range batch {
			batch[i].Vector = vectors[i]
		}

		done := float64(end) / float64(len(entities))
		track.update(func(pr *types.IndexProgress) {
			pr.Progress = parseBudgetEnd + done*(embedBudgetEnd-parseBudgetEnd)
		})
	}
	return nil
}

// embeddingText is the canonical text representation an entity is
// embedded under. Name and kind are repeated ahead of the code so short
// queries naming a function rank it highly.
func embeddingText(e *types.Entity) string {
	if e.Summary != "" {
		return fmt.Sprintf("%s %s\n%s\n%s", e.Kind, e.Name, e.Summary, e.Code)
	}
	return fmt.Sprintf("%s %s\n%s", e.Kind, e.Name, e.Code)
}

// summarize produces a one-line description used for keyword search and
// embedding context.
func summarize(e *types.Entity) string {
	return fmt.Sprintf("%s %s defined in %s (lines %d-%d)",
		e.Kind, e.Name, e.FilePath, e.LineStart, e.LineEnd)
}
