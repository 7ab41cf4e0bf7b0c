package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clarsbyte/washedmcp/internal/security"
	"github.com/clarsbyte/washedmcp/internal/storage"
	"github.com/clarsbyte/washedmcp/pkg/types"
)

// stubEmbedder returns a fixed unit vector for every text
type stubEmbedder struct {
	batches int
	err     error
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.batches++
	if s.err != nil {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (s *stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) Dimension() int   { return 3 }
func (s *stubEmbedder) Provider() string { return "stub" }
func (s *stubEmbedder) Close() error     { return nil }

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const mainSrc = `package main

func main() {
	helper()
}

func helper() {}
`

const utilSrc = `package main

type Config struct {
	Name string
}

func loadConfig() *Config {
	return &Config{}
}
`

func setupCodebase(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "main.go", mainSrc)
	writeFile(t, dir, "util.go", utilSrc)
	return dir
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunIndexesCodebase(t *testing.T) {
	dir := setupCodebase(t)
	store := newTestStore(t)
	p := New(Config{Embedder: &stubEmbedder{}})

	var snaps []types.IndexProgress
	result, err := p.Run(context.Background(), store, Options{
		Path: dir,
		Progress: func(pr types.IndexProgress) {
			snaps = append(snaps, pr)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusComplete, result.Status)
	assert.Equal(t, 2, result.FilesProcessed)
	// main, helper, Config, loadConfig
	assert.Equal(t, 4, result.FunctionsIndexed)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// relations were rebuilt
	helper, err := store.GetByName(context.Background(), "helper")
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, helper.CalledBy)

	require.NotEmpty(t, snaps)
	final := snaps[len(snaps)-1]
	assert.Equal(t, types.PhaseComplete, final.Phase)
	assert.Equal(t, 1.0, final.Progress)
}

func TestRunProgressNeverDecreases(t *testing.T) {
	dir := setupCodebase(t)
	store := newTestStore(t)
	p := New(Config{Embedder: &stubEmbedder{}})

	prev := -1.0
	_, err := p.Run(context.Background(), store, Options{
		Path: dir,
		Progress: func(pr types.IndexProgress) {
			assert.GreaterOrEqual(t, pr.Progress, prev)
			prev = pr.Progress
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, prev)
}

func TestRunEmptyCodebase(t *testing.T) {
	store := newTestStore(t)
	p := New(Config{Embedder: &stubEmbedder{}})

	var final types.IndexProgress
	result, err := p.Run(context.Background(), store, Options{
		Path: t.TempDir(),
		Progress: func(pr types.IndexProgress) {
			final = pr
		},
	})
	require.NoError(t, err)

	assert.Equal(t, types.StatusComplete, result.Status)
	assert.Equal(t, 0, result.FilesProcessed)
	assert.Equal(t, 0, result.FunctionsIndexed)
	assert.Equal(t, 1.0, final.Progress)
	assert.Equal(t, types.StatusComplete, final.Status)
}

func TestRunEmptyScanPreservesIndex(t *testing.T) {
	store := newTestStore(t)
	p := New(Config{Embedder: &stubEmbedder{}})

	_, err := p.Run(context.Background(), store, Options{Path: setupCodebase(t)})
	require.NoError(t, err)
	n, err := store.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, n)

	// a run over a directory with nothing to index leaves the index alone
	result, err := p.Run(context.Background(), store, Options{Path: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, types.StatusComplete, result.Status)

	n, err = store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

// shortVecEmbedder claims dimension 3 but produces 2-element vectors
type shortVecEmbedder struct {
	stubEmbedder
}

func (s *shortVecEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestRunRejectsWrongDimensionVectors(t *testing.T) {
	store := newTestStore(t)
	p := New(Config{Embedder: &shortVecEmbedder{}})

	_, err := p.Run(context.Background(), store, Options{Path: setupCodebase(t)})
	require.Error(t, err)
	assert.ErrorIs(t, err, security.ErrBadDimension)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunSkipsUnparseableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.go", mainSrc)
	writeFile(t, dir, "broken.go", "package main\nfunc {{{")
	store := newTestStore(t)
	p := New(Config{Embedder: &stubEmbedder{}})

	result, err := p.Run(context.Background(), store, Options{Path: dir})
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesProcessed)
	assert.Equal(t, 2, result.FunctionsIndexed)
}

func TestRunCancellation(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 6; i++ {
		writeFile(t, dir, filepath.Join("pkg", "f"+string(rune('a'+i))+".go"), mainSrc)
	}
	store := newTestStore(t)
	p := New(Config{Embedder: &stubEmbedder{}})

	ctx, cancel := context.WithCancel(context.Background())
	var lastStatus types.IndexStatus
	_, err := p.Run(ctx, store, Options{
		Path:       dir,
		YieldEvery: 1,
		Progress: func(pr types.IndexProgress) {
			if pr.Phase == types.PhaseParsing {
				cancel()
			}
			lastStatus = pr.Status
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, types.StatusCancelled, lastStatus)
}

func TestRunTimeout(t *testing.T) {
	dir := setupCodebase(t)
	store := newTestStore(t)
	p := New(Config{Embedder: &stubEmbedder{}})

	var lastStatus types.IndexStatus
	_, err := p.Run(context.Background(), store, Options{
		Path:    dir,
		Timeout: time.Nanosecond,
		Progress: func(pr types.IndexProgress) {
			lastStatus = pr.Status
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrCancelled)
	assert.Equal(t, types.StatusError, lastStatus)
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	dir := setupCodebase(t)
	store := newTestStore(t)
	p := New(Config{Embedder: &stubEmbedder{}})

	require.True(t, p.lock.TryAcquire())
	defer p.lock.Release()

	_, err := p.Run(context.Background(), store, Options{Path: dir})
	assert.ErrorIs(t, err, ErrIndexInProgress)

	n, cerr := store.Count(context.Background())
	require.NoError(t, cerr)
	assert.Equal(t, 0, n)
}

func TestRunRejectsFilePath(t *testing.T) {
	dir := setupCodebase(t)
	store := newTestStore(t)
	p := New(Config{Embedder: &stubEmbedder{}})

	_, err := p.Run(context.Background(), store, Options{
		Path: filepath.Join(dir, "main.go"),
	})
	assert.ErrorIs(t, err, ErrNotDirectory)
}

func TestRunEmbedderFailureIsFatal(t *testing.T) {
	dir := setupCodebase(t)
	store := newTestStore(t)
	boom := errors.New("provider down")
	p := New(Config{Embedder: &stubEmbedder{err: boom}})

	var lastStatus types.IndexStatus
	_, err := p.Run(context.Background(), store, Options{
		Path: dir,
		Progress: func(pr types.IndexProgress) {
			lastStatus = pr.Status
		},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, types.StatusError, lastStatus)
}

func TestRunBatchesEmbeddings(t *testing.T) {
	dir := setupCodebase(t)
	store := newTestStore(t)
	stub := &stubEmbedder{}
	p := New(Config{Embedder: stub})

	_, err := p.Run(context.Background(), store, Options{
		Path:           dir,
		EmbedBatchSize: 3,
	})
	require.NoError(t, err)
	// 4 entities with batch size 3 means two provider calls
	assert.Equal(t, 2, stub.batches)
}

func TestDefaultStorePath(t *testing.T) {
	got := DefaultStorePath("/repo")
	assert.Equal(t, filepath.Join("/repo", ".washedmcp", "index.db"), got)
}
