package pipeline

import (
	"sync"
	"time"

	"github.com/clarsbyte/washedmcp/pkg/types"
)

// Phase progress budget. Each phase owns a fixed slice of [0, 1]; within
// a phase progress advances proportionally, and the tracker enforces that
// reported progress never decreases.
const (
	parseBudgetEnd = 0.30
	embedBudgetEnd = 0.80
	storeBudgetEnd = 0.90
)

// tracker owns the progress snapshot for one run and mirrors every
// update to the caller's sink
type tracker struct {
	mu   sync.Mutex
	snap types.IndexProgress
	sink types.ProgressFunc
}

func newTracker(sink types.ProgressFunc) *tracker {
	return &tracker{
		snap: types.IndexProgress{
			Status:    types.StatusInProgress,
			Phase:     types.PhaseScanning,
			StartTime: time.Now(),
		},
		sink: sink,
	}
}

// update applies fn to the snapshot, clamps progress to be non-decreasing
// and at most 1.0, and emits the result
func (t *tracker) update(fn func(*types.IndexProgress)) {
	t.mu.Lock()
	prev := t.snap.Progress
	fn(&t.snap)
	if t.snap.Progress < prev {
		t.snap.Progress = prev
	}
	if t.snap.Progress > 1.0 {
		t.snap.Progress = 1.0
	}
	snap := t.snap
	t.mu.Unlock()

	if t.sink != nil {
		t.sink(snap)
	}
}

func (t *tracker) setPhase(phase types.IndexPhase, progress float64) {
	t.update(func(p *types.IndexProgress) {
		p.Phase = phase
		p.Progress = progress
	})
}

func (t *tracker) complete() {
	t.update(func(p *types.IndexProgress) {
		p.Status = types.StatusComplete
		p.Phase = types.PhaseComplete
		p.Progress = 1.0
		p.CurrentFile = ""
	})
}

func (t *tracker) fail(msg string) {
	t.update(func(p *types.IndexProgress) {
		p.Status = types.StatusError
		p.Phase = types.PhaseError
		p.ErrorMessage = msg
	})
}

func (t *tracker) cancel() {
	t.update(func(p *types.IndexProgress) {
		p.Status = types.StatusCancelled
		p.Phase = types.PhaseCancelled
	})
}

func (t *tracker) snapshot() types.IndexProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}
