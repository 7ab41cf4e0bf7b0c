package types

import "time"

// IndexPhase represents the current stage of an indexing run
type IndexPhase string

const (
	PhaseScanning  IndexPhase = "scanning"
	PhaseParsing   IndexPhase = "parsing"
	PhaseEmbedding IndexPhase = "embedding"
	PhaseStoring   IndexPhase = "storing"
	PhaseRelations IndexPhase = "computing_relations"
	PhaseComplete  IndexPhase = "complete"
	PhaseError     IndexPhase = "error"
	PhaseCancelled IndexPhase = "cancelled"
)

// IsTerminal returns true once a run in this phase can no longer progress
func (p IndexPhase) IsTerminal() bool {
	switch p {
	case PhaseComplete, PhaseError, PhaseCancelled:
		return true
	}
	return false
}

// IndexStatus represents the overall outcome state of an indexing run
type IndexStatus string

const (
	StatusPending    IndexStatus = "pending"
	StatusInProgress IndexStatus = "in_progress"
	StatusComplete   IndexStatus = "complete"
	StatusError      IndexStatus = "error"
	StatusCancelled  IndexStatus = "cancelled"
)

// IsTerminal returns true for states that never transition again
func (s IndexStatus) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusCancelled:
		return true
	}
	return false
}

// IndexProgress is a point-in-time snapshot of an indexing run. Progress is
// a fraction in [0, 1] and never decreases across successive snapshots of
// the same run; it reaches exactly 1.0 only on successful completion.
type IndexProgress struct {
	Status         IndexStatus
	Phase          IndexPhase
	Progress       float64
	FilesProcessed int
	TotalFiles     int
	FunctionsFound int
	CurrentFile    string
	ErrorMessage   string
	StartTime      time.Time
}

// Elapsed returns the wall time since the run started
func (p IndexProgress) Elapsed() time.Duration {
	if p.StartTime.IsZero() {
		return 0
	}
	return time.Since(p.StartTime)
}

// ProgressFunc receives progress snapshots during an indexing run. Callbacks
// must be fast; they are invoked synchronously from the pipeline loop.
type ProgressFunc func(IndexProgress)
