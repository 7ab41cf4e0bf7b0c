// Package jobs runs background work serially. Submissions never block:
// jobs enter an unbounded FIFO queue and a single worker drains it, so at
// most one job executes at a time. Terminal jobs stay queryable until the
// history cap evicts them.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clarsbyte/washedmcp/internal/pipeline"
	"github.com/clarsbyte/washedmcp/pkg/types"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobDone     = errors.New("job already finished")
	ErrShutdown    = errors.New("job manager is shutting down")
)

const (
	// KindIndex identifies codebase indexing jobs.
	KindIndex = "index"

	// DefaultHistoryLimit is how many finished jobs are retained.
	DefaultHistoryLimit = 100

	// DefaultShutdownGrace is how long Shutdown waits for the running
	// job before cancelling it.
	DefaultShutdownGrace = 5 * time.Second
)

// TaskFunc is the unit of background work. It must honor ctx and report
// progress through the supplied sink.
type TaskFunc func(ctx context.Context, progress types.ProgressFunc) error

// Job is a point-in-time snapshot of a submitted job.
type Job struct {
	ID          string              `json:"job_id"`
	Kind        string              `json:"kind"`
	Path        string              `json:"path,omitempty"`
	Status      types.IndexStatus   `json:"status"`
	Progress    types.IndexProgress `json:"progress"`
	Error       string              `json:"error,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	StartedAt   time.Time           `json:"started_at,omitempty"`
	CompletedAt time.Time           `json:"completed_at,omitempty"`
}

type job struct {
	snap            Job
	task            TaskFunc
	cancel          context.CancelFunc
	cancelRequested bool
}

// Manager owns the queue, the worker goroutine, and job history.
type Manager struct {
	mu           sync.Mutex
	cond         *sync.Cond
	queue        []*job
	jobs         map[string]*job
	historyLimit int
	shuttingDown bool
	workerDone   chan struct{}
	logger       *log.Logger
}

// NewManager starts the worker and returns a ready manager.
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr, "[jobs] ", log.LstdFlags)
	}
	m := &Manager{
		jobs:         make(map[string]*job),
		historyLimit: DefaultHistoryLimit,
		workerDone:   make(chan struct{}),
		logger:       logger,
	}
	m.cond = sync.NewCond(&m.mu)
	go m.worker()
	return m
}

func newJobID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Submit queues a task and returns its job ID immediately.
func (m *Manager) Submit(kind, path string, task TaskFunc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shuttingDown {
		return "", ErrShutdown
	}

	j := &job{
		snap: Job{
			ID:        newJobID(),
			Kind:      kind,
			Path:      path,
			Status:    types.StatusPending,
			CreatedAt: time.Now(),
		},
		task: task,
	}
	j.snap.Progress.Status = types.StatusPending

	m.jobs[j.snap.ID] = j
	m.queue = append(m.queue, j)
	m.cond.Signal()
	return j.snap.ID, nil
}

// worker drains the queue one job at a time.
func (m *Manager) worker() {
	defer close(m.workerDone)
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.shuttingDown {
			m.cond.Wait()
		}
		if len(m.queue) == 0 && m.shuttingDown {
			m.mu.Unlock()
			return
		}
		j := m.queue[0]
		m.queue = m.queue[1:]

		// A queued job may have been cancelled before it started.
		if j.snap.Status.IsTerminal() {
			m.mu.Unlock()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		j.cancel = cancel
		j.snap.Status = types.StatusInProgress
		j.snap.StartedAt = time.Now()
		m.mu.Unlock()

		m.runJob(ctx, j)
		cancel()
	}
}

func (m *Manager) runJob(ctx context.Context, j *job) {
	id := j.snap.ID
	sink := func(p types.IndexProgress) {
		m.mu.Lock()
		j.snap.Progress = p
		m.mu.Unlock()
	}

	err := m.runTask(ctx, j, sink)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case j.cancelRequested,
		errors.Is(err, pipeline.ErrCancelled),
		errors.Is(err, context.Canceled):
		j.snap.Status = types.StatusCancelled
		if err != nil {
			j.snap.Error = err.Error()
		}
	case err == nil:
		j.snap.Status = types.StatusComplete
	default:
		j.snap.Status = types.StatusError
		j.snap.Error = err.Error()
		m.logger.Printf("job %s failed: %v", id, err)
	}
	j.snap.CompletedAt = time.Now()
	m.evictLocked()
}

// runTask invokes the task and converts a panic into an error so a bad
// job can never take down the worker loop.
func (m *Manager) runTask(ctx context.Context, j *job, sink types.ProgressFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.task(ctx, sink)
}

// evictLocked drops the oldest finished jobs beyond the history limit.
// Requires m.mu held.
func (m *Manager) evictLocked() {
	var terminal []*job
	for _, j := range m.jobs {
		if j.snap.Status.IsTerminal() {
			terminal = append(terminal, j)
		}
	}
	if len(terminal) <= m.historyLimit {
		return
	}
	sort.Slice(terminal, func(a, b int) bool {
		return terminal[a].snap.CompletedAt.Before(terminal[b].snap.CompletedAt)
	})
	for _, j := range terminal[:len(terminal)-m.historyLimit] {
		delete(m.jobs, j.snap.ID)
	}
}

// Get returns a snapshot of the job with the given ID.
func (m *Manager) Get(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j.snap, nil
}

// List returns snapshots of known jobs, newest first. Empty filter
// values match everything.
func (m *Manager) List(statusFilter types.IndexStatus, kindFilter string) []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if statusFilter != "" && j.snap.Status != statusFilter {
			continue
		}
		if kindFilter != "" && j.snap.Kind != kindFilter {
			continue
		}
		out = append(out, j.snap)
	}
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// ActiveIndexJob returns the most recently created index job that has not
// finished, or false when none is pending or running.
func (m *Manager) ActiveIndexJob() (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *job
	for _, j := range m.jobs {
		if j.snap.Kind != KindIndex || j.snap.Status.IsTerminal() {
			continue
		}
		if best == nil || j.snap.CreatedAt.After(best.snap.CreatedAt) {
			best = j
		}
	}
	if best == nil {
		return Job{}, false
	}
	return best.snap, true
}

// Cancel stops a pending or running job. Pending jobs go terminal
// immediately; running jobs get their context cancelled and read
// cancelled once the task returns. Terminal jobs are a no-op reported
// via ErrJobDone.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.snap.Status.IsTerminal() {
		return ErrJobDone
	}
	j.cancelRequested = true
	if j.snap.Status == types.StatusPending {
		j.snap.Status = types.StatusCancelled
		j.snap.CompletedAt = time.Now()
		m.evictLocked()
		return nil
	}
	if j.cancel != nil {
		j.cancel()
	}
	return nil
}

// Shutdown stops accepting work and waits up to grace for the current job
// to finish before cancelling it. It returns once the worker has exited.
func (m *Manager) Shutdown(grace time.Duration) {
	if grace <= 0 {
		grace = DefaultShutdownGrace
	}

	m.mu.Lock()
	m.shuttingDown = true
	// Pending jobs will never run.
	for _, j := range m.queue {
		j.snap.Status = types.StatusCancelled
		j.snap.CompletedAt = time.Now()
	}
	m.queue = nil
	m.cond.Broadcast()
	m.mu.Unlock()

	select {
	case <-m.workerDone:
		return
	case <-time.After(grace):
	}

	m.mu.Lock()
	for _, j := range m.jobs {
		if j.snap.Status == types.StatusInProgress && j.cancel != nil {
			j.cancel()
		}
	}
	m.mu.Unlock()

	<-m.workerDone
}
