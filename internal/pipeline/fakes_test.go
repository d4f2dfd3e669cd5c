package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/pipeline"
	"github.com/kiranshivaraju/portfolio-engine/internal/queue"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// errStoreDown stands in for a lost database connection.
var errStoreDown = errors.New("connection reset by peer")

// fakeRuns is an in-memory store.RunStore with the same transition rules as
// PostgresStore.
type fakeRuns struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*models.PipelineRun
	order    []uuid.UUID
	updates  int
	failures map[models.RunStatus]int
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		runs:     make(map[uuid.UUID]*models.PipelineRun),
		failures: make(map[models.RunStatus]int),
	}
}

// failUpdates makes the next n updates to status return errStoreDown.
func (f *fakeRuns) failUpdates(status models.RunStatus, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[status] = n
}

func (f *fakeRuns) CreateRun(_ context.Context, run *models.PipelineRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[run.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *run
	f.runs[run.ID] = &cp
	f.order = append(f.order, run.ID)
	return nil
}

func (f *fakeRuns) GetRun(_ context.Context, id uuid.UUID) (*models.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.runs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRuns) GetLatestRun(_ context.Context, userID string, step models.StepKind) (*models.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.order) - 1; i >= 0; i-- {
		r := f.runs[f.order[i]]
		if r.UserID == userID && r.Step == step {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRuns) ListLatestRuns(_ context.Context, userID string) ([]*models.PipelineRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	latest := map[models.StepKind]*models.PipelineRun{}
	for _, id := range f.order {
		r := f.runs[id]
		if r.UserID == userID {
			latest[r.Step] = r
		}
	}
	out := make([]*models.PipelineRun, 0, len(latest))
	for _, r := range latest {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Step < out[j].Step })
	return out, nil
}

func (f *fakeRuns) UpdateRunStatus(_ context.Context, id uuid.UUID, status models.RunStatus, opts ...store.RunUpdateOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures[status] > 0 {
		f.failures[status]--
		return errStoreDown
	}
	r, ok := f.runs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !store.CanTransition(r.Status, status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, r.Status, status)
	}
	f.updates++
	if r.Status == status {
		return nil
	}

	params := store.ApplyRunUpdateOptions(opts...)
	now := time.Now()
	if status == models.RunStatusRunning && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if status.Terminal() {
		r.CompletedAt = &now
	}
	r.Status = status
	r.UpdatedAt = now
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		r.ErrorMessage = &msg
	} else if status == models.RunStatusSucceeded {
		r.ErrorMessage = nil
	}
	if params.Output != nil {
		out := *params.Output
		r.Output = &out
	}
	if params.Attempts != nil {
		r.Attempts = *params.Attempts
	}
	return nil
}

func (f *fakeRuns) setStatus(id uuid.UUID, status models.RunStatus, attempts int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[id].Status = status
	f.runs[id].Attempts = attempts
}

// fakeStatus records mirrored statuses.
type fakeStatus struct {
	mu  sync.Mutex
	got map[uuid.UUID]string
}

func newFakeStatus() *fakeStatus {
	return &fakeStatus{got: make(map[uuid.UUID]string)}
}

func (f *fakeStatus) SetRunStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got[id] = status
	return nil
}

func (f *fakeStatus) GetRunStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.got[id]
	return s, ok, nil
}

func (f *fakeStatus) forget(id uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.got, id)
}

func (f *fakeStatus) get(id uuid.UUID) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.got[id]
}

// stepTable is a pipeline.Steps backed by a map.
type stepTable map[models.StepKind]pipeline.Executor

func (t stepTable) Lookup(kind models.StepKind) (pipeline.Executor, time.Duration, bool) {
	e, ok := t[kind]
	return e, time.Second, ok
}

// fakeClock is a settable time source shared by the queue and the
// orchestrator.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Microsecond)
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// downQueue is a MemoryQueue whose Enqueue fails while err is set.
type downQueue struct {
	*queue.MemoryQueue
	err error
}

func (q *downQueue) Enqueue(ctx context.Context, job models.Job) error {
	if q.err != nil {
		return q.err
	}
	return q.MemoryQueue.Enqueue(ctx, job)
}
