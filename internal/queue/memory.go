package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// MemoryQueue is an in-process Queue for single-process deployments and
// tests. Jobs do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	now     Clock
	jobs    map[uuid.UUID]models.Job
	ready   []uuid.UUID
	delayed map[uuid.UUID]time.Time
	leases  map[uuid.UUID]time.Time
}

// NewMemoryQueue returns an empty MemoryQueue. A nil clock uses time.Now.
func NewMemoryQueue(now Clock) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{
		now:     now,
		jobs:    make(map[uuid.UUID]models.Job),
		delayed: make(map[uuid.UUID]time.Time),
		leases:  make(map[uuid.UUID]time.Time),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job models.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.detach(job.ID)
	q.jobs[job.ID] = job
	q.ready = append(q.ready, job.ID)
	return nil
}

func (q *MemoryQueue) EnqueueAfter(ctx context.Context, job models.Job, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, job)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.detach(job.ID)
	q.jobs[job.ID] = job
	q.delayed[job.ID] = q.now().Add(delay)
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, ttl time.Duration) (models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.ready) > 0 {
		id := q.ready[0]
		q.ready = q.ready[1:]
		job, ok := q.jobs[id]
		if !ok {
			continue
		}
		q.leases[id] = q.now().Add(ttl)
		return job, nil
	}
	return models.Job{}, ErrEmpty
}

func (q *MemoryQueue) Heartbeat(_ context.Context, jobID uuid.UUID, ttl time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.leases[jobID]; !ok {
		return ErrLeaseNotFound
	}
	q.leases[jobID] = q.now().Add(ttl)
	return nil
}

func (q *MemoryQueue) Ack(_ context.Context, jobID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leases, jobID)
	delete(q.jobs, jobID)
	return nil
}

func (q *MemoryQueue) Reap(_ context.Context) ([]models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var expired []models.Job
	for id, deadline := range q.leases {
		if deadline.After(now) {
			continue
		}
		delete(q.leases, id)
		if job, ok := q.jobs[id]; ok {
			expired = append(expired, job)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].EnqueuedAt.Before(expired[j].EnqueuedAt) })
	return expired, nil
}

func (q *MemoryQueue) Promote(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()

	type due struct {
		id uuid.UUID
		at time.Time
	}
	var ready []due
	for id, at := range q.delayed {
		if !at.After(now) {
			ready = append(ready, due{id, at})
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].at.Before(ready[j].at) })
	for _, d := range ready {
		delete(q.delayed, d.id)
		q.ready = append(q.ready, d.id)
	}
	return len(ready), nil
}

func (q *MemoryQueue) Pending(_ context.Context, jobID uuid.UUID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.leases[jobID]; ok {
		return true, nil
	}
	if _, ok := q.delayed[jobID]; ok {
		return true, nil
	}
	for _, id := range q.ready {
		if id == jobID {
			return true, nil
		}
	}
	return false, nil
}

func (q *MemoryQueue) Len(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Ready:   int64(len(q.ready)),
		Delayed: int64(len(q.delayed)),
		Leased:  int64(len(q.leases)),
	}, nil
}

// detach removes id from every state. Caller holds mu.
func (q *MemoryQueue) detach(id uuid.UUID) {
	delete(q.leases, id)
	delete(q.delayed, id)
	for i, r := range q.ready {
		if r == id {
			q.ready = append(q.ready[:i], q.ready[i+1:]...)
			break
		}
	}
}
