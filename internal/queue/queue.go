// Package queue is the durable job queue consumed by the worker pool. Jobs
// are leased on dequeue and must be acknowledged, rescheduled or reaped.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

var (
	// ErrEmpty is returned by Dequeue when no job is ready.
	ErrEmpty = errors.New("queue: empty")
	// ErrLeaseNotFound is returned when heartbeating a job that is not leased.
	ErrLeaseNotFound = errors.New("queue: lease not found")
)

// Queue is implemented by RedisQueue and MemoryQueue.
type Queue interface {
	// Enqueue makes job ready immediately, replacing any lease it held.
	Enqueue(ctx context.Context, job models.Job) error
	// EnqueueAfter schedules job to become ready after delay, replacing any
	// lease it held.
	EnqueueAfter(ctx context.Context, job models.Job, delay time.Duration) error
	// Dequeue pops the oldest ready job and leases it for ttl.
	Dequeue(ctx context.Context, ttl time.Duration) (models.Job, error)
	// Heartbeat extends a held lease to now+ttl.
	Heartbeat(ctx context.Context, jobID uuid.UUID, ttl time.Duration) error
	// Ack drops a leased job for good.
	Ack(ctx context.Context, jobID uuid.UUID) error
	// Reap removes and returns jobs whose lease expired.
	Reap(ctx context.Context) ([]models.Job, error)
	// Promote moves due delayed jobs to the ready list.
	Promote(ctx context.Context) (int, error)
	// Pending reports whether jobID is ready, delayed or leased. A reaped
	// job is not pending until it is enqueued again.
	Pending(ctx context.Context, jobID uuid.UUID) (bool, error)
	Len(ctx context.Context) (Stats, error)
}

// Stats counts jobs by queue state.
type Stats struct {
	Ready   int64 `json:"ready"`
	Delayed int64 `json:"delayed"`
	Leased  int64 `json:"leased"`
}

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time
