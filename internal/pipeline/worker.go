package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/kiranshivaraju/portfolio-engine/internal/queue"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// LeaseExpiredMessage is recorded on runs whose worker stopped heartbeating.
const LeaseExpiredMessage = "worker lease expired"

const defaultStepTimeout = 2 * time.Minute

// WorkerConfig tunes the worker pool.
type WorkerConfig struct {
	Concurrency       int
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	PromoteInterval   time.Duration
	StatusTTL         time.Duration
	Retry             RetryPolicy
}

func (c *WorkerConfig) setDefaults() {
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	if c.HeartbeatInterval <= 0 || c.HeartbeatInterval >= c.LeaseTTL {
		c.HeartbeatInterval = c.LeaseTTL / 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = time.Second
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = defaultStatusTTL
	}
	if c.Retry.MaxAttempts < 1 {
		c.Retry = DefaultRetryPolicy()
	}
}

// Worker consumes the job queue and drives runs through their lifecycle.
// Every status transition is persisted before the executor is invoked.
type Worker struct {
	runs     store.RunStore
	queue    queue.Queue
	steps    Steps
	status   StatusCache
	validate *validator.Validate
	cfg      WorkerConfig
}

// NewWorker returns a Worker. status may be nil.
func NewWorker(runs store.RunStore, q queue.Queue, steps Steps, status StatusCache, cfg WorkerConfig) *Worker {
	cfg.setDefaults()
	return &Worker{runs: runs, queue: q, steps: steps, status: status, validate: validator.New(), cfg: cfg}
}

// Run starts Concurrency pollers and one maintenance loop, and blocks until
// ctx is canceled. Jobs in progress when ctx ends keep their lease and are
// reclaimed by the reaper.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("worker pool starting", "concurrency", w.cfg.Concurrency, "lease_ttl", w.cfg.LeaseTTL)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error {
			w.poll(ctx, id)
			return nil
		})
	}
	g.Go(func() error {
		w.maintain(ctx)
		return nil
	})

	err := g.Wait()
	slog.Info("worker pool stopped")
	return err
}

func (w *Worker) poll(ctx context.Context, id int) {
	for ctx.Err() == nil {
		processed, err := w.ProcessNext(ctx)
		if err != nil {
			slog.Error("worker poll failed", "worker", id, "error", err)
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

func (w *Worker) maintain(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Maintain(ctx); err != nil {
				slog.Error("queue maintenance failed", "error", err)
			}
		}
	}
}

// Maintain promotes due delayed jobs and reclaims expired leases once.
func (w *Worker) Maintain(ctx context.Context) error {
	if n, err := w.queue.Promote(ctx); err != nil {
		return fmt.Errorf("promote: %w", err)
	} else if n > 0 {
		slog.Debug("promoted delayed jobs", "count", n)
	}

	expired, err := w.queue.Reap(ctx)
	if err != nil {
		return fmt.Errorf("reap: %w", err)
	}
	for _, job := range expired {
		w.reclaim(ctx, job)
	}
	return nil
}

// reclaim handles a job whose worker stopped heartbeating: it is re-queued
// while attempts remain, otherwise its run fails.
func (w *Worker) reclaim(ctx context.Context, job models.Job) {
	log := slog.With("run_id", job.ID, "user_id", job.UserID, "step", job.Step)

	run, err := w.runs.GetRun(ctx, job.ID)
	if errors.Is(err, store.ErrNotFound) {
		w.ack(ctx, job)
		return
	}
	if err != nil {
		log.Error("failed to load reaped run, re-queueing", "error", err)
		w.requeue(ctx, job, w.cfg.PollInterval)
		return
	}

	switch run.Status {
	case models.RunStatusQueued:
		// Leased but never marked running.
		w.requeue(ctx, job, 0)
		return
	case models.RunStatusRunning:
	default:
		w.ack(ctx, job)
		return
	}

	// The job carries the spent attempts from here on, so a pass that
	// picks it up after a failed write below never exceeds the budget.
	attempt := run.Attempts
	job.Attempt = attempt
	if w.cfg.Retry.Exhausted(attempt) {
		log.Warn("lease expired with no attempts left, failing run", "attempt", attempt)
		w.finish(ctx, job, models.RunStatusFailed, store.WithErrorMessage(LeaseExpiredMessage), store.WithAttempts(attempt))
		return
	}

	log.Warn("lease expired, re-queueing", "attempt", attempt)
	w.retry(ctx, job, w.cfg.Retry.Delay(attempt), store.WithErrorMessage(LeaseExpiredMessage), store.WithAttempts(attempt))
}

// ProcessNext dequeues and executes one job. It reports whether a job was
// dequeued.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx, w.cfg.LeaseTTL)
	if errors.Is(err, queue.ErrEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job models.Job) {
	log := slog.With("run_id", job.ID, "user_id", job.UserID, "step", job.Step)

	run, err := w.runs.GetRun(ctx, job.ID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("dropping job without a run")
		w.ack(ctx, job)
		return
	}
	if err != nil {
		log.Error("failed to load run, re-queueing", "error", err)
		w.requeue(ctx, job, w.cfg.PollInterval)
		return
	}
	if run.Status.Terminal() {
		log.Info("dropping job for finished run", "status", run.Status)
		w.ack(ctx, job)
		return
	}

	if w.cfg.Retry.Exhausted(job.Attempt) {
		// Reclaimed with its budget spent but the failed write did not land.
		log.Warn("failing job with no attempts left", "attempt", job.Attempt)
		w.finish(ctx, job, models.RunStatusFailed, store.WithErrorMessage(LeaseExpiredMessage), store.WithAttempts(job.Attempt))
		return
	}

	attempt := job.Attempt + 1
	if err := w.validate.Struct(job); err != nil {
		msg := fmt.Sprintf("%v: invalid job: %v", ErrValidation, err)
		log.Error("failing invalid job", "error", err)
		w.finish(ctx, job, models.RunStatusFailed, store.WithErrorMessage(msg), store.WithAttempts(attempt))
		return
	}
	exec, timeout, ok := w.steps.Lookup(job.Step)
	if !ok {
		msg := fmt.Sprintf("%v: no executor for step %q", ErrValidation, job.Step)
		log.Error("failing job for unknown step")
		w.finish(ctx, job, models.RunStatusFailed, store.WithErrorMessage(msg), store.WithAttempts(attempt))
		return
	}
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	if err := w.update(ctx, job, models.RunStatusRunning, store.WithAttempts(attempt)); err != nil {
		if rejected(err) {
			w.ack(ctx, job)
		} else {
			w.requeue(ctx, job, w.cfg.PollInterval)
		}
		return
	}

	log.Info("step started", "attempt", attempt)
	start := time.Now()
	out, execErr := w.execute(ctx, exec, job, timeout)

	if ctx.Err() != nil {
		// Shutting down: keep the lease so the reaper hands the job to
		// another worker.
		log.Warn("worker stopping mid-step, leaving job leased", "attempt", attempt)
		return
	}

	if execErr == nil {
		if err := out.Validate(); err != nil {
			execErr = Permanent(err)
		}
	}

	if execErr == nil {
		if w.finish(ctx, job, models.RunStatusSucceeded, store.WithOutput(out)) {
			log.Info("step succeeded", "attempt", attempt, "duration_ms", time.Since(start).Milliseconds(), "skipped", out.Skipped)
		}
		return
	}

	if IsPermanent(execErr) || w.cfg.Retry.Exhausted(attempt) {
		log.Error("step failed", "attempt", attempt, "permanent", IsPermanent(execErr), "error", execErr)
		w.finish(ctx, job, models.RunStatusFailed, store.WithErrorMessage(execErr.Error()), store.WithAttempts(attempt))
		return
	}

	delay := w.cfg.Retry.Delay(attempt)
	log.Warn("step failed, retrying", "attempt", attempt, "retry_in", delay, "error", execErr)
	job.Attempt = attempt
	w.retry(ctx, job, delay, store.WithErrorMessage(execErr.Error()), store.WithAttempts(attempt))
}

// execute runs exec under the step timeout while heartbeating the lease.
// A panic is reported as an ordinary, retryable error.
func (w *Worker) execute(ctx context.Context, exec Executor, job models.Job, timeout time.Duration) (out models.StepOutput, err error) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeat(hbCtx, job)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("step panicked", "run_id", job.ID, "step", job.Step, "panic", r)
			err = fmt.Errorf("step %s panicked: %v", job.Step, r)
		}
	}()
	return exec.Execute(execCtx, job)
}

func (w *Worker) heartbeat(ctx context.Context, job models.Job) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.queue.Heartbeat(ctx, job.ID, w.cfg.LeaseTTL); err != nil && ctx.Err() == nil {
				slog.Warn("lease heartbeat failed", "run_id", job.ID, "error", err)
			}
		}
	}
}

// update persists a status change and mirrors it.
func (w *Worker) update(ctx context.Context, job models.Job, status models.RunStatus, opts ...store.RunUpdateOption) error {
	err := w.runs.UpdateRunStatus(ctx, job.ID, status, opts...)
	if err != nil {
		level := slog.LevelError
		if rejected(err) {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "run status update failed", "run_id", job.ID, "step", job.Step, "status", status, "error", err)
		return err
	}
	mirrorStatus(ctx, w.status, job.ID, status, w.cfg.StatusTTL)
	return nil
}

// finish persists a terminal status and acks the job. If the write fails
// for any reason other than the store refusing the transition, the job is
// re-queued unchanged so a later pass settles it, and finish reports false.
func (w *Worker) finish(ctx context.Context, job models.Job, status models.RunStatus, opts ...store.RunUpdateOption) bool {
	err := w.update(ctx, job, status, opts...)
	if err == nil || rejected(err) {
		w.ack(ctx, job)
		return err == nil
	}
	w.requeue(ctx, job, w.cfg.PollInterval)
	return false
}

// retry moves the run back to queued and schedules job after delay. When the
// write fails the job is still scheduled: the run stays running and the next
// attempt marks it running again.
func (w *Worker) retry(ctx context.Context, job models.Job, delay time.Duration, opts ...store.RunUpdateOption) {
	if err := w.update(ctx, job, models.RunStatusQueued, opts...); rejected(err) {
		w.ack(ctx, job)
		return
	}
	w.requeue(ctx, job, delay)
}

// rejected reports whether the store refused a transition, as opposed to
// failing to apply it.
func rejected(err error) bool {
	return errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrStatusConflict)
}

func (w *Worker) ack(ctx context.Context, job models.Job) {
	if err := w.queue.Ack(ctx, job.ID); err != nil {
		slog.Error("failed to ack job", "run_id", job.ID, "error", err)
	}
}

func (w *Worker) requeue(ctx context.Context, job models.Job, delay time.Duration) {
	if err := w.queue.EnqueueAfter(ctx, job, delay); err != nil {
		slog.Error("failed to re-queue job", "run_id", job.ID, "error", err)
	}
}
