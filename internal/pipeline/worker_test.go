package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/pipeline"
	"github.com/kiranshivaraju/portfolio-engine/internal/queue"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRetry = pipeline.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

type workerFixture struct {
	*orchFixture
	worker *pipeline.Worker
}

func newWorkerFixture(steps pipeline.Steps) *workerFixture {
	f := newOrchFixture()
	w := pipeline.NewWorker(f.runs, f.queue, steps, f.status, pipeline.WorkerConfig{
		Concurrency:       1,
		LeaseTTL:          30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		Retry:             testRetry,
	})
	return &workerFixture{orchFixture: f, worker: w}
}

func (f *workerFixture) enqueue(t *testing.T, step models.StepKind) pipeline.EnqueueResult {
	t.Helper()
	res, err := f.orch.EnqueueStep(context.Background(), pipeline.StepRequest{UserID: "user-1", Step: step, DocumentID: "doc-1"})
	require.NoError(t, err)
	return res
}

func (f *workerFixture) run(t *testing.T, res pipeline.EnqueueResult) *models.PipelineRun {
	t.Helper()
	r, err := f.runs.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	return r
}

// retryNow moves the clock past the backoff and promotes delayed jobs.
func (f *workerFixture) retryNow(t *testing.T) {
	t.Helper()
	f.clock.Advance(time.Minute)
	require.NoError(t, f.worker.Maintain(context.Background()))
}

func storyOutput() models.StepOutput {
	return models.StepOutput{Kind: models.StepStory, Story: &models.StoryOutput{Paragraphs: 3}}
}

func TestWorker_Success(t *testing.T) {
	var calls int32
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(_ context.Context, job models.Job) (models.StepOutput, error) {
			atomic.AddInt32(&calls, 1)
			assert.Equal(t, "user-1", job.UserID)
			return storyOutput(), nil
		}),
	})
	res := f.enqueue(t, models.StepStory)

	processed, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, 1, run.Attempts)
	require.NotNil(t, run.Output)
	assert.Equal(t, 3, run.Output.Story.Paragraphs)
	assert.NotNil(t, run.StartedAt)
	assert.NotNil(t, run.CompletedAt)
	assert.Equal(t, "succeeded", f.status.get(res.RunID))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	stats, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats)
}

func TestWorker_EmptyQueue(t *testing.T) {
	f := newWorkerFixture(stepTable{})

	processed, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestWorker_TransientFailureRetried(t *testing.T) {
	var calls int32
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(_ context.Context, job models.Job) (models.StepOutput, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return models.StepOutput{}, errors.New("provider unavailable")
			}
			assert.Equal(t, 1, job.Attempt)
			return storyOutput(), nil
		}),
	})
	res := f.enqueue(t, models.StepStory)
	ctx := context.Background()

	_, err := f.worker.ProcessNext(ctx)
	require.NoError(t, err)

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, 1, run.Attempts)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "provider unavailable", *run.ErrorMessage)

	stats, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Delayed)

	// Not due yet.
	processed, err := f.worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	f.retryNow(t)
	processed, err = f.worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	run = f.run(t, res)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, 2, run.Attempts)
	assert.Nil(t, run.ErrorMessage)
}

func TestWorker_ExhaustedRetriesFailVerbatim(t *testing.T) {
	var calls int32
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
			atomic.AddInt32(&calls, 1)
			return models.StepOutput{}, errors.New("inference timed out after 60s")
		}),
	})
	res := f.enqueue(t, models.StepStory)

	for i := 0; i < testRetry.MaxAttempts; i++ {
		processed, err := f.worker.ProcessNext(context.Background())
		require.NoError(t, err)
		require.True(t, processed, "attempt %d", i+1)
		f.retryNow(t)
	}

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 3, run.Attempts)
	require.NotNil(t, run.ErrorMessage)
	assert.Equal(t, "inference timed out after 60s", *run.ErrorMessage)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	processed, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestWorker_PermanentFailureNotRetried(t *testing.T) {
	f := newWorkerFixture(stepTable{
		models.StepIngest: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
			return models.StepOutput{}, pipeline.Permanent(errors.New("document is empty"))
		}),
	})
	res := f.enqueue(t, models.StepIngest)

	_, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, 1, run.Attempts)
	assert.Equal(t, "document is empty", *run.ErrorMessage)

	stats, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats)
}

func TestWorker_PanicIsRetried(t *testing.T) {
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
			panic("nil map write")
		}),
	})
	res := f.enqueue(t, models.StepStory)

	_, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	require.NotNil(t, run.ErrorMessage)
	assert.Contains(t, *run.ErrorMessage, "panicked")
}

func TestWorker_UnknownStepFails(t *testing.T) {
	f := newWorkerFixture(stepTable{})
	res := f.enqueue(t, models.StepStory)

	_, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, *run.ErrorMessage, "no executor")
}

func TestWorker_MismatchedOutputFails(t *testing.T) {
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
			return models.StepOutput{Kind: models.StepStory, Image: &models.ImageOutput{}}, nil
		}),
	})
	res := f.enqueue(t, models.StepStory)

	_, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, f.run(t, res).Status)
}

func TestWorker_NoOpOutputSucceeds(t *testing.T) {
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
			return models.NoOp(models.StepStory, "no achievements"), nil
		}),
	})
	res := f.enqueue(t, models.StepStory)

	_, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, "no achievements", run.Output.Skipped)
}

func TestWorker_DropsCanceledJob(t *testing.T) {
	var calls int32
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
			atomic.AddInt32(&calls, 1)
			return storyOutput(), nil
		}),
	})
	res := f.enqueue(t, models.StepStory)
	_, err := f.orch.CancelStep(context.Background(), "user-1", models.StepStory)
	require.NoError(t, err)

	processed, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	assert.Equal(t, models.RunStatusCanceled, f.run(t, res).Status)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	stats, err := f.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats)
}

func TestWorker_StepTimeoutIsTransient(t *testing.T) {
	f := newWorkerFixture(shortSteps{
		models.StepStory: pipeline.ExecutorFunc(func(ctx context.Context, _ models.Job) (models.StepOutput, error) {
			<-ctx.Done()
			return models.StepOutput{}, ctx.Err()
		}),
	})
	res := f.enqueue(t, models.StepStory)

	_, err := f.worker.ProcessNext(context.Background())
	require.NoError(t, err)

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Contains(t, *run.ErrorMessage, "deadline exceeded")
}

// shortSteps is a stepTable with a 20ms step timeout.
type shortSteps map[models.StepKind]pipeline.Executor

func (s shortSteps) Lookup(kind models.StepKind) (pipeline.Executor, time.Duration, bool) {
	e, ok := s[kind]
	return e, 20 * time.Millisecond, ok
}

func TestWorker_ReclaimsExpiredLease(t *testing.T) {
	f := newWorkerFixture(stepTable{})
	res := f.enqueue(t, models.StepStory)
	ctx := context.Background()

	// A worker leases the job, marks it running and disappears.
	job, err := f.queue.Dequeue(ctx, 30*time.Second)
	require.NoError(t, err)
	f.runs.setStatus(job.ID, models.RunStatusRunning, 1)

	require.NoError(t, f.worker.Maintain(ctx))
	assert.Equal(t, models.RunStatusRunning, f.run(t, res).Status, "lease still valid")

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.worker.Maintain(ctx))

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusQueued, run.Status)
	assert.Equal(t, pipeline.LeaseExpiredMessage, *run.ErrorMessage)

	f.retryNow(t)
	again, err := f.queue.Dequeue(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 1, again.Attempt)
}

func TestWorker_ReaperFailsExhaustedJob(t *testing.T) {
	f := newWorkerFixture(stepTable{})
	res := f.enqueue(t, models.StepStory)
	ctx := context.Background()

	job, err := f.queue.Dequeue(ctx, 30*time.Second)
	require.NoError(t, err)
	f.runs.setStatus(job.ID, models.RunStatusRunning, testRetry.MaxAttempts)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.worker.Maintain(ctx))

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, pipeline.LeaseExpiredMessage, *run.ErrorMessage)

	stats, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats)
}

func TestWorker_RunProcessesConcurrently(t *testing.T) {
	runs := newFakeRuns()
	q := queue.NewMemoryQueue(nil)
	orch := pipeline.NewOrchestrator(runs, q, nil)
	var calls int32
	exec := pipeline.ExecutorFunc(func(_ context.Context, job models.Job) (models.StepOutput, error) {
		atomic.AddInt32(&calls, 1)
		return models.NoOp(job.Step, "nothing to do"), nil
	})
	steps := stepTable{}
	for _, s := range models.AllSteps {
		steps[s] = exec
	}
	w := pipeline.NewWorker(runs, q, steps, nil, pipeline.WorkerConfig{
		Concurrency:     3,
		PollInterval:    5 * time.Millisecond,
		PromoteInterval: 10 * time.Millisecond,
		Retry:           testRetry,
	})

	results, err := orch.EnqueueFullRun(context.Background(), "user-1", "doc-1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		view, err := orch.GetStatus(context.Background(), "user-1")
		return err == nil && view.Overall == pipeline.OverallCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, int32(len(results)), atomic.LoadInt32(&calls))
}

func TestWorker_UnsavedOutcomeIsRetried(t *testing.T) {
	tests := []struct {
		name   string
		status models.RunStatus
		err    error
	}{
		{name: "success", status: models.RunStatusSucceeded},
		{name: "permanent failure", status: models.RunStatusFailed, err: pipeline.Permanent(errors.New("bad document"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			f := newWorkerFixture(stepTable{
				models.StepStory: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
					atomic.AddInt32(&calls, 1)
					if tt.err != nil {
						return models.StepOutput{}, tt.err
					}
					return storyOutput(), nil
				}),
			})
			res := f.enqueue(t, models.StepStory)
			ctx := context.Background()
			f.runs.failUpdates(tt.status, 1)

			_, err := f.worker.ProcessNext(ctx)
			require.NoError(t, err)

			// The outcome was lost, so the job must still be queued.
			assert.Equal(t, models.RunStatusRunning, f.run(t, res).Status)
			pending, err := f.queue.Pending(ctx, res.RunID)
			require.NoError(t, err)
			assert.True(t, pending)

			f.retryNow(t)
			_, err = f.worker.ProcessNext(ctx)
			require.NoError(t, err)

			run := f.run(t, res)
			assert.Equal(t, tt.status, run.Status)
			assert.Equal(t, 1, run.Attempts)
			assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

			stats, err := f.queue.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, queue.Stats{}, stats)

			// Dedup no longer blocks the step.
			again := f.enqueue(t, models.StepStory)
			assert.False(t, again.Skipped)
		})
	}
}

func TestWorker_ReclaimKeepsJobWhenRequeueWriteFails(t *testing.T) {
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
			return storyOutput(), nil
		}),
	})
	res := f.enqueue(t, models.StepStory)
	ctx := context.Background()

	job, err := f.queue.Dequeue(ctx, 30*time.Second)
	require.NoError(t, err)
	f.runs.setStatus(job.ID, models.RunStatusRunning, 1)
	f.runs.failUpdates(models.RunStatusQueued, 1)

	f.clock.Advance(31 * time.Second)
	require.NoError(t, f.worker.Maintain(ctx))

	assert.Equal(t, models.RunStatusRunning, f.run(t, res).Status)
	pending, err := f.queue.Pending(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, pending, "reaped job was dropped")

	f.retryNow(t)
	_, err = f.worker.ProcessNext(ctx)
	require.NoError(t, err)

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, 2, run.Attempts)
}

func TestWorker_ReaperRetriesUnsavedFailure(t *testing.T) {
	var calls int32
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
			atomic.AddInt32(&calls, 1)
			return storyOutput(), nil
		}),
	})
	res := f.enqueue(t, models.StepStory)
	ctx := context.Background()

	job, err := f.queue.Dequeue(ctx, 30*time.Second)
	require.NoError(t, err)
	f.runs.setStatus(job.ID, models.RunStatusRunning, testRetry.MaxAttempts)
	f.runs.failUpdates(models.RunStatusFailed, 1)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.worker.Maintain(ctx))
	assert.Equal(t, models.RunStatusRunning, f.run(t, res).Status)

	// The spent budget travels with the job: it is failed, not executed.
	f.retryNow(t)
	_, err = f.worker.ProcessNext(ctx)
	require.NoError(t, err)

	run := f.run(t, res)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, pipeline.LeaseExpiredMessage, *run.ErrorMessage)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	stats, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats)
}

func TestWorker_InvalidJobFailsWithoutRetry(t *testing.T) {
	var calls int32
	f := newWorkerFixture(stepTable{
		models.StepStory: pipeline.ExecutorFunc(func(context.Context, models.Job) (models.StepOutput, error) {
			atomic.AddInt32(&calls, 1)
			return storyOutput(), nil
		}),
	})
	ctx := context.Background()

	job := models.Job{ID: uuid.New(), Step: models.StepStory, EnqueuedAt: f.clock.Now()}
	require.NoError(t, f.runs.CreateRun(ctx, &models.PipelineRun{
		ID: job.ID, UserID: "user-1", Step: models.StepStory, Status: models.RunStatusQueued,
	}))
	require.NoError(t, f.queue.Enqueue(ctx, job))

	processed, err := f.worker.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	run, err := f.runs.GetRun(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Contains(t, *run.ErrorMessage, pipeline.ErrValidation.Error())
	assert.Contains(t, *run.ErrorMessage, "UserID")
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	stats, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Stats{}, stats)
}
