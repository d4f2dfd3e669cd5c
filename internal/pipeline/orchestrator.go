package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/queue"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// runNamespace seeds the name-based run IDs.
var runNamespace = uuid.MustParse("6f1c2a7e-3d4b-5a8c-9e0f-1b2c3d4e5f60")

const defaultStatusTTL = 24 * time.Hour

// strandedAfter is how long an in-flight run may go without a queued job
// before a new enqueue replaces it. It covers the gap between CreateRun and
// the queue write of a concurrent enqueue.
const strandedAfter = time.Minute

// StrandedRunMessage is recorded on in-flight runs that lost their job.
const StrandedRunMessage = "run has no queued job"

// Overall is the aggregate status of a user's pipeline.
type Overall string

const (
	OverallNotStarted Overall = "not_started"
	OverallPending    Overall = "pending"
	OverallRunning    Overall = "running"
	OverallFailed     Overall = "failed"
	OverallCompleted  Overall = "completed"
)

// StepRequest asks for one step to run for one user.
type StepRequest struct {
	UserID        string          `json:"user_id"                   validate:"required,max=128"`
	Step          models.StepKind `json:"step"                      validate:"required"`
	DocumentID    string          `json:"document_id,omitempty"     validate:"omitempty,max=128"`
	SiteVersionID string          `json:"site_version_id,omitempty" validate:"omitempty,max=128"`
}

// EnqueueResult describes the run backing an enqueue request. Skipped is set
// when an in-flight run for the same step was returned instead of a new one.
type EnqueueResult struct {
	RunID   uuid.UUID        `json:"run_id"`
	Step    models.StepKind  `json:"step"`
	Status  models.RunStatus `json:"status"`
	Skipped bool             `json:"skipped"`
}

// StepStatus is the latest run of one step.
type StepStatus struct {
	Step        models.StepKind `json:"step"`
	Status      string          `json:"status"`
	RunID       *uuid.UUID      `json:"run_id,omitempty"`
	Attempts    int             `json:"attempts"`
	Error       *string         `json:"error,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StatusView aggregates the latest run of every step for a user.
type StatusView struct {
	UserID  string       `json:"user_id"`
	PerStep []StepStatus `json:"per_step"`
	Overall Overall      `json:"overall"`
}

// RunStatusView is the status of a single run. Cached reports whether it was
// answered from the status mirror.
type RunStatusView struct {
	RunID  uuid.UUID        `json:"run_id"`
	Status models.RunStatus `json:"status"`
	Cached bool             `json:"cached"`
}

// Orchestrator turns run requests into durable runs and queued jobs.
type Orchestrator struct {
	runs      store.RunStore
	queue     queue.Queue
	status    StatusCache
	validate  *validator.Validate
	now       func() time.Time
	statusTTL time.Duration
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithClock sets the time source used for run IDs and timestamps.
func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithStatusTTL sets how long mirrored statuses live in the cache.
func WithStatusTTL(ttl time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.statusTTL = ttl }
}

// NewOrchestrator returns an Orchestrator. status may be nil.
func NewOrchestrator(runs store.RunStore, q queue.Queue, status StatusCache, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		runs:      runs,
		queue:     q,
		status:    status,
		validate:  validator.New(),
		now:       time.Now,
		statusTTL: defaultStatusTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// EnqueueStep creates a queued run for req and pushes its job. When the
// step's current run is still queued or running, that run is returned with
// Skipped set and nothing is enqueued.
func (o *Orchestrator) EnqueueStep(ctx context.Context, req StepRequest) (EnqueueResult, error) {
	if err := o.validateRequest(req); err != nil {
		return EnqueueResult{}, err
	}
	return o.enqueue(ctx, req)
}

// EnqueueFullRun enqueues every step in FullRunOrder up front and returns one
// result per step in that order.
func (o *Orchestrator) EnqueueFullRun(ctx context.Context, userID, documentID, siteVersionID string) ([]EnqueueResult, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document_id is required for a full run", ErrValidation)
	}
	return o.EnqueueSteps(ctx, userID, FullRunOrder, documentID, siteVersionID)
}

// EnqueueSteps enqueues an explicit list of steps in the given order. The
// whole list is validated before anything is enqueued.
func (o *Orchestrator) EnqueueSteps(ctx context.Context, userID string, steps []models.StepKind, documentID, siteVersionID string) ([]EnqueueResult, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: at least one step is required", ErrValidation)
	}

	reqs := make([]StepRequest, 0, len(steps))
	seen := make(map[models.StepKind]bool, len(steps))
	for _, step := range steps {
		if seen[step] {
			return nil, fmt.Errorf("%w: step %q listed twice", ErrValidation, step)
		}
		seen[step] = true

		req := StepRequest{UserID: userID, Step: step, DocumentID: documentID, SiteVersionID: siteVersionID}
		if err := o.validateRequest(req); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}

	results := make([]EnqueueResult, 0, len(reqs))
	for _, req := range reqs {
		res, err := o.enqueue(ctx, req)
		if err != nil {
			return results, fmt.Errorf("enqueue %s: %w", req.Step, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (o *Orchestrator) validateRequest(req StepRequest) error {
	if err := o.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, err := models.ParseStepKind(string(req.Step)); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.Step == models.StepIngest && req.DocumentID == "" {
		return fmt.Errorf("%w: document_id is required for %s", ErrValidation, models.StepIngest)
	}
	return nil
}

// stranded reports whether an in-flight run has no job left in the queue,
// which happens when an enqueue failed and the run could not be marked
// failed afterwards. A stranded run is failed so a new run can replace it.
// Recently updated runs and queue errors count as not stranded.
func (o *Orchestrator) stranded(ctx context.Context, run *models.PipelineRun) bool {
	if o.now().Sub(run.UpdatedAt) < strandedAfter {
		return false
	}
	pending, err := o.queue.Pending(ctx, run.ID)
	if err != nil {
		slog.Warn("failed to check queued job, keeping run", "run_id", run.ID, "error", err)
		return false
	}
	if pending {
		return false
	}
	slog.Warn("in-flight run has no queued job, replacing it",
		"run_id", run.ID, "user_id", run.UserID, "step", run.Step, "status", run.Status)
	err = o.runs.UpdateRunStatus(ctx, run.ID, models.RunStatusFailed, store.WithErrorMessage(StrandedRunMessage))
	if err != nil {
		slog.Error("failed to mark stranded run failed", "run_id", run.ID, "error", err)
	} else {
		mirrorStatus(ctx, o.status, run.ID, models.RunStatusFailed, o.statusTTL)
	}
	return true
}

func (o *Orchestrator) enqueue(ctx context.Context, req StepRequest) (EnqueueResult, error) {
	current, err := o.runs.GetLatestRun(ctx, req.UserID, req.Step)
	switch {
	case err == nil && current.Status.InFlight():
		if !o.stranded(ctx, current) {
			slog.Info("step already in flight, skipping enqueue",
				"user_id", req.UserID, "step", req.Step, "run_id", current.ID, "status", current.Status)
			return EnqueueResult{RunID: current.ID, Step: req.Step, Status: current.Status, Skipped: true}, nil
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return EnqueueResult{}, fmt.Errorf("load current run: %w", err)
	}

	now := o.now().UTC()
	id := RunID(req.UserID, req.Step, now)
	input := models.StepInput{DocumentID: req.DocumentID, SiteVersionID: req.SiteVersionID}
	run := &models.PipelineRun{
		ID:        id,
		UserID:    req.UserID,
		Step:      req.Step,
		Status:    models.RunStatusQueued,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.runs.CreateRun(ctx, run); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			existing, getErr := o.runs.GetRun(ctx, id)
			if getErr != nil {
				return EnqueueResult{}, fmt.Errorf("load duplicate run: %w", getErr)
			}
			return EnqueueResult{RunID: existing.ID, Step: req.Step, Status: existing.Status, Skipped: true}, nil
		}
		return EnqueueResult{}, fmt.Errorf("create run: %w", err)
	}

	job := models.Job{
		ID:            id,
		UserID:        req.UserID,
		DocumentID:    req.DocumentID,
		SiteVersionID: req.SiteVersionID,
		Step:          req.Step,
		EnqueuedAt:    now,
	}
	if err := o.queue.Enqueue(ctx, job); err != nil {
		msg := fmt.Sprintf("enqueue job: %v", err)
		if upErr := o.runs.UpdateRunStatus(ctx, id, models.RunStatusFailed, store.WithErrorMessage(msg)); upErr != nil {
			slog.Error("failed to mark unqueued run failed", "run_id", id, "error", upErr)
		}
		return EnqueueResult{}, fmt.Errorf("enqueue job: %w", err)
	}

	mirrorStatus(ctx, o.status, id, models.RunStatusQueued, o.statusTTL)
	slog.Info("step enqueued", "user_id", req.UserID, "step", req.Step, "run_id", id)
	return EnqueueResult{RunID: id, Step: req.Step, Status: models.RunStatusQueued}, nil
}

// RunID derives the run and job ID for a step enqueued at t. Two
// submissions for the same user and step in the same instant collide.
func RunID(userID string, step models.StepKind, t time.Time) uuid.UUID {
	name := userID + "|" + string(step) + "|" + t.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(runNamespace, []byte(name))
}

// GetStatus returns the latest run of every step for userID and the
// aggregate status derived from them.
func (o *Orchestrator) GetStatus(ctx context.Context, userID string) (StatusView, error) {
	if userID == "" {
		return StatusView{}, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	runs, err := o.runs.ListLatestRuns(ctx, userID)
	if err != nil {
		return StatusView{}, fmt.Errorf("list latest runs: %w", err)
	}

	byStep := make(map[models.StepKind]*models.PipelineRun, len(runs))
	for _, r := range runs {
		byStep[r.Step] = r
	}

	view := StatusView{UserID: userID, PerStep: make([]StepStatus, 0, len(models.AllSteps))}
	for _, step := range FullRunOrder {
		r, ok := byStep[step]
		if !ok {
			view.PerStep = append(view.PerStep, StepStatus{Step: step, Status: string(OverallNotStarted)})
			continue
		}
		id := r.ID
		view.PerStep = append(view.PerStep, StepStatus{
			Step:        step,
			Status:      string(r.Status),
			RunID:       &id,
			Attempts:    r.Attempts,
			Error:       r.ErrorMessage,
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
		})
	}
	view.Overall = Aggregate(runs)
	return view, nil
}

// RunStatus answers a poll for one run from the status mirror when it can,
// falling back to the run store and re-mirroring what it finds.
func (o *Orchestrator) RunStatus(ctx context.Context, runID uuid.UUID) (RunStatusView, error) {
	if r, ok := o.status.(StatusReader); ok {
		status, found, err := r.GetRunStatus(ctx, runID)
		if err != nil {
			slog.Warn("run status cache lookup failed", "run_id", runID, "error", err)
		} else if found {
			return RunStatusView{RunID: runID, Status: models.RunStatus(status), Cached: true}, nil
		}
	}

	run, err := o.runs.GetRun(ctx, runID)
	if err != nil {
		return RunStatusView{}, fmt.Errorf("get run: %w", err)
	}
	mirrorStatus(ctx, o.status, runID, run.Status, o.statusTTL)
	return RunStatusView{RunID: runID, Status: run.Status}, nil
}

// Aggregate derives the overall status from the latest run per step:
// running dominates failed, which dominates incomplete.
func Aggregate(latest []*models.PipelineRun) Overall {
	if len(latest) == 0 {
		return OverallNotStarted
	}
	var running, failed bool
	succeeded := make(map[models.StepKind]bool, len(latest))
	for _, r := range latest {
		switch r.Status {
		case models.RunStatusRunning:
			running = true
		case models.RunStatusFailed:
			failed = true
		case models.RunStatusSucceeded:
			succeeded[r.Step] = true
		}
	}
	switch {
	case running:
		return OverallRunning
	case failed:
		return OverallFailed
	}
	for _, step := range models.AllSteps {
		if !succeeded[step] {
			return OverallPending
		}
	}
	return OverallCompleted
}

// CancelStep cancels the current run of step for userID while it is still
// queued. Workers drop canceled jobs when they dequeue them. Canceling an
// already canceled run is a no-op.
func (o *Orchestrator) CancelStep(ctx context.Context, userID string, step models.StepKind) (*models.PipelineRun, error) {
	if _, err := models.ParseStepKind(string(step)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	run, err := o.runs.GetLatestRun(ctx, userID, step)
	if err != nil {
		return nil, fmt.Errorf("load current run: %w", err)
	}

	switch run.Status {
	case models.RunStatusCanceled:
		return run, nil
	case models.RunStatusQueued:
	default:
		return nil, fmt.Errorf("%w: run %s is %s", ErrNotCancelable, run.ID, run.Status)
	}

	err = o.runs.UpdateRunStatus(ctx, run.ID, models.RunStatusCanceled)
	if errors.Is(err, store.ErrStatusConflict) || errors.Is(err, store.ErrInvalidTransition) {
		return nil, fmt.Errorf("%w: run %s left the queue", ErrNotCancelable, run.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("cancel run: %w", err)
	}

	mirrorStatus(ctx, o.status, run.ID, models.RunStatusCanceled, o.statusTTL)
	slog.Info("step canceled", "user_id", userID, "step", step, "run_id", run.ID)
	run.Status = models.RunStatusCanceled
	return run, nil
}

func mirrorStatus(ctx context.Context, c StatusCache, id uuid.UUID, status models.RunStatus, ttl time.Duration) {
	if c == nil {
		return
	}
	if err := c.SetRunStatus(ctx, id, string(status), ttl); err != nil {
		slog.Warn("failed to mirror run status", "run_id", id, "status", status, "error", err)
	}
}
