// Package pipeline schedules per-user step runs onto the job queue, drives
// them through the worker pool and aggregates their status.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// FullRunOrder is the order a full pipeline run enqueues its steps in.
// Every step after ingest reads what ingest writes; completeness measures
// everything else and so runs last.
var FullRunOrder = []models.StepKind{
	models.StepIngest,
	models.StepLogoResolution,
	models.StepAchievementScoring,
	models.StepStory,
	models.StepSkillOffers,
	models.StepImageGeneration,
	models.StepCompleteness,
}

// Executor runs one step for one job. Returned errors are retried unless
// marked with Permanent.
type Executor interface {
	Execute(ctx context.Context, job models.Job) (models.StepOutput, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job models.Job) (models.StepOutput, error)

func (f ExecutorFunc) Execute(ctx context.Context, job models.Job) (models.StepOutput, error) {
	return f(ctx, job)
}

// Steps looks up the executor and execution timeout for a step kind.
type Steps interface {
	Lookup(kind models.StepKind) (Executor, time.Duration, bool)
}

// StatusCache mirrors run status for cheap polling. cache.Cache satisfies
// it.
type StatusCache interface {
	SetRunStatus(ctx context.Context, runID uuid.UUID, status string, ttl time.Duration) error
}

// StatusReader is implemented by status caches that can answer polls.
type StatusReader interface {
	GetRunStatus(ctx context.Context, runID uuid.UUID) (string, bool, error)
}
