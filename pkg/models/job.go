package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepKind names one unit of pipeline work for one user.
type StepKind string

const (
	StepIngest             StepKind = "ingest"
	StepLogoResolution     StepKind = "logo-resolution"
	StepAchievementScoring StepKind = "achievement-scoring"
	StepSkillOffers        StepKind = "skill-offers"
	StepStory              StepKind = "story"
	StepImageGeneration    StepKind = "image-generation"
	StepCompleteness       StepKind = "completeness"
)

// AllSteps lists every known step kind.
var AllSteps = []StepKind{
	StepIngest,
	StepLogoResolution,
	StepAchievementScoring,
	StepSkillOffers,
	StepStory,
	StepImageGeneration,
	StepCompleteness,
}

// ParseStepKind returns the StepKind for s, or an error for unknown kinds.
func ParseStepKind(s string) (StepKind, error) {
	for _, k := range AllSteps {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown step kind %q", s)
}

// RunStatus is the lifecycle state of a PipelineRun.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// Terminal reports whether no further transitions are expected from s.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCanceled
}

// InFlight reports whether a run in state s still owns its (user, step) slot.
func (s RunStatus) InFlight() bool {
	return s == RunStatusQueued || s == RunStatusRunning
}

// PipelineRun is one execution record of one step for one user. Runs are
// append-only: the current status of a (user, step) pair is the most recently
// created run.
type PipelineRun struct {
	ID           uuid.UUID   `db:"id"            json:"id"`
	UserID       string      `db:"user_id"       json:"user_id"`
	Step         StepKind    `db:"step"          json:"step"`
	Status       RunStatus   `db:"status"        json:"status"`
	Input        StepInput   `db:"input"         json:"input"`
	Output       *StepOutput `db:"output"        json:"output,omitempty"`
	ErrorMessage *string     `db:"error_message" json:"error_message,omitempty"`
	Attempts     int         `db:"attempts"      json:"attempts"`
	StartedAt    *time.Time  `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time  `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time   `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time   `db:"updated_at"    json:"updated_at"`
}

// StepInput is the typed context a step is enqueued with.
type StepInput struct {
	DocumentID    string `json:"document_id,omitempty"`
	SiteVersionID string `json:"site_version_id,omitempty"`
}

// Job is the queue envelope consumed by the worker pool. ID equals the RunID
// of the PipelineRun it drives.
type Job struct {
	ID            uuid.UUID `json:"id"`
	UserID        string    `json:"user_id"                   validate:"required,max=128"`
	DocumentID    string    `json:"document_id,omitempty"     validate:"omitempty,max=128"`
	SiteVersionID string    `json:"site_version_id,omitempty" validate:"omitempty,max=128"`
	Step          StepKind  `json:"step"                      validate:"required"`
	Attempt       int       `json:"attempt"                   validate:"gte=0"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Input returns the StepInput carried by the job.
func (j Job) Input() StepInput {
	return StepInput{DocumentID: j.DocumentID, SiteVersionID: j.SiteVersionID}
}
