package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/portfolio-engine/internal/api/response"
	"github.com/kiranshivaraju/portfolio-engine/internal/pipeline"
	"github.com/kiranshivaraju/portfolio-engine/pkg/models"
)

// Pipeline is the orchestrator surface the handlers depend on.
// *pipeline.Orchestrator satisfies it.
type Pipeline interface {
	EnqueueFullRun(ctx context.Context, userID, documentID, siteVersionID string) ([]pipeline.EnqueueResult, error)
	EnqueueSteps(ctx context.Context, userID string, steps []models.StepKind, documentID, siteVersionID string) ([]pipeline.EnqueueResult, error)
	GetStatus(ctx context.Context, userID string) (pipeline.StatusView, error)
	RunStatus(ctx context.Context, runID uuid.UUID) (pipeline.RunStatusView, error)
	CancelStep(ctx context.Context, userID string, step models.StepKind) (*models.PipelineRun, error)
}

type startRunRequest struct {
	UserID        string `json:"user_id"                   validate:"required,max=128"`
	DocumentID    string `json:"document_id"               validate:"required,max=128"`
	SiteVersionID string `json:"site_version_id,omitempty" validate:"omitempty,max=128"`
}

type enqueueStepsRequest struct {
	UserID        string            `json:"user_id"                   validate:"required,max=128"`
	Steps         []models.StepKind `json:"steps"                     validate:"required,min=1,dive,required"`
	DocumentID    string            `json:"document_id,omitempty"     validate:"omitempty,max=128"`
	SiteVersionID string            `json:"site_version_id,omitempty" validate:"omitempty,max=128"`
}

type enqueueResponse struct {
	UserID string                   `json:"user_id"`
	Jobs   []pipeline.EnqueueResult `json:"jobs"`
}

// NewStartRunHandler returns the handler for POST /api/v1/pipeline/runs.
// It enqueues every step of a full run.
func NewStartRunHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRunRequest
		if !decodeBody(w, r, &req) {
			return
		}

		jobs, err := p.EnqueueFullRun(r.Context(), req.UserID, req.DocumentID, req.SiteVersionID)
		if err != nil {
			writeEnqueueError(w, r, err, req.UserID, jobs)
			return
		}
		slog.Info("full run enqueued", "user_id", req.UserID, "document_id", req.DocumentID, "jobs", len(jobs))
		response.Accepted(w, enqueueResponse{UserID: req.UserID, Jobs: jobs})
	}
}

// NewEnqueueStepsHandler returns the handler for POST /api/v1/pipeline/steps.
func NewEnqueueStepsHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueStepsRequest
		if !decodeBody(w, r, &req) {
			return
		}

		jobs, err := p.EnqueueSteps(r.Context(), req.UserID, req.Steps, req.DocumentID, req.SiteVersionID)
		if err != nil {
			writeEnqueueError(w, r, err, req.UserID, jobs)
			return
		}
		response.Accepted(w, enqueueResponse{UserID: req.UserID, Jobs: jobs})
	}
}

// writeEnqueueError reports a failed enqueue. When some steps were enqueued
// before the failure, their runs are listed in the error details so the
// caller can poll them instead of re-submitting blind.
func writeEnqueueError(w http.ResponseWriter, r *http.Request, err error, userID string, jobs []pipeline.EnqueueResult) {
	if len(jobs) == 0 {
		writeError(w, r, err)
		return
	}
	slog.Error("enqueue stopped partway",
		"request_id", chimw.GetReqID(r.Context()),
		"user_id", userID,
		"enqueued", len(jobs),
		"error", err,
	)
	response.Error(w, http.StatusInternalServerError, "PARTIAL_ENQUEUE",
		"Some steps could not be enqueued; the listed jobs were accepted",
		enqueueResponse{UserID: userID, Jobs: jobs})
}

// NewStatusHandler returns the handler for GET /api/v1/pipeline/status/{userID}.
func NewStatusHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		view, err := p.GetStatus(r.Context(), userID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewRunStatusHandler returns the handler for GET /api/v1/pipeline/runs/{runID}.
func NewRunStatusHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID, err := uuid.Parse(chi.URLParam(r, "runID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "run_id must be a UUID", nil)
			return
		}
		view, err := p.RunStatus(r.Context(), runID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, view)
	}
}

// NewCancelStepHandler returns the handler for
// DELETE /api/v1/pipeline/steps/{userID}/{step}.
func NewCancelStepHandler(p Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := userIDParam(w, r)
		if !ok {
			return
		}
		step := models.StepKind(chi.URLParam(r, "step"))

		run, err := p.CancelStep(r.Context(), userID, step)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, run)
	}
}
