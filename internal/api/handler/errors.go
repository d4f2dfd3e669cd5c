// Package handler implements the HTTP handlers of the pipeline API.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/kiranshivaraju/portfolio-engine/internal/api/response"
	"github.com/kiranshivaraju/portfolio-engine/internal/pipeline"
	"github.com/kiranshivaraju/portfolio-engine/internal/store"
)

// writeError maps domain errors onto the API's error codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, pipeline.ErrNotCancelable):
		response.Error(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		slog.Error("request failed",
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
