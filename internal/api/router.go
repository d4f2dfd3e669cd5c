// Package api assembles the HTTP surface of the pipeline engine.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/portfolio-engine/internal/api/middleware"
	"github.com/kiranshivaraju/portfolio-engine/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler       http.HandlerFunc
	StartRunHandler     http.HandlerFunc
	EnqueueStepsHandler http.HandlerFunc
	StatusHandler       http.HandlerFunc
	RunStatusHandler    http.HandlerFunc
	CancelStepHandler   http.HandlerFunc
	RankingHandler      http.HandlerFunc
	CompletenessHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/pipeline/status/{userID}", orNotImplemented(deps.StatusHandler))
		r.Get("/api/v1/pipeline/runs/{runID}", orNotImplemented(deps.RunStatusHandler))
		r.Get("/api/v1/achievements/{userID}/ranking", orNotImplemented(deps.RankingHandler))
		r.Get("/api/v1/completeness/{userID}", orNotImplemented(deps.CompletenessHandler))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeWrite))

			r.Post("/api/v1/pipeline/runs", orNotImplemented(deps.StartRunHandler))
			r.Post("/api/v1/pipeline/steps", orNotImplemented(deps.EnqueueStepsHandler))
			r.Delete("/api/v1/pipeline/steps/{userID}/{step}", orNotImplemented(deps.CancelStepHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
