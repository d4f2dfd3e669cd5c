package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/kiranshivaraju/portfolio-engine/internal/api/response"
)

const healthTimeout = 2 * time.Second

// Pinger is a dependency the health check pings.
type Pinger interface {
	Ping(ctx context.Context) error
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealthHandler returns the handler for GET /api/v1/health. It answers
// 503 when any named dependency fails its ping.
func NewHealthHandler(checks map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		body := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
		for _, name := range names {
			if err := checks[name].Ping(ctx); err != nil {
				body.Status = "degraded"
				body.Checks[name] = err.Error()
				continue
			}
			body.Checks[name] = "ok"
		}

		if body.Status != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Dependency check failed", body.Checks)
			return
		}
		response.JSON(w, body)
	}
}
