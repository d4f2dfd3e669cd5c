package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// routeParams maps the router's URL parameters to their log keys.
var routeParams = [...]struct{ param, key string }{
	{"userID", "user_id"},
	{"runID", "run_id"},
	{"step", "step"},
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logger writes one access line per API call, tagged with the matched route
// and the user, run or step it addressed.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch {
		case rec.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case rec.status == http.StatusTooManyRequests:
			level = slog.LevelWarn
		}
		attrs := append(requestAttrs(r),
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
		slog.Log(r.Context(), level, "api request", attrs...)
	})
}

// requestAttrs identifies r for the logs. Route and URL parameters are only
// known once chi has routed the request.
func requestAttrs(r *http.Request) []any {
	attrs := []any{
		"request_id", chimw.GetReqID(r.Context()),
		"method", r.Method,
		"path", r.URL.Path,
	}
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return attrs
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		attrs = append(attrs, "route", pattern)
	}
	for _, p := range routeParams {
		if v := rctx.URLParam(p.param); v != "" {
			attrs = append(attrs, p.key, v)
		}
	}
	return attrs
}
