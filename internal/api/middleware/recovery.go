package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/portfolio-engine/internal/api/response"
)

// Recovery answers a panicking handler with a 500 envelope so one bad
// pipeline request cannot take the API process down. http.ErrAbortHandler
// is re-raised for net/http to handle.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			attrs := append(requestAttrs(r), "panic", rec, "stack", string(debug.Stack()))
			slog.Error("api handler panicked", attrs...)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "The pipeline API failed to handle the request", nil)
		}()
		next.ServeHTTP(w, r)
	})
}
