package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/salephoto/genflow-core/internal/apierror"
)

// Recovery converts handler panics into logged 500 responses. A panicking
// batch must not take the server down with every other owner's in-flight
// work.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				logger.Error("panic recovered",
					"error", v,
					"stack", string(debug.Stack()),
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				apierror.WriteJSON(w, r, http.StatusInternalServerError, apierror.InternalError, "an unexpected error occurred")
			}()
			next.ServeHTTP(w, r)
		})
	}
}
