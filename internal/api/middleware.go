package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
)

type ctxKey int

const loggerCtxKey ctxKey = 0

// WithRequestID stamps every request with a correlation ID, the way
// WithRequestID does for the teacher's logger: generate it once, push it
// onto the response for the caller and onto the context for downstream
// handlers, so a single pushkey rejection can be traced back to the HTTP
// request that produced it.
func WithRequestID(base *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)
		logger := base.With("request_id", requestID)
		ctx := context.WithValue(r.Context(), loggerCtxKey, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggerFromContext returns the per-request logger stamped by
// WithRequestID, falling back to base when the middleware wasn't used
// (e.g. in handler unit tests that call ServeHTTP directly).
func loggerFromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerCtxKey).(*slog.Logger); ok {
		return l
	}
	return base
}
