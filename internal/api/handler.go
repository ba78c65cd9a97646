package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sygnalgo/pushgateway/internal/gateway"
	"github.com/sygnalgo/pushgateway/internal/metrics"
	"github.com/sygnalgo/pushgateway/internal/normalize"
	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// Dispatcher is the subset of *gateway.Gateway the notify handler depends
// on, so tests can substitute a stub.
type Dispatcher interface {
	Dispatch(ctx context.Context, n notification.Notification) gateway.Result
}

// NotifyHandler implements POST /_matrix/push/v1/notify (spec.md §4).
type NotifyHandler struct {
	dispatcher  Dispatcher
	maxBodyByte int64
	logger      *slog.Logger
}

// NewNotifyHandler builds the handler. maxBodyBytes <= 0 falls back to
// normalize.DefaultMaxBodyBytes.
func NewNotifyHandler(d Dispatcher, maxBodyBytes int64, logger *slog.Logger) *NotifyHandler {
	return &NotifyHandler{dispatcher: d, maxBodyByte: maxBodyBytes, logger: logger}
}

type notifyResponse struct {
	Rejected []string `json:"rejected"`
}

func (h *NotifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n, err := normalize.FromRequestBody(r.Body, h.maxBodyByte)
	if err != nil {
		h.writeNormalizeError(w, r, err)
		return
	}

	result := h.dispatcher.Dispatch(r.Context(), n)

	if result.Retry {
		if result.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
		}
		metrics.NotifyRequests.WithLabelValues("502").Inc()
		writeJSON(w, http.StatusBadGateway, notifyResponse{Rejected: result.Rejected})
		return
	}

	metrics.NotifyRequests.WithLabelValues("200").Inc()
	writeJSON(w, http.StatusOK, notifyResponse{Rejected: result.Rejected})
}

func (h *NotifyHandler) writeNormalizeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge normalize.ErrBodyTooLarge
	var malformed normalize.ErrMalformed
	switch {
	case errors.As(err, &tooLarge):
		metrics.NotifyRequests.WithLabelValues("413").Inc()
		writeJSONError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.As(err, &malformed):
		metrics.NotifyRequests.WithLabelValues("400").Inc()
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, normalize.ErrNoDevices):
		metrics.NotifyRequests.WithLabelValues("400").Inc()
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		loggerFromContext(r.Context(), h.logger).Error("unexpected normalize error", "err", err)
		metrics.NotifyRequests.WithLabelValues("400").Inc()
		writeJSONError(w, http.StatusBadRequest, err.Error())
	}
}

// HealthHandler implements GET /health: a liveness check with no
// dependency probing, matching spec.md's non-goal of readiness gating.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
