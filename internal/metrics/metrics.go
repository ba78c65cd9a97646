// Package metrics exposes the gateway's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes counts every dispatch outcome, labeled by pushkin app_id and
// result kind ("delivered", "rejected", "retryable").
var Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sygnal_pushkin_outcomes_total",
	Help: "Dispatch outcomes per pushkin app_id and result kind.",
}, []string{"app_id", "kind"})

// InflightLimitDrops counts requests a pushkin's admission-control
// semaphore turned away without attempting an upstream call.
var InflightLimitDrops = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sygnal_inflight_request_limit_drop_total",
	Help: "Requests dropped because a pushkin's concurrency limiter was saturated.",
}, []string{"app_id"})

// NotifyRequests counts notify requests by final HTTP status.
var NotifyRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sygnal_notify_requests_total",
	Help: "POST /_matrix/push/v1/notify requests by response status.",
}, []string{"status"})

// APNsCertExpirySeconds reports the seconds remaining before an APNs
// certificate expires, so an operator can alert on it well ahead of time.
var APNsCertExpirySeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sygnal_apns_cert_expiry_seconds",
	Help: "Seconds remaining before the configured APNs certificate expires.",
}, []string{"app_id"})
