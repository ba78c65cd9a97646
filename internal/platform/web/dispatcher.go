// Package web is the pushkin for WebPush: RFC 8030 delivery, RFC 8188
// AES128GCM encryption and RFC 8292 VAPID signing via webpush-go, with
// endpoint allow-listing, events_only suppression, and per-room coalescing
// layered on top.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/sygnalgo/pushgateway/internal/metrics"
	"github.com/sygnalgo/pushgateway/internal/platform/degrade"
	"github.com/sygnalgo/pushgateway/internal/platform/proxy"
	"github.com/sygnalgo/pushgateway/internal/platform/transport"
	"github.com/sygnalgo/pushgateway/pkg/dispatch"
	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// defaultTTL is used when a device doesn't request its own (RFC 8030
// requires every push carry a TTL; four hours keeps stale room pokes from
// outliving their usefulness).
const defaultTTL = 4 * 60 * 60

// Config holds one app's WebPush pushkin configuration (spec.md §6).
type Config struct {
	AppID string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string // mailto: or https: contact URI, RFC 8292

	DefaultTTL int

	// AllowedEndpoints restricts which push services this pushkin will
	// talk to, matched as a URL prefix (e.g. "https://fcm.googleapis.com/").
	// Empty means no restriction.
	AllowedEndpoints []string

	ProxyURL       string
	GlobalProxyURL string
	MaxConnections int
}

// Dispatcher is the WebPush pushkin.
type Dispatcher struct {
	httpCli    *http.Client
	appID      string
	publicKey  string
	privateKey string
	subscriber string
	defaultTTL int
	allowed    []string

	coalescer *Coalescer
	degraded  degrade.Store
	logger    *slog.Logger
}

// NewDispatcher builds the WebPush pushkin for one app.
func NewDispatcher(cfg Config, degraded degrade.Store, logger *slog.Logger) (*Dispatcher, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, fmt.Errorf("webpush %s: vapid_public_key and vapid_private_key are required", cfg.AppID)
	}
	proxyURL := proxy.Resolve(cfg.ProxyURL, cfg.GlobalProxyURL)
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	httpCli := transport.NewClient(transport.Config{ProxyURL: proxyURL, MaxConnections: cfg.MaxConnections})
	httpCli.Transport = &vapidTransport{
		next:  httpCli.Transport,
		cache: newVAPIDCache(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.Subscriber),
	}

	return &Dispatcher{
		httpCli:    httpCli,
		appID:      cfg.AppID,
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		subscriber: cfg.Subscriber,
		defaultTTL: ttl,
		allowed:    cfg.AllowedEndpoints,
		coalescer:  NewCoalescer(),
		degraded:   degraded,
		logger:     logger.With("component", "webpush", "app_id", cfg.AppID),
	}, nil
}

func (d *Dispatcher) endpointAllowed(endpoint string) bool {
	if len(d.allowed) == 0 {
		return true
	}
	for _, prefix := range d.allowed {
		if strings.HasPrefix(endpoint, prefix) {
			return true
		}
	}
	return false
}

// Dispatch implements dispatch.Pushkin.
func (d *Dispatcher) Dispatch(ctx context.Context, n notification.Notification, dev notification.Device) dispatch.Outcome {
	outcome := d.dispatch(ctx, n, dev)
	metrics.Outcomes.WithLabelValues(d.appID, outcome.Kind.String()).Inc()
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, n notification.Notification, dev notification.Device) dispatch.Outcome {
	if dev.EventsOnly && !n.HasEventID() {
		return dispatch.OutcomeDelivered()
	}
	if dev.Endpoint == "" || dev.P256DH == "" || dev.Auth == "" {
		return dispatch.OutcomeRejected("webpush device is missing endpoint/p256dh/auth")
	}
	if !d.endpointAllowed(dev.Endpoint) {
		return dispatch.OutcomeRejected("push service endpoint is not in the allow-list")
	}

	degradedState, err := d.degraded.IsDegraded(ctx, d.appID)
	if err == nil && degradedState {
		return dispatch.OutcomeRetryable("pushkin degraded after credential rejection")
	}

	if dev.OnlyLastPerRoom {
		key := dev.Pushkey + "|" + n.RoomID
		var done func()
		ctx, done = d.coalescer.Begin(ctx, key)
		defer done()
		if ctx.Err() != nil {
			return dispatch.OutcomeRetryable("superseded by a newer notification for this room")
		}
	}

	payload, err := buildPayload(n, dev)
	if err != nil {
		return dispatch.OutcomeRetryable("payload too large even after truncation: " + err.Error())
	}

	ttl := dev.TTL
	if ttl <= 0 {
		ttl = d.defaultTTL
	}

	resp, err := d.send(payload, dev, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return dispatch.OutcomeRetryable("superseded by a newer notification for this room")
		}
		return dispatch.OutcomeRetryable("transport error: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == 413 {
		return d.retryAfterShrinking(ctx, n, dev, ttl)
	}
	return classifyStatus(resp, d)
}

// retryAfterShrinking implements spec.md §4.6's 413 handling: drop
// content.body and resend once. The retry's own result (including a
// second 413) is mapped normally, so a push service that's still
// unsatisfied ends up PushkeyRejected rather than looping.
func (d *Dispatcher) retryAfterShrinking(ctx context.Context, n notification.Notification, dev notification.Device, ttl int) dispatch.Outcome {
	if _, hasBody := n.Content["body"]; !hasBody {
		return dispatch.OutcomeRejected("payload too large for this push service")
	}
	shrunk := n
	shrunk.Content = make(map[string]any, len(n.Content))
	for k, v := range n.Content {
		if k != "body" {
			shrunk.Content[k] = v
		}
	}

	payload, err := buildPayload(shrunk, dev)
	if err != nil {
		return dispatch.OutcomeRejected("payload too large for this push service")
	}

	resp, err := d.send(payload, dev, ttl)
	if err != nil {
		if ctx.Err() != nil {
			return dispatch.OutcomeRetryable("superseded by a newer notification for this room")
		}
		return dispatch.OutcomeRetryable("transport error on shrink-and-retry: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == 413 {
		return dispatch.OutcomeRejected("payload too large for this push service even after dropping content.body")
	}
	return classifyStatus(resp, d)
}

func (d *Dispatcher) send(payload []byte, dev notification.Device, ttl int) (*http.Response, error) {
	sub := &webpush.Subscription{
		Endpoint: dev.Endpoint,
		Keys: webpush.Keys{
			P256dh: dev.P256DH,
			Auth:   dev.Auth,
		},
	}
	return webpush.SendNotification(payload, sub, &webpush.Options{
		Subscriber:      d.subscriber,
		VAPIDPublicKey:  d.publicKey,
		VAPIDPrivateKey: d.privateKey,
		TTL:             ttl,
		HTTPClient:      d.httpCli,
	})
}

func classifyStatus(resp *http.Response, d *Dispatcher) dispatch.Outcome {
	switch {
	case resp.StatusCode == 201 || resp.StatusCode == 200:
		return dispatch.OutcomeDelivered()
	case resp.StatusCode == 404 || resp.StatusCode == 410:
		return dispatch.OutcomeRejected(fmt.Sprintf("push service returned %d", resp.StatusCode))
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		d.logger.Error("WebPush push service rejected VAPID credentials; degrading pushkin")
		_ = d.degraded.MarkDegraded(context.Background(), d.appID, 30*time.Second)
		return dispatch.OutcomeRetryable("vapid credentials rejected")
	case resp.StatusCode == 413:
		return dispatch.OutcomeRejected("payload too large for this push service")
	case resp.StatusCode == 429:
		return retryableWithRetryAfter(resp)
	case resp.StatusCode >= 500:
		return retryableWithRetryAfter(resp)
	default:
		return dispatch.OutcomeRetryable(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

func retryableWithRetryAfter(resp *http.Response) dispatch.Outcome {
	reason := fmt.Sprintf("push service returned %d", resp.StatusCode)
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return dispatch.OutcomeRetryableAfter(reason, time.Duration(secs)*time.Second)
		}
	}
	return dispatch.OutcomeRetryable(reason)
}

// Shutdown implements dispatch.Pushkin.
func (d *Dispatcher) Shutdown(_ context.Context) error {
	d.httpCli.CloseIdleConnections()
	return nil
}
