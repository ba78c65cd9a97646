// Package fcm is the pushkin for Firebase Cloud Messaging: the legacy
// `fcm/send` JSON API (API-key auth, registration_ids batching) and the v1
// `messages:send` REST API (per-device, OAuth2 service-account auth).
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sygnalgo/pushgateway/internal/metrics"
	"github.com/sygnalgo/pushgateway/internal/platform/credcache"
	"github.com/sygnalgo/pushgateway/internal/platform/degrade"
	"github.com/sygnalgo/pushgateway/internal/platform/proxy"
	"github.com/sygnalgo/pushgateway/internal/platform/transport"
	"github.com/sygnalgo/pushgateway/pkg/dispatch"
	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// legacyEndpoint is the default legacy send URL; overridable for tests.
const legacyEndpoint = "https://fcm.googleapis.com/fcm/send"

// legacyMaxRegIDs is FCM's hard cap on registration_ids per legacy call.
const legacyMaxRegIDs = 1000

// Config holds one app's FCM pushkin configuration (spec.md §6).
type Config struct {
	AppID string

	APIVersion string // "legacy" (default) or "v1"

	// Legacy mode.
	APIKey   string
	Endpoint string // override for legacyEndpoint, mainly for tests

	// v1 mode.
	ProjectID          string
	ServiceAccountFile string
	V1Endpoint         string // override, mainly for tests

	ProxyURL       string
	GlobalProxyURL string
	MaxConnections int
}

// httpDoer is the subset of *http.Client this package depends on.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
	CloseIdleConnections()
}

// Dispatcher is the FCM pushkin. It implements both dispatch.Pushkin
// (single-device) and dispatch.BatchPushkin (legacy registration_ids
// batching); v1 mode's DispatchBatch simply loops, since the v1 API takes
// one token per call.
type Dispatcher struct {
	httpCli httpDoer
	appID   string
	v1      bool

	apiKey     string
	endpoint   string
	projectID  string
	v1Endpoint string
	creds      *credcache.Cache

	degraded degrade.Store
	logger   *slog.Logger
}

// NewDispatcher builds the FCM pushkin for one app.
func NewDispatcher(cfg Config, degraded degrade.Store, logger *slog.Logger) (*Dispatcher, error) {
	logger = logger.With("component", "fcm", "app_id", cfg.AppID)
	proxyURL := proxy.Resolve(cfg.ProxyURL, cfg.GlobalProxyURL)
	httpCli := transport.NewClient(transport.Config{ProxyURL: proxyURL, MaxConnections: cfg.MaxConnections})

	d := &Dispatcher{
		httpCli:  httpCli,
		appID:    cfg.AppID,
		degraded: degraded,
		logger:   logger,
	}

	switch cfg.APIVersion {
	case "", "legacy":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("fcm %s: legacy mode requires api_key", cfg.AppID)
		}
		d.apiKey = cfg.APIKey
		d.endpoint = cfg.Endpoint
		if d.endpoint == "" {
			d.endpoint = legacyEndpoint
		}
	case "v1":
		if cfg.ProjectID == "" || cfg.ServiceAccountFile == "" {
			return nil, fmt.Errorf("fcm %s: v1 mode requires project_id and service_account_file", cfg.AppID)
		}
		d.v1 = true
		d.projectID = cfg.ProjectID
		d.v1Endpoint = cfg.V1Endpoint
		if d.v1Endpoint == "" {
			d.v1Endpoint = fmt.Sprintf("https://fcm.googleapis.com/v1/projects/%s/messages:send", cfg.ProjectID)
		}
		d.creds = credcache.New(oauthMintFunc(cfg.ServiceAccountFile), 60*time.Second)
	default:
		return nil, fmt.Errorf("fcm %s: unknown api_version %q", cfg.AppID, cfg.APIVersion)
	}

	return d, nil
}

// MaxBatchSize implements dispatch.BatchPushkin.
func (d *Dispatcher) MaxBatchSize() int {
	if d.v1 {
		return 1
	}
	return legacyMaxRegIDs
}

// Dispatch implements dispatch.Pushkin.
func (d *Dispatcher) Dispatch(ctx context.Context, n notification.Notification, dev notification.Device) dispatch.Outcome {
	outcomes := d.DispatchBatch(ctx, n, []notification.Device{dev})
	return outcomes[0]
}

// DispatchBatch implements dispatch.BatchPushkin.
func (d *Dispatcher) DispatchBatch(ctx context.Context, n notification.Notification, devices []notification.Device) []dispatch.Outcome {
	out := d.dispatchBatch(ctx, n, devices)
	for _, o := range out {
		metrics.Outcomes.WithLabelValues(d.appID, o.Kind.String()).Inc()
	}
	return out
}

func (d *Dispatcher) dispatchBatch(ctx context.Context, n notification.Notification, devices []notification.Device) []dispatch.Outcome {
	if len(devices) == 0 {
		return nil
	}

	degraded, err := d.degraded.IsDegraded(ctx, d.appID)
	if err == nil && degraded {
		out := make([]dispatch.Outcome, len(devices))
		for i := range out {
			out[i] = dispatch.OutcomeRetryable("pushkin degraded after credential rejection")
		}
		return out
	}

	if d.v1 {
		return d.dispatchV1(ctx, n, devices)
	}
	return d.dispatchLegacy(ctx, n, devices)
}

func (d *Dispatcher) dispatchLegacy(ctx context.Context, n notification.Notification, devices []notification.Device) []dispatch.Outcome {
	data, err := buildData(n, devices[0])
	if err != nil {
		out := make([]dispatch.Outcome, len(devices))
		for i := range out {
			out[i] = dispatch.OutcomeRetryable("payload too large even after truncation: " + err.Error())
		}
		return out
	}

	regIDs := make([]string, len(devices))
	for i, dev := range devices {
		regIDs[i] = dev.Pushkey
	}

	body, err := json.Marshal(legacyRequest{
		RegistrationIDs: regIDs,
		Data:            data,
		Priority:        priorityFor(n, devices[0]),
	})
	if err != nil {
		out := make([]dispatch.Outcome, len(devices))
		for i := range out {
			out[i] = dispatch.OutcomeRetryable("encode request: " + err.Error())
		}
		return out
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		out := make([]dispatch.Outcome, len(devices))
		for i := range out {
			out[i] = dispatch.OutcomeRetryable("build request: " + err.Error())
		}
		return out
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key="+d.apiKey)

	resp, err := d.httpCli.Do(req)
	if err != nil {
		out := make([]dispatch.Outcome, len(devices))
		for i := range out {
			out[i] = dispatch.OutcomeRetryable("transport error: " + err.Error())
		}
		return out
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		d.logger.Error("FCM legacy rejected credentials; degrading pushkin")
		_ = d.degraded.MarkDegraded(context.Background(), d.appID, 30*time.Second)
		return uniformOutcome(len(devices), dispatch.OutcomeRetryable("legacy auth rejected"))
	case resp.StatusCode == 400:
		return uniformOutcome(len(devices), dispatch.OutcomeRejected("malformed legacy request"))
	case resp.StatusCode >= 500, resp.StatusCode == 429:
		return uniformOutcome(len(devices), retryableWithRetryAfter(resp, "legacy upstream error"))
	case resp.StatusCode != 200:
		return uniformOutcome(len(devices), dispatch.OutcomeRetryable(fmt.Sprintf("unexpected status %d", resp.StatusCode)))
	}

	var legacyResp legacyResponse
	if err := json.Unmarshal(raw, &legacyResp); err != nil {
		return uniformOutcome(len(devices), dispatch.OutcomeRetryable("decode legacy response: "+err.Error()))
	}
	if len(legacyResp.Results) != len(devices) {
		return uniformOutcome(len(devices), dispatch.OutcomeRetryable("legacy response result count mismatch"))
	}

	out := make([]dispatch.Outcome, len(devices))
	for i, r := range legacyResp.Results {
		out[i] = mapLegacyResult(r)
	}
	return out
}

func (d *Dispatcher) dispatchV1(ctx context.Context, n notification.Notification, devices []notification.Device) []dispatch.Outcome {
	out := make([]dispatch.Outcome, len(devices))
	for i, dev := range devices {
		out[i] = d.dispatchV1One(ctx, n, dev)
	}
	return out
}

func (d *Dispatcher) dispatchV1One(ctx context.Context, n notification.Notification, dev notification.Device) dispatch.Outcome {
	data, err := buildData(n, dev)
	if err != nil {
		return dispatch.OutcomeRetryable("payload too large even after truncation: " + err.Error())
	}

	tok, err := d.creds.Get(ctx)
	if err != nil {
		return dispatch.OutcomeRetryable("mint oauth2 token: " + err.Error())
	}

	androidPriority := "normal"
	if priorityFor(n, dev) == "high" {
		androidPriority = "high"
	}

	body, err := json.Marshal(v1Envelope{Message: v1Message{
		Token:   dev.Pushkey,
		Data:    data,
		Android: &v1AndroidConfig{Priority: androidPriority},
	}})
	if err != nil {
		return dispatch.OutcomeRetryable("encode request: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.v1Endpoint, bytes.NewReader(body))
	if err != nil {
		return dispatch.OutcomeRetryable("build request: " + err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := d.httpCli.Do(req)
	if err != nil {
		return dispatch.OutcomeRetryable("transport error: " + err.Error())
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == 200:
		return dispatch.OutcomeDelivered()
	case resp.StatusCode == 401:
		d.logger.Error("FCM v1 rejected oauth2 token; degrading pushkin")
		d.creds.Invalidate()
		_ = d.degraded.MarkDegraded(context.Background(), d.appID, 30*time.Second)
		return dispatch.OutcomeRetryable("v1 auth rejected")
	case resp.StatusCode == 404:
		return dispatch.OutcomeRejected("UNREGISTERED")
	case resp.StatusCode == 400:
		return dispatch.OutcomeRejected(string(raw))
	case resp.StatusCode == 429, resp.StatusCode >= 500:
		return retryableWithRetryAfter(resp, "v1 upstream error")
	default:
		return dispatch.OutcomeRetryable(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

func uniformOutcome(n int, o dispatch.Outcome) []dispatch.Outcome {
	out := make([]dispatch.Outcome, n)
	for i := range out {
		out[i] = o
	}
	return out
}

func retryableWithRetryAfter(resp *http.Response, reason string) dispatch.Outcome {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return dispatch.OutcomeRetryableAfter(reason, time.Duration(secs)*time.Second)
		}
	}
	return dispatch.OutcomeRetryable(reason)
}

var legacyRejectErrors = map[string]bool{
	"NotRegistered":       true,
	"InvalidRegistration": true,
	"MismatchSenderId":    true,
	"MissingRegistration": true,
}

func mapLegacyResult(r legacyResult) dispatch.Outcome {
	if r.Error == "" {
		return dispatch.OutcomeDelivered()
	}
	if legacyRejectErrors[r.Error] {
		return dispatch.OutcomeRejected(r.Error)
	}
	return dispatch.OutcomeRetryable(r.Error)
}

// Shutdown implements dispatch.Pushkin.
func (d *Dispatcher) Shutdown(_ context.Context) error {
	d.httpCli.CloseIdleConnections()
	return nil
}

type legacyRequest struct {
	RegistrationIDs []string          `json:"registration_ids"`
	Data            map[string]string `json:"data"`
	Priority        string            `json:"priority,omitempty"`
}

type legacyResponse struct {
	MulticastID  int64          `json:"multicast_id"`
	Success      int            `json:"success"`
	Failure      int            `json:"failure"`
	CanonicalIDs int            `json:"canonical_ids"`
	Results      []legacyResult `json:"results"`
}

type legacyResult struct {
	MessageID      string `json:"message_id,omitempty"`
	RegistrationID string `json:"registration_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

type v1Envelope struct {
	Message v1Message `json:"message"`
}

type v1Message struct {
	Token   string            `json:"token"`
	Data    map[string]string `json:"data,omitempty"`
	Android *v1AndroidConfig  `json:"android,omitempty"`
}

type v1AndroidConfig struct {
	Priority string `json:"priority,omitempty"`
}
