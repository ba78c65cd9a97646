// Package apns is the pushkin for Apple Push Notification service:
// cert or token (p8/JWT) auth over HTTP/2, payload shaping and
// truncation, and the status/reason mapping to dispatch.Outcome.
package apns

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/token"

	"github.com/sygnalgo/pushgateway/internal/metrics"
	"github.com/sygnalgo/pushgateway/internal/platform/degrade"
	"github.com/sygnalgo/pushgateway/internal/platform/proxy"
	"github.com/sygnalgo/pushgateway/internal/platform/transport"
	"github.com/sygnalgo/pushgateway/pkg/dispatch"
	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// client is the subset of apns2.Client this package depends on, so tests
// can substitute a mock.
type client interface {
	PushWithContext(ctx context.Context, n *apns2.Notification) (*apns2.Response, error)
}

// Config holds one app's APNs pushkin configuration (spec.md §6).
type Config struct {
	AppID    string
	CertFile string // PEM, cert+key, for certificate auth

	KeyFile string // p8, for token auth
	KeyID   string
	TeamID  string
	Topic   string

	Platform                 string // "production" (default) or "sandbox"
	PushType                 string // literal apns-push-type header, if set
	ConvertDeviceTokenToHex  *bool  // defaults true
	ExpirySeconds            int    // apns-expiration; 0 means "now"
	ProxyURL                 string
	GlobalProxyURL           string
	MaxConnections           int
}

func (c Config) convertToHex() bool {
	if c.ConvertDeviceTokenToHex == nil {
		return true
	}
	return *c.ConvertDeviceTokenToHex
}

// Dispatcher is the APNs pushkin.
type Dispatcher struct {
	client   client
	httpCli  interface{ CloseIdleConnections() }
	topic    string
	pushType string
	expiry   int
	convertToHex bool
	appID    string

	degraded degrade.Store
	logger   *slog.Logger
}

// NewDispatcher parses credentials immediately (fail fast at startup) and
// builds the HTTP/2 client via the shared transport factory, routed
// through the proxy tunneller.
func NewDispatcher(cfg Config, degraded degrade.Store, logger *slog.Logger) (*Dispatcher, error) {
	logger = logger.With("component", "apns", "app_id", cfg.AppID)
	proxyURL := proxy.Resolve(cfg.ProxyURL, cfg.GlobalProxyURL)

	var apnsClient *apns2.Client
	var topic string

	switch {
	case cfg.CertFile != "":
		cert, err := certificate.FromPemFile(cfg.CertFile, "")
		if err != nil {
			return nil, fmt.Errorf("apns %s: load certificate: %w", cfg.AppID, err)
		}
		topic = cfg.Topic
		if topic == "" {
			topic = topicFromCertificate(cert)
		}
		httpClient := transport.NewClient(transport.Config{
			ProxyURL:       proxyURL,
			MaxConnections: cfg.MaxConnections,
			TLSClientCert:  &cert,
		})
		apnsClient = apns2.NewClient(cert)
		apnsClient.HTTPClient = httpClient
		warnIfExpiringSoon(cert, cfg.AppID, logger)

	case cfg.KeyFile != "":
		authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("apns %s: load p8 key: %w", cfg.AppID, err)
		}
		tok := &token.Token{AuthKey: authKey, KeyID: cfg.KeyID, TeamID: cfg.TeamID}
		topic = cfg.Topic
		httpClient := transport.NewClient(transport.Config{
			ProxyURL:       proxyURL,
			MaxConnections: cfg.MaxConnections,
		})
		apnsClient = apns2.NewTokenClient(tok)
		apnsClient.HTTPClient = httpClient

	default:
		return nil, fmt.Errorf("apns %s: requires either certfile or (keyfile, key_id, team_id)", cfg.AppID)
	}

	if cfg.Platform == "sandbox" {
		apnsClient = apnsClient.Development()
	} else {
		apnsClient = apnsClient.Production()
	}

	return &Dispatcher{
		client:       apnsClient,
		httpCli:      apnsClient.HTTPClient,
		topic:        topic,
		pushType:     cfg.PushType,
		expiry:       cfg.ExpirySeconds,
		convertToHex: cfg.convertToHex(),
		appID:        cfg.AppID,
		degraded:     degraded,
		logger:       logger,
	}, nil
}

// Dispatch implements dispatch.Pushkin.
func (d *Dispatcher) Dispatch(ctx context.Context, n notification.Notification, dev notification.Device) dispatch.Outcome {
	if strings.Contains(dev.Pushkey, ":") {
		d.logger.Warn("APNs pushkey looks like an FCM token; likely misconfigured pusher", "pushkey", dev.Pushkey)
		return dispatch.OutcomeRejected("pushkey is not a valid APNs device token")
	}

	degraded, err := d.degraded.IsDegraded(ctx, d.appID)
	if err == nil && degraded {
		return dispatch.OutcomeRetryable("pushkin degraded after credential rejection")
	}

	deviceToken, err := d.deviceToken(dev.Pushkey)
	if err != nil {
		return dispatch.OutcomeRejected(err.Error())
	}

	payloadBytes, err := buildPayload(n, dev)
	if err != nil {
		return dispatch.OutcomeRetryable("payload too large even after truncation: " + err.Error())
	}

	notif := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       d.topic,
		Payload:     json.RawMessage(payloadBytes),
		PushType:    apns2.EPushType(d.pushType),
	}
	if d.expiry > 0 {
		notif.Expiration = time.Now().Add(time.Duration(d.expiry) * time.Second)
	} else {
		notif.Expiration = time.Now()
	}

	return d.pushWithRetry(ctx, notif)
}

// pushWithRetry retries transport-level failures (TCP reset, timeout,
// stream refused) up to 3 times with backoff; upstream-returned status
// codes are never retried here, so the homeserver drives that cadence.
func (d *Dispatcher) pushWithRetry(ctx context.Context, n *apns2.Notification) dispatch.Outcome {
	backoffs := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		resp, err := d.client.PushWithContext(ctx, n)
		if err == nil {
			return d.mapResponse(resp)
		}
		lastErr = err
		if attempt == len(backoffs) {
			break
		}
		select {
		case <-time.After(backoffs[attempt]):
		case <-ctx.Done():
			return dispatch.OutcomeRetryable("context canceled during retry: " + ctx.Err().Error())
		}
	}
	d.logger.Error("APNs transport failed after retries", "err", lastErr)
	return dispatch.OutcomeRetryable("transport error: " + lastErr.Error())
}

func (d *Dispatcher) deviceToken(pushkey string) (string, error) {
	if !d.convertToHex {
		return pushkey, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(pushkey, "="))
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(pushkey)
	}
	if err != nil {
		return "", fmt.Errorf("pushkey is not valid base64url: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

var fatalReasons = map[string]bool{
	apns2.ReasonInvalidProviderToken: true,
	apns2.ReasonMissingProviderToken: true,
	apns2.ReasonBadCertificate:       true,
	apns2.ReasonBadCertificateEnvironment: true,
}

var rejectReasons = map[string]bool{
	apns2.ReasonBadDeviceToken:          true,
	apns2.ReasonDeviceTokenNotForTopic:  true,
	apns2.ReasonUnregistered:            true,
	apns2.ReasonBadTopic:                true,
	apns2.ReasonTopicDisallowed:         true,
	apns2.ReasonMissingDeviceToken:      true,
}

func (d *Dispatcher) mapResponse(resp *apns2.Response) dispatch.Outcome {
	outcome := d.classifyResponse(resp)
	metrics.Outcomes.WithLabelValues(d.appID, outcome.Kind.String()).Inc()
	return outcome
}

func (d *Dispatcher) classifyResponse(resp *apns2.Response) dispatch.Outcome {
	switch {
	case resp.Sent():
		return dispatch.OutcomeDelivered()
	case resp.StatusCode == 410:
		return dispatch.OutcomeRejected(resp.Reason)
	case fatalReasons[resp.Reason]:
		d.logger.Error("APNs rejected credentials; degrading pushkin", "reason", resp.Reason)
		_ = d.degraded.MarkDegraded(context.Background(), d.appID, 30*time.Second)
		return dispatch.OutcomeRetryable(resp.Reason)
	case resp.StatusCode == 400 && rejectReasons[resp.Reason]:
		return dispatch.OutcomeRejected(resp.Reason)
	case resp.StatusCode == 429, resp.StatusCode == 500, resp.StatusCode == 503:
		return dispatch.OutcomeRetryable(resp.Reason)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return dispatch.OutcomeRejected(resp.Reason)
	default:
		return dispatch.OutcomeRetryable(resp.Reason)
	}
}

func topicFromCertificate(cert tls.Certificate) string {
	if len(cert.Certificate) == 0 {
		return ""
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return ""
	}
	for _, name := range x509Cert.Subject.Names {
		// UID OID 0.9.2342.19200300.100.1.1 carries the bundle id on
		// Apple's provider certificates.
		if name.Type.String() == "0.9.2342.19200300.100.1.1" {
			if s, ok := name.Value.(string); ok {
				return s
			}
		}
	}
	return x509Cert.Subject.CommonName
}

func warnIfExpiringSoon(cert tls.Certificate, appID string, logger *slog.Logger) {
	if len(cert.Certificate) == 0 {
		return
	}
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return
	}
	remaining := time.Until(x509Cert.NotAfter)
	metrics.APNsCertExpirySeconds.WithLabelValues(appID).Set(remaining.Seconds())
	if remaining < 30*24*time.Hour {
		logger.Warn("APNs certificate expires soon", "not_after", x509Cert.NotAfter)
	}
}

// Shutdown implements dispatch.Pushkin.
func (d *Dispatcher) Shutdown(_ context.Context) error {
	d.httpCli.CloseIdleConnections()
	return nil
}
