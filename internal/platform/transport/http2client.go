// Package transport builds the per-pushkin HTTP/2 clients: proxy-aware,
// ALPN-h2, with the connection caps each PushkinConfig requests.
package transport

import (
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/sygnalgo/pushgateway/internal/platform/proxy"
)

// Config controls one pushkin's outbound HTTP/2 client.
type Config struct {
	// ProxyURL is resolved already (see proxy.Resolve); empty means direct.
	ProxyURL string
	// MaxConnections caps the number of requests this client has in flight
	// at once (see boundedTransport). Zero means no cap.
	MaxConnections int
	// TLSClientCert, if set, is presented during the handshake (APNs
	// certificate auth).
	TLSClientCert *tls.Certificate
}

// NewClient builds an *http.Client whose RoundTripper is an http2.Transport
// dialing through cfg.ProxyURL via the CONNECT tunneller, matching spec.md's
// "Shared HTTP/2 client factory" component.
func NewClient(cfg Config) *http.Client {
	tlsCfg := &tls.Config{NextProtos: []string{"h2"}}
	if cfg.TLSClientCert != nil {
		tlsCfg.Certificates = []tls.Certificate{*cfg.TLSClientCert}
	}

	t2 := &http2.Transport{
		TLSClientConfig: tlsCfg,
		DialTLSContext:  proxy.DialTLSContext(cfg.ProxyURL),
	}

	var rt http.RoundTripper = t2
	if cfg.MaxConnections > 0 {
		rt = &boundedTransport{next: t2, sem: make(chan struct{}, cfg.MaxConnections)}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   30 * time.Second,
	}
}

// boundedTransport caps the number of requests in flight at once, standing
// in for http2.Transport's lack of a max-connections knob: APNs and FCM
// both multiplex many streams over one connection, so PushkinConfig's
// max_connections is enforced as a concurrency bound on outbound requests
// rather than on TCP sockets.
type boundedTransport struct {
	next http.RoundTripper
	sem  chan struct{}
}

func (b *boundedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	select {
	case b.sem <- struct{}{}:
	case <-req.Context().Done():
		return nil, req.Context().Err()
	}
	defer func() { <-b.sem }()
	return b.next.RoundTrip(req)
}
