package web

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/sygnalgo/pushgateway/internal/platform/credcache"
)

// vapidTTL is how long a minted VAPID JWT is considered valid before it's
// re-minted (spec.md §4.6: "JWTs are cached per origin for up to 12h").
// vapidRefreshMargin is how far ahead of that boundary credcache.Cache
// treats it as stale, the same shape as the FCM OAuth2 credential cache.
const (
	vapidTTL           = 12 * time.Hour
	vapidRefreshMargin = 30 * time.Minute
)

// vapidCache mints RFC 8292 VAPID Authorization headers, one credcache.Cache
// per push service origin (the JWT's "aud" claim is origin-specific, so a
// single shared credential can't serve every endpoint).
type vapidCache struct {
	publicKey  string
	privateKey string
	subscriber string

	mu     sync.Mutex
	caches map[string]*credcache.Cache
}

func newVAPIDCache(publicKey, privateKey, subscriber string) *vapidCache {
	return &vapidCache{
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: subscriber,
		caches:     make(map[string]*credcache.Cache),
	}
}

func (v *vapidCache) headerFor(ctx context.Context, origin string) (string, error) {
	v.mu.Lock()
	c, ok := v.caches[origin]
	if !ok {
		c = credcache.New(func(ctx context.Context) (credcache.Credential, error) {
			expiry := time.Now().Add(vapidTTL)
			hdr, err := vapidAuthHeader(v.privateKey, v.publicKey, v.subscriber, origin, expiry)
			if err != nil {
				return credcache.Credential{}, err
			}
			return credcache.Credential{Value: hdr, ExpiresAt: expiry}, nil
		}, vapidRefreshMargin)
		v.caches[origin] = c
	}
	v.mu.Unlock()
	return c.Get(ctx)
}

// vapidTransport overwrites the Authorization header webpush-go mints on
// every call with this pushkin's cached, per-origin VAPID header, the same
// "wrap the next RoundTripper" shape as transport.boundedTransport.
type vapidTransport struct {
	next  http.RoundTripper
	cache *vapidCache
}

func (t *vapidTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	origin := req.URL.Scheme + "://" + req.URL.Host
	hdr, err := t.cache.headerFor(req.Context(), origin)
	if err != nil {
		return nil, fmt.Errorf("vapid: mint header for %s: %w", origin, err)
	}
	req.Header.Set("Authorization", hdr)
	return t.next.RoundTrip(req)
}

// CloseIdleConnections forwards to the wrapped transport so
// Dispatcher.Shutdown's http.Client.CloseIdleConnections call still reaches
// the underlying http2.Transport.
func (t *vapidTransport) CloseIdleConnections() {
	if closer, ok := t.next.(interface{ CloseIdleConnections() }); ok {
		closer.CloseIdleConnections()
	}
}

// vapidAuthHeader builds the "vapid t=<jwt>, k=<public key>" header value
// per RFC 8292: an ES256-signed JWT with aud/exp/sub claims.
func vapidAuthHeader(privateKeyB64, publicKeyB64, subscriber, origin string, expiry time.Time) (string, error) {
	priv, err := parseVAPIDPrivateKey(privateKeyB64)
	if err != nil {
		return "", err
	}

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"typ":"JWT","alg":"ES256"}`))
	claims, err := json.Marshal(struct {
		Aud string `json:"aud"`
		Exp int64  `json:"exp"`
		Sub string `json:"sub"`
	}{Aud: origin, Exp: expiry.Unix(), Sub: subscriber})
	if err != nil {
		return "", fmt.Errorf("vapid: marshal claims: %w", err)
	}

	signingInput := header + "." + base64.RawURLEncoding.EncodeToString(claims)
	hash := sha256.Sum256([]byte(signingInput))
	r, s, err := ecdsa.Sign(rand.Reader, priv, hash[:])
	if err != nil {
		return "", fmt.Errorf("vapid: sign: %w", err)
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	jwt := signingInput + "." + base64.RawURLEncoding.EncodeToString(sig)
	return fmt.Sprintf("vapid t=%s, k=%s", jwt, publicKeyB64), nil
}

// parseVAPIDPrivateKey decodes webpush-go's base64url-raw-scalar VAPID
// private key format into an ECDSA P-256 key.
func parseVAPIDPrivateKey(b64 string) (*ecdsa.PrivateKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("vapid: invalid private key encoding: %w", err)
	}
	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(raw)
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         new(big.Int).SetBytes(raw),
	}, nil
}
