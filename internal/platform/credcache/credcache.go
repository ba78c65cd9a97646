// Package credcache implements the single-flight credential refresh
// pattern described in spec.md §9: concurrent callers that see an expired
// credential await one refresh instead of each minting their own.
package credcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Credential is anything with a known expiry.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

func (c Credential) expired(margin time.Duration, now time.Time) bool {
	return now.Add(margin).After(c.ExpiresAt)
}

// MintFunc mints a fresh credential.
type MintFunc func(ctx context.Context) (Credential, error)

// Cache holds one credential, refreshed on demand via MintFunc. Margin is
// how long before the real expiry a cached credential is treated as stale
// (FCM: 60s before OAuth2 expiry; WebPush: 30m before the end of the 12h
// VAPID JWT lifetime).
type Cache struct {
	mint   MintFunc
	margin time.Duration

	mu    sync.RWMutex
	cred  Credential
	group singleflight.Group
}

// New builds a Cache around mint, using margin as the stale-ahead window.
func New(mint MintFunc, margin time.Duration) *Cache {
	return &Cache{mint: mint, margin: margin}
}

// Get returns a live credential, refreshing it if necessary. Concurrent
// callers that observe an expired credential share one in-flight refresh.
func (c *Cache) Get(ctx context.Context) (string, error) {
	c.mu.RLock()
	cur := c.cred
	c.mu.RUnlock()

	if cur.Value != "" && !cur.expired(c.margin, time.Now()) {
		return cur.Value, nil
	}

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		c.mu.RLock()
		cur := c.cred
		c.mu.RUnlock()
		if cur.Value != "" && !cur.expired(c.margin, time.Now()) {
			// Another caller already refreshed while we waited to enter
			// the singleflight group.
			return cur.Value, nil
		}

		fresh, err := c.mint(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.cred = fresh
		c.mu.Unlock()
		return fresh.Value, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached credential, forcing the next Get to mint.
// Used when an upstream call rejects the credential outright (e.g. APNs
// InvalidProviderToken, FCM 401).
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.cred = Credential{}
	c.mu.Unlock()
}
