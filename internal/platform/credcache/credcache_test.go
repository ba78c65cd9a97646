package credcache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sygnalgo/pushgateway/internal/platform/credcache"
)

func TestCache_MintsOnceThenReuses(t *testing.T) {
	var mints int32
	mint := func(context.Context) (credcache.Credential, error) {
		atomic.AddInt32(&mints, 1)
		return credcache.Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	c := credcache.New(mint, time.Minute)

	for i := 0; i < 10; i++ {
		v, err := c.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok", v)
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&mints))
}

func TestCache_RemintsAfterMarginExpiry(t *testing.T) {
	var mints int32
	mint := func(context.Context) (credcache.Credential, error) {
		n := atomic.AddInt32(&mints, 1)
		exp := time.Now().Add(10 * time.Millisecond)
		return credcache.Credential{Value: "tok" + string(rune('0'+n)), ExpiresAt: exp}, nil
	}
	c := credcache.New(mint, 5*time.Millisecond)

	v1, err := c.Get(context.Background())
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	v2, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestCache_ConcurrentExpiredRefreshIsSingleFlighted(t *testing.T) {
	var mints int32
	release := make(chan struct{})
	mint := func(context.Context) (credcache.Credential, error) {
		atomic.AddInt32(&mints, 1)
		<-release
		return credcache.Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	c := credcache.New(mint, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.Get(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "tok", v)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&mints))
}

func TestCache_InvalidateForcesRemint(t *testing.T) {
	var mints int32
	mint := func(context.Context) (credcache.Credential, error) {
		atomic.AddInt32(&mints, 1)
		return credcache.Credential{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	c := credcache.New(mint, time.Minute)

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.Get(context.Background())
	require.NoError(t, err)

	assert.EqualValues(t, 2, atomic.LoadInt32(&mints))
}
