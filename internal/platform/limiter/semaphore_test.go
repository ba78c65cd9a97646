package limiter_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sygnalgo/pushgateway/internal/platform/limiter"
)

func TestSemaphore_FailsFastWhenSaturated(t *testing.T) {
	sem := limiter.New(1)

	release, ok := sem.TryAcquire()
	require.True(t, ok)
	defer release()

	_, ok = sem.TryAcquire()
	assert.False(t, ok)
}

func TestSemaphore_ReleaseFreesSlot(t *testing.T) {
	sem := limiter.New(1)

	release, ok := sem.TryAcquire()
	require.True(t, ok)
	release()

	_, ok = sem.TryAcquire()
	assert.True(t, ok)
}

func TestSemaphore_UnlimitedWhenZero(t *testing.T) {
	sem := limiter.New(0)
	for i := 0; i < 1000; i++ {
		_, ok := sem.TryAcquire()
		assert.True(t, ok)
	}
}

func TestSemaphore_NeverExceedsCapacityConcurrently(t *testing.T) {
	const capacity = 5
	sem := limiter.New(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxSeen := 0
	current := 0

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok := sem.TryAcquire()
			if !ok {
				return
			}
			mu.Lock()
			current++
			if current > maxSeen {
				maxSeen = current
			}
			mu.Unlock()

			mu.Lock()
			current--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, capacity)
}
