package degrade_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sygnalgo/pushgateway/internal/platform/degrade"
)

func TestMemStore_NotDegradedByDefault(t *testing.T) {
	s := degrade.NewMemStore()
	degraded, err := s.IsDegraded(context.Background(), "apns-app")
	require.NoError(t, err)
	assert.False(t, degraded)
}

func TestMemStore_DegradedUntilTTLExpires(t *testing.T) {
	s := degrade.NewMemStore()
	require.NoError(t, s.MarkDegraded(context.Background(), "apns-app", 20*time.Millisecond))

	degraded, err := s.IsDegraded(context.Background(), "apns-app")
	require.NoError(t, err)
	assert.True(t, degraded)

	time.Sleep(30 * time.Millisecond)

	degraded, err = s.IsDegraded(context.Background(), "apns-app")
	require.NoError(t, err)
	assert.False(t, degraded)
}

func TestMemStore_KeysAreIndependent(t *testing.T) {
	s := degrade.NewMemStore()
	require.NoError(t, s.MarkDegraded(context.Background(), "apns-app", time.Minute))

	degraded, err := s.IsDegraded(context.Background(), "fcm-app")
	require.NoError(t, err)
	assert.False(t, degraded)
}
