package apns

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sygnalgo/pushgateway/internal/platform/degrade"
	"github.com/sygnalgo/pushgateway/pkg/dispatch"
	"github.com/sygnalgo/pushgateway/pkg/notification"
)

type mockClient struct{ mock.Mock }

func (m *mockClient) PushWithContext(ctx context.Context, n *apns2.Notification) (*apns2.Response, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*apns2.Response), args.Error(1)
}

func newTestDispatcher(c client) *Dispatcher {
	return &Dispatcher{
		client:       c,
		httpCli:      noopCloser{},
		topic:        "com.example.app",
		convertToHex: true,
		appID:        "com.example.app",
		degraded:     degrade.NewMemStore(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

type noopCloser struct{}

func (noopCloser) CloseIdleConnections() {}

func testNotification() notification.Notification {
	return notification.Notification{EventID: "$1", RoomID: "!r:x", Sender: "@a:x"}
}

func testDevice(pushkey string) notification.Device {
	return notification.Device{AppID: "com.example.app", Pushkey: pushkey}
}

func TestDispatch_200_Delivered(t *testing.T) {
	mc := new(mockClient)
	d := newTestDispatcher(mc)
	mc.On("PushWithContext", mock.Anything, mock.Anything).
		Return(&apns2.Response{StatusCode: 200}, nil)

	outcome := d.Dispatch(context.Background(), testNotification(), testDevice("AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE"))
	assert.Equal(t, dispatch.Delivered, outcome.Kind)
}

func TestDispatch_410Unregistered_Rejected(t *testing.T) {
	mc := new(mockClient)
	d := newTestDispatcher(mc)
	mc.On("PushWithContext", mock.Anything, mock.Anything).
		Return(&apns2.Response{StatusCode: 410, Reason: apns2.ReasonUnregistered}, nil)

	outcome := d.Dispatch(context.Background(), testNotification(), testDevice("AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE"))
	assert.Equal(t, dispatch.PushkeyRejected, outcome.Kind)
}

func TestDispatch_400BadDeviceToken_Rejected(t *testing.T) {
	mc := new(mockClient)
	d := newTestDispatcher(mc)
	mc.On("PushWithContext", mock.Anything, mock.Anything).
		Return(&apns2.Response{StatusCode: 400, Reason: apns2.ReasonBadDeviceToken}, nil)

	outcome := d.Dispatch(context.Background(), testNotification(), testDevice("AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE"))
	assert.Equal(t, dispatch.PushkeyRejected, outcome.Kind)
}

func TestDispatch_503_Retryable(t *testing.T) {
	mc := new(mockClient)
	d := newTestDispatcher(mc)
	mc.On("PushWithContext", mock.Anything, mock.Anything).
		Return(&apns2.Response{StatusCode: 503}, nil)

	outcome := d.Dispatch(context.Background(), testNotification(), testDevice("AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE"))
	assert.Equal(t, dispatch.Retryable, outcome.Kind)
}

func TestDispatch_InvalidProviderToken_DegradesPushkin(t *testing.T) {
	mc := new(mockClient)
	d := newTestDispatcher(mc)
	mc.On("PushWithContext", mock.Anything, mock.Anything).
		Return(&apns2.Response{StatusCode: 403, Reason: apns2.ReasonInvalidProviderToken}, nil)

	outcome := d.Dispatch(context.Background(), testNotification(), testDevice("AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE"))
	assert.Equal(t, dispatch.Retryable, outcome.Kind)

	degraded, err := d.degraded.IsDegraded(context.Background(), d.appID)
	require.NoError(t, err)
	assert.True(t, degraded)

	// A second device hits the degraded pushkin without a network call.
	mc.Calls = nil
	outcome2 := d.Dispatch(context.Background(), testNotification(), testDevice("AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE"))
	assert.Equal(t, dispatch.Retryable, outcome2.Kind)
	mc.AssertNotCalled(t, "PushWithContext", mock.Anything, mock.Anything)
}

func TestDispatch_ColonShapedPushkey_RejectedWithoutNetworkCall(t *testing.T) {
	mc := new(mockClient)
	d := newTestDispatcher(mc)

	outcome := d.Dispatch(context.Background(), testNotification(), testDevice("fcm:abcdef"))
	assert.Equal(t, dispatch.PushkeyRejected, outcome.Kind)
	mc.AssertNotCalled(t, "PushWithContext", mock.Anything, mock.Anything)
}

func TestDispatch_TransportError_RetriesThenRetryable(t *testing.T) {
	mc := new(mockClient)
	d := newTestDispatcher(mc)
	mc.On("PushWithContext", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset"))

	outcome := d.Dispatch(context.Background(), testNotification(), testDevice("AQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQEBAQE"))
	assert.Equal(t, dispatch.Retryable, outcome.Kind)
	mc.AssertNumberOfCalls(t, "PushWithContext", 4) // 1 try + 3 retries
}
