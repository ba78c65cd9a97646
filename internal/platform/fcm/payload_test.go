package fcm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sygnalgo/pushgateway/pkg/notification"
)

func TestBuildData_BasicMessage(t *testing.T) {
	n := notification.Notification{
		EventID:  "$evt",
		RoomID:   "!room:x",
		RoomName: "Engineering",
		Content:  map[string]any{"msgtype": "m.text", "body": "hi"},
		Counts:   notification.Counts{Unread: 2},
	}
	d := notification.Device{}

	data, err := buildData(n, d)
	require.NoError(t, err)
	assert.Equal(t, "$evt", data["event_id"])
	assert.Equal(t, "!room:x", data["room_id"])
	assert.Equal(t, "Engineering", data["room_name"])
	assert.Equal(t, "2", data["unread"])
	assert.Equal(t, "normal", data["prio"])
	assert.Contains(t, data["content"], "body")
}

func TestBuildData_EventIDOnlyDropsContent(t *testing.T) {
	n := notification.Notification{
		EventID:  "$evt",
		RoomID:   "!room:x",
		RoomName: "Engineering",
		Content:  map[string]any{"body": "secret"},
	}
	d := notification.Device{Format: notification.FormatEventIDOnly}

	data, err := buildData(n, d)
	require.NoError(t, err)
	assert.NotContains(t, data, "content")
	assert.NotContains(t, data, "room_name")
	assert.Equal(t, "$evt", data["event_id"])
}

func TestBuildData_TruncatesOversizedBody(t *testing.T) {
	n := notification.Notification{
		EventID:  "$evt",
		RoomID:   "!room:x",
		RoomName: "Engineering",
		Content:  map[string]any{"body": strings.Repeat("x", 6000)},
	}
	d := notification.Device{}

	data, err := buildData(n, d)
	require.NoError(t, err)
	assert.NotContains(t, data, "content")
	assert.Equal(t, "$evt", data["event_id"])
}

func TestPriorityFor_CallInviteIsAlwaysHigh(t *testing.T) {
	n := notification.Notification{Type: "m.call.invite"}
	assert.Equal(t, "high", priorityFor(n, notification.Device{}))
}

func TestPriorityFor_NotificationHighlightIsHigh(t *testing.T) {
	n := notification.Notification{Tweaks: notification.Tweaks{Highlight: true}}
	assert.Equal(t, "high", priorityFor(n, notification.Device{}))
}

func TestPriorityFor_DeviceHighlightIsHigh(t *testing.T) {
	n := notification.Notification{}
	d := notification.Device{Tweaks: notification.Tweaks{Highlight: true}}
	assert.Equal(t, "high", priorityFor(n, d))
}

func TestPriorityFor_NoHighlightIsNormal(t *testing.T) {
	n := notification.Notification{}
	assert.Equal(t, "normal", priorityFor(n, notification.Device{}))
}
