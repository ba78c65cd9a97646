package web

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sygnalgo/pushgateway/pkg/notification"
)

func TestBuildPayload_BasicMessage(t *testing.T) {
	n := notification.Notification{
		EventID:           "$evt",
		RoomID:            "!room:x",
		Type:              "m.room.message",
		Sender:            "@alice:example.org",
		SenderDisplayName: "Alice",
		RoomName:          "Engineering",
		RoomAlias:         "#eng:example.org",
		Membership:        "join",
		Content:           map[string]any{"body": "hi"},
		Counts:            notification.Counts{Unread: 1, MissedCalls: 2},
	}
	d := notification.Device{}

	raw, err := buildPayload(n, d)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "$evt", got["event_id"])
	assert.Equal(t, "!room:x", got["room_id"])
	assert.Equal(t, "m.room.message", got["type"])
	assert.Equal(t, "@alice:example.org", got["sender"])
	assert.Equal(t, "Alice", got["sender_display_name"])
	assert.Equal(t, "Engineering", got["room_name"])
	assert.Equal(t, "#eng:example.org", got["room_alias"])
	assert.Equal(t, "join", got["membership"])
	assert.Equal(t, "normal", got["prio"])
	assert.Equal(t, float64(1), got["unread"])
	assert.Equal(t, float64(2), got["missed_calls"])
	content := got["content"].(map[string]any)
	assert.Equal(t, "hi", content["body"])
}

func TestBuildPayload_CallInviteIsHighPriority(t *testing.T) {
	n := notification.Notification{Type: "m.call.invite"}
	raw, err := buildPayload(n, notification.Device{})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "high", got["prio"])
}

func TestBuildPayload_EventIDOnlyDropsDisplayFields(t *testing.T) {
	n := notification.Notification{
		EventID:           "$evt",
		RoomID:            "!room:x",
		RoomName:          "Engineering",
		SenderDisplayName: "Alice",
		RoomAlias:         "#eng:example.org",
		Content:           map[string]any{"body": "secret"},
	}
	d := notification.Device{Format: notification.FormatEventIDOnly}

	raw, err := buildPayload(n, d)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.NotContains(t, got, "content")
	assert.NotContains(t, got, "room_name")
	assert.NotContains(t, got, "sender_display_name")
	assert.NotContains(t, got, "room_alias")
	assert.Equal(t, "$evt", got["event_id"])
}

func TestBuildPayload_TruncatesOversizedBody(t *testing.T) {
	n := notification.Notification{
		EventID:  "$evt",
		RoomID:   "!room:x",
		RoomName: "Engineering",
		Content:  map[string]any{"body": strings.Repeat("x", 5000)},
	}
	d := notification.Device{}

	raw, err := buildPayload(n, d)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(raw), maxPlaintextBytes)
}
