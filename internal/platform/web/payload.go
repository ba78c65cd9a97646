package web

import (
	"encoding/json"

	"github.com/sygnalgo/pushgateway/internal/platform/truncate"
	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// maxPlaintextBytes bounds the plaintext payload before AES128GCM
// encryption; webpush-go's padding and the RFC 8188 record header add
// roughly a hundred bytes, so this stays well clear of the 4096-byte cap
// most browser push services enforce on the encrypted record.
const maxPlaintextBytes = 3072

// priorityForDevice mirrors internal/platform/fcm's priorityFor: high if
// either the device's or the notification's tweaks are highlighted, or the
// event is a call invite, else normal.
func priorityForDevice(n notification.Notification, d notification.Device) string {
	if n.Type == "m.call.invite" || d.Tweaks.Highlight || n.Tweaks.Highlight {
		return "high"
	}
	return "normal"
}

// buildPayload shapes the plaintext WebPush payload: the same field set as
// internal/platform/fcm's buildData (spec.md §4.6: "same shape as the FCM
// payload, but nested rather than string-valued"), truncated the same way.
func buildPayload(n notification.Notification, d notification.Device) ([]byte, error) {
	effFormat := n.EffectiveFormat(d)

	content := map[string]any{}
	for k, v := range n.Content {
		content[k] = v
	}
	roomName := n.RoomName
	senderDisplayName := n.SenderDisplayName
	roomAlias := n.RoomAlias

	build := func() ([]byte, error) {
		p := map[string]any{}
		for k, v := range d.DefaultPayload {
			p[k] = v
		}
		if n.EventID != "" {
			p["event_id"] = n.EventID
		}
		if n.RoomID != "" {
			p["room_id"] = n.RoomID
		}
		if n.Type != "" {
			p["type"] = n.Type
		}
		if n.Sender != "" {
			p["sender"] = n.Sender
		}
		if n.Membership != "" {
			p["membership"] = n.Membership
		}
		p["prio"] = priorityForDevice(n, d)
		p["unread"] = n.Counts.Unread
		if n.Counts.MissedCalls > 0 {
			p["missed_calls"] = n.Counts.MissedCalls
		}

		if effFormat != notification.FormatEventIDOnly {
			if senderDisplayName != "" {
				p["sender_display_name"] = senderDisplayName
			}
			if roomName != "" {
				p["room_name"] = roomName
			}
			if roomAlias != "" {
				p["room_alias"] = roomAlias
			}
			if len(content) > 0 {
				p["content"] = content
			}
		}
		return json.Marshal(p)
	}

	return truncate.ToFit(maxPlaintextBytes, build,
		func() bool {
			if len(content) == 0 {
				return false
			}
			if _, ok := content["body"]; ok {
				delete(content, "body")
				return true
			}
			return false
		},
		func() bool {
			if roomName == "" {
				return false
			}
			roomName = ""
			return true
		},
		func() bool {
			if senderDisplayName == "" {
				return false
			}
			senderDisplayName = ""
			return true
		},
		func() bool {
			if roomAlias == "" {
				return false
			}
			roomAlias = ""
			return true
		},
		func() bool {
			if len(content) == 0 {
				return false
			}
			content = map[string]any{}
			return true
		},
	)
}
