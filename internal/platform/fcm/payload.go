package fcm

import (
	"encoding/json"
	"strconv"

	"github.com/sygnalgo/pushgateway/internal/platform/truncate"
	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// maxDataBytes is FCM's practical cap on the serialized message; the real
// limit is 4000 bytes for the whole HTTP body, so we leave headroom for the
// registration_ids/priority/token wrapper fields around the data block.
const maxDataBytes = 3584

// buildData shapes the FCM data payload (spec.md §4.5): every field is a
// string, since both the legacy and v1 APIs require string-valued data
// entries. It applies the same truncation ladder as APNs/WebPush.
func buildData(n notification.Notification, d notification.Device) (map[string]string, error) {
	effFormat := n.EffectiveFormat(d)

	content := map[string]any{}
	for k, v := range n.Content {
		content[k] = v
	}
	roomName := n.RoomName
	senderDisplayName := n.SenderDisplayName
	roomAlias := n.RoomAlias

	build := func() ([]byte, error) {
		data := map[string]string{}
		for k, v := range d.DefaultPayload {
			if s, ok := v.(string); ok {
				data[k] = s
			}
		}
		if n.EventID != "" {
			data["event_id"] = n.EventID
		}
		if n.RoomID != "" {
			data["room_id"] = n.RoomID
		}
		if n.Type != "" {
			data["type"] = n.Type
		}
		if n.Sender != "" {
			data["sender"] = n.Sender
		}
		if n.Membership != "" {
			data["membership"] = n.Membership
		}
		data["prio"] = priorityFor(n, d)
		data["unread"] = strconv.Itoa(n.Counts.Unread)
		if n.Counts.MissedCalls > 0 {
			data["missed_calls"] = strconv.Itoa(n.Counts.MissedCalls)
		}

		if effFormat != notification.FormatEventIDOnly {
			if senderDisplayName != "" {
				data["sender_display_name"] = senderDisplayName
			}
			if roomName != "" {
				data["room_name"] = roomName
			}
			if roomAlias != "" {
				data["room_alias"] = roomAlias
			}
			if len(content) > 0 {
				raw, err := json.Marshal(content)
				if err != nil {
					return nil, err
				}
				data["content"] = string(raw)
			}
		}
		return json.Marshal(data)
	}

	raw, err := truncate.ToFit(maxDataBytes, build,
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
	if err != nil {
		return nil, err
	}

	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// priorityFor maps a notification to FCM's "high"/"normal" tiers: high if
// either the device's or the notification's tweaks are highlighted, or the
// event is a call invite, else normal.
func priorityFor(n notification.Notification, d notification.Device) string {
	if n.Type == "m.call.invite" || d.Tweaks.Highlight || n.Tweaks.Highlight {
		return "high"
	}
	return "normal"
}
