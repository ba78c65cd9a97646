package apns

import (
	"encoding/json"

	"github.com/sygnalgo/pushgateway/internal/platform/truncate"
	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// maxPayloadBytes is APNs' hard cap on the serialized payload.
const maxPayloadBytes = 4096

// alert is the `aps.alert` dictionary: a localizable string built from the
// event's membership/content/sender fields rather than rendered server-side,
// so each client can localize the banner text itself.
type alert struct {
	LocKey  string   `json:"loc-key,omitempty"`
	LocArgs []string `json:"loc-args,omitempty"`
}

// locKeyFor picks the alert's localization key and arguments from the
// event shape, following the membership/msgtype/user-is-target table.
func locKeyFor(n notification.Notification, d notification.Device) (string, []string) {
	name := n.SenderDisplayName
	if name == "" {
		name = n.Sender
	}

	switch n.Membership {
	case "invite":
		if n.RoomName != "" {
			return "MSG_MEMBER_INVITE_ROOM", []string{name, n.RoomName}
		}
		return "MSG_MEMBER_INVITE", []string{name}
	case "join":
		if d.OnlyLastPerRoom || n.UserIsTarget {
			return "MSG_MEMBER_JOIN_ROOM", []string{name, n.RoomName}
		}
	}

	if n.Type == "m.room.message" {
		msgtype, _ := n.Content["msgtype"].(string)
		switch {
		case n.RoomName != "" && msgtype != "":
			return "MSG_FROM_USER_IN_ROOM_WITH_CONTENT", []string{name, n.RoomName}
		case n.RoomName != "":
			return "MSG_FROM_USER_IN_ROOM", []string{name, n.RoomName}
		case msgtype != "":
			return "MSG_FROM_USER_WITH_CONTENT", []string{name}
		default:
			return "MSG_FROM_USER", []string{name}
		}
	}

	if n.Type == "m.call.invite" {
		return "VOICE_CALL_FROM_USER", []string{name}
	}

	if n.RoomName != "" {
		return "ACTION_FROM_USER_IN_ROOM", []string{name, n.RoomName}
	}
	return "ACTION_FROM_USER", []string{name}
}

// buildPayload shapes the aps dictionary plus top-level event_id/room_id,
// merges it on top of the device's default_payload, applies event_id_only
// trimming, and truncates to fit maxPayloadBytes in the field-drop order
// content.body -> room_name -> sender_display_name -> room_alias -> drop
// content entirely.
func buildPayload(n notification.Notification, d notification.Device) ([]byte, error) {
	payload := map[string]any{}
	for k, v := range d.DefaultPayload {
		payload[k] = v
	}

	aps := map[string]any{}
	if n.HasEventID() || n.Membership != "" {
		key, args := locKeyFor(n, d)
		aps["alert"] = alert{LocKey: key, LocArgs: args}
	}
	aps["badge"] = n.Counts.Unread
	tweaks := d.Tweaks
	if tweaks.Sound == "" {
		tweaks = n.Tweaks
	}
	if tweaks.Sound != "" {
		aps["sound"] = tweaks.Sound
	}
	payload["aps"] = aps

	effFormat := n.EffectiveFormat(d)

	// content is mutated by the truncation steps below, so keep our own
	// copy rather than n.Content directly.
	content := map[string]any{}
	for k, v := range n.Content {
		content[k] = v
	}
	roomName := n.RoomName
	senderDisplayName := n.SenderDisplayName
	roomAlias := n.RoomAlias

	build := func() ([]byte, error) {
		p := map[string]any{}
		for k, v := range payload {
			p[k] = v
		}
		if effFormat == notification.FormatEventIDOnly {
			p = map[string]any{"aps": payload["aps"]}
		} else {
			if len(content) > 0 {
				p["content"] = content
			}
			if roomName != "" {
				p["room_name"] = roomName
			}
			if senderDisplayName != "" {
				p["sender_display_name"] = senderDisplayName
			}
			if roomAlias != "" {
				p["room_alias"] = roomAlias
			}
		}
		if n.RoomID != "" {
			p["room_id"] = n.RoomID
		}
		if n.EventID != "" {
			p["event_id"] = n.EventID
		}
		return json.Marshal(p)
	}

	return truncate.ToFit(maxPayloadBytes, build,
		func() bool {
			if _, ok := content["body"]; !ok {
				return false
			}
			delete(content, "body")
			return true
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
