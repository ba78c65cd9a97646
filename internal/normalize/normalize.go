// Package normalize turns the raw JSON body of
// POST /_matrix/push/v1/notify into a notification.Notification, per
// spec.md §4.1.
package normalize

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// DefaultMaxBodyBytes is the default request body size cap (512 KiB).
const DefaultMaxBodyBytes = 512 * 1024

// ErrBodyTooLarge is returned when the request body exceeds the configured
// cap; callers should respond 413.
type ErrBodyTooLarge struct{ Limit int64 }

func (e ErrBodyTooLarge) Error() string {
	return fmt.Sprintf("request body exceeds %d byte limit", e.Limit)
}

// ErrMalformed wraps a JSON decoding failure; callers should respond 400.
type ErrMalformed struct{ Cause error }

func (e ErrMalformed) Error() string { return "malformed notify body: " + e.Cause.Error() }
func (e ErrMalformed) Unwrap() error { return e.Cause }

// ErrNoDevices is returned when the notification carries zero devices;
// callers should respond 400 (there is nothing to dispatch).
var ErrNoDevices = fmt.Errorf("notification has no devices")

type wireCounts struct {
	Unread      *int `json:"unread"`
	MissedCalls *int `json:"missed_calls"`
}

type wireDevice struct {
	AppID          string         `json:"app_id"`
	Pushkey        string         `json:"pushkey"`
	PushkeyTS      int64          `json:"pushkey_ts"`
	Data           map[string]any `json:"data"`
	Tweaks         wireTweaks     `json:"tweaks"`
}

type wireTweaks struct {
	Sound     string `json:"sound"`
	Highlight bool   `json:"highlight"`
}

type wireNotification struct {
	EventID           string         `json:"event_id"`
	RoomID            string         `json:"room_id"`
	Type              string         `json:"type"`
	Sender            string         `json:"sender"`
	SenderDisplayName string         `json:"sender_display_name"`
	RoomName          string         `json:"room_name"`
	RoomAlias         string         `json:"room_alias"`
	Membership        string         `json:"membership"`
	UserIsTarget      bool           `json:"user_is_target"`
	Content           map[string]any `json:"content"`
	Counts            wireCounts     `json:"counts"`
	Prio              string         `json:"prio"`
	Tweaks            wireTweaks     `json:"tweaks"`
	Devices           []wireDevice   `json:"devices"`
	Format            string         `json:"format"`
}

type wireBody struct {
	Notification wireNotification `json:"notification"`
}

// FromRequestBody reads at most maxBytes+1 from r, rejects oversized or
// malformed bodies, and normalizes the result. It is idempotent in the
// sense that a body rebuilt from its output normalizes to the same
// Notification (spec.md §8).
func FromRequestBody(r io.Reader, maxBytes int64) (notification.Notification, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	limited := io.LimitReader(r, maxBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return notification.Notification{}, ErrMalformed{Cause: err}
	}
	if int64(len(raw)) > maxBytes {
		return notification.Notification{}, ErrBodyTooLarge{Limit: maxBytes}
	}

	var body wireBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return notification.Notification{}, ErrMalformed{Cause: err}
	}

	return fromWire(body.Notification)
}

func fromWire(w wireNotification) (notification.Notification, error) {
	n := notification.Notification{
		EventID:           w.EventID,
		RoomID:            w.RoomID,
		Type:              w.Type,
		Sender:            w.Sender,
		SenderDisplayName: w.SenderDisplayName,
		RoomName:          w.RoomName,
		RoomAlias:         w.RoomAlias,
		Membership:        w.Membership,
		UserIsTarget:      w.UserIsTarget,
		Content:           w.Content,
		Priority:          notification.PriorityLow,
		Format:            notification.Format(w.Format),
		Tweaks: notification.Tweaks{
			Sound:     w.Tweaks.Sound,
			Highlight: w.Tweaks.Highlight,
		},
	}
	if w.Prio == string(notification.PriorityHigh) {
		n.Priority = notification.PriorityHigh
	}
	if n.Content == nil {
		n.Content = map[string]any{}
	}
	if w.Counts.Unread != nil {
		n.Counts.Unread = *w.Counts.Unread
	}
	if w.Counts.MissedCalls != nil {
		n.Counts.MissedCalls = *w.Counts.MissedCalls
	}
	for _, wd := range w.Devices {
		if wd.Pushkey == "" {
			// Malformed single device: drop it, don't fail the request.
			continue
		}
		n.Devices = append(n.Devices, deviceFromWire(wd))
	}
	if len(n.Devices) == 0 {
		return notification.Notification{}, ErrNoDevices
	}

	return n, nil
}

func deviceFromWire(wd wireDevice) notification.Device {
	d := notification.Device{
		AppID:     wd.AppID,
		Pushkey:   wd.Pushkey,
		PushkeyTS: wd.PushkeyTS,
		Tweaks: notification.Tweaks{
			Sound:     wd.Tweaks.Sound,
			Highlight: wd.Tweaks.Highlight,
		},
	}
	data := wd.Data
	if data == nil {
		return d
	}
	if dp, ok := data["default_payload"].(map[string]any); ok {
		d.DefaultPayload = dp
	}
	if f, ok := data["format"].(string); ok {
		d.Format = notification.Format(f)
	}
	if v, ok := data["events_only"].(bool); ok {
		d.EventsOnly = v
	}
	if v, ok := data["only_last_per_room"].(bool); ok {
		d.OnlyLastPerRoom = v
	}
	if v, ok := data["append"].(bool); ok {
		d.Append = v
	}
	if v, ok := data["endpoint"].(string); ok {
		d.Endpoint = v
	}
	if v, ok := data["auth"].(string); ok {
		d.Auth = v
	}
	if v, ok := data["p256dh"].(string); ok {
		d.P256DH = v
	}
	if v, ok := data["ttl"].(float64); ok {
		d.TTL = int(v)
	}
	return d
}
