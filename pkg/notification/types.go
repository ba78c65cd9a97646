// Package notification contains the data model shared by the normalizer,
// the dispatcher, and every pushkin: a canonical Notification plus its
// per-device targets.
package notification

// Priority is the urgency the homeserver attached to the notification.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// Format hints how much of the event content a pushkin may forward upstream.
type Format string

// FormatEventIDOnly collapses content fields down to bare identifiers.
const FormatEventIDOnly Format = "event_id_only"

// Tweaks carries the homeserver's display/sound hints for a push rule match.
type Tweaks struct {
	Sound     string `json:"sound,omitempty"`
	Highlight bool   `json:"highlight,omitempty"`
}

// Device is one push target: an app-id/pushkey pair plus pushkin-specific
// options lifted from its `data` bag.
type Device struct {
	AppID              string
	Pushkey            string
	PushkeyTS          int64
	DefaultPayload     map[string]any
	Format             Format
	EventsOnly         bool
	OnlyLastPerRoom    bool
	Append             bool
	Endpoint           string // WebPush subscription endpoint
	Auth               string // WebPush auth secret, base64url
	P256DH             string // WebPush client public key, base64url
	TTL                int
	Tweaks             Tweaks
}

// Counts mirrors the Matrix push gateway API's `notification.counts` object.
type Counts struct {
	Unread       int `json:"unread"`
	MissedCalls  int `json:"missed_calls"`
}

// Notification is the canonical, already-validated inbound push request.
type Notification struct {
	EventID           string
	RoomID            string
	Type              string
	Sender            string
	SenderDisplayName string
	RoomName          string
	RoomAlias         string
	Membership        string
	UserIsTarget      bool
	Content           map[string]any
	Counts            Counts
	Priority          Priority
	Tweaks            Tweaks
	Devices           []Device
	Format            Format
}

// HasEventID reports whether this notification carries an event to render,
// as opposed to a bare unread-count poke.
func (n Notification) HasEventID() bool {
	return n.EventID != ""
}

// EffectiveFormat returns the device's format override if set, else the
// notification-level format.
func (n Notification) EffectiveFormat(d Device) Format {
	if d.Format != "" {
		return d.Format
	}
	return n.Format
}
