package dispatch

import "time"

// Kind is the three-way result of dispatching a notification to one device.
type Kind int

const (
	// Delivered means the upstream cloud accepted the notification.
	Delivered Kind = iota
	// PushkeyRejected means the pushkey is permanently invalid; the
	// homeserver should remove the pusher.
	PushkeyRejected
	// Retryable means a transient condition; the homeserver should resend
	// the whole notification later.
	Retryable
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case PushkeyRejected:
		return "rejected"
	case Retryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// Outcome is the result of dispatching one device's notification.
type Outcome struct {
	Kind Kind
	// Reason is a short, human-readable explanation, used for logging and
	// surfaced nowhere else.
	Reason string
	// RetryAfter, when set, is the minimum delay the upstream cloud asked
	// for before trying again (FCM/WebPush Retry-After).
	RetryAfter time.Duration
}

// OutcomeDelivered is the zero-value success outcome.
func OutcomeDelivered() Outcome { return Outcome{Kind: Delivered} }

// OutcomeRejected builds a PushkeyRejected outcome with a reason.
func OutcomeRejected(reason string) Outcome {
	return Outcome{Kind: PushkeyRejected, Reason: reason}
}

// OutcomeRetryable builds a Retryable outcome with a reason.
func OutcomeRetryable(reason string) Outcome {
	return Outcome{Kind: Retryable, Reason: reason}
}

// OutcomeRetryableAfter builds a Retryable outcome that carries an upstream
// Retry-After hint.
func OutcomeRetryableAfter(reason string, after time.Duration) Outcome {
	return Outcome{Kind: Retryable, Reason: reason, RetryAfter: after}
}
