package dispatch

import (
	"context"

	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// BatchPushkin is an optional capability: a pushkin that can fan a single
// upstream call out to several devices at once (spec.md §4.5 — FCM legacy
// accepts up to 1000 registration_ids per call). The gateway groups a
// notification's devices by pushkin and, when a pushkin implements this,
// calls DispatchBatch once per chunk instead of Dispatch once per device.
type BatchPushkin interface {
	Pushkin
	// DispatchBatch sends n to every device in one upstream call (or as
	// few as the upstream API allows) and returns one Outcome per device,
	// in the same order as devices.
	DispatchBatch(ctx context.Context, n notification.Notification, devices []notification.Device) []Outcome
	// MaxBatchSize is the largest slice DispatchBatch accepts in one call.
	MaxBatchSize() int
}
