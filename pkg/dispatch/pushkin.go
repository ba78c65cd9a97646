package dispatch

import (
	"context"

	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// Pushkin is the capability set every upstream-cloud plugin implements:
// dispatch one device's notification, and release resources at shutdown.
// Kinds are not shared by inheritance; they compose the shared HTTP/2 client
// factory and concurrency limiter instead (see internal/platform).
type Pushkin interface {
	// Dispatch sends n to the given device and maps the upstream response
	// to an Outcome. It must not block past ctx's deadline.
	Dispatch(ctx context.Context, n notification.Notification, d notification.Device) Outcome
	// Shutdown closes the idle connections of the pushkin's HTTP/2 client.
	// Cached credentials are not dropped. Called once, at process shutdown.
	Shutdown(ctx context.Context) error
}
