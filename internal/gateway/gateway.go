// Package gateway is the request-level orchestrator: it resolves each
// device to a pushkin, honors per-pushkin batching and admission control,
// and folds the per-device outcomes back into the single rejected/retry
// response spec.md's notify handler returns to the homeserver.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sygnalgo/pushgateway/internal/metrics"
	"github.com/sygnalgo/pushgateway/internal/platform/limiter"
	"github.com/sygnalgo/pushgateway/pkg/dispatch"
	"github.com/sygnalgo/pushgateway/pkg/notification"
)

// defaultPerDeviceTimeout bounds a single upstream call; the homeserver's
// own deadline on the whole request is longer (spec.md §4.8, 30s).
const defaultPerDeviceTimeout = 10 * time.Second

// requestDeadline caps the whole fan-out of one notification (spec.md §4.8).
const requestDeadline = 30 * time.Second

// Result is the outcome of dispatching one notification to all its
// devices: the pushkeys the homeserver should stop pushing to, and whether
// the whole notification should be retried later.
type Result struct {
	Rejected   []string
	Retry      bool
	RetryAfter time.Duration
}

// Gateway fans a Notification's devices out to their pushkins.
type Gateway struct {
	registry         *dispatch.Registry
	limiters         map[string]*limiter.Semaphore
	defaultLimiter   *limiter.Semaphore
	perDeviceTimeout time.Duration
	logger           *slog.Logger
}

// New builds a Gateway. limiters maps an app_id to its configured
// in-flight cap (the app's max_in_flight setting); apps with no entry
// share defaultLimiter, which is unlimited.
func New(registry *dispatch.Registry, limiters map[string]*limiter.Semaphore, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry:         registry,
		limiters:         limiters,
		defaultLimiter:   limiter.New(0),
		perDeviceTimeout: defaultPerDeviceTimeout,
		logger:           logger,
	}
}

type unit struct {
	pk      dispatch.Pushkin
	devices []notification.Device
}

// planUnits groups a notification's devices by resolved pushkin and, for
// pushkins that support batching, chunks each group to MaxBatchSize.
// Devices whose app_id matches no registered pushkin are pre-rejected.
func (g *Gateway) planUnits(n notification.Notification) (units []unit, preRejected []string) {
	groups := map[dispatch.Pushkin][]notification.Device{}
	var order []dispatch.Pushkin

	for _, d := range n.Devices {
		pk := g.registry.Lookup(d.AppID)
		if pk == nil {
			preRejected = append(preRejected, d.Pushkey)
			continue
		}
		if _, ok := groups[pk]; !ok {
			order = append(order, pk)
		}
		groups[pk] = append(groups[pk], d)
	}

	for _, pk := range order {
		devices := groups[pk]
		bp, batches := pk.(dispatch.BatchPushkin)
		if !batches {
			for _, d := range devices {
				units = append(units, unit{pk: pk, devices: []notification.Device{d}})
			}
			continue
		}
		max := bp.MaxBatchSize()
		if max <= 0 {
			max = len(devices)
		}
		for i := 0; i < len(devices); i += max {
			end := i + max
			if end > len(devices) {
				end = len(devices)
			}
			units = append(units, unit{pk: pk, devices: devices[i:end]})
		}
	}
	return units, preRejected
}

func (g *Gateway) limiterFor(appID string) *limiter.Semaphore {
	if s, ok := g.limiters[appID]; ok {
		return s
	}
	return g.defaultLimiter
}

type unitResult struct {
	pushkeys []string
	outcomes []dispatch.Outcome
}

// Dispatch sends n to every device it names, bounding the whole fan-out by
// requestDeadline (or ctx's own deadline, if earlier).
func (g *Gateway) Dispatch(ctx context.Context, n notification.Notification) Result {
	units, preRejected := g.planUnits(n)
	result := Result{Rejected: preRejected}
	if len(units) == 0 {
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, requestDeadline)
	defer cancel()

	results := make([]unitResult, len(units))
	var wg sync.WaitGroup
	for i, u := range units {
		wg.Add(1)
		go func(i int, u unit) {
			defer wg.Done()
			results[i] = g.runUnit(ctx, n, u)
		}(i, u)
	}
	wg.Wait()

	var anyDelivered, anyRetryable bool
	for _, r := range results {
		for j, o := range r.outcomes {
			switch o.Kind {
			case dispatch.Delivered:
				anyDelivered = true
			case dispatch.PushkeyRejected:
				result.Rejected = append(result.Rejected, r.pushkeys[j])
			case dispatch.Retryable:
				anyRetryable = true
				if o.RetryAfter > result.RetryAfter {
					result.RetryAfter = o.RetryAfter
				}
			}
		}
	}

	// spec.md §4.8: only retry the whole notification when nothing got
	// through; a notification with any Delivered device must not be
	// resent, or that device receives it twice.
	if anyRetryable && !anyDelivered {
		result.Retry = true
	} else {
		result.RetryAfter = 0
	}
	return result
}

func (g *Gateway) runUnit(ctx context.Context, n notification.Notification, u unit) unitResult {
	pushkeys := make([]string, len(u.devices))
	for j, d := range u.devices {
		pushkeys[j] = d.Pushkey
	}

	sem := g.limiterFor(u.devices[0].AppID)
	release, ok := sem.TryAcquire()
	if !ok {
		g.logger.Warn("pushkin saturated, dropping to retryable", "app_id", u.devices[0].AppID, "devices", len(u.devices))
		metrics.InflightLimitDrops.WithLabelValues(u.devices[0].AppID).Inc()
		return unitResult{pushkeys, uniformOutcome(len(u.devices), dispatch.OutcomeRetryable("pushkin at capacity"))}
	}
	defer release()

	cctx, cancel := context.WithTimeout(ctx, g.perDeviceTimeout)
	defer cancel()

	if bp, ok := u.pk.(dispatch.BatchPushkin); ok {
		return unitResult{pushkeys, bp.DispatchBatch(cctx, n, u.devices)}
	}

	outcomes := make([]dispatch.Outcome, len(u.devices))
	for j, d := range u.devices {
		outcomes[j] = u.pk.Dispatch(cctx, n, d)
	}
	return unitResult{pushkeys, outcomes}
}

func uniformOutcome(count int, o dispatch.Outcome) []dispatch.Outcome {
	out := make([]dispatch.Outcome, count)
	for i := range out {
		out[i] = o
	}
	return out
}
