package web

import (
	"context"
	"sync"
)

// Coalescer enforces "only one in-flight send per room" for devices with
// OnlyLastPerRoom set (spec.md §4.6): a newer notification for the same
// (pushkey, room) preempts whatever send is still running for the older
// one, since WebPush endpoints commonly throttle bursts to the same
// subscription.
type Coalescer struct {
	mu      sync.Mutex
	slots   map[string]uint64
	cancels map[string]context.CancelFunc
	seq     uint64
}

// NewCoalescer returns an empty Coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{
		slots:   make(map[string]uint64),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Begin cancels any send already running under key and claims the slot for
// the caller. The returned context is canceled either by the caller's done
// func or by a later Begin call for the same key; the caller must check
// ctx.Err() after any blocking call.
func (c *Coalescer) Begin(ctx context.Context, key string) (context.Context, func()) {
	cctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if prev, ok := c.cancels[key]; ok {
		prev()
	}
	c.seq++
	ticket := c.seq
	c.slots[key] = ticket
	c.cancels[key] = cancel
	c.mu.Unlock()

	done := func() {
		c.mu.Lock()
		if c.slots[key] == ticket {
			delete(c.slots, key)
			delete(c.cancels, key)
		}
		c.mu.Unlock()
		cancel()
	}
	return cctx, done
}
