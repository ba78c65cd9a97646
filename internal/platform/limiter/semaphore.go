// Package limiter implements the per-pushkin admission control described
// in spec.md §4.7: a non-blocking counting semaphore. This is admission
// control, not queueing — a saturated limiter fails fast rather than
// waiting for a slot.
package limiter

// Semaphore bounds the number of in-flight upstream calls for one pushkin.
type Semaphore struct {
	slots chan struct{}
}

// New returns a Semaphore with the given capacity. Capacity <= 0 means
// unlimited (TryAcquire always succeeds).
func New(capacity int) *Semaphore {
	if capacity <= 0 {
		return &Semaphore{}
	}
	return &Semaphore{slots: make(chan struct{}, capacity)}
}

// TryAcquire attempts to take a slot without blocking. It returns a
// release function when it succeeds, or nil, false when the limiter is
// saturated.
func (s *Semaphore) TryAcquire() (release func(), ok bool) {
	if s.slots == nil {
		return func() {}, true
	}
	select {
	case s.slots <- struct{}{}:
		return func() { <-s.slots }, true
	default:
		return nil, false
	}
}

// InFlight returns the current number of held slots, for metrics/tests.
func (s *Semaphore) InFlight() int {
	if s.slots == nil {
		return 0
	}
	return len(s.slots)
}
