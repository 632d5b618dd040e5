package pool

import (
	"context"
	"sync"
)

// Outcome is the settled-exactly-once result handle returned by Submit.
// Deduplicated submissions share one Outcome, so every caller attached to
// the same content hash observes the identical value.
//
// The pool always settles an Outcome with a value — real or fallback — and
// never with an internal error.
type Outcome[Res any] struct {
	done chan struct{}
	once sync.Once

	val      Res
	fallback bool
}

func newOutcome[Res any]() *Outcome[Res] {
	return &Outcome[Res]{done: make(chan struct{})}
}

// settle records the value and releases waiters. Later calls are no-ops,
// which is what guarantees that exactly one of {success, error, timeout}
// resolves a given job.
func (o *Outcome[Res]) settle(val Res, fallback bool) {
	o.once.Do(func() {
		o.val = val
		o.fallback = fallback
		close(o.done)
	})
}

// Done returns a channel closed when the outcome has settled.
func (o *Outcome[Res]) Done() <-chan struct{} { return o.done }

// Value returns the settled value and whether it is a fallback substitute.
// Valid only after Done is closed.
func (o *Outcome[Res]) Value() (Res, bool) {
	return o.val, o.fallback
}

// Wait blocks until the outcome settles or ctx is cancelled. The error
// reflects caller cancellation only; the pool itself never fails a caller.
func (o *Outcome[Res]) Wait(ctx context.Context) (Res, error) {
	select {
	case <-o.done:
		return o.val, nil
	case <-ctx.Done():
		var zero Res
		return zero, ctx.Err()
	}
}
