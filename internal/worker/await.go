package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is wrapped by every deadline failure produced by Await, so
// callers can distinguish a timeout from other failures with errors.Is.
var ErrTimeout = errors.New("timed out")

// Await waits for a value on ch, a deadline of d, or caller cancellation,
// whichever comes first. The timeout error is labeled so logs say which
// exchange expired. Whichever path fires, the timer is always stopped — no
// timer is ever left dangling.
func Await[T any](ctx context.Context, ch <-chan T, d time.Duration, label string) (T, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case v, ok := <-ch:
		if !ok {
			return zero, fmt.Errorf("%s: channel closed", label)
		}
		return v, nil
	case <-timer.C:
		return zero, fmt.Errorf("%s: %w after %s", label, ErrTimeout, d)
	case <-ctx.Done():
		return zero, fmt.Errorf("%s: %w", label, ctx.Err())
	}
}
