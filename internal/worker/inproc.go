package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/seantiz/forge/internal/proto"
)

// inboxSize bounds how many unread envelopes a worker may accumulate before
// Send starts failing instead of blocking the coordinator.
const inboxSize = 64

// ServeFunc is the body of an in-process worker. It reads requests from in
// and writes responses to out until in closes or ctx is cancelled. It owns
// the out channel lifetime implicitly: InProc closes out after serve returns.
type ServeFunc func(ctx context.Context, in <-chan proto.Envelope, out chan<- proto.Envelope)

// InProc is a worker backed by a goroutine in the same process. It is the
// standard transport for computation that only needs to be off the
// coordinating goroutine, and the scripted transport used throughout the
// engine's tests.
type InProc struct {
	in     chan proto.Envelope
	out    chan proto.Envelope
	errs   chan error
	cancel context.CancelFunc

	mu         sync.Mutex
	terminated bool
}

var _ Worker = (*InProc)(nil)

// NewInProc starts a goroutine running serve and returns its worker handle.
func NewInProc(serve ServeFunc) *InProc {
	ctx, cancel := context.WithCancel(context.Background())
	w := &InProc{
		in:     make(chan proto.Envelope, inboxSize),
		out:    make(chan proto.Envelope, inboxSize),
		errs:   make(chan error, 1),
		cancel: cancel,
	}

	go func() {
		defer close(w.out)
		defer close(w.errs)
		serve(ctx, w.in, w.out)
	}()

	return w
}

// Send delivers env to the worker's inbox without blocking.
func (w *InProc) Send(env proto.Envelope) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return ErrTerminated
	}
	select {
	case w.in <- env:
		return nil
	default:
		return errors.New("worker inbox full")
	}
}

// Messages returns the worker's output channel.
func (w *InProc) Messages() <-chan proto.Envelope { return w.out }

// Errors returns the transport error channel. In-process workers have no
// transport to fail; the channel only ever closes.
func (w *InProc) Errors() <-chan error { return w.errs }

// Terminate cancels the serve context and closes the inbox. Idempotent.
func (w *InProc) Terminate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.terminated {
		return
	}
	w.terminated = true
	w.cancel()
	close(w.in)
}
