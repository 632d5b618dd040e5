// Package worker defines the execution-unit abstraction used by the discrete
// job pool and the streaming pipeline, together with the shared message
// primitives: the listener mux, the resolve-or-timeout helper, and the
// handshake runner. Two transports are provided — an in-process worker backed
// by a goroutine, and a subprocess worker speaking length-prefixed frames
// over stdio.
package worker

import (
	"context"
	"errors"

	"github.com/seantiz/forge/internal/proto"
)

// ErrTerminated is returned by Send after a worker has been terminated.
var ErrTerminated = errors.New("worker terminated")

// Worker is one background execution unit. All coordination with a worker is
// via asynchronous message passing: Send delivers an envelope to the worker,
// Messages and Errors deliver the worker's output and transport failures
// back. Both channels are closed when the worker stops producing.
//
// A Worker is exclusively owned by the pool or pipeline that created it and
// is never shared across slots.
type Worker interface {
	// Send delivers an envelope to the worker. It must not block on a busy
	// worker; senders see an error if the worker is gone or backed up.
	Send(env proto.Envelope) error

	// Messages returns the channel of worker→engine envelopes.
	Messages() <-chan proto.Envelope

	// Errors returns the channel of transport-level failures.
	Errors() <-chan error

	// Terminate stops the worker and releases its resources. Idempotent.
	Terminate()
}

// Factory constructs a new worker. Production and test wiring differ only in
// which factory is passed in, never in branching inside the engine.
type Factory func(ctx context.Context) (Worker, error)
