package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seantiz/forge/internal/model"
	"github.com/seantiz/forge/internal/proto"
)

// PerformHandshake drives the ready/init exchange that transitions a freshly
// constructed worker from constructed to usable: await the worker's
// ready-signal, send the init-request, await the init-response. Each leg
// runs under the same deadline; a worker-reported error or transport failure
// at any point aborts the handshake.
//
// PerformHandshake owns mux construction. The handshake handler must be
// attached before the pump consumes the worker's channels, or a
// ready-signal sent promptly after construction is dropped on the floor.
// On success it returns the mux, with the handshake handler detached, for
// the caller to keep pumping the worker through. On failure the mux is
// stopped and the worker is left for the caller to terminate.
func PerformHandshake(ctx context.Context, w Worker, hs proto.Handshake, initPayload json.RawMessage, timeout time.Duration) (*Mux, error) {
	if err := hs.Validate(); err != nil {
		return nil, err
	}

	readyCh := make(chan struct{}, 1)
	respCh := make(chan proto.Envelope, 1)
	failCh := make(chan error, 1)

	initID := model.NewID()
	h := &Handler{
		OnMessage: func(env proto.Envelope) {
			switch env.Type {
			case hs.Ready:
				select {
				case readyCh <- struct{}{}:
				default:
				}
			case hs.InitResponse:
				if env.ID != initID {
					return
				}
				select {
				case respCh <- env:
				default:
				}
			case hs.Error:
				select {
				case failCh <- proto.DecodeError(env):
				default:
				}
			}
		},
		OnError: func(err error) {
			select {
			case failCh <- err:
			default:
			}
		},
	}
	mux := NewMux(w, h)
	defer mux.Detach(h)

	if err := awaitSignal(ctx, readyCh, failCh, timeout, "handshake ready-signal"); err != nil {
		mux.Stop()
		return nil, err
	}

	if err := w.Send(proto.Envelope{Type: hs.InitRequest, ID: initID, Payload: initPayload}); err != nil {
		mux.Stop()
		return nil, fmt.Errorf("send init-request: %w", err)
	}

	if err := awaitSignal(ctx, respCh, failCh, timeout, "handshake init-response"); err != nil {
		mux.Stop()
		return nil, err
	}
	return mux, nil
}

// awaitSignal waits for one expected handshake message, racing it against
// worker failures, the deadline, and caller cancellation.
func awaitSignal[T any](ctx context.Context, ch <-chan T, failCh <-chan error, d time.Duration, label string) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case err := <-failCh:
		return fmt.Errorf("%s: %w", label, err)
	case <-timer.C:
		return fmt.Errorf("%s: %w after %s", label, ErrTimeout, d)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", label, ctx.Err())
	}
}
