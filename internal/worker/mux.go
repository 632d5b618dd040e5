package worker

import (
	"sync"

	"github.com/seantiz/forge/internal/proto"
)

// Handler receives messages and transport errors fanned out by a Mux.
// Either callback may be nil. Callbacks run on the mux pump goroutine and
// must not block; they may attach or detach handlers.
type Handler struct {
	OnMessage func(env proto.Envelope)
	OnError   func(err error)
}

// Mux fans one worker's message and error channels out to any number of
// attached handlers. Go channels have single-consumer semantics, so each
// worker slot owns exactly one mux pumping its channels; jobs, handshakes
// and health probes each attach their own handler for the duration of the
// exchange.
//
// Attach and Detach are idempotent: attaching an already-attached handler is
// a no-op, and detaching a handler that was never attached is always safe.
type Mux struct {
	mu       sync.Mutex
	handlers map[*Handler]struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMux creates a mux for w and starts its pump goroutine. Handlers passed
// here are attached before the pump consumes anything, so messages the worker
// emits immediately after construction cannot be fanned out to an empty set.
// The pump exits when both worker channels close or Stop is called.
func NewMux(w Worker, initial ...*Handler) *Mux {
	m := &Mux{
		handlers: make(map[*Handler]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, h := range initial {
		if h != nil {
			m.handlers[h] = struct{}{}
		}
	}
	go m.pump(w)
	return m
}

// Attach registers h to receive subsequent messages and errors.
func (m *Mux) Attach(h *Handler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[h] = struct{}{}
}

// Detach unregisters h. Safe to call even if h was never attached.
func (m *Mux) Detach(h *Handler) {
	if h == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, h)
}

// Stop halts the pump. Idempotent. Handlers attached at stop time receive no
// further callbacks once the pump exits.
func (m *Mux) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Mux) pump(w Worker) {
	defer close(m.done)

	msgs := w.Messages()
	errs := w.Errors()
	for {
		select {
		case env, ok := <-msgs:
			if !ok {
				if errs == nil {
					return
				}
				msgs = nil
				continue
			}
			for _, h := range m.snapshot() {
				if h.OnMessage != nil {
					h.OnMessage(env)
				}
			}
		case err, ok := <-errs:
			if !ok {
				if msgs == nil {
					return
				}
				errs = nil
				continue
			}
			for _, h := range m.snapshot() {
				if h.OnError != nil {
					h.OnError(err)
				}
			}
		case <-m.stop:
			return
		}
	}
}

// snapshot copies the handler set so callbacks run without holding the lock,
// allowing them to attach or detach handlers.
func (m *Mux) snapshot() []*Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	hs := make([]*Handler, 0, len(m.handlers))
	for h := range m.handlers {
		hs = append(hs, h)
	}
	return hs
}
