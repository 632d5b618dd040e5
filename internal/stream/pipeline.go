// Package stream implements the streaming pipeline: a single worker serving
// at most one chunked operation at a time, with a superseding queue (a newer
// request replaces a still-queued one with the same signature), cooperative
// cancellation bounded by a deadline, and full worker re-initialization after
// any runtime error. It also provides a Broker fanning an active stream's
// chunks out to subscribers.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/forge/internal/model"
	"github.com/seantiz/forge/internal/proto"
	"github.com/seantiz/forge/internal/worker"
)

// ErrClosed is delivered to callbacks of items still waiting when the
// pipeline shuts down, and to submissions after shutdown.
var ErrClosed = errors.New("pipeline closed")

// Default configuration values.
const (
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultCancelTimeout    = 2 * time.Second
)

// Tags names the streaming message types the pipeline must recognize on the
// wire: chunks, completion, and the cancellation acknowledgment. Start and
// cancel messages are built by the integration, which knows its own tags.
type Tags struct {
	Chunk     string
	Complete  string
	CancelAck string
}

// Integration is the consumer-supplied contract binding a concrete streaming
// worker to the pipeline.
type Integration[Req, Chunk, Done any] interface {
	// NewWorker constructs the single execution unit, lazily, on first use
	// and after any runtime error.
	NewWorker(ctx context.Context) (worker.Worker, error)

	// StartMessage builds the envelope starting one streaming operation.
	StartMessage(id string, req Req) (proto.Envelope, error)

	// CancelMessage builds the envelope requesting cancellation of id.
	CancelMessage(id string) proto.Envelope

	// ParseChunk extracts one chunk from a chunk envelope.
	ParseChunk(env proto.Envelope) (Chunk, error)

	// ParseDone extracts the completion value from a completion envelope.
	ParseDone(env proto.Envelope) (Done, error)

	// Hash returns the request signature used by the supersede policy.
	Hash(req Req) string
}

// Callbacks receive a stream's output. Any member may be nil.
type Callbacks[Chunk, Done any] struct {
	OnChunk func(Chunk)
	OnDone  func(Done)
	OnError func(error)
}

// Options configure a pipeline.
type Options struct {
	Handshake        proto.Handshake
	InitPayload      json.RawMessage
	Tags             Tags
	HandshakeTimeout time.Duration
	CancelTimeout    time.Duration
	Logger           *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.CancelTimeout <= 0 {
		o.CancelTimeout = DefaultCancelTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type state int

const (
	stateUninitialized state = iota
	stateInitializing
	stateReady
)

// item is one queued or active streaming operation.
type item[Req, Chunk, Done any] struct {
	id        string
	req       Req
	hash      string
	cb        Callbacks[Chunk, Done]
	cancelled bool

	ackOnce sync.Once
	ack     chan struct{}
}

func (it *item[Req, Chunk, Done]) acked() {
	it.ackOnce.Do(func() { close(it.ack) })
}

// Pipeline drives streaming operations through one worker.
type Pipeline[Req, Chunk, Done any] struct {
	integ Integration[Req, Chunk, Done]
	opts  Options
	log   *slog.Logger

	mu      sync.Mutex
	st      state
	w       worker.Worker
	mux     *worker.Mux
	handler *worker.Handler
	queue   []*item[Req, Chunk, Done]
	active  *item[Req, Chunk, Done]
	closed  bool
}

// New constructs a pipeline. The worker is not created until the first
// request needs it.
func New[Req, Chunk, Done any](integ Integration[Req, Chunk, Done], opts Options) (*Pipeline[Req, Chunk, Done], error) {
	opts.applyDefaults()
	if err := opts.Handshake.Validate(); err != nil {
		return nil, err
	}
	if opts.Tags.Chunk == "" || opts.Tags.Complete == "" || opts.Tags.CancelAck == "" {
		return nil, errors.New("stream tags incomplete")
	}

	return &Pipeline[Req, Chunk, Done]{
		integ: integ,
		opts:  opts,
		log:   opts.Logger,
	}, nil
}

// Start enqueues a streaming request and returns its id. A still-queued item
// with the same signature is superseded: only the newest request with a
// given hash will ever start, and the superseded item's callbacks are never
// invoked. The currently active item is never superseded.
func (p *Pipeline[Req, Chunk, Done]) Start(req Req, cb Callbacks[Chunk, Done]) string {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if cb.OnError != nil {
			go cb.OnError(ErrClosed)
		}
		return ""
	}

	hash := p.integ.Hash(req)
	for i, queued := range p.queue {
		if queued.hash == hash {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			supersededTotal.Inc()
			break
		}
	}

	it := &item[Req, Chunk, Done]{
		id:   model.NewID(),
		req:  req,
		hash: hash,
		cb:   cb,
		ack:  make(chan struct{}),
	}
	p.queue = append(p.queue, it)
	p.mu.Unlock()

	p.kick()
	return it.id
}

// kick advances the queue if nothing is active.
func (p *Pipeline[Req, Chunk, Done]) kick() {
	go p.processNext()
}

func (p *Pipeline[Req, Chunk, Done]) processNext() {
	p.mu.Lock()
	if p.closed || p.active != nil || len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	it := p.queue[0]
	p.queue = p.queue[1:]
	p.active = it
	p.mu.Unlock()

	if err := p.ensureReady(); err != nil {
		// Initialization failure is surfaced to every waiting callback,
		// and the queue is cleared.
		p.mu.Lock()
		if p.closed || p.active != it {
			// Close already settled everything with ErrClosed.
			p.mu.Unlock()
			return
		}
		waiting := append([]*item[Req, Chunk, Done]{it}, p.queue...)
		p.queue = nil
		p.active = nil
		p.mu.Unlock()

		for _, q := range waiting {
			if q.cb.OnError != nil {
				q.cb.OnError(err)
			}
		}
		return
	}

	env, err := p.integ.StartMessage(it.id, it.req)
	if err != nil {
		p.log.Error("build start message", "stream_id", it.id, "error", err)
		p.clearActive(it)
		if it.cb.OnError != nil {
			it.cb.OnError(err)
		}
		p.kick()
		return
	}

	h := &worker.Handler{
		OnMessage: func(env proto.Envelope) { p.onMessage(it, env) },
		OnError:   func(err error) { p.onRuntimeError(it, err) },
	}

	p.mu.Lock()
	if p.closed || p.active != it {
		p.mu.Unlock()
		return
	}
	p.handler = h
	w, mux := p.w, p.mux
	p.mu.Unlock()

	mux.Attach(h)
	activeStreams.Set(1)
	if err := w.Send(env); err != nil {
		p.onRuntimeError(it, err)
	}
}

// ensureReady initializes the worker if the pipeline is not ready. Only the
// processing goroutine calls it, so there is never a concurrent handshake.
func (p *Pipeline[Req, Chunk, Done]) ensureReady() error {
	p.mu.Lock()
	if p.st == stateReady {
		p.mu.Unlock()
		return nil
	}
	p.st = stateInitializing
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.HandshakeTimeout)
	defer cancel()

	w, err := p.integ.NewWorker(ctx)
	if err != nil {
		p.setState(stateUninitialized)
		return err
	}
	mux, err := worker.PerformHandshake(ctx, w, p.opts.Handshake, p.opts.InitPayload, p.opts.HandshakeTimeout)
	if err != nil {
		w.Terminate()
		p.setState(stateUninitialized)
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		mux.Stop()
		w.Terminate()
		return ErrClosed
	}
	p.w = w
	p.mux = mux
	p.st = stateReady
	p.mu.Unlock()
	return nil
}

func (p *Pipeline[Req, Chunk, Done]) setState(st state) {
	p.mu.Lock()
	p.st = st
	p.mu.Unlock()
}

// onMessage handles worker messages correlated to the active item.
func (p *Pipeline[Req, Chunk, Done]) onMessage(it *item[Req, Chunk, Done], env proto.Envelope) {
	if env.ID != it.id {
		return
	}

	switch env.Type {
	case p.opts.Tags.Chunk:
		p.mu.Lock()
		cancelled := it.cancelled
		p.mu.Unlock()
		if cancelled {
			return
		}
		c, err := p.integ.ParseChunk(env)
		if err != nil {
			p.onRuntimeError(it, err)
			return
		}
		chunksTotal.Inc()
		if it.cb.OnChunk != nil {
			it.cb.OnChunk(c)
		}

	case p.opts.Tags.Complete:
		d, err := p.integ.ParseDone(env)
		if err != nil {
			p.onRuntimeError(it, err)
			return
		}
		p.mu.Lock()
		cancelled := it.cancelled
		p.mu.Unlock()
		p.clearActive(it)
		if !cancelled {
			streamsTotal.WithLabelValues(streamCompleted).Inc()
			if it.cb.OnDone != nil {
				it.cb.OnDone(d)
			}
		}
		p.kick()

	case p.opts.Tags.CancelAck:
		it.acked()

	case p.opts.Handshake.Error:
		p.onRuntimeError(it, proto.DecodeError(env))
	}
}

// onRuntimeError fires the error callback, terminates the worker, resets
// the pipeline to uninitialized and advances the queue. An errored worker is
// not trusted to continue serving; a fresh one is built lazily on next use.
func (p *Pipeline[Req, Chunk, Done]) onRuntimeError(it *item[Req, Chunk, Done], err error) {
	p.mu.Lock()
	if p.active != it {
		p.mu.Unlock()
		return
	}
	p.active = nil
	h := p.handler
	p.handler = nil
	w, mux := p.w, p.mux
	p.w, p.mux = nil, nil
	p.st = stateUninitialized
	cancelled := it.cancelled
	p.mu.Unlock()

	activeStreams.Set(0)
	streamsTotal.WithLabelValues(streamFailed).Inc()
	p.log.Warn("stream failed", "stream_id", it.id, "error", err)

	// Tear the worker down off this goroutine: onRuntimeError may be running
	// on the mux pump, and Stop waits for the pump to exit.
	go func() {
		if w != nil {
			w.Terminate()
		}
		if mux != nil {
			if h != nil {
				mux.Detach(h)
			}
			mux.Stop()
		}
	}()

	// Unblock a canceller waiting for an ack that will never come.
	it.acked()

	if !cancelled && it.cb.OnError != nil {
		it.cb.OnError(err)
	}
	p.kick()
}

// clearActive detaches the active item's handler and frees the slot, leaving
// the worker ready for the next item.
func (p *Pipeline[Req, Chunk, Done]) clearActive(it *item[Req, Chunk, Done]) {
	p.mu.Lock()
	if p.active != it {
		p.mu.Unlock()
		return
	}
	p.active = nil
	h := p.handler
	p.handler = nil
	mux := p.mux
	p.mu.Unlock()

	activeStreams.Set(0)
	if mux != nil && h != nil {
		mux.Detach(h)
	}
}

// Cancel requests cancellation of the active stream and reports whether id
// matched it. Ids that are queued, finished or unknown are left untouched
// and return false. Cancellation is best-effort and bounded: Cancel returns
// within the cancel timeout whether or not the worker ever acknowledges,
// force-cleaning local state and advancing the queue on expiry.
func (p *Pipeline[Req, Chunk, Done]) Cancel(id string) bool {
	p.mu.Lock()
	it := p.active
	if it == nil || it.id != id || it.cancelled {
		p.mu.Unlock()
		return false
	}
	it.cancelled = true
	w := p.w
	p.mu.Unlock()

	if w != nil {
		if err := w.Send(p.integ.CancelMessage(id)); err != nil {
			p.log.Warn("send cancel", "stream_id", id, "error", err)
		}
	}

	if _, err := worker.Await(context.Background(), chanRecv(it.ack), p.opts.CancelTimeout, "cancel ack"); err != nil {
		p.log.Warn("cancel not acknowledged, forcing cleanup", "stream_id", id)
	}
	// Release the adapter goroutine if the ack never arrived.
	it.acked()
	streamsTotal.WithLabelValues(streamCancelled).Inc()
	p.clearActive(it)
	p.kick()
	return true
}

// chanRecv adapts a closed-channel signal to Await's value semantics.
func chanRecv(ch <-chan struct{}) <-chan struct{} {
	out := make(chan struct{}, 1)
	go func() {
		<-ch
		out <- struct{}{}
	}()
	return out
}

// Close shuts the pipeline down: waiting and active callbacks receive
// ErrClosed and the worker is terminated. Idempotent.
func (p *Pipeline[Req, Chunk, Done]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiting := p.queue
	p.queue = nil
	act := p.active
	p.active = nil
	h := p.handler
	p.handler = nil
	w, mux := p.w, p.mux
	p.w, p.mux = nil, nil
	p.st = stateUninitialized
	p.mu.Unlock()

	activeStreams.Set(0)
	if mux != nil {
		if h != nil {
			mux.Detach(h)
		}
		mux.Stop()
	}
	if w != nil {
		w.Terminate()
	}

	if act != nil {
		act.acked()
		if !act.cancelled && act.cb.OnError != nil {
			act.cb.OnError(ErrClosed)
		}
	}
	for _, q := range waiting {
		if q.cb.OnError != nil {
			q.cb.OnError(ErrClosed)
		}
	}
}
