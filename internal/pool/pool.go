// Package pool implements the discrete job pool: N handshaken worker slots
// fed from a priority queue, with request deduplication, per-job timeouts
// with fallback values, batch submission, and health-check-driven worker
// recovery. Callers are never blocked and never see an internal failure —
// every submission settles with a real or fallback value.
package pool

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/forge/internal/model"
	"github.com/seantiz/forge/internal/proto"
	"github.com/seantiz/forge/internal/worker"
)

// ErrPoolClosed is returned by Recover after Shutdown.
var ErrPoolClosed = errors.New("pool closed")

// Default configuration values.
const (
	DefaultSize             = 2
	DefaultQueueMax         = 64
	DefaultOpTimeout        = 5 * time.Second
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultHealthInterval   = 30 * time.Second
	DefaultHealthTimeout    = 2 * time.Second
)

// Integration is the consumer-supplied contract binding a concrete worker
// implementation to the pool: how to construct a worker, how to build and
// parse its messages, how to hash a request for deduplication, and what to
// substitute when the real computation cannot be obtained in time.
type Integration[Req, Res any] interface {
	// NewWorker constructs one execution unit. The context bounds construction.
	NewWorker(ctx context.Context) (worker.Worker, error)

	// JobMessage builds the envelope dispatching one request.
	JobMessage(id string, req Req) (proto.Envelope, error)

	// BatchMessage builds the envelope dispatching several requests at once.
	// Integrations without a batch protocol return proto.ErrBatchUnsupported.
	BatchMessage(id string, reqs []Req) (proto.Envelope, error)

	// ParseResult extracts the result from a job response envelope.
	ParseResult(env proto.Envelope) (Res, error)

	// ParseBatchResult extracts n positional results from a batch response.
	ParseBatchResult(env proto.Envelope, n int) ([]Res, error)

	// Hash returns a deterministic digest of req used to detect duplicate
	// concurrent submissions.
	Hash(req Req) string

	// Fallback returns the cheap approximate result substituted when the
	// real computation cannot be obtained.
	Fallback(req Req) Res
}

// Record describes one settled job, for optional history hooks.
type Record struct {
	JobID       string
	Hash        string
	Priority    int
	Outcome     string // completed, fallback, evicted, shutdown
	Duration    time.Duration
	SubmittedAt time.Time
	SettledAt   time.Time
}

// Options configure a pool. Zero values take the package defaults.
type Options struct {
	// Size is the number of worker slots.
	Size int

	// QueueMax bounds the dispatch queue. When exceeded, the single
	// end-of-queue item is evicted and settled with its fallback value.
	QueueMax int

	// OpTimeout bounds each dispatched job; expiry settles the job with its
	// fallback value and frees the slot.
	OpTimeout time.Duration

	// HandshakeTimeout bounds worker construction plus the ready/init exchange.
	HandshakeTimeout time.Duration

	// HealthInterval is the probe period. Ignored when the handshake
	// descriptor has no health types.
	HealthInterval time.Duration

	// HealthTimeout bounds each individual health probe.
	HealthTimeout time.Duration

	// Handshake names the worker's lifecycle message types.
	Handshake proto.Handshake

	// InitPayload is sent with the init-request during the handshake.
	InitPayload json.RawMessage

	// AfterRecover, if set, runs after a slot has been successfully replaced.
	AfterRecover func(slot int)

	// OnSettle, if set, receives a record for every settled job. Invoked on
	// its own goroutine.
	OnSettle func(Record)

	Logger *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.Size <= 0 {
		o.Size = DefaultSize
	}
	if o.QueueMax <= 0 {
		o.QueueMax = DefaultQueueMax
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = DefaultOpTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = DefaultHealthInterval
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = DefaultHealthTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// activeJob tracks the one job occupying a worker slot.
type activeJob[Req, Res any] struct {
	item    *queueItem[Req, Res]
	handler *worker.Handler
	timer   *time.Timer
	started time.Time
	settled bool
}

// recoveryState is the per-slot recovery lock: while non-nil on a slot, a
// replacement operation is in flight and concurrent triggers await it
// instead of starting a duplicate.
type recoveryState struct {
	done chan struct{}
	err  error
}

// slot is one worker execution unit plus its lifecycle flags. Exclusively
// owned by the pool; at most one job references it at any time.
type slot[Req, Res any] struct {
	index    int
	w        worker.Worker
	mux      *worker.Mux
	ready    bool
	healthy  bool
	reserved bool // batch dispatch in progress
	job      *activeJob[Req, Res]
	recovery *recoveryState
}

// Pool is the discrete job pool.
type Pool[Req, Res any] struct {
	integ Integration[Req, Res]
	opts  Options
	log   *slog.Logger

	mu      sync.Mutex
	slots   []*slot[Req, Res]
	queue   jobQueue[Req, Res]
	pending map[string]*pendingEntry[Res]
	seq     uint64
	closed  bool

	stopHealth chan struct{}
	healthDone chan struct{}
}

// pendingEntry maps a content hash to its in-flight outcome. The timestamp
// drives defensive pruning of entries older than the operation timeout.
type pendingEntry[Res any] struct {
	out *Outcome[Res]
	at  time.Time
}

// New constructs a pool and begins initializing its worker slots
// asynchronously. Jobs submitted before any slot completes its handshake
// simply queue until one does.
func New[Req, Res any](integ Integration[Req, Res], opts Options) (*Pool[Req, Res], error) {
	opts.applyDefaults()
	if err := opts.Handshake.Validate(); err != nil {
		return nil, err
	}

	p := &Pool[Req, Res]{
		integ:      integ,
		opts:       opts,
		log:        opts.Logger,
		pending:    make(map[string]*pendingEntry[Res]),
		stopHealth: make(chan struct{}),
		healthDone: make(chan struct{}),
	}
	p.slots = make([]*slot[Req, Res], opts.Size)
	for i := range p.slots {
		p.slots[i] = &slot[Req, Res]{index: i}
	}

	// Initial slot construction holds the recovery lock so that an early
	// health tick or manual Recover awaits the handshake in flight instead
	// of racing it with a second worker.
	for i := range p.slots {
		s := p.slots[i]
		r := &recoveryState{done: make(chan struct{})}
		s.recovery = r
		go func() {
			err := p.startWorker(s.index)
			p.mu.Lock()
			s.recovery = nil
			if err == nil {
				// The slot was excluded from draining until the
				// recovery lock cleared; dispatch anything that
				// queued up during construction.
				p.drainLocked()
			}
			p.mu.Unlock()
			r.err = err
			close(r.done)
			if err != nil {
				p.log.Error("worker initialization failed", "worker_id", s.index, "error", err)
			}
		}()
	}

	if opts.Handshake.SupportsHealth() {
		go p.healthLoop()
	} else {
		close(p.healthDone)
	}

	return p, nil
}

// Submit queues one request and returns its outcome handle. Lower priority
// values dispatch first; on overflow the numerically largest priority in the
// queue is evicted and settled with its fallback (larger value = less
// urgent). A submission whose content hash matches an in-flight job attaches
// to that job's outcome instead of dispatching again.
func (p *Pool[Req, Res]) Submit(req Req, priority int) *Outcome[Res] {
	hash := p.integ.Hash(req)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		out := newOutcome[Res]()
		out.settle(p.integ.Fallback(req), true)
		jobsTotal.WithLabelValues(outcomeShutdown).Inc()
		return out
	}

	if e, ok := p.pending[hash]; ok {
		dedupedTotal.Inc()
		return e.out
	}

	out := newOutcome[Res]()
	p.pending[hash] = &pendingEntry[Res]{out: out, at: time.Now()}

	p.seq++
	item := &queueItem[Req, Res]{
		id:          model.NewID(),
		req:         req,
		out:         out,
		priority:    priority,
		hash:        hash,
		seq:         p.seq,
		submittedAt: time.Now(),
	}

	if s := p.idleSlotLocked(); s != nil {
		p.dispatchLocked(s, item)
		return out
	}

	heap.Push(&p.queue, item)
	if p.queue.Len() > p.opts.QueueMax {
		evicted := heap.Remove(&p.queue, p.queue.worst()).(*queueItem[Req, Res])
		p.settleLocked(evicted, p.integ.Fallback(evicted.req), true, outcomeEvicted)
	}
	queueDepth.Set(float64(p.queue.Len()))
	return out
}

// SubmitBatch submits several requests together. It first attempts a single
// batched message on an idle worker; if the integration has no batch
// protocol, no worker is idle, or the batch times out, each request falls
// back to an independent Submit and the results are assembled positionally.
func (p *Pool[Req, Res]) SubmitBatch(ctx context.Context, reqs []Req, priority int) []Res {
	if len(reqs) == 0 {
		return nil
	}

	if res, ok := p.tryBatch(reqs); ok {
		return res
	}

	results := make([]Res, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		out := p.Submit(req, priority)
		g.Go(func() error {
			v, err := out.Wait(ctx)
			if err != nil {
				results[i] = p.integ.Fallback(reqs[i])
				return nil
			}
			results[i] = v
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// tryBatch reserves one idle worker for a single batched round-trip.
func (p *Pool[Req, Res]) tryBatch(reqs []Req) ([]Res, bool) {
	batchID := model.NewID()
	env, err := p.integ.BatchMessage(batchID, reqs)
	if err != nil {
		return nil, false // typically proto.ErrBatchUnsupported
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false
	}
	s := p.idleSlotLocked()
	if s == nil {
		p.mu.Unlock()
		return nil, false
	}
	s.reserved = true
	w, mux := s.w, s.mux
	p.mu.Unlock()

	release := func() {
		p.mu.Lock()
		s.reserved = false
		p.drainLocked()
		p.mu.Unlock()
	}

	resCh := make(chan []Res, 1)
	h := &worker.Handler{
		OnMessage: func(env proto.Envelope) {
			if env.ID != batchID || env.Type == p.opts.Handshake.Error {
				return
			}
			vals, perr := p.integ.ParseBatchResult(env, len(reqs))
			if perr != nil {
				return
			}
			select {
			case resCh <- vals:
			default:
			}
		},
	}
	mux.Attach(h)
	defer mux.Detach(h)

	if err := w.Send(env); err != nil {
		release()
		return nil, false
	}

	vals, err := worker.Await(context.Background(), resCh, p.opts.OpTimeout, "batch dispatch")
	release()
	if err != nil {
		return nil, false
	}
	return vals, true
}

// idleSlotLocked returns a dispatchable slot: ready, healthy, and idle.
func (p *Pool[Req, Res]) idleSlotLocked() *slot[Req, Res] {
	for _, s := range p.slots {
		if s.ready && s.healthy && s.job == nil && !s.reserved && s.recovery == nil {
			return s
		}
	}
	return nil
}

// dispatchLocked assigns item to s: record the active job, attach a one-shot
// handler scoped to the job id, send the job message, and arm the timeout.
func (p *Pool[Req, Res]) dispatchLocked(s *slot[Req, Res], item *queueItem[Req, Res]) {
	env, err := p.integ.JobMessage(item.id, item.req)
	if err != nil {
		// Builder failures settle with fallback rather than surfacing.
		p.log.Error("build job message", "job_id", item.id, "error", err)
		p.settleLocked(item, p.integ.Fallback(item.req), true, outcomeFallback)
		return
	}

	job := &activeJob[Req, Res]{item: item, started: time.Now()}
	job.handler = &worker.Handler{
		OnMessage: func(env proto.Envelope) { p.onJobMessage(s.index, item.id, env) },
		OnError:   func(err error) { p.onTransportError(s.index, item.id, err) },
	}
	s.job = job
	s.mux.Attach(job.handler)

	if err := s.w.Send(env); err != nil {
		p.log.Warn("job send failed", "worker_id", s.index, "job_id", item.id, "error", err)
		job.settled = true
		s.mux.Detach(job.handler)
		s.job = nil
		s.healthy = false
		p.settleLocked(item, p.integ.Fallback(item.req), true, outcomeFallback)
		go p.Recover(s.index)
		return
	}

	job.timer = time.AfterFunc(p.opts.OpTimeout, func() {
		p.onJobTimeout(s.index, item.id)
	})
}

// onJobMessage handles a worker response correlated to the active job.
func (p *Pool[Req, Res]) onJobMessage(slotIdx int, jobID string, env proto.Envelope) {
	if env.ID != jobID {
		return
	}

	if env.Type == p.opts.Handshake.Error {
		p.log.Warn("worker reported job error", "worker_id", slotIdx, "job_id", jobID, "error", proto.DecodeError(env))
		p.finishJob(slotIdx, jobID, nil, outcomeFallback)
		return
	}

	res, err := p.integ.ParseResult(env)
	if err != nil {
		p.log.Warn("unparseable job result", "worker_id", slotIdx, "job_id", jobID, "error", err)
		p.finishJob(slotIdx, jobID, nil, outcomeFallback)
		return
	}
	p.finishJob(slotIdx, jobID, &res, outcomeCompleted)
}

// onTransportError settles the active job with fallback and replaces the
// worker: a broken transport is not trusted to carry further jobs.
func (p *Pool[Req, Res]) onTransportError(slotIdx int, jobID string, err error) {
	p.log.Warn("worker transport error", "worker_id", slotIdx, "job_id", jobID, "error", err)
	p.finishJob(slotIdx, jobID, nil, outcomeFallback)

	p.mu.Lock()
	p.slots[slotIdx].healthy = false
	p.mu.Unlock()
	go p.Recover(slotIdx)
}

func (p *Pool[Req, Res]) onJobTimeout(slotIdx int, jobID string) {
	p.finishJob(slotIdx, jobID, nil, outcomeFallback)
}

// finishJob settles the slot's active job exactly once and keeps the queue
// draining. A nil result means the fallback value is substituted. Success,
// worker error, transport error and timeout all converge here.
func (p *Pool[Req, Res]) finishJob(slotIdx int, jobID string, res *Res, outcome string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.slots[slotIdx]
	job := s.job
	if job == nil || job.item.id != jobID || job.settled {
		return
	}
	job.settled = true
	if job.timer != nil {
		job.timer.Stop()
	}
	s.mux.Detach(job.handler)
	s.job = nil

	val := func() Res {
		if res != nil {
			return *res
		}
		return p.integ.Fallback(job.item.req)
	}()
	p.settleLocked(job.item, val, res == nil, outcome)

	p.drainLocked()
}

// settleLocked resolves an item's outcome, removes its dedup entry, and
// records metrics and the optional history hook.
func (p *Pool[Req, Res]) settleLocked(item *queueItem[Req, Res], val Res, fallback bool, outcome string) {
	// Only remove the dedup entry this item owns. If the entry was pruned
	// and a resubmission installed a fresh one, that one must survive the
	// old item's settle.
	if e, ok := p.pending[item.hash]; ok && e.out == item.out {
		delete(p.pending, item.hash)
	}
	item.out.settle(val, fallback)

	now := time.Now()
	jobsTotal.WithLabelValues(outcome).Inc()
	jobDuration.Observe(now.Sub(item.submittedAt).Seconds())

	if p.opts.OnSettle != nil {
		rec := Record{
			JobID:       item.id,
			Hash:        item.hash,
			Priority:    item.priority,
			Outcome:     outcome,
			Duration:    now.Sub(item.submittedAt),
			SubmittedAt: item.submittedAt,
			SettledAt:   now,
		}
		go p.opts.OnSettle(rec)
	}
}

// drainLocked dispatches queued items into idle slots until one side is empty.
func (p *Pool[Req, Res]) drainLocked() {
	for p.queue.Len() > 0 {
		s := p.idleSlotLocked()
		if s == nil {
			break
		}
		item := heap.Pop(&p.queue).(*queueItem[Req, Res])
		p.dispatchLocked(s, item)
	}
	queueDepth.Set(float64(p.queue.Len()))
}

// startWorker constructs, handshakes and installs a worker for slot idx.
func (p *Pool[Req, Res]) startWorker(idx int) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.HandshakeTimeout)
	defer cancel()

	w, err := p.integ.NewWorker(ctx)
	if err != nil {
		return err
	}
	mux, err := worker.PerformHandshake(ctx, w, p.opts.Handshake, p.opts.InitPayload, p.opts.HandshakeTimeout)
	if err != nil {
		w.Terminate()
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		mux.Stop()
		w.Terminate()
		return ErrPoolClosed
	}
	s := p.slots[idx]
	s.w = w
	s.mux = mux
	s.ready = true
	s.healthy = true
	p.updateReadyGaugeLocked()
	p.mu.Unlock()

	p.log.Info("worker ready", "worker_id", idx)
	return nil
}

// Recover replaces the worker in slot idx: terminate, reconstruct via the
// factory, re-handshake, resume draining. Guarded by the per-slot recovery
// lock — a concurrent trigger awaits the in-flight operation and observes
// its result instead of constructing a second replacement.
func (p *Pool[Req, Res]) Recover(idx int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	s := p.slots[idx]
	if s.recovery != nil {
		r := s.recovery
		p.mu.Unlock()
		<-r.done
		return r.err
	}

	r := &recoveryState{done: make(chan struct{})}
	s.recovery = r
	s.ready = false
	s.healthy = false
	p.updateReadyGaugeLocked()

	// The active job, if any, is settled with its fallback; a replacement
	// worker starts fresh and cannot resume it.
	if job := s.job; job != nil && !job.settled {
		job.settled = true
		if job.timer != nil {
			job.timer.Stop()
		}
		s.job = nil
		p.settleLocked(job.item, p.integ.Fallback(job.item.req), true, outcomeFallback)
	}

	oldW, oldMux := s.w, s.mux
	s.w, s.mux = nil, nil
	p.mu.Unlock()

	recoveriesTotal.Inc()
	if oldMux != nil {
		oldMux.Stop()
	}
	if oldW != nil {
		oldW.Terminate()
	}

	err := p.startWorker(idx)
	if err != nil {
		p.log.Warn("worker recovery failed", "worker_id", idx, "error", err)
	}

	p.mu.Lock()
	s.recovery = nil
	if err == nil {
		// Jobs queued while the slot was held by the recovery lock are
		// only dispatchable once it clears.
		p.drainLocked()
	}
	p.mu.Unlock()

	r.err = err
	close(r.done)

	if err == nil && p.opts.AfterRecover != nil {
		p.opts.AfterRecover(idx)
	}
	return err
}

// healthLoop probes every slot on a fixed interval and prunes stale dedup
// entries as a defensive leak guard.
func (p *Pool[Req, Res]) healthLoop() {
	defer close(p.healthDone)

	ticker := time.NewTicker(p.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.healthTick()
		case <-p.stopHealth:
			return
		}
	}
}

func (p *Pool[Req, Res]) healthTick() {
	p.prunePending()

	var wg sync.WaitGroup
	for i := range p.slots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.probeSlot(i)
		}()
	}
	wg.Wait()
}

// probeSlot health-checks one slot under its own short timeout. Probes are
// correlated by probe id, so job traffic on a busy worker is unaffected.
func (p *Pool[Req, Res]) probeSlot(idx int) {
	p.mu.Lock()
	s := p.slots[idx]
	if p.closed || s.recovery != nil {
		p.mu.Unlock()
		return
	}
	if !s.ready || !s.healthy || s.w == nil {
		// Slot is still down from a failed init or recovery; retry now.
		p.mu.Unlock()
		_ = p.Recover(idx)
		return
	}
	w, mux := s.w, s.mux
	p.mu.Unlock()

	probeID := model.NewID()
	respCh := make(chan bool, 1)
	h := &worker.Handler{
		OnMessage: func(env proto.Envelope) {
			if env.Type != p.opts.Handshake.HealthResponse || env.ID != probeID {
				return
			}
			var hp proto.HealthPayload
			if err := json.Unmarshal(env.Payload, &hp); err != nil {
				return
			}
			select {
			case respCh <- hp.Healthy:
			default:
			}
		},
	}
	mux.Attach(h)
	defer mux.Detach(h)

	healthy := false
	if err := w.Send(proto.Envelope{Type: p.opts.Handshake.HealthCheck, ID: probeID}); err == nil {
		healthy, _ = worker.Await(context.Background(), respCh, p.opts.HealthTimeout, "health check")
	}

	if healthy {
		p.mu.Lock()
		s.healthy = true
		p.updateReadyGaugeLocked()
		p.mu.Unlock()
		return
	}

	healthFailuresTotal.Inc()
	p.log.Warn("health check failed", "worker_id", idx)
	p.mu.Lock()
	s.healthy = false
	p.updateReadyGaugeLocked()
	p.mu.Unlock()
	_ = p.Recover(idx)
}

// prunePending drops dedup entries older than the operation timeout. Their
// outcomes have long since settled (or never will); keeping them would pin
// every future submission with the same hash to a dead outcome.
func (p *Pool[Req, Res]) prunePending() {
	p.mu.Lock()
	defer p.mu.Unlock()
	cutoff := time.Now().Add(-p.opts.OpTimeout)
	for hash, e := range p.pending {
		if e.at.Before(cutoff) {
			delete(p.pending, hash)
		}
	}
}

// Shutdown stops accepting submissions, settles every queued and active item
// with its fallback value, and terminates every worker. Idempotent.
func (p *Pool[Req, Res]) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for p.queue.Len() > 0 {
		item := heap.Pop(&p.queue).(*queueItem[Req, Res])
		p.settleLocked(item, p.integ.Fallback(item.req), true, outcomeShutdown)
	}
	queueDepth.Set(0)

	type teardown struct {
		w   worker.Worker
		mux *worker.Mux
	}
	var downs []teardown
	for _, s := range p.slots {
		if job := s.job; job != nil && !job.settled {
			job.settled = true
			if job.timer != nil {
				job.timer.Stop()
			}
			s.job = nil
			p.settleLocked(job.item, p.integ.Fallback(job.item.req), true, outcomeShutdown)
		}
		if s.w != nil {
			downs = append(downs, teardown{w: s.w, mux: s.mux})
		}
		s.w, s.mux = nil, nil
		s.ready, s.healthy = false, false
	}
	p.pending = make(map[string]*pendingEntry[Res])
	p.updateReadyGaugeLocked()
	p.mu.Unlock()

	close(p.stopHealth)
	<-p.healthDone

	for _, d := range downs {
		d.mux.Stop()
		d.w.Terminate()
	}
	p.log.Info("pool shut down")
}

func (p *Pool[Req, Res]) updateReadyGaugeLocked() {
	n := 0
	for _, s := range p.slots {
		if s.ready && s.healthy {
			n++
		}
	}
	readyWorkers.Set(float64(n))
}

// WorkerState is a point-in-time snapshot of one slot, for observability.
type WorkerState struct {
	Index      int  `json:"index"`
	Ready      bool `json:"ready"`
	Healthy    bool `json:"healthy"`
	Busy       bool `json:"busy"`
	Recovering bool `json:"recovering"`
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Size       int           `json:"size"`
	Ready      int           `json:"ready"`
	QueueDepth int           `json:"queue_depth"`
	Pending    int           `json:"pending"`
	Closed     bool          `json:"closed"`
	Workers    []WorkerState `json:"workers"`
}

// Snapshot reports current pool state.
func (p *Pool[Req, Res]) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{
		Size:       len(p.slots),
		QueueDepth: p.queue.Len(),
		Pending:    len(p.pending),
		Closed:     p.closed,
		Workers:    make([]WorkerState, len(p.slots)),
	}
	for i, s := range p.slots {
		if s.ready && s.healthy {
			st.Ready++
		}
		st.Workers[i] = WorkerState{
			Index:      s.index,
			Ready:      s.ready,
			Healthy:    s.healthy,
			Busy:       s.job != nil || s.reserved,
			Recovering: s.recovery != nil,
		}
	}
	return st
}
