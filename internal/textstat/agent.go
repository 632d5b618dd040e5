package textstat

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/seantiz/forge/internal/proto"
)

// Serve is the in-process textstat worker body, usable directly with
// worker.NewInProc.
func Serve(ctx context.Context, in <-chan proto.Envelope, out chan<- proto.Envelope) {
	send := func(env proto.Envelope) {
		select {
		case out <- env:
		case <-ctx.Done():
		}
	}
	serveLoop(ctx, in, send)
}

// RunAgent runs the textstat worker protocol over r and w, framing messages
// the way Proc workers expect on stdio. It returns when r reaches EOF or ctx
// is cancelled. This is the whole of the forge-worker subprocess.
func RunAgent(ctx context.Context, r io.Reader, w io.Writer) error {
	in := make(chan proto.Envelope)
	readErr := make(chan error, 1)

	go func() {
		defer close(in)
		for {
			var env proto.Envelope
			if err := proto.ReadFrame(r, &env); err != nil {
				if errors.Is(err, io.EOF) {
					readErr <- nil
				} else {
					readErr <- err
				}
				return
			}
			select {
			case in <- env:
			case <-ctx.Done():
				return
			}
		}
	}()

	send := func(env proto.Envelope) {
		_ = proto.WriteFrame(w, env)
	}
	serveLoop(ctx, in, send)

	select {
	case err := <-readErr:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serveLoop announces readiness and dispatches incoming messages until the
// inbox closes or ctx is cancelled.
func serveLoop(ctx context.Context, in <-chan proto.Envelope, send func(proto.Envelope)) {
	send(proto.Envelope{Type: TagReady})

	for {
		select {
		case env, ok := <-in:
			if !ok {
				return
			}
			if !handle(ctx, in, send, env) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func handle(ctx context.Context, in <-chan proto.Envelope, send func(proto.Envelope), env proto.Envelope) bool {
	switch env.Type {
	case TagInit:
		send(proto.Envelope{Type: TagInitOK, ID: env.ID})

	case TagHealthCheck:
		payload, _ := json.Marshal(proto.HealthPayload{Healthy: true})
		send(proto.Envelope{Type: TagHealthOK, ID: env.ID, Payload: payload})

	case TagJob:
		var p jobPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			sendError(send, env.ID, "malformed job payload")
			return true
		}
		payload, _ := json.Marshal(Compute(p.Text))
		send(proto.Envelope{Type: TagResult, ID: env.ID, Payload: payload})

	case TagBatch:
		var p batchPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			sendError(send, env.ID, "malformed batch payload")
			return true
		}
		stats := make([]Stats, len(p.Texts))
		for i, text := range p.Texts {
			stats[i] = Compute(text)
		}
		payload, _ := json.Marshal(batchResultPayload{Stats: stats})
		send(proto.Envelope{Type: TagBatchResult, ID: env.ID, Payload: payload})

	case TagStart:
		var p startPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			sendError(send, env.ID, "malformed start payload")
			return true
		}
		return streamText(ctx, in, send, env.ID, p.Text)

	case TagCancel:
		// Cancel with no stream in flight: acknowledge so the canceller
		// never waits out its timeout.
		send(proto.Envelope{Type: TagCancelAck, ID: env.ID})
	}
	return true
}

func sendError(send func(proto.Envelope), id, msg string) {
	payload, _ := json.Marshal(proto.ErrorPayload{Message: msg})
	send(proto.Envelope{Type: TagError, ID: id, Payload: payload})
}

// streamText emits one chunk of statistics per segment, polling the inbox
// between segments so a cancel interrupts the stream promptly. Returns false
// when the inbox has closed and the worker should exit.
func streamText(ctx context.Context, in <-chan proto.Envelope, send func(proto.Envelope), id, text string) bool {
	for i, seg := range segments(text) {
		select {
		case next, ok := <-in:
			if !ok {
				return false
			}
			if next.Type == TagCancel && next.ID == id {
				send(proto.Envelope{Type: TagCancelAck, ID: id})
				return true
			}
			if next.Type == TagHealthCheck {
				payload, _ := json.Marshal(proto.HealthPayload{Healthy: true})
				send(proto.Envelope{Type: TagHealthOK, ID: next.ID, Payload: payload})
			}
		case <-ctx.Done():
			return false
		default:
		}

		st := Compute(seg)
		payload, _ := json.Marshal(Segment{
			Index: i,
			Lines: st.Lines,
			Words: st.Words,
			Bytes: st.Bytes,
		})
		send(proto.Envelope{Type: TagChunk, ID: id, Payload: payload})
	}

	// Totals are computed over the whole text so lines spanning a segment
	// boundary are not double counted.
	payload, _ := json.Marshal(completePayload{Stats: Compute(text)})
	send(proto.Envelope{Type: TagComplete, ID: id, Payload: payload})
	return true
}
