package textstat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seantiz/forge/internal/pool"
	"github.com/seantiz/forge/internal/proto"
	"github.com/seantiz/forge/internal/stream"
	"github.com/seantiz/forge/internal/worker"
)

// Wire payloads.

type jobPayload struct {
	Text string `json:"text"`
}

type batchPayload struct {
	Texts []string `json:"texts"`
}

type batchResultPayload struct {
	Stats []Stats `json:"stats"`
}

type startPayload struct {
	Text string `json:"text"`
}

type completePayload struct {
	Stats Stats `json:"stats"`
}

// JobIntegration binds textstat workers to the discrete job pool.
type JobIntegration struct {
	Factory worker.Factory
}

var _ pool.Integration[Request, Stats] = JobIntegration{}

func (ji JobIntegration) NewWorker(ctx context.Context) (worker.Worker, error) {
	return ji.Factory(ctx)
}

func (JobIntegration) JobMessage(id string, req Request) (proto.Envelope, error) {
	payload, err := json.Marshal(jobPayload{Text: req.Text})
	return proto.Envelope{Type: TagJob, ID: id, Payload: payload}, err
}

func (JobIntegration) BatchMessage(id string, reqs []Request) (proto.Envelope, error) {
	texts := make([]string, len(reqs))
	for i, r := range reqs {
		texts[i] = r.Text
	}
	payload, err := json.Marshal(batchPayload{Texts: texts})
	return proto.Envelope{Type: TagBatch, ID: id, Payload: payload}, err
}

func (JobIntegration) ParseResult(env proto.Envelope) (Stats, error) {
	var s Stats
	if err := json.Unmarshal(env.Payload, &s); err != nil {
		return Stats{}, fmt.Errorf("decode result: %w", err)
	}
	return s, nil
}

func (JobIntegration) ParseBatchResult(env proto.Envelope, n int) ([]Stats, error) {
	var p batchResultPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode batch result: %w", err)
	}
	if len(p.Stats) != n {
		return nil, fmt.Errorf("batch result has %d entries, want %d", len(p.Stats), n)
	}
	return p.Stats, nil
}

func (JobIntegration) Hash(req Request) string { return HashRequest(req) }

func (JobIntegration) Fallback(req Request) Stats { return Fallback(req) }

// StreamIntegration binds textstat workers to the streaming pipeline.
type StreamIntegration struct {
	Factory worker.Factory
}

var _ stream.Integration[Request, Segment, Stats] = StreamIntegration{}

func (si StreamIntegration) NewWorker(ctx context.Context) (worker.Worker, error) {
	return si.Factory(ctx)
}

func (StreamIntegration) StartMessage(id string, req Request) (proto.Envelope, error) {
	payload, err := json.Marshal(startPayload{Text: req.Text})
	return proto.Envelope{Type: TagStart, ID: id, Payload: payload}, err
}

func (StreamIntegration) CancelMessage(id string) proto.Envelope {
	return proto.Envelope{Type: TagCancel, ID: id}
}

func (StreamIntegration) ParseChunk(env proto.Envelope) (Segment, error) {
	var seg Segment
	if err := json.Unmarshal(env.Payload, &seg); err != nil {
		return Segment{}, fmt.Errorf("decode chunk: %w", err)
	}
	return seg, nil
}

func (StreamIntegration) ParseDone(env proto.Envelope) (Stats, error) {
	var p completePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return Stats{}, fmt.Errorf("decode completion: %w", err)
	}
	return p.Stats, nil
}

func (StreamIntegration) Hash(req Request) string { return HashRequest(req) }

// InProcFactory returns a factory producing in-process textstat workers.
func InProcFactory() worker.Factory {
	return func(_ context.Context) (worker.Worker, error) {
		return worker.NewInProc(Serve), nil
	}
}

// ProcFactory returns a factory launching bin as a textstat worker
// subprocess speaking frames over stdio.
func ProcFactory(bin string, args ...string) worker.Factory {
	return func(ctx context.Context) (worker.Worker, error) {
		return worker.StartProc(ctx, bin, args...)
	}
}
