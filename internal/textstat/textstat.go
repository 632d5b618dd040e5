// Package textstat is the reference worker integration shipped with the
// engine: workers that compute line/word/byte statistics over text. It
// provides the message vocabulary, the pure computation, the pool and
// pipeline integrations, and the agent loop run by worker subprocesses.
package textstat

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/seantiz/forge/internal/proto"
	"github.com/seantiz/forge/internal/stream"
)

// Message types spoken by textstat workers.
const (
	TagReady       = "ready"
	TagInit        = "init"
	TagInitOK      = "init_ok"
	TagError       = "error"
	TagHealthCheck = "health_check"
	TagHealthOK    = "health_ok"

	TagJob         = "job"
	TagResult      = "result"
	TagBatch       = "batch"
	TagBatchResult = "batch_result"

	TagStart     = "start"
	TagChunk     = "chunk"
	TagComplete  = "complete"
	TagCancel    = "cancel"
	TagCancelAck = "cancel_ack"
)

// SegmentSize is the number of bytes covered by one streaming chunk.
const SegmentSize = 1024

// Handshake returns the lifecycle descriptor for textstat workers.
func Handshake() proto.Handshake {
	return proto.Handshake{
		Ready:          TagReady,
		InitRequest:    TagInit,
		InitResponse:   TagInitOK,
		Error:          TagError,
		HealthCheck:    TagHealthCheck,
		HealthResponse: TagHealthOK,
	}
}

// StreamTags returns the streaming message names for the pipeline.
func StreamTags() stream.Tags {
	return stream.Tags{
		Chunk:     TagChunk,
		Complete:  TagComplete,
		CancelAck: TagCancelAck,
	}
}

// Request is one unit of text to analyze.
type Request struct {
	Text string `json:"text"`
}

// Stats are the statistics for a body of text. Approx marks values produced
// by the estimation fallback rather than a worker.
type Stats struct {
	Lines  int    `json:"lines"`
	Words  int    `json:"words"`
	Bytes  int    `json:"bytes"`
	Digest string `json:"digest,omitempty"`
	Approx bool   `json:"approx,omitempty"`
}

// Segment is the per-segment statistics chunk emitted while streaming.
type Segment struct {
	Index int `json:"index"`
	Lines int `json:"lines"`
	Words int `json:"words"`
	Bytes int `json:"bytes"`
}

// Compute returns exact statistics for text.
func Compute(text string) Stats {
	return Stats{
		Lines:  countLines(text),
		Words:  len(strings.Fields(text)),
		Bytes:  len(text),
		Digest: digest(text),
	}
}

// Fallback returns a byte-length-derived estimate, used when a worker cannot
// produce the real value in time. English prose averages roughly six bytes
// per word and eighty per line.
func Fallback(req Request) Stats {
	n := len(req.Text)
	return Stats{
		Lines:  (n + 79) / 80,
		Words:  (n + 5) / 6,
		Bytes:  n,
		Approx: true,
	}
}

// HashRequest returns the content signature used for deduplication and
// supersession.
func HashRequest(req Request) string {
	return digest(req.Text)
}

func digest(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// segments splits text into SegmentSize pieces. The final piece may be short.
func segments(text string) []string {
	if text == "" {
		return nil
	}
	var parts []string
	for len(text) > SegmentSize {
		parts = append(parts, text[:SegmentSize])
		text = text[SegmentSize:]
	}
	return append(parts, text)
}
