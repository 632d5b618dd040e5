// Package proto defines the message vocabulary shared by the discrete job
// pool and the streaming pipeline: the id-tagged envelope every worker
// message travels in, and the handshake descriptor naming the message types
// a worker uses to announce readiness, initialize, and report health.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrBatchUnsupported is returned by integrations whose workers have no
// batch protocol. The pool falls back to per-request submission.
var ErrBatchUnsupported = errors.New("batch protocol not supported")

// Envelope is the wire format for all engine↔worker messages. Correlation is
// by ID: responses carry the id of the request they answer, so multiple
// in-flight exchanges can share one unordered transport.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handshake names the message types a worker implementation uses for its
// lifecycle exchanges. Ready, InitRequest, InitResponse and Error are
// required; HealthCheck and HealthResponse are optional — a descriptor
// without them disables active health polling, and workers are treated as
// healthy until a runtime error occurs.
type Handshake struct {
	Ready        string
	InitRequest  string
	InitResponse string
	Error        string

	HealthCheck    string
	HealthResponse string
}

// SupportsHealth reports whether the optional health-check pair is present.
func (h Handshake) SupportsHealth() bool {
	return h.HealthCheck != "" && h.HealthResponse != ""
}

// Validate checks that all required message types are named.
func (h Handshake) Validate() error {
	for _, tag := range []struct {
		name, value string
	}{
		{"ready", h.Ready},
		{"init-request", h.InitRequest},
		{"init-response", h.InitResponse},
		{"error", h.Error},
	} {
		if tag.value == "" {
			return fmt.Errorf("handshake descriptor missing required %s type", tag.name)
		}
	}
	return nil
}

// ErrorPayload is the payload carried by a worker's error message.
type ErrorPayload struct {
	Message string `json:"message"`
}

// HealthPayload is the payload carried by a worker's health response.
type HealthPayload struct {
	Healthy bool `json:"healthy"`
}

// DecodeError extracts the error description from an error envelope.
// A payload that fails to decode still produces a usable error.
func DecodeError(env Envelope) error {
	var p ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Message == "" {
		return fmt.Errorf("worker error (id %s)", env.ID)
	}
	return fmt.Errorf("worker error: %s", p.Message)
}
