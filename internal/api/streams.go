package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/forge/internal/stream"
	"github.com/seantiz/forge/internal/textstat"
)

// startStreamRequest is the JSON body for POST /v1/streams.
type startStreamRequest struct {
	Text string `json:"text"`
}

type startStreamResponse struct {
	ID string `json:"id"`
}

func (s *Server) handleStartStream(w http.ResponseWriter, r *http.Request) {
	var req startStreamRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Text == "" {
		s.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	// Callbacks can fire before Start returns the id, so they wait on the
	// gate until it is known.
	gate := make(chan struct{})
	var sid string

	cb := stream.Callbacks[textstat.Segment, textstat.Stats]{
		OnChunk: func(seg textstat.Segment) {
			<-gate
			payload, err := json.Marshal(seg)
			if err != nil {
				return
			}
			s.broker.Publish(sid, payload)
		},
		OnDone: func(total textstat.Stats) {
			<-gate
			payload, err := json.Marshal(map[string]any{"complete": true, "stats": total})
			if err == nil {
				s.broker.Publish(sid, payload)
			}
			s.broker.Close(sid)
		},
		OnError: func(err error) {
			<-gate
			s.logger.Warn("stream errored", "stream_id", sid, "error", err)
			payload, merr := json.Marshal(map[string]string{"error": err.Error()})
			if merr == nil {
				s.broker.Publish(sid, payload)
			}
			s.broker.Close(sid)
		},
	}

	sid = s.pipeline.Start(textstat.Request{Text: req.Text}, cb)
	close(gate)

	if sid == "" {
		s.writeError(w, http.StatusServiceUnavailable, "pipeline closed")
		return
	}
	s.writeJSON(w, http.StatusAccepted, startStreamResponse{ID: sid})
}

func (s *Server) handleSubscribeStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Disable write timeout for long-lived SSE connections.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Error("set write deadline for SSE", "error", err)
	}

	// Subscribing to a settled stream returns a closed channel, so late
	// subscribers get an immediate done event instead of hanging.
	ch, unsub := s.broker.Subscribe(id)
	defer unsub()

	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)
	if canFlush {
		flusher.Flush()
	}

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				// Stream settled; send explicit done event before closing.
				_ = writeSSEEvent(w, "done", "stream complete")
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if err := writeSSEData(w, chunk); err != nil {
				return // Write failed (e.g. client gone).
			}
			if canFlush {
				flusher.Flush()
			}
		case <-r.Context().Done():
			return // Client disconnected.
		}
	}
}

func (s *Server) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Cancel is a no-op unless id names the active stream. The subscriber
	// topic is torn down only when the stream was actually cancelled; a
	// queued stream keeps its topic so its chunks still reach subscribers
	// once it runs.
	cancelled := s.pipeline.Cancel(id)
	if cancelled {
		s.broker.Close(id)
	}

	status := "not_active"
	if cancelled {
		status = "cancelled"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": status})
}

// writeSSEData writes one chunk as an SSE data event. Marshaled JSON never
// contains raw newlines, so a single "data:" line suffices.
func writeSSEData(w http.ResponseWriter, chunk json.RawMessage) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", chunk)
	return err
}

// writeSSEEvent writes a named SSE event (event: <type>\ndata: <data>\n\n).
func writeSSEEvent(w http.ResponseWriter, eventType, data string) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}
