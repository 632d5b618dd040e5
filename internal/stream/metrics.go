package stream

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	streamCompleted = "completed"
	streamCancelled = "cancelled"
	streamFailed    = "failed"
)

var (
	streamsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_stream_streams_total",
			Help: "Streaming operations settled, by outcome.",
		},
		[]string{"outcome"},
	)

	supersededTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_stream_superseded_total",
			Help: "Queued streaming requests replaced by a newer request with the same signature.",
		},
	)

	chunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_stream_chunks_total",
			Help: "Chunks delivered across all streams.",
		},
	)

	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_stream_active",
			Help: "Whether a stream is currently active (0 or 1).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		streamsTotal,
		supersededTotal,
		chunksTotal,
		activeStreams,
	)

	for _, outcome := range []string{streamCompleted, streamCancelled, streamFailed} {
		streamsTotal.WithLabelValues(outcome)
	}
}
