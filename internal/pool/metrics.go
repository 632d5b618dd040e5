package pool

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for job outcomes.
const (
	outcomeCompleted = "completed"
	outcomeFallback  = "fallback"
	outcomeEvicted   = "evicted"
	outcomeShutdown  = "shutdown"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_pool_jobs_total",
			Help: "Total number of jobs settled by the discrete pool.",
		},
		[]string{"outcome"},
	)

	dedupedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_pool_deduped_submissions_total",
			Help: "Submissions that attached to an already-pending outcome.",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_pool_queue_depth",
			Help: "Number of jobs currently queued awaiting dispatch.",
		},
	)

	readyWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_pool_ready_workers",
			Help: "Number of worker slots that are ready and healthy.",
		},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_pool_job_duration_seconds",
			Help:    "Time from job submission to settlement, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	recoveriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_pool_worker_recoveries_total",
			Help: "Total number of worker replacement operations started.",
		},
	)

	healthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_pool_health_check_failures_total",
			Help: "Health probes that timed out or reported unhealthy.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(dedupedTotal)
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(readyWorkers)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(recoveriesTotal)
	prometheus.MustRegister(healthFailuresTotal)

	// Pre-initialize outcome labels so they appear in /metrics with value 0
	// from startup, rather than only after first observation.
	for _, oc := range []string{outcomeCompleted, outcomeFallback, outcomeEvicted, outcomeShutdown} {
		jobsTotal.WithLabelValues(oc)
	}
}
