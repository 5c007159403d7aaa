package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{Name: "intake_jobs_submitted_total", Help: "Uploads admitted to the pipeline"})
	JobsRejected  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "intake_jobs_rejected_total", Help: "Uploads rejected at admission"}, []string{"reason"})
	StageStarted  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "intake_stage_started_total", Help: "Pipeline stages started"}, []string{"stage"})
	StageFinished = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "intake_stage_finished_total", Help: "Pipeline stages finished"}, []string{"stage", "outcome"})
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "intake_stage_duration_ms",
		Help:    "Per-stage wall clock in milliseconds",
		Buckets: []float64{1, 5, 25, 100, 500, 2000, 10000, 30000},
	}, []string{"stage"})
	JobsTerminal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "intake_jobs_terminal_total", Help: "Jobs reaching a terminal state"}, []string{"state"})
	ArtifactsWritten = prometheus.NewCounter(prometheus.CounterOpts{Name: "intake_artifacts_written_total", Help: "Artifacts persisted to the object store"})
	ArtifactBytes    = prometheus.NewCounter(prometheus.CounterOpts{Name: "intake_artifact_bytes_total", Help: "Ciphertext bytes written"})
	ArtifactsDeleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "intake_artifacts_deleted_total", Help: "Artifacts deleted with proof"})
	IntegrityFailure = prometheus.NewCounter(prometheus.CounterOpts{Name: "intake_integrity_failures_total", Help: "Ciphertext integrity verification failures"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "intake_queue_depth", Help: "Jobs waiting for a worker"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "intake_rate_limit_rejects_total", Help: "Uploads rejected by rate limiter"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsRejected,
			StageStarted,
			StageFinished,
			StageDuration,
			JobsTerminal,
			ArtifactsWritten,
			ArtifactBytes,
			ArtifactsDeleted,
			IntegrityFailure,
			QueueDepthGauge,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
