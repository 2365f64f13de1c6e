// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	WorkerJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_jobs_active",
			Help: "Number of active jobs per worker",
		},
		[]string{"task_type"},
	)

	GenerationAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pet_generation_attempts_total",
			Help: "Generation requests issued, by provider and result",
		},
		[]string{"provider", "result"},
	)

	CredentialRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pet_credential_rotations_total",
			Help: "Number of times the credential cursor was advanced",
		},
	)

	GenerationOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pet_generation_outcomes_total",
			Help: "Dispatch outcomes: reply, no_response or processing_error",
		},
		[]string{"outcome"},
	)

	MediaUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pet_media_uploads_total",
			Help: "Media uploads by final status",
		},
		[]string{"status"},
	)
)
