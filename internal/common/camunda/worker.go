// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	"pet-health-workers/internal/common/config"
	"pet-health-workers/internal/common/metrics"
	"pet-health-workers/internal/common/observability"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// JobHandler is implemented by every worker's Handler.
type JobHandler interface {
	Handle(client worker.JobClient, job entities.Job)
}

// Instrument wraps handler with the active-jobs gauge, the duration histogram
// and a span per job.
func Instrument(taskType string, obs *observability.Observability, handler worker.JobHandler) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		defer metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()

		ctx := context.Background()
		if obs != nil {
			var span trace.Span
			ctx, span = startJobSpan(ctx, obs, taskType, job)
			defer span.End()
		}

		handler(client, job)

		elapsed := time.Since(start)
		metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(elapsed.Seconds())
		if obs != nil {
			obs.RecordJobProcessed(ctx, taskType, "handled")
			obs.RecordJobDuration(ctx, taskType, elapsed)
		}
	}
}

func startJobSpan(ctx context.Context, obs *observability.Observability, taskType string, job entities.Job) (context.Context, trace.Span) {
	return obs.StartSpan(ctx, taskType,
		attribute.String("job.type", taskType),
		attribute.Int64("job.key", job.Key),
		attribute.Int64("process.instance_key", job.ProcessInstanceKey),
		attribute.Int("job.retries", int(job.Retries)),
	)
}

// StartWorker opens a job worker for taskType using the per-worker settings.
func StartWorker(
	client zbc.Client,
	taskType string,
	cfg config.WorkerConfig,
	handler JobHandler,
	obs *observability.Observability,
	log *zap.Logger,
) worker.JobWorker {
	maxJobs := cfg.MaxJobsActive
	if maxJobs <= 0 {
		maxJobs = 5
	}
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	jobWorker := client.NewJobWorker().
		JobType(taskType).
		Handler(Instrument(taskType, obs, handler.Handle)).
		MaxJobsActive(maxJobs).
		Timeout(timeout).
		Open()

	log.Info("worker started",
		zap.String("taskType", taskType),
		zap.Int("maxJobsActive", maxJobs),
		zap.Duration("timeout", timeout),
	)
	return jobWorker
}
