// internal/workers/pet-health/generate-assessment/handler.go
package generateassessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pet-health-workers/internal/common/credentials"
	apperrors "pet-health-workers/internal/common/errors"
	"pet-health-workers/internal/common/genai"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "generate-assessment"
)

var (
	ErrEmptyPrompt = errors.New("EMPTY_PROMPT")
)

type Handler struct {
	config       *Config
	dispatcher   *Dispatcher
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, generator genai.Generator, rotator credentials.Rotator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		dispatcher:   NewDispatcher(generator, rotator, config.Retry, config.Provider, log),
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(ctx, client, job, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.failJob(ctx, client, job, apperrors.NewInvalidInputError(err.Error()))
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrEmptyPrompt)
	}

	lang := input.Language
	if lang == "" {
		lang = h.config.DefaultLanguage
	}

	req := genai.Request{Prompt: input.Prompt}
	if input.Media != nil && input.Media.URI != "" {
		req.Media = &genai.FileRef{URI: input.Media.URI, MimeType: input.Media.MimeType}
	}

	result := h.dispatcher.DispatchRequest(ctx, req, SentinelsFor(lang))

	h.logger.Info("assessment generated", map[string]interface{}{
		"outcome":         result.Outcome,
		"attempts":        result.Attempts,
		"rotations":       result.Rotations,
		"credentialIndex": result.CredentialIndex,
	})

	return &Output{
		AssessmentText:  result.Text,
		Outcome:         result.Outcome,
		Attempts:        result.Attempts,
		Rotations:       result.Rotations,
		CredentialIndex: result.CredentialIndex,
	}, nil
}

// Completion uses a fresh context so a dispatch that ran to the deadline can still report.
func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(context.Background()); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey":  job.Key,
		"outcome": output.Outcome,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, stdErr *apperrors.StandardError) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}

// Dispatcher exposes the handler's dispatcher for callers outside Zeebe.
func (h *Handler) Dispatcher() *Dispatcher {
	return h.dispatcher
}
