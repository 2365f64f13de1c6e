// internal/workers/pet-health/build-health-prompt/handler.go
package buildhealthprompt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	apperrors "pet-health-workers/internal/common/errors"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/common/metrics"
	"pet-health-workers/internal/common/validation"
	"pet-health-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "build-health-prompt"
)

var (
	ErrInvalidAnswers = errors.New("PROMPT_VALIDATION_FAILED")
)

type Handler struct {
	config       *Config
	schema       *validation.Schema
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, log logger.Logger) (*Handler, error) {
	schema, err := validation.CompileSchema(models.AnswerSetSchema)
	if err != nil {
		return nil, fmt.Errorf("compile answer set schema: %w", err)
	}

	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		schema:       schema,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}, nil
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
		h.failJob(ctx, client, job, apperrors.NewPromptValidationFailedError(err.Error()))
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	answers := input.Answers
	if answers.Media == nil && input.Media != nil {
		answers.Media = input.Media
	}
	if strings.TrimSpace(answers.Language) == "" {
		answers.Language = h.config.DefaultLanguage
	}

	result, err := h.schema.Validate(answers)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswers, err)
	}
	if !result.Valid {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAnswers, strings.Join(result.GetErrorMessages(), "; "))
	}

	prompt := Build(answers)

	h.logger.Debug("prompt built", map[string]interface{}{
		"species":  answers.Species,
		"language": answers.Lang(),
		"length":   len(prompt),
	})

	return &Output{
		Prompt:   prompt,
		Species:  answers.Species,
		Language: answers.Lang(),
		HasMedia: answers.Media != nil && answers.Media.URI != "",
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey": job.Key,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, stdErr *apperrors.StandardError) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
