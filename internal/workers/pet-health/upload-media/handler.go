// internal/workers/pet-health/upload-media/handler.go
package uploadmedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pet-health-workers/internal/common/credentials"
	apperrors "pet-health-workers/internal/common/errors"
	"pet-health-workers/internal/common/genai"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/common/metrics"
	"pet-health-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "upload-media"
)

var (
	ErrMediaNotFound = errors.New("MEDIA_NOT_FOUND")
)

// FileService is the part of the hosted file client the worker needs.
type FileService interface {
	Upload(ctx context.Context, apiKey, path, mimeType, displayName string) (*genai.File, error)
	WaitForActive(ctx context.Context, apiKey string, file *genai.File, policy genai.PollPolicy) (*genai.File, error)
}

type Handler struct {
	config       *Config
	files        FileService
	rotator      credentials.Rotator
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, files FileService, rotator credentials.Rotator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		files:        files,
		rotator:      rotator,
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
		stdErr := apperrors.Normalize(err)
		if apperrors.RemainingRetries(stdErr, job.Retries) > 0 {
			h.failJob(ctx, client, job, stdErr)
			return
		}
		// Out of retries: continue the evaluation without media.
		output = h.degrade(models.MediaStatusFailed, err)
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.MediaPath) == "" {
		return &Output{MediaStatus: models.MediaStatusNone}, nil
	}

	mimeType := input.MimeType
	if mimeType == "" {
		mimeType = extensionTypes[strings.ToLower(filepath.Ext(input.MediaPath))]
	}
	if !h.allowed(mimeType) {
		return h.degrade(models.MediaStatusRejected, apperrors.NewUnsupportedMediaTypeError(mimeType)), nil
	}

	if _, err := os.Stat(input.MediaPath); err != nil {
		return h.degrade(models.MediaStatusFailed, fmt.Errorf("%w: %v", ErrMediaNotFound, err)), nil
	}

	displayName := input.DisplayName
	if displayName == "" {
		displayName = filepath.Base(input.MediaPath)
	}

	_, apiKey, err := h.rotator.Current(ctx)
	if err != nil {
		return nil, apperrors.NewCredentialStoreFailedError(err)
	}

	uploaded, err := h.files.Upload(ctx, apiKey, input.MediaPath, mimeType, displayName)
	if err != nil {
		return nil, apperrors.NewMediaUploadFailedError(err)
	}

	h.logger.Info("media uploaded", map[string]interface{}{
		"file":  uploaded.Name,
		"state": uploaded.State,
	})

	active, err := h.files.WaitForActive(ctx, apiKey, uploaded, h.config.Poll)
	last := uploaded
	if active != nil {
		last = active
	}
	switch {
	case err == nil:
	case errors.Is(err, genai.ErrMediaTimeout):
		return h.degrade(models.MediaStatusTimeout,
			apperrors.NewMediaTimeoutError(last.Name, h.config.Poll.MaxPolls).WithMetadata("cause", err.Error())), nil
	case errors.Is(err, genai.ErrMediaProcessingFailed):
		state := last.State
		if state == "" || state == genai.FileStateProcessing {
			state = genai.FileStateFailed
		}
		return h.degrade(models.MediaStatusFailed,
			apperrors.NewMediaProcessingFailedError(last.Name, state).WithMetadata("cause", err.Error())), nil
	default:
		return nil, apperrors.NewMediaUploadFailedError(err)
	}

	metrics.MediaUploads.WithLabelValues(models.MediaStatusAttached).Inc()
	return &Output{
		MediaStatus: models.MediaStatusAttached,
		Media: &models.Media{
			DisplayName: displayName,
			URI:         active.URI,
			MimeType:    active.MimeType,
		},
	}, nil
}

func (h *Handler) allowed(mimeType string) bool {
	if mimeType == "" {
		return false
	}
	for _, t := range h.config.AllowedTypes {
		if strings.EqualFold(t, mimeType) {
			return true
		}
	}
	return false
}

func (h *Handler) degrade(status string, err error) *Output {
	reason := err.Error()
	if stdErr, ok := apperrors.AsStandardError(err); ok {
		reason = fmt.Sprintf("%s: %s", stdErr.Code, stdErr.Details)
	}
	metrics.MediaUploads.WithLabelValues(status).Inc()
	h.logger.Warn("continuing without media", map[string]interface{}{
		"mediaStatus": status,
		"error":       reason,
	})
	return &Output{MediaStatus: status, MediaError: reason}
}

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
		"jobKey":      job.Key,
		"mediaStatus": output.MediaStatus,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, stdErr *apperrors.StandardError) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
