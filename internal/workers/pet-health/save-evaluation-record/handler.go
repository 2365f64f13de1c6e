// internal/workers/pet-health/save-evaluation-record/handler.go
package saveevaluationrecord

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	apperrors "pet-health-workers/internal/common/errors"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/common/metrics"
	"pet-health-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const (
	TaskType = "save-evaluation-record"
)

var (
	ErrDatabaseInsertFailed = errors.New("DATABASE_INSERT_FAILED")
	ErrMissingReply         = errors.New("MISSING_REPLY")
)

// Indexer writes a searchable copy of the record. *database.ElasticsearchClient satisfies it.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, doc interface{}) error
}

type Handler struct {
	config       *Config
	db           *sql.DB
	indexer      Indexer
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
	now          func() time.Time
}

// NewHandler builds the handler. indexer may be nil when search indexing is disabled.
func NewHandler(config *Config, db *sql.DB, indexer Indexer, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		db:           db,
		indexer:      indexer,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
		now:          func() time.Time { return time.Now().UTC() },
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
	if input.EvaluationID == "" {
		// Retries of the same process instance must land on the same row.
		input.EvaluationID = EvaluationIDFor(job.ProcessInstanceKey)
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		switch {
		case errors.Is(err, ErrDatabaseInsertFailed):
			h.failJob(ctx, client, job, apperrors.NewDatabaseInsertFailedError(err).
				WithMetadata("evaluationId", input.EvaluationID))
		default:
			h.failJob(ctx, client, job, apperrors.NewInvalidInputError(err.Error()))
		}
		return
	}

	h.completeJob(client, job, output)
}

// EvaluationIDFor derives a stable record id from a process instance key.
func EvaluationIDFor(processInstanceKey int64) string {
	if processInstanceKey == 0 {
		return uuid.New().String()
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("pet-evaluation:"+strconv.FormatInt(processInstanceKey, 10))).String()
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.AssessmentText == "" {
		return nil, fmt.Errorf("%w: assessmentText is required", ErrMissingReply)
	}

	id := input.EvaluationID
	if id == "" {
		id = uuid.New().String()
	} else if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid evaluationId %q: %v", id, err)
	}

	record := models.EvaluationRecord{
		ID:        id,
		CreatedAt: h.now(),
		Language:  input.Answers.Lang(),
		Species:   input.Answers.Species,
		Owner:     input.Owner,
		Answers:   input.Answers,
		Prompt:    input.Prompt,
		Reply:     input.AssessmentText,
		Outcome:   input.Outcome,
	}
	if input.Media != nil {
		record.MediaURI = input.Media.URI
	} else if input.Answers.Media != nil {
		record.MediaURI = input.Answers.Media.URI
	}

	answersJSON, err := json.Marshal(record.Answers)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal answers: %v", ErrDatabaseInsertFailed, err)
	}

	// A retried job lands on the existing row; RETURNING yields the timestamp
	// stored by the first attempt so the output and search document match it.
	var createdAt time.Time
	err = h.db.QueryRowContext(ctx, `
		INSERT INTO pet_evaluations (
			id, created_at, language, species,
			owner_name, owner_email, owner_phone,
			answers, media_uri, prompt, reply, outcome
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING created_at`,
		record.ID,
		record.CreatedAt,
		record.Language,
		record.Species,
		nullString(record.Owner.Name),
		nullString(record.Owner.Email),
		nullString(record.Owner.Phone),
		answersJSON,
		nullString(record.MediaURI),
		record.Prompt,
		record.Reply,
		nullString(record.Outcome),
	).Scan(&createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: insert failed: %v", ErrDatabaseInsertFailed, err)
	}
	record.CreatedAt = createdAt.UTC()

	// Search indexing is non-critical.
	indexed := false
	if h.indexer != nil {
		if err := h.indexer.IndexDocument(ctx, h.config.SearchIndex, record.ID, record); err != nil {
			h.logger.Warn("search index write failed", map[string]interface{}{
				"error":        apperrors.NewSearchIndexFailedError(h.config.SearchIndex, err).Details,
				"evaluationId": record.ID,
			})
		} else {
			indexed = true
		}
	}

	h.logger.Info("evaluation record saved", map[string]interface{}{
		"evaluationId": record.ID,
		"species":      record.Species,
		"language":     record.Language,
		"indexed":      indexed,
	})

	return &Output{
		EvaluationID: record.ID,
		CreatedAt:    record.CreatedAt.Format(time.RFC3339),
		Indexed:      indexed,
	}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
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
		"jobKey":       job.Key,
		"evaluationId": output.EvaluationID,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, stdErr *apperrors.StandardError) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
