// internal/workers/pet-health/notify-owner/handler.go
package notifyowner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "pet-health-workers/internal/common/errors"
	"pet-health-workers/internal/common/logger"
	"pet-health-workers/internal/common/metrics"
	"pet-health-workers/internal/common/validation"
	"pet-health-workers/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
)

const (
	TaskType = "notify-owner"
)

var (
	ErrInvalidContact = errors.New("INVALID_CONTACT")
)

// EmailSender is satisfied by *aws.SESClient.
type EmailSender interface {
	SendText(ctx context.Context, from, to, subject, body string) (string, error)
}

// SMSSender is satisfied by *aws.SNSClient.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, message, senderID string) (string, error)
}

type Handler struct {
	config       *Config
	email        EmailSender
	sms          SMSSender
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

// NewHandler builds the handler. A nil sender disables its channel.
func NewHandler(config *Config, email EmailSender, sms SMSSender, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		email:        email,
		sms:          sms,
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
		if errors.Is(err, ErrInvalidContact) {
			h.failJob(ctx, client, job, apperrors.NewInvalidContactError(err.Error()))
		} else {
			h.failJob(ctx, client, job, apperrors.NewInvalidInputError(err.Error()))
		}
		return
	}

	h.completeJob(client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.AssessmentText) == "" {
		return nil, fmt.Errorf("assessmentText is required")
	}

	owner := input.Owner
	owner.Email = strings.TrimSpace(owner.Email)
	owner.Phone = strings.TrimSpace(owner.Phone)
	if owner.Email != "" && !validation.ValidateEmail(owner.Email) {
		return nil, fmt.Errorf("%w: email %q", ErrInvalidContact, owner.Email)
	}
	if owner.Phone != "" && !validation.ValidatePhone(owner.Phone) {
		return nil, fmt.Errorf("%w: phone %q", ErrInvalidContact, owner.Phone)
	}

	msg := messages[models.AnswerSet{Language: input.Language}.Lang()]

	emailResult := h.sendEmail(ctx, input, owner, msg)
	smsResult := h.sendSMS(ctx, input, owner, msg)

	output := &Output{
		NotificationStatus: overallStatus(emailResult.Status, smsResult.Status),
		Notifications:      []models.Notification{emailResult, smsResult},
	}

	h.logger.Info("owner notified", map[string]interface{}{
		"evaluationId": input.EvaluationID,
		"email":        emailResult.Status,
		"sms":          smsResult.Status,
	})
	return output, nil
}

func (h *Handler) sendEmail(ctx context.Context, input *Input, owner models.OwnerContact, msg message) models.Notification {
	n := newNotification(input.EvaluationID, ChannelEmail, owner.Email)
	switch {
	case !h.config.EmailEnabled || h.email == nil:
		n.Status = StatusDisabled
		return n
	case owner.Email == "":
		n.Status = StatusSkipped
		return n
	}

	body := renderEmail(msg, owner.Name, input.Species, input.AssessmentText)
	messageID, err := h.email.SendText(ctx, h.config.FromEmail, owner.Email, msg.subject, body)
	if err != nil {
		h.logger.Error("email send failed", map[string]interface{}{
			"error":        apperrors.NewNotificationSendFailedError(ChannelEmail, err).Details,
			"evaluationId": input.EvaluationID,
		})
		n.Status = StatusFailed
		return n
	}

	n.Status = StatusSent
	n.SentAt = time.Now().UTC().Format(time.RFC3339)
	n.Payload = map[string]interface{}{"messageId": messageID, "subject": msg.subject}
	return n
}

func (h *Handler) sendSMS(ctx context.Context, input *Input, owner models.OwnerContact, msg message) models.Notification {
	n := newNotification(input.EvaluationID, ChannelSMS, owner.Phone)
	switch {
	case !h.config.SMSEnabled || h.sms == nil:
		n.Status = StatusDisabled
		return n
	case owner.Phone == "":
		n.Status = StatusSkipped
		return n
	}

	text := truncate(msg.sms+strings.TrimSpace(input.AssessmentText), maxSMSLength)
	messageID, err := h.sms.SendSMS(ctx, owner.Phone, text, h.config.SenderID)
	if err != nil {
		h.logger.Error("SMS send failed", map[string]interface{}{
			"error":        apperrors.NewNotificationSendFailedError(ChannelSMS, err).Details,
			"evaluationId": input.EvaluationID,
		})
		n.Status = StatusFailed
		return n
	}

	n.Status = StatusSent
	n.SentAt = time.Now().UTC().Format(time.RFC3339)
	n.Payload = map[string]interface{}{"messageId": messageID}
	return n
}

func newNotification(evaluationID, channel, recipient string) models.Notification {
	return models.Notification{
		ID:           uuid.New().String(),
		EvaluationID: evaluationID,
		Channel:      channel,
		Recipient:    recipient,
	}
}

func renderEmail(msg message, name, species, reply string) string {
	if name == "" {
		name = "-"
	}
	if species == "" {
		species = "pet"
	}
	var b strings.Builder
	fmt.Fprintf(&b, msg.greeting+"\n\n", name)
	fmt.Fprintf(&b, msg.intro+"\n\n", strings.ToLower(species))
	b.WriteString(strings.TrimSpace(reply))
	b.WriteString("\n\n")
	b.WriteString(msg.closing)
	b.WriteString("\n")
	return b.String()
}

// truncate cuts s to at most n runes, ending with an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

func overallStatus(statuses ...string) string {
	seen := map[string]bool{}
	for _, s := range statuses {
		seen[s] = true
	}
	switch {
	case seen[StatusSent]:
		return StatusSent
	case seen[StatusFailed]:
		return StatusFailed
	case seen[StatusSkipped]:
		return StatusSkipped
	default:
		return StatusDisabled
	}
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
		"jobKey": job.Key,
		"status": output.NotificationStatus,
	})
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, stdErr *apperrors.StandardError) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
