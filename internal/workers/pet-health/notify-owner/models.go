// internal/workers/pet-health/notify-owner/models.go
package notifyowner

import "pet-health-workers/internal/models"

const (
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusDisabled = "disabled"
	StatusSkipped  = "skipped"

	ChannelEmail = "email"
	ChannelSMS   = "sms"

	maxSMSLength = 160
)

type Input struct {
	EvaluationID   string              `json:"evaluationId"`
	Owner          models.OwnerContact `json:"owner"`
	Language       string              `json:"language,omitempty"`
	Species        string              `json:"species,omitempty"`
	AssessmentText string              `json:"assessmentText"`
}

type Output struct {
	NotificationStatus string                `json:"notificationStatus"`
	Notifications      []models.Notification `json:"notifications"`
}

type message struct {
	subject  string
	greeting string
	intro    string
	sms      string
	closing  string
}

var messages = map[string]message{
	models.LanguageEnglish: {
		subject:  "Your pet health pre-assessment",
		greeting: "Hello %s,",
		intro:    "Here is the pre-assessment for your %s:",
		sms:      "Your pet health pre-assessment is ready: ",
		closing:  "This is not a veterinary diagnosis. Please consult your veterinarian.",
	},
	models.LanguageSpanish: {
		subject:  "La evaluación previa de salud de su mascota",
		greeting: "Hola %s,",
		intro:    "Esta es la evaluación previa para su %s:",
		sms:      "La evaluación de salud de su mascota está lista: ",
		closing:  "Esto no es un diagnóstico veterinario. Consulte a su veterinario.",
	},
}
