// internal/models/notification.go
package models

type Notification struct {
	ID           string                 `json:"id"`
	EvaluationID string                 `json:"evaluationId"`
	Channel      string                 `json:"channel"` // "email", "sms"
	Status       string                 `json:"status"`  // "sent", "failed", "disabled", "skipped"
	Recipient    string                 `json:"recipient"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	SentAt       string                 `json:"sentAt,omitempty"`
}
