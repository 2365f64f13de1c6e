// internal/workers/pet-health/save-evaluation-record/models.go
package saveevaluationrecord

import "pet-health-workers/internal/models"

type Input struct {
	EvaluationID   string              `json:"evaluationId,omitempty"`
	Answers        models.AnswerSet    `json:"answers"`
	Owner          models.OwnerContact `json:"owner"`
	Prompt         string              `json:"prompt"`
	AssessmentText string              `json:"assessmentText"`
	Outcome        string              `json:"outcome,omitempty"`
	Media          *models.Media       `json:"media,omitempty"`
}

type Output struct {
	EvaluationID string `json:"evaluationId"`
	CreatedAt    string `json:"createdAt"`
	Indexed      bool   `json:"indexed"`
}
