// internal/workers/pet-health/build-health-prompt/models.go
package buildhealthprompt

import "pet-health-workers/internal/models"

type Input struct {
	Answers models.AnswerSet `json:"answers"`
	// Media is the process variable written by upload-media. It is used
	// when the answer set carries no media of its own.
	Media *models.Media `json:"media,omitempty"`
}

type Output struct {
	Prompt   string `json:"prompt"`
	Species  string `json:"species"`
	Language string `json:"language"`
	HasMedia bool   `json:"hasMedia"`
}
