// internal/workers/pet-health/generate-assessment/models.go
package generateassessment

import "pet-health-workers/internal/models"

const (
	OutcomeReply           = "reply"
	OutcomeNoResponse      = "no_response"
	OutcomeProcessingError = "processing_error"
)

type Input struct {
	Prompt   string        `json:"prompt"`
	Language string        `json:"language,omitempty"`
	Media    *models.Media `json:"media,omitempty"`
}

type Output struct {
	AssessmentText  string `json:"assessmentText"`
	Outcome         string `json:"outcome"`
	Attempts        int    `json:"attempts"`
	Rotations       int    `json:"rotations"`
	CredentialIndex int    `json:"credentialIndex"`
}

// Sentinels are the fixed replies returned instead of an error.
type Sentinels struct {
	NoResponse      string
	ProcessingError string
}

var sentinels = map[string]Sentinels{
	models.LanguageEnglish: {
		NoResponse:      "No response.",
		ProcessingError: "Error processing the request.",
	},
	models.LanguageSpanish: {
		NoResponse:      "Sin respuesta.",
		ProcessingError: "Error al procesar la solicitud.",
	},
}

// SentinelsFor returns the sentinel texts for lang, falling back to English.
func SentinelsFor(lang string) Sentinels {
	if s, ok := sentinels[models.AnswerSet{Language: lang}.Lang()]; ok {
		return s
	}
	return sentinels[models.LanguageEnglish]
}
