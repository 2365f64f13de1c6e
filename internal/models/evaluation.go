// internal/models/evaluation.go
package models

import (
	_ "embed"
	"strings"
	"time"
)

// AnswerSetSchema is the JSON schema every submitted AnswerSet must satisfy.
//
//go:embed answerset.schema.json
var AnswerSetSchema []byte

const (
	LanguageEnglish = "en"
	LanguageSpanish = "es"
)

const (
	MediaStatusNone     = "none"
	MediaStatusAttached = "attached"
	MediaStatusRejected = "rejected"
	MediaStatusFailed   = "failed"
	MediaStatusTimeout  = "timeout"
)

// AnswerSet holds one questionnaire submission. Age is a pointer so an
// unanswered age can be told apart from zero.
type AnswerSet struct {
	Species     string `json:"species"`
	Eating      string `json:"eating"`
	Elimination string `json:"elimination"`
	Age         *int   `json:"age"`
	Grooming    string `json:"grooming"`
	Vomiting    string `json:"vomiting,omitempty"`

	GroomingRegular string `json:"groomingRegular,omitempty"`
	GroomingChanges string `json:"groomingChanges,omitempty"`
	BehaviorChange  string `json:"behaviorChange,omitempty"`
	Sociability     string `json:"sociability,omitempty"`
	Hiding          string `json:"hiding,omitempty"`
	Reluctant       string `json:"reluctant,omitempty"`

	Media    *Media `json:"media,omitempty"`
	Language string `json:"language,omitempty"`
}

// IsCat reports whether the species answer names a cat, in either language.
func (a AnswerSet) IsCat() bool {
	switch strings.ToLower(strings.TrimSpace(a.Species)) {
	case "cat", "gato", "gata":
		return true
	}
	return false
}

// Lang returns the normalised prompt language, defaulting to English.
func (a AnswerSet) Lang() string {
	if strings.EqualFold(strings.TrimSpace(a.Language), LanguageSpanish) {
		return LanguageSpanish
	}
	return LanguageEnglish
}

// Media references a file already processed by the hosted file service.
type Media struct {
	DisplayName string `json:"displayName,omitempty"`
	URI         string `json:"uri"`
	MimeType    string `json:"mimeType,omitempty"`
}

type OwnerContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// EvaluationRecord is the persisted result of one completed evaluation.
type EvaluationRecord struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"createdAt"`
	Language  string       `json:"language"`
	Species   string       `json:"species"`
	Owner     OwnerContact `json:"owner"`
	Answers   AnswerSet    `json:"answers"`
	MediaURI  string       `json:"mediaUri,omitempty"`
	Prompt    string       `json:"prompt"`
	Reply     string       `json:"reply"`
	Outcome   string       `json:"outcome,omitempty"`
}
