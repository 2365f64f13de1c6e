// internal/common/genai/genai.go
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pet-health-workers/internal/common/config"
)

var (
	ErrUnknownProvider = errors.New("GENAI_PROVIDER_UNKNOWN")
	ErrEmptyPrompt     = errors.New("GENAI_EMPTY_PROMPT")
)

// Request is a single generation call. Media is optional.
type Request struct {
	Prompt string
	Media  *FileRef
}

// FileRef points at a file already processed by the hosted file service.
type FileRef struct {
	URI      string
	MimeType string
}

// Generator issues one generation call with an explicit credential.
// An empty string with a nil error means the model produced no text.
type Generator interface {
	GenerateContent(ctx context.Context, apiKey string, req Request) (string, error)
}

// GenerationConfig holds the fixed sampling parameters sent with every call.
type GenerationConfig struct {
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	SafetyThreshold string
}

// SafetyCategories are the four categories sent with every Gemini request.
var SafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

func GenerationConfigFrom(cfg config.GenAIConfig) GenerationConfig {
	return GenerationConfig{
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		TopK:            cfg.TopK,
		MaxOutputTokens: cfg.MaxOutputTokens,
		SafetyThreshold: cfg.SafetyThreshold,
	}
}

// NewGenerator builds the generator for cfg.Provider.
func NewGenerator(cfg config.GenAIConfig) (Generator, error) {
	timeout := time.Duration(cfg.Timeout) * time.Millisecond
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return NewGeminiClient(cfg.BaseURL, cfg.Model, GenerationConfigFrom(cfg), timeout), nil
	case "openai":
		return NewOpenAIClient(cfg.BaseURL, cfg.Model, GenerationConfigFrom(cfg)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
}
