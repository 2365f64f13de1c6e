// internal/common/genai/gemini.go
package genai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	commonhttp "pet-health-workers/internal/common/http"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// APIKeyHeader carries the credential so it never appears in a request URL,
// and therefore never in a transport error.
const APIKeyHeader = "x-goog-api-key"

// GeminiClient calls the generateContent REST endpoint.
type GeminiClient struct {
	http    *commonhttp.Client
	baseURL string
	model   string
	gen     GenerationConfig
}

func NewGeminiClient(baseURL, model string, gen GenerationConfig, timeout time.Duration) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &GeminiClient{
		http:    commonhttp.NewClient(timeout),
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		gen:     gen,
	}
}

type geminiPart struct {
	Text     string          `json:"text,omitempty"`
	FileData *geminiFileData `json:"fileData,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	SafetySettings   []geminiSafetySetting  `json:"safetySettings"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (c *GeminiClient) GenerateContent(ctx context.Context, apiKey string, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent",
		c.baseURL, url.PathEscape(c.model))

	var resp geminiResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, endpoint, map[string]string{APIKeyHeader: apiKey}, c.buildRequest(req), &resp); err != nil {
		return "", fmt.Errorf("gemini generateContent: %w", err)
	}

	// A blocked prompt comes back as a 200 with no candidates.
	if resp.PromptFeedback.BlockReason != "" || len(resp.Candidates) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

func (c *GeminiClient) buildRequest(req Request) geminiRequest {
	parts := []geminiPart{{Text: req.Prompt}}
	if req.Media != nil && req.Media.URI != "" {
		parts = append(parts, geminiPart{FileData: &geminiFileData{
			MimeType: req.Media.MimeType,
			FileURI:  req.Media.URI,
		}})
	}

	safety := make([]geminiSafetySetting, 0, len(SafetyCategories))
	for _, category := range SafetyCategories {
		safety = append(safety, geminiSafetySetting{Category: category, Threshold: c.gen.SafetyThreshold})
	}

	return geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     c.gen.Temperature,
			TopP:            c.gen.TopP,
			TopK:            c.gen.TopK,
			MaxOutputTokens: c.gen.MaxOutputTokens,
		},
		SafetySettings: safety,
	}
}
