// internal/common/genai/openai.go
package genai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// Clients are cached per credential.
type OpenAIClient struct {
	baseURL string
	model   string
	gen     GenerationConfig

	mu      sync.Mutex
	clients map[string]*openai.Client
}

func NewOpenAIClient(baseURL, model string, gen GenerationConfig) *OpenAIClient {
	return &OpenAIClient{
		baseURL: baseURL,
		model:   model,
		gen:     gen,
		clients: make(map[string]*openai.Client),
	}
}

func (c *OpenAIClient) GenerateContent(ctx context.Context, apiKey string, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}

	resp, err := c.client(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: float32(c.gen.Temperature),
		TopP:        float32(c.gen.TopP),
		MaxTokens:   c.gen.MaxOutputTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) client(apiKey string) *openai.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[apiKey]; ok {
		return cl
	}
	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" && c.baseURL != DefaultBaseURL {
		cfg.BaseURL = c.baseURL
	}
	cl := openai.NewClientWithConfig(cfg)
	c.clients[apiKey] = cl
	return cl
}
