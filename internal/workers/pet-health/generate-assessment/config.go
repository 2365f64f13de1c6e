// internal/workers/pet-health/generate-assessment/config.go
package generateassessment

import (
	"time"

	"pet-health-workers/internal/common/config"
)

type Config struct {
	Timeout         time.Duration
	Provider        string
	DefaultLanguage string
	Retry           RetryPolicy
}

func LoadConfig() *Config {
	return &Config{
		Timeout:         60 * time.Second,
		Provider:        "gemini",
		DefaultLanguage: "en",
		Retry:           DefaultRetryPolicy(),
	}
}

// ConfigFrom derives the worker config from the genai section and the
// worker's own entry. The job deadline comes from the worker entry and
// genai.timeout bounds each attempt. Without a worker timeout the job gets
// room for every attempt plus backoff.
func ConfigFrom(cfg config.GenAIConfig, wc config.WorkerConfig) *Config {
	c := LoadConfig()
	if cfg.Provider != "" {
		c.Provider = cfg.Provider
	}
	if cfg.Language != "" {
		c.DefaultLanguage = cfg.Language
	}
	if cfg.Retry.MaxAttempts > 0 {
		c.Retry.MaxAttempts = cfg.Retry.MaxAttempts
	}
	c.Retry.BaseBackoff = time.Duration(cfg.Retry.BaseBackoff) * time.Millisecond
	c.Retry.MaxBackoff = time.Duration(cfg.Retry.MaxBackoff) * time.Millisecond
	if cfg.Timeout > 0 {
		c.Retry.AttemptTimeout = time.Duration(cfg.Timeout) * time.Millisecond
	}

	switch {
	case wc.Timeout > 0:
		c.Timeout = time.Duration(wc.Timeout) * time.Millisecond
	case c.Retry.AttemptTimeout > 0:
		attempts := time.Duration(c.Retry.MaxAttempts)
		c.Timeout = attempts*c.Retry.AttemptTimeout + (attempts-1)*c.Retry.MaxBackoff
	}
	return c
}
