// internal/workers/pet-health/upload-media/config.go
package uploadmedia

import (
	"time"

	"pet-health-workers/internal/common/config"
	"pet-health-workers/internal/common/genai"
)

type Config struct {
	Timeout      time.Duration
	Poll         genai.PollPolicy
	AllowedTypes []string
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 5 * time.Minute,
		Poll: genai.PollPolicy{
			Interval: 10 * time.Second,
			MaxPolls: 30,
		},
		AllowedTypes: []string{"video/mp4", "video/quicktime", "video/x-msvideo"},
	}
}

// ConfigFrom derives the worker config from the media section.
func ConfigFrom(cfg config.MediaConfig) *Config {
	c := LoadConfig()
	if cfg.Timeout > 0 {
		c.Timeout = time.Duration(cfg.Timeout) * time.Millisecond
	}
	if cfg.PollInterval > 0 {
		c.Poll.Interval = time.Duration(cfg.PollInterval) * time.Millisecond
	}
	if cfg.MaxPolls > 0 {
		c.Poll.MaxPolls = cfg.MaxPolls
	}
	if len(cfg.AllowedTypes) > 0 {
		c.AllowedTypes = cfg.AllowedTypes
	}
	return c
}
