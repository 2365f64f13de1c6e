// internal/workers/pet-health/build-health-prompt/config.go
package buildhealthprompt

import "time"

type Config struct {
	Timeout         time.Duration
	DefaultLanguage string
}

func LoadConfig() *Config {
	return &Config{
		Timeout:         5 * time.Second,
		DefaultLanguage: "en",
	}
}
