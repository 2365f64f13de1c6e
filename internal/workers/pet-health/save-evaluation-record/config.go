// internal/workers/pet-health/save-evaluation-record/config.go
package saveevaluationrecord

import "time"

type Config struct {
	Timeout     time.Duration
	SearchIndex string
}

func LoadConfig() *Config {
	return &Config{
		Timeout:     10 * time.Second,
		SearchIndex: "pet-evaluations",
	}
}
