// internal/workers/pet-health/notify-owner/config.go
package notifyowner

import (
	"time"

	"pet-health-workers/internal/common/config"
)

type Config struct {
	Timeout      time.Duration
	EmailEnabled bool
	FromEmail    string
	SMSEnabled   bool
	SenderID     string
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      15 * time.Second,
		EmailEnabled: true,
		FromEmail:    "noreply@pet-health.local",
		SMSEnabled:   false,
	}
}

func ConfigFrom(cfg config.NotificationConfig) *Config {
	c := LoadConfig()
	c.EmailEnabled = cfg.Email.Enabled
	if cfg.Email.FromEmail != "" {
		c.FromEmail = cfg.Email.FromEmail
	}
	c.SMSEnabled = cfg.SMS.Enabled
	c.SenderID = cfg.SMS.SenderID
	return c
}
