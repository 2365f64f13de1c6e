// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig               `mapstructure:"app"`
	Camunda       CamundaConfig           `mapstructure:"camunda"`
	Database      DatabaseConfig          `mapstructure:"database"`
	Workers       map[string]WorkerConfig `mapstructure:"workers"`
	GenAI         GenAIConfig             `mapstructure:"genai"`
	Media         MediaConfig             `mapstructure:"media"`
	Notifications NotificationConfig      `mapstructure:"notifications"`
	Logging       LoggingConfig           `mapstructure:"logging"`
	Tracing       TracingConfig           `mapstructure:"tracing"`
	Server        ServerConfig            `mapstructure:"server"`
	Registry      RegistryConfig          `mapstructure:"registry"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	Plaintext      bool   `mapstructure:"plaintext"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
	// Processes lists BPMN files deployed by the worker manager on startup.
	Processes []string `mapstructure:"processes"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
	Index     string   `mapstructure:"index"`
	Enabled   bool     `mapstructure:"enabled"`
}

// GetURL returns the URL field or the first address
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// --- Pet Health Configuration ---

// GenAIConfig configures the text-generation provider and the credential pool.
type GenAIConfig struct {
	Provider        string   `mapstructure:"provider"` // gemini | openai
	BaseURL         string   `mapstructure:"base_url"`
	UploadURL       string   `mapstructure:"upload_url"`
	Model           string   `mapstructure:"model"`
	APIKeys         []string `mapstructure:"api_keys"`
	Timeout         int      `mapstructure:"timeout"` // milliseconds
	Temperature     float64  `mapstructure:"temperature"`
	TopP            float64  `mapstructure:"top_p"`
	TopK            int      `mapstructure:"top_k"`
	MaxOutputTokens int      `mapstructure:"max_output_tokens"`
	SafetyThreshold string   `mapstructure:"safety_threshold"`
	Language        string   `mapstructure:"language"`

	Retry    RetryConfig    `mapstructure:"retry"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RetryConfig is the dispatcher retry policy.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseBackoff int `mapstructure:"base_backoff"` // milliseconds
	MaxBackoff  int `mapstructure:"max_backoff"`  // milliseconds
}

// RotationConfig selects where the credential cursor lives.
type RotationConfig struct {
	Store    string `mapstructure:"store"` // memory | redis
	RedisKey string `mapstructure:"redis_key"`
}

// MediaConfig bounds the hosted file processing poll.
type MediaConfig struct {
	PollInterval int      `mapstructure:"poll_interval"` // milliseconds
	MaxPolls     int      `mapstructure:"max_polls"`
	Timeout      int      `mapstructure:"timeout"` // milliseconds
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// NotificationConfig holds settings for the notify-owner worker.
type NotificationConfig struct {
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		FromEmail string `mapstructure:"from_email"`
	} `mapstructure:"email"`
	SMS struct {
		Enabled  bool   `mapstructure:"enabled"`
		SenderID string `mapstructure:"sender_id"`
	} `mapstructure:"sms"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TracingConfig enables the Jaeger span exporter when an endpoint is set.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	JaegerEndpoint string  `mapstructure:"jaeger_endpoint"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type RegistryConfig struct {
	Path string `mapstructure:"path"`
}
