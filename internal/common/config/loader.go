// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml on top,
// applies environment overrides and validates the result.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig()

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideEmptyConfig(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders in string and string-list values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		switch val := v.Get(key).(type) {
		case string:
			if strings.Contains(val, "$") {
				if expanded := os.ExpandEnv(val); expanded != val {
					v.Set(key, expanded)
				}
			}
		case []interface{}:
			out := make([]string, 0, len(val))
			changed := false
			for _, item := range val {
				s := fmt.Sprintf("%v", item)
				if strings.Contains(s, "$") {
					s = os.ExpandEnv(s)
					changed = true
				}
				if s != "" {
					out = append(out, s)
				}
			}
			if changed {
				v.Set(key, out)
			}
		}
	}
}

// overrideEmptyConfig fills secrets that are commonly supplied only through the environment.
func overrideEmptyConfig(cfg *Config) {
	if len(cfg.GenAI.APIKeys) == 0 {
		if val := os.Getenv("GENAI_API_KEYS"); val != "" {
			cfg.GenAI.APIKeys = splitList(val)
		} else if val := os.Getenv("GEMINI_API_KEY"); val != "" {
			cfg.GenAI.APIKeys = []string{val}
		}
	}
	cfg.GenAI.APIKeys = splitList(strings.Join(cfg.GenAI.APIKeys, ","))

	if cfg.Database.Postgres.User == "" {
		if val := os.Getenv("DB_USER"); val != "" {
			cfg.Database.Postgres.User = val
		}
	}
	if cfg.Database.Postgres.Password == "" {
		if val := os.Getenv("DB_PASSWORD"); val != "" {
			cfg.Database.Postgres.Password = val
		}
	}
	if cfg.Notifications.AWS.Region == "" {
		if val := os.Getenv("AWS_REGION"); val != "" {
			cfg.Notifications.AWS.Region = val
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "pet-health-workers"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}
	if len(cfg.Database.Elasticsearch.Addresses) == 0 && cfg.Database.Elasticsearch.URL != "" {
		cfg.Database.Elasticsearch.Addresses = []string{cfg.Database.Elasticsearch.URL}
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "pet-evaluations"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}

	g := &cfg.GenAI
	if g.Provider == "" {
		g.Provider = "gemini"
	}
	if g.BaseURL == "" && g.Provider == "gemini" {
		g.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if g.UploadURL == "" {
		g.UploadURL = g.BaseURL
	}
	if g.Model == "" {
		if g.Provider == "openai" {
			g.Model = "gpt-4o-mini"
		} else {
			g.Model = "gemini-2.0-flash"
		}
	}
	if g.Timeout == 0 {
		g.Timeout = 60000
	}
	if g.Temperature == 0 {
		g.Temperature = 0.4
	}
	if g.TopP == 0 {
		g.TopP = 0.8
	}
	if g.TopK == 0 {
		g.TopK = 32
	}
	if g.MaxOutputTokens == 0 {
		g.MaxOutputTokens = 50
	}
	if g.SafetyThreshold == "" {
		g.SafetyThreshold = "BLOCK_ONLY_HIGH"
	}
	if g.Language == "" {
		g.Language = "en"
	}
	if g.Retry.MaxAttempts == 0 {
		g.Retry.MaxAttempts = 2
	}
	if g.Rotation.Store == "" {
		g.Rotation.Store = "memory"
	}
	if g.Rotation.RedisKey == "" {
		g.Rotation.RedisKey = "genai:credential:cursor"
	}

	if cfg.Media.PollInterval == 0 {
		cfg.Media.PollInterval = 10000
	}
	if cfg.Media.MaxPolls == 0 {
		cfg.Media.MaxPolls = 30
	}
	if cfg.Media.Timeout == 0 {
		cfg.Media.Timeout = 300000
	}
	if len(cfg.Media.AllowedTypes) == 0 {
		cfg.Media.AllowedTypes = []string{"video/mp4", "video/quicktime", "video/x-msvideo"}
	}

	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = 1.0
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Registry.Path == "" {
		cfg.Registry.Path = "configs/activity-registry.json"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}

	if cfg.Database.Elasticsearch.Enabled && cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when indexing is enabled")
	}

	switch cfg.GenAI.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("genai.provider must be gemini or openai, got %q", cfg.GenAI.Provider)
	}
	if len(cfg.GenAI.APIKeys) == 0 {
		return fmt.Errorf("genai.api_keys requires at least one credential")
	}
	if cfg.GenAI.Retry.MaxAttempts < 1 {
		return fmt.Errorf("genai.retry.max_attempts must be >= 1")
	}

	switch cfg.GenAI.Rotation.Store {
	case "memory":
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for redis credential rotation")
		}
	default:
		return fmt.Errorf("genai.rotation.store must be memory or redis, got %q", cfg.GenAI.Rotation.Store)
	}

	switch cfg.GenAI.Language {
	case "en", "es":
	default:
		return fmt.Errorf("genai.language must be en or es, got %q", cfg.GenAI.Language)
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}

	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
