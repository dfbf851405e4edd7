package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces the server's environment variables
const EnvPrefix = "CVTRIAGE"

// ServerConfig holds process configuration read from the environment
type ServerConfig struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	NATSURL     string `envconfig:"NATS_URL"`
	UploadsDir  string `envconfig:"UPLOADS_DIR" default:"uploads"`
	RecordsFile string `envconfig:"RECORDS_FILE" default:"candidates.json"`

	GoogleCloudProject  string `envconfig:"GOOGLE_CLOUD_PROJECT"`
	GoogleCloudLocation string `envconfig:"GOOGLE_CLOUD_LOCATION" default:"us-central1"`
	Model               string `envconfig:"MODEL"`

	GmailCredentials string `envconfig:"GMAIL_CREDENTIALS" default:"credentials.json"`
	GmailToken       string `envconfig:"GMAIL_TOKEN" default:"token.json"`

	CacheTTL     time.Duration `envconfig:"CACHE_TTL" default:"30s"`
	CacheSize    int64         `envconfig:"CACHE_SIZE" default:"64"`
	FetchLimit   int           `envconfig:"FETCH_LIMIT" default:"5000"`
	Workers      int           `envconfig:"WORKERS" default:"2"`
	SettingsPath string        `envconfig:"SETTINGS_PATH"`
}

// LoadServerConfig reads .env files, when present, then the environment.
// Variables already set in the environment win over .env values.
func LoadServerConfig(envFiles ...string) (*ServerConfig, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	var cfg ServerConfig
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot
func (c *ServerConfig) Validate() error {
	if c.Workers < 1 {
		return &ConfigError{Field: "WORKERS", Reason: "must be at least 1"}
	}
	if c.CacheSize < 0 {
		return &ConfigError{Field: "CACHE_SIZE", Reason: "must not be negative"}
	}
	if c.FetchLimit < 0 {
		return &ConfigError{Field: "FETCH_LIMIT", Reason: "must not be negative"}
	}
	if c.CacheTTL < 0 {
		return &ConfigError{Field: "CACHE_TTL", Reason: "must not be negative"}
	}
	return nil
}

// ConfigError reports an invalid configuration value
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Reason)
}
