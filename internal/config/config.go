// ABOUTME: Configuration loading and parsing for relay-gateway
// ABOUTME: Supports YAML or TOML files with env expansion, env overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the complete relay-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Providers ProvidersConfig `yaml:"providers" toml:"providers"`
	Delivery  DeliveryConfig  `yaml:"delivery" toml:"delivery"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr" envconfig:"RELAY_SERVER_HTTP_ADDR"`
}

// DatabaseConfig holds database configuration. Driver selects the backend:
// "sqlite" uses Path, "postgres" uses DSN.
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver" envconfig:"RELAY_DATABASE_DRIVER"`
	Path   string `yaml:"path" toml:"path" envconfig:"RELAY_DATABASE_PATH"`
	DSN    string `yaml:"dsn" toml:"dsn" envconfig:"RELAY_DATABASE_DSN"`
}

// ProvidersConfig holds the outbound delivery endpoints. Loopback mounts a
// local echo provider under /api/test for development.
type ProvidersConfig struct {
	TextEndpoint  string `yaml:"text_endpoint" toml:"text_endpoint" envconfig:"RELAY_PROVIDERS_TEXT_ENDPOINT"`
	EmailEndpoint string `yaml:"email_endpoint" toml:"email_endpoint" envconfig:"RELAY_PROVIDERS_EMAIL_ENDPOINT"`
	Loopback      bool   `yaml:"loopback" toml:"loopback" envconfig:"RELAY_PROVIDERS_LOOPBACK"`
}

// DeliveryConfig holds retry policy for outbound delivery
type DeliveryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts" envconfig:"RELAY_DELIVERY_MAX_ATTEMPTS"`
	Timeout     time.Duration `yaml:"-" toml:"-"`
	BackoffBase time.Duration `yaml:"-" toml:"-"`

	// Raw string values for file unmarshaling
	TimeoutRaw     string `yaml:"timeout" toml:"timeout" envconfig:"RELAY_DELIVERY_TIMEOUT"`
	BackoffBaseRaw string `yaml:"backoff_base" toml:"backoff_base" envconfig:"RELAY_DELIVERY_BACKOFF_BASE"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" envconfig:"RELAY_LOGGING_LEVEL"`
	Format string `yaml:"format" toml:"format" envconfig:"RELAY_LOGGING_FORMAT"`
}

// Load reads a configuration file from the given path and returns a parsed
// Config. The format is chosen by extension (.toml, otherwise YAML).
// Environment variables in the format ${VAR_NAME} are expanded, RELAY_*
// variables override file values, and duration strings are parsed into
// time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw file content
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch filepath.Ext(path) {
	case ".toml":
		if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// RELAY_* environment variables override file values
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	switch c.Database.Driver {
	case "", "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if !c.Providers.Loopback {
		if c.Providers.TextEndpoint == "" {
			return fmt.Errorf("providers.text_endpoint is required (or enable providers.loopback)")
		}
		if c.Providers.EmailEndpoint == "" {
			return fmt.Errorf("providers.email_endpoint is required (or enable providers.loopback)")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Delivery.TimeoutRaw != "" {
		cfg.Delivery.Timeout, err = time.ParseDuration(cfg.Delivery.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing timeout %q: %w", cfg.Delivery.TimeoutRaw, err)
		}
	}

	if cfg.Delivery.BackoffBaseRaw != "" {
		cfg.Delivery.BackoffBase, err = time.ParseDuration(cfg.Delivery.BackoffBaseRaw)
		if err != nil {
			return fmt.Errorf("parsing backoff_base %q: %w", cfg.Delivery.BackoffBaseRaw, err)
		}
	}

	return nil
}
