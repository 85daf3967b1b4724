// Package config loads, validates and saves scanconsole configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/anstrom/scanconsole/internal/errors"
)

// Storage drivers for the persisted session state.
const (
	StoreFile     = "file"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config represents the complete client configuration
type Config struct {
	// Scanning backend
	Backend BackendConfig `yaml:"backend" json:"backend"`

	// Persisted session state
	Session SessionConfig `yaml:"session" json:"session"`

	// Scan defaults
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Export settings
	Export ExportConfig `yaml:"export" json:"export"`

	// Local console server
	Console ConsoleConfig `yaml:"console" json:"console"`

	// Result publication
	Publish PublishConfig `yaml:"publish" json:"publish"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// BackendConfig describes how to reach the scanning backend
type BackendConfig struct {
	// Base URL including the API prefix, e.g. http://localhost:5000/api
	BaseURL string `yaml:"base_url" json:"base_url" validate:"required"`

	// Timeout for session calls (login, register, verify). Scan calls never time out.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" validate:"gte=0"`

	// User agent sent with every request
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// SessionConfig holds settings for the persisted credential
type SessionConfig struct {
	// Store driver: file, sqlite, postgres or memory
	Store string `yaml:"store" json:"store" validate:"oneof=file sqlite postgres memory"`

	// File path for the file and sqlite stores
	Path string `yaml:"path" json:"path"`

	// DSN for the postgres store
	DSN string `yaml:"dsn" json:"dsn"`

	// Clear the stored credential when the backend answers 401
	ClearOnExpired bool `yaml:"clear_on_expired" json:"clear_on_expired"`
}

// ScanConfig holds scan form defaults
type ScanConfig struct {
	// Port specification used when none is given
	DefaultPorts string `yaml:"default_ports" json:"default_ports"`

	// Resolve hostname targets to IP literals before submission
	Resolve bool `yaml:"resolve" json:"resolve"`

	// Nameserver used for resolution (host:port). Empty means the system resolver config.
	Nameserver string `yaml:"nameserver" json:"nameserver"`
}

// ExportConfig holds export settings
type ExportConfig struct {
	// Directory for exported artifacts
	Dir string `yaml:"dir" json:"dir" validate:"required"`
}

// ConsoleConfig holds local console server settings
type ConsoleConfig struct {
	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// Allowed CORS origins
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// Server timeouts
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// PublishConfig holds NATS publication settings
type PublishConfig struct {
	// NATS server URL. Empty disables publication.
	NATSURL string `yaml:"nats_url" json:"nats_url"`

	// Subject classified results are published on
	Subject string `yaml:"subject" json:"subject"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	stateDir := defaultStateDir()
	return &Config{
		Backend: BackendConfig{
			BaseURL:        "http://localhost:5000/api",
			RequestTimeout: 30 * time.Second,
			UserAgent:      "scanconsole/1.0",
		},
		Session: SessionConfig{
			Store:          StoreFile,
			Path:           filepath.Join(stateDir, "session.yaml"),
			ClearOnExpired: true,
		},
		Scan: ScanConfig{
			DefaultPorts: "1-100",
		},
		Export: ExportConfig{
			Dir: ".",
		},
		Console: ConsoleConfig{
			ListenAddr:   "127.0.0.1",
			Port:         8090,
			CORSOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // scans may run for minutes
		},
		Publish: PublishConfig{
			Subject: "scanconsole.results",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
	}
}

func defaultStateDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".scanconsole"
	}
	return filepath.Join(dir, "scanconsole")
}

// Load loads configuration from a file
func Load(path string) (*Config, error) {
	// Start with defaults
	config := Default()

	if path == "" {
		return config, nil
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil // Return defaults if no config file
	}

	// Read file
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied config path
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to read config file", err)
	}

	// YAML is a superset of JSON, so one decoder serves both extensions
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WrapConfigError(errors.CodeConfiguration,
			fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("failed on the '%s' rule", first.Tag()), first.Namespace(), first.Value())
		}
		return errors.WrapConfigError(errors.CodeValidation, "configuration validation failed", err)
	}

	// Validate backend URL
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.ErrConfigInvalid("backend.base_url", c.Backend.BaseURL)
	}

	// Validate session storage
	switch c.Session.Store {
	case StoreFile, StoreSQLite:
		if c.Session.Path == "" {
			return errors.ErrConfigMissing("session.path")
		}
	case StorePostgres:
		if c.Session.DSN == "" {
			return errors.ErrConfigMissing("session.dsn")
		}
	}

	// Validate publication
	if c.Publish.NATSURL != "" && c.Publish.Subject == "" {
		return errors.ErrConfigMissing("publish.subject")
	}

	return nil
}

// GetConsoleAddress returns the full console listen address
func (c *Config) GetConsoleAddress() string {
	return fmt.Sprintf("%s:%d", c.Console.ListenAddr, c.Console.Port)
}

// IsPublishEnabled returns true if results should be published to NATS
func (c *Config) IsPublishEnabled() bool {
	return c.Publish.NATSURL != ""
}
