// ABOUTME: Configuration loading and parsing for the installation store
// ABOUTME: Supports YAML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Storage backend names accepted in storage.backend
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config represents the complete installation store configuration
type Config struct {
	App     AppConfig     `yaml:"app"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
}

// AppConfig binds this deployment to one application instance
type AppConfig struct {
	// ClientID is the OAuth client id partitioning this instance's records.
	// Empty selects the default, unpartitioned instance.
	ClientID string `yaml:"client_id"`
}

// StorageConfig holds storage backend configuration
type StorageConfig struct {
	Backend string `yaml:"backend"` // sqlite, postgres, or memory
	Path    string `yaml:"path"`    // sqlite database file
	DSN     string `yaml:"dsn"`     // postgres connection string
	// RetainHistory keeps every write as a new versioned record instead of
	// overwriting the current one per scope.
	RetainHistory bool `yaml:"retain_history"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

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
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	case BackendMemory:
		// Nothing to configure
	case "":
		return fmt.Errorf("storage.backend is required (sqlite, postgres, or memory)")
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	return nil
}
