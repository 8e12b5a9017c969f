// ABOUTME: Configuration loading and parsing for hearth
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hearth configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Namespaces NamespacesConfig `yaml:"namespaces"`
	Identity   IdentityConfig   `yaml:"identity"`
	Caches     CachesConfig     `yaml:"caches"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds the identity store configuration. Driver is
// "sqlite" (default) or "postgres". Path is the sqlite file; DSN is the
// postgres connection string.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// NamespacesConfig holds the storage namespace layout configuration
type NamespacesConfig struct {
	Root  string `yaml:"root"`
	Watch bool   `yaml:"watch"`

	InventoryDebounce    time.Duration `yaml:"-"`
	InventoryDebounceRaw string        `yaml:"inventory_debounce"`
}

// IdentityConfig holds verification code parameters
type IdentityConfig struct {
	CodeLength int `yaml:"code_length"`

	CodeTTL    time.Duration `yaml:"-"`
	CodeTTLRaw string        `yaml:"code_ttl"`
}

// CachesConfig bounds the per-namespace resource caches
type CachesConfig struct {
	Connections int `yaml:"connections"`
	Assistants  int `yaml:"assistants"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
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
		return fmt.Errorf("database.driver must be \"sqlite\" or \"postgres\", got %q", c.Database.Driver)
	}

	if c.Namespaces.Root == "" {
		return fmt.Errorf("namespaces.root is required")
	}

	if c.Identity.CodeLength < 0 {
		return fmt.Errorf("identity.code_length must not be negative")
	}
	if c.Caches.Connections < 0 || c.Caches.Assistants < 0 {
		return fmt.Errorf("cache capacities must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Identity.CodeTTLRaw != "" {
		cfg.Identity.CodeTTL, err = time.ParseDuration(cfg.Identity.CodeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing identity.code_ttl %q: %w", cfg.Identity.CodeTTLRaw, err)
		}
	}

	if cfg.Namespaces.InventoryDebounceRaw != "" {
		cfg.Namespaces.InventoryDebounce, err = time.ParseDuration(cfg.Namespaces.InventoryDebounceRaw)
		if err != nil {
			return fmt.Errorf("parsing namespaces.inventory_debounce %q: %w", cfg.Namespaces.InventoryDebounceRaw, err)
		}
	}

	return nil
}
