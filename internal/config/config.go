// Package config loads the ember client configuration from a TOML file.
// Environment variables in ${VAR_NAME} form are expanded before parsing, and
// duration fields accept Go duration strings ("3s", "1m30s").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Backend BackendConfig `toml:"backend"`
	Auth    AuthConfig    `toml:"auth"`
	UI      UIConfig      `toml:"ui"`
	Logging LoggingConfig `toml:"logging"`
}

// BackendConfig selects the backend endpoint and reconnect behaviour.
type BackendConfig struct {
	BaseURL string `toml:"base_url"`

	// Transport is "websocket" (default) or "sse".
	Transport string `toml:"transport"`

	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
	CircuitThreshold     int `toml:"circuit_threshold"`

	BackoffBase     time.Duration `toml:"-"`
	CircuitCooldown time.Duration `toml:"-"`

	// Raw string values for TOML unmarshaling
	BackoffBaseRaw     string `toml:"backoff_base"`
	CircuitCooldownRaw string `toml:"circuit_cooldown"`
}

// AuthConfig holds the bearer token and the optional refresh endpoint.
type AuthConfig struct {
	Token      string `toml:"token"`
	RefreshURL string `toml:"refresh_url"`
}

// UIConfig selects the terminal frontend.
type UIConfig struct {
	// Mode is "tui" (default) or "plain".
	Mode  string `toml:"mode"`
	Color bool   `toml:"color"`
}

type LoggingConfig struct {
	// File receives client logs; empty discards them in TUI mode and
	// writes to stderr in plain mode.
	File string `toml:"file"`
}

// DefaultPath returns the conventional config location,
// ~/.config/ember/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "ember", "config.toml")
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(string(data))
}

// Parse parses raw TOML content, expanding ${VAR} references first.
func Parse(content string) (*Config, error) {
	expanded := expandEnvVars(content)

	var cfg Config
	if err := toml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Backend.Transport == "" {
		c.Backend.Transport = "websocket"
	}
	if c.UI.Mode == "" {
		c.UI.Mode = "tui"
	}
}

// Validate checks required fields and enum values.
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	switch c.Backend.Transport {
	case "websocket", "sse":
	default:
		return fmt.Errorf("backend.transport must be \"websocket\" or \"sse\", got %q", c.Backend.Transport)
	}
	switch c.UI.Mode {
	case "tui", "plain":
	default:
		return fmt.Errorf("ui.mode must be \"tui\" or \"plain\", got %q", c.UI.Mode)
	}
	return nil
}

func parseDurations(cfg *Config) error {
	var err error

	if cfg.Backend.BackoffBaseRaw != "" {
		cfg.Backend.BackoffBase, err = time.ParseDuration(cfg.Backend.BackoffBaseRaw)
		if err != nil {
			return fmt.Errorf("parsing backoff_base %q: %w", cfg.Backend.BackoffBaseRaw, err)
		}
	}

	if cfg.Backend.CircuitCooldownRaw != "" {
		cfg.Backend.CircuitCooldown, err = time.ParseDuration(cfg.Backend.CircuitCooldownRaw)
		if err != nil {
			return fmt.Errorf("parsing circuit_cooldown %q: %w", cfg.Backend.CircuitCooldownRaw, err)
		}
	}

	return nil
}
