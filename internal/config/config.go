// Package config loads and validates the relay configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for the chat relay service.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Provider ProviderConfig `json:"provider"`
	Store    StoreConfig    `json:"store"`
	History  HistoryConfig  `json:"history"`
	Persona  PersonaConfig  `json:"persona"`
	Metrics  MetricsConfig  `json:"metrics"`
	LogLevel string         `json:"logLevel"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type ProviderConfig struct {
	APIBase   string `json:"apiBase"`
	APIKey    string `json:"apiKey,omitempty"` // fallback when the client sends no credential
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type HistoryConfig struct {
	// Limit bounds how many stored messages are replayed per turn.
	Limit int `json:"limit"`
}

type PersonaConfig struct {
	PresetsPath string `json:"presetsPath,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.chatrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatrelay"
	}
	return filepath.Join(home, ".chatrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Persona.PresetsPath = ExpandPath(cfg.Persona.PresetsPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset
// or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Provider.APIBase == "" {
		errs = append(errs, "provider.apiBase is required")
	}
	if cfg.Provider.MaxTokens < 1 {
		errs = append(errs, "provider.maxTokens must be >= 1")
	}
	if cfg.History.Limit < 1 {
		errs = append(errs, "history.limit must be >= 1")
	}
	if cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required")
	}
	switch cfg.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "logLevel must be one of: debug, info, warn, error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Sanitize returns a copy safe for display: secrets are redacted.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	if out.Provider.APIKey != "" {
		out.Provider.APIKey = "***"
	}
	return &out
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
