package config

import "path/filepath"

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Provider: ProviderConfig{
			APIBase:   "https://api.openai.com/v1",
			Model:     "gpt-4o",
			MaxTokens: 4096,
		},
		Store: StoreConfig{
			DBPath: filepath.Join(DefaultConfigDir(), "chatrelay.db"),
		},
		History: HistoryConfig{
			Limit: 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		LogLevel: "info",
	}
}
