// Package config loads relayd/relaybot configuration from a TOML file with
// environment overrides.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	LLM      LLMConfig      `toml:"llm"`
	Sandbox  SandboxConfig  `toml:"sandbox"`
	Database DatabaseConfig `toml:"database"`
	Telegram TelegramConfig `toml:"telegram"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr      string `toml:"addr"`
	MaxRounds int    `toml:"max_rounds"`
}

type LLMConfig struct {
	Provider string `toml:"provider"` // "anthropic" or "openai"
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"` // OpenAI-compatible endpoints only
}

type SandboxConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
}

type DatabaseConfig struct {
	// Driver selects the audit store: "sqlite", "postgres", or "" (none).
	Driver      string `toml:"driver"`
	Path        string `toml:"path"`         // sqlite file
	PostgresURL string `toml:"postgres_url"` // pgx connection string
}

type TelegramConfig struct {
	Token         string `toml:"token"`
	AllowedUserID string `toml:"allowed_user_id"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", MaxRounds: 20},
		LLM:      LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"},
		Sandbox:  SandboxConfig{TimeoutSeconds: 30},
		Database: DatabaseConfig{Driver: "sqlite", Path: "relay.db"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "relay.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("RELAY_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RELAY_MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MaxRounds = n
		}
	}
	if v := os.Getenv("RELAY_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("RELAY_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("RELAY_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("RELAY_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("RELAY_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RELAY_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("RELAY_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("RELAY_TELEGRAM_ALLOWED_USER"); v != "" {
		cfg.Telegram.AllowedUserID = v
	}
	if v := os.Getenv("RELAY_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
