package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxRounds != 20 {
		t.Errorf("max rounds = %d", cfg.Server.MaxRounds)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.LLM.Provider)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q", cfg.Database.Driver)
	}
	if cfg.Sandbox.TimeoutSeconds != 30 {
		t.Errorf("sandbox timeout = %d", cfg.Sandbox.TimeoutSeconds)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want default", cfg.Server.Addr)
	}
}

func TestLoadFromTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	data := `
[server]
addr = ":9090"
max_rounds = 5

[llm]
provider = "openai"
model = "gpt-4o-mini"
api_key = "sk-test"
base_url = "https://llm.internal/v1"

[database]
driver = "postgres"
postgres_url = "postgres://localhost/relay"

[observer]
enabled = true

[observer.pricing."gpt-4o-mini"]
input = 0.15
output = 0.6
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.Server.Addr != ":9090" || cfg.Server.MaxRounds != 5 {
		t.Errorf("server config not loaded: %+v", cfg.Server)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.BaseURL != "https://llm.internal/v1" {
		t.Errorf("llm config not loaded: %+v", cfg.LLM)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("database config not loaded: %+v", cfg.Database)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer not enabled")
	}
	p, ok := cfg.Observer.Pricing["gpt-4o-mini"]
	if !ok || p.Input != 0.15 || p.Output != 0.6 {
		t.Errorf("pricing not loaded: %+v", cfg.Observer.Pricing)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte("[server]\naddr = \":9090\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("RELAY_ADDR", ":7070")
	t.Setenv("RELAY_MAX_ROUNDS", "7")
	t.Setenv("RELAY_LLM_MODEL", "claude-haiku-3-5")
	t.Setenv("RELAY_OBSERVER_ENABLED", "1")

	cfg := Load(path)
	if cfg.Server.Addr != ":7070" {
		t.Errorf("env should win over file, addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxRounds != 7 {
		t.Errorf("max rounds = %d", cfg.Server.MaxRounds)
	}
	if cfg.LLM.Model != "claude-haiku-3-5" {
		t.Errorf("model = %q", cfg.LLM.Model)
	}
	if !cfg.Observer.Enabled {
		t.Error("observer env flag ignored")
	}
}

func TestEnvBadIntIgnored(t *testing.T) {
	t.Setenv("RELAY_MAX_ROUNDS", "lots")
	cfg := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if cfg.Server.MaxRounds != 20 {
		t.Errorf("bad int should keep default, got %d", cfg.Server.MaxRounds)
	}
}
