package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[backend]
base_url = "https://backend.example.com"
transport = "sse"
backoff_base = "2s"
circuit_cooldown = "1m"
max_reconnect_attempts = 7
circuit_threshold = 4

[auth]
token = "abc123"
refresh_url = "https://backend.example.com/auth/refresh"

[ui]
mode = "plain"
color = true

[logging]
file = "/tmp/ember.log"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend.BaseURL != "https://backend.example.com" {
		t.Errorf("base_url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Transport != "sse" {
		t.Errorf("transport = %q", cfg.Backend.Transport)
	}
	if cfg.Backend.BackoffBase != 2*time.Second {
		t.Errorf("backoff_base = %v", cfg.Backend.BackoffBase)
	}
	if cfg.Backend.CircuitCooldown != time.Minute {
		t.Errorf("circuit_cooldown = %v", cfg.Backend.CircuitCooldown)
	}
	if cfg.Backend.MaxReconnectAttempts != 7 {
		t.Errorf("max_reconnect_attempts = %d", cfg.Backend.MaxReconnectAttempts)
	}
	if cfg.Auth.Token != "abc123" {
		t.Errorf("token = %q", cfg.Auth.Token)
	}
	if cfg.UI.Mode != "plain" || !cfg.UI.Color {
		t.Errorf("ui = %+v", cfg.UI)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := Parse(`
[backend]
base_url = "http://localhost:8420"
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Backend.Transport != "websocket" {
		t.Errorf("default transport = %q, want websocket", cfg.Backend.Transport)
	}
	if cfg.UI.Mode != "tui" {
		t.Errorf("default ui.mode = %q, want tui", cfg.UI.Mode)
	}
}

func TestEnvVarExpansion(t *testing.T) {
	t.Setenv("EMBER_TEST_TOKEN", "secret-token")

	cfg, err := Parse(`
[backend]
base_url = "http://localhost:8420"

[auth]
token = "${EMBER_TEST_TOKEN}"
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Auth.Token != "secret-token" {
		t.Errorf("token = %q, want expanded env value", cfg.Auth.Token)
	}
}

func TestUnsetEnvVarBecomesEmpty(t *testing.T) {
	cfg, err := Parse(`
[backend]
base_url = "http://localhost:8420"

[auth]
token = "${EMBER_DEFINITELY_UNSET_VAR}"
`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Auth.Token != "" {
		t.Errorf("token = %q, want empty", cfg.Auth.Token)
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing base url",
			content: `[ui]` + "\n" + `mode = "plain"`,
			wantErr: "base_url",
		},
		{
			name: "bad transport",
			content: `
[backend]
base_url = "http://localhost:8420"
transport = "carrier-pigeon"
`,
			wantErr: "transport",
		},
		{
			name: "bad ui mode",
			content: `
[backend]
base_url = "http://localhost:8420"

[ui]
mode = "holographic"
`,
			wantErr: "ui.mode",
		},
		{
			name: "bad duration",
			content: `
[backend]
base_url = "http://localhost:8420"
backoff_base = "three seconds"
`,
			wantErr: "backoff_base",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
