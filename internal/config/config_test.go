package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestLoadFromFileOverridesDefaults parses a YAML config and checks the
// tuning knobs land.
func TestLoadFromFileOverridesDefaults(t *testing.T) {
	cfg, err := defaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	cfg.ConfigPath = filepath.Join(t.TempDir(), "config.yaml")

	content := strings.Join([]string{
		"port: 9999",
		"token: test-token",
		"max_sessions: 5",
		"pool_size: 1",
		"pool_max_age: 90s",
		"cwd_timeout: 2s",
		"history_path: /tmp/custom/history.db",
	}, "\n")
	if err := os.WriteFile(cfg.ConfigPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if err := cfg.loadFromFile(); err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}

	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999", cfg.Port)
	}
	if cfg.Token != "test-token" {
		t.Errorf("Token = %q, want test-token", cfg.Token)
	}
	if cfg.MaxSessions != 5 {
		t.Errorf("MaxSessions = %d, want 5", cfg.MaxSessions)
	}
	if cfg.PoolMaxAge != 90*time.Second {
		t.Errorf("PoolMaxAge = %v, want 90s", cfg.PoolMaxAge)
	}
	if cfg.HistoryPath != "/tmp/custom/history.db" {
		t.Errorf("HistoryPath = %q", cfg.HistoryPath)
	}
}

// TestSaveRoundTrip writes a config and reads it back.
func TestSaveRoundTrip(t *testing.T) {
	cfg, err := defaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	cfg.ConfigPath = filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg.Token = "round-trip-token"
	cfg.Port = 4242

	if err := cfg.saveToFile(); err != nil {
		t.Fatalf("saveToFile: %v", err)
	}

	reread, err := defaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	reread.ConfigPath = cfg.ConfigPath
	if err := reread.loadFromFile(); err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if reread.Token != "round-trip-token" || reread.Port != 4242 {
		t.Fatalf("round trip mismatch: %+v", reread)
	}
}

// TestValidate covers the rejection rules.
func TestValidate(t *testing.T) {
	base, err := defaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		wantOK bool
	}{
		{"defaults valid", func(c *Config) {}, true},
		{"port too low", func(c *Config) { c.Port = 0 }, false},
		{"port too high", func(c *Config) { c.Port = 70000 }, false},
		{"zero max sessions", func(c *Config) { c.MaxSessions = 0 }, false},
		{"negative pool", func(c *Config) { c.PoolSize = -1 }, false},
		{"pool at cap", func(c *Config) { c.PoolSize = c.MaxSessions }, false},
		{"pool disabled", func(c *Config) { c.PoolSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantOK && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.wantOK && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// TestGenerateToken checks length and uniqueness.
func TestGenerateToken(t *testing.T) {
	a, err := generateToken()
	if err != nil {
		t.Fatalf("generateToken: %v", err)
	}
	b, err := generateToken()
	if err != nil {
		t.Fatalf("generateToken: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("token length = %d, want 32", len(a))
	}
	if a == b {
		t.Error("two generated tokens are identical")
	}
}
