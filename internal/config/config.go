// Package config loads server settings from a YAML file with flag
// overrides, generating and persisting an auth token on first run.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int    `yaml:"port"`
	Token       string `yaml:"token"`
	MaxSessions int    `yaml:"max_sessions"`

	PoolSize     int           `yaml:"pool_size"`
	PoolMaxAge   time.Duration `yaml:"pool_max_age"`
	PoolInterval time.Duration `yaml:"pool_interval"`

	CwdTimeout  time.Duration `yaml:"cwd_timeout"`
	HistoryPath string        `yaml:"history_path"`

	ConfigPath string `yaml:"-"`
	PrintToken bool   `yaml:"-"`
}

func defaults() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return &Config{
		Port:         8765,
		MaxSessions:  20,
		PoolSize:     2,
		PoolMaxAge:   60 * time.Second,
		PoolInterval: 30 * time.Second,
		CwdTimeout:   5 * time.Second,
		HistoryPath:  filepath.Join(homeDir, ".local", "share", "shellmux", "history.db"),
		ConfigPath:   filepath.Join(homeDir, ".config", "shellmux", "config.yaml"),
	}, nil
}

// Load builds the effective config: defaults, then the config file, then
// command-line flags. A missing token is generated and written back so
// restarts keep the same credential.
func Load() (*Config, error) {
	cfg, err := defaults()
	if err != nil {
		return nil, err
	}

	if err := cfg.loadFromFile(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port (1-65535)")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "authentication token (auto-generated if empty)")
	flag.IntVar(&cfg.MaxSessions, "max-sessions", cfg.MaxSessions, "maximum concurrent shell sessions")
	flag.IntVar(&cfg.PoolSize, "pool-size", cfg.PoolSize, "warm shell sessions kept ready")
	flag.StringVar(&cfg.HistoryPath, "history", cfg.HistoryPath, "command history database path")
	flag.BoolVar(&cfg.PrintToken, "print-token", false, "print token to stdout (for local debugging)")
	flag.Parse()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.Token == "" {
		token, err := generateToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate token: %w", err)
		}
		cfg.Token = token
		if err := cfg.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to save config file: %w", err)
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("invalid max_sessions %d: must be at least 1", c.MaxSessions)
	}
	if c.PoolSize < 0 {
		return fmt.Errorf("invalid pool_size %d: must not be negative", c.PoolSize)
	}
	if c.PoolSize >= c.MaxSessions {
		return fmt.Errorf("pool_size %d must be smaller than max_sessions %d", c.PoolSize, c.MaxSessions)
	}
	return nil
}

func (c *Config) loadFromFile() error {
	data, err := os.ReadFile(c.ConfigPath)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %q: %w", c.ConfigPath, err)
	}
	return nil
}

func (c *Config) saveToFile() error {
	dir := filepath.Dir(c.ConfigPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(c.ConfigPath, data, 0o600)
}

func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
