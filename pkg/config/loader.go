package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/b/termlink/pkg/paths"
)

const (
	DefaultListen       = "127.0.0.1:8377"
	DefaultHistoryBytes = 2 << 20
)

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadOrDefault loads the config file if it exists, otherwise returns a
// config populated with defaults. A missing file is not an error; a
// malformed one is.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg, nil
	}
	return LoadConfig(path)
}

// SaveConfig writes the config to the specified path
func SaveConfig(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Daemon.Listen == "" {
		cfg.Daemon.Listen = DefaultListen
	}
	if cfg.Daemon.Shell == "" {
		if sh := os.Getenv("SHELL"); sh != "" {
			cfg.Daemon.Shell = sh
		} else {
			cfg.Daemon.Shell = "/bin/sh"
		}
	}
	if cfg.Daemon.HistoryBytes <= 0 {
		cfg.Daemon.HistoryBytes = DefaultHistoryBytes
	}
	if cfg.Daemon.TokenFile == "" {
		cfg.Daemon.TokenFile = paths.StatePath("token")
	}
	if cfg.Client.HTTPBase == "" {
		cfg.Client.HTTPBase = "http://" + cfg.Daemon.Listen
	}
	if cfg.Client.WSBase == "" {
		cfg.Client.WSBase = "ws://" + cfg.Daemon.Listen
	}
	if cfg.Client.TokenFile == "" {
		cfg.Client.TokenFile = paths.StatePath("token")
	}
}
