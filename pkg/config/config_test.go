package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("client: {}\ndaemon: {}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Daemon.Listen != DefaultListen {
		t.Errorf("Listen = %q, want %q", cfg.Daemon.Listen, DefaultListen)
	}
	if cfg.Daemon.Shell != "/bin/zsh" {
		t.Errorf("Shell = %q, want /bin/zsh", cfg.Daemon.Shell)
	}
	if cfg.Daemon.HistoryBytes != DefaultHistoryBytes {
		t.Errorf("HistoryBytes = %d, want %d", cfg.Daemon.HistoryBytes, DefaultHistoryBytes)
	}
	if cfg.Client.HTTPBase != "http://"+DefaultListen {
		t.Errorf("HTTPBase = %q", cfg.Client.HTTPBase)
	}
	if cfg.Client.WSBase != "ws://"+DefaultListen {
		t.Errorf("WSBase = %q", cfg.Client.WSBase)
	}
}

func TestLoadConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
client:
  http_base: http://example.test:9000
  ws_base: ws://example.test:9000
daemon:
  listen: 0.0.0.0:9000
  shell: /bin/bash
  history_bytes: 4096
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Daemon.Listen != "0.0.0.0:9000" {
		t.Errorf("Listen = %q", cfg.Daemon.Listen)
	}
	if cfg.Daemon.HistoryBytes != 4096 {
		t.Errorf("HistoryBytes = %d", cfg.Daemon.HistoryBytes)
	}
	if cfg.Client.HTTPBase != "http://example.test:9000" {
		t.Errorf("HTTPBase = %q", cfg.Client.HTTPBase)
	}
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(filepath.Join(dir, "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Daemon.Listen != DefaultListen {
		t.Errorf("Listen = %q, want default", cfg.Daemon.Listen)
	}
}

func TestSaveConfig_Reloadable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Daemon.Listen = "127.0.0.1:9100"
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig after save: %v", err)
	}
	if got.Daemon.Listen != "127.0.0.1:9100" {
		t.Errorf("Listen = %q after round trip", got.Daemon.Listen)
	}
	if got.Daemon.HistoryBytes != cfg.Daemon.HistoryBytes {
		t.Errorf("HistoryBytes = %d, want %d", got.Daemon.HistoryBytes, cfg.Daemon.HistoryBytes)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("daemon: [not a map"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}
