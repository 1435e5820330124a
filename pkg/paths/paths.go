// Package paths provides centralized path resolution for termlink's config
// and state files.
//
// Layout (XDG-style):
//
//	Config: ~/.config/termlink/config.yaml  (override: TERMLINK_CONFIG_DIR)
//	State:  ~/.local/state/termlink/        (override: TERMLINK_STATE_DIR)
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

var (
	configDirOnce   sync.Once
	configDirCached string

	stateDirOnce   sync.Once
	stateDirCached string
)

// ConfigDir resolves the config directory.
// Priority: TERMLINK_CONFIG_DIR env > ~/.config/termlink/
func ConfigDir() string {
	configDirOnce.Do(func() {
		if env := os.Getenv("TERMLINK_CONFIG_DIR"); env != "" {
			configDirCached = env
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			configDirCached = "."
			return
		}
		configDirCached = filepath.Join(home, ".config", "termlink")
	})
	return configDirCached
}

// StateDir resolves the state directory (token file, session bookkeeping).
// Priority: TERMLINK_STATE_DIR env > ~/.local/state/termlink/
func StateDir() string {
	stateDirOnce.Do(func() {
		if env := os.Getenv("TERMLINK_STATE_DIR"); env != "" {
			stateDirCached = env
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			stateDirCached = "."
			return
		}
		stateDirCached = filepath.Join(home, ".local", "state", "termlink")
	})
	return stateDirCached
}

// ConfigPath returns the full path to config.yaml.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// StatePath returns the full path to a state file (e.g. "token").
func StatePath(filename string) string {
	return filepath.Join(StateDir(), filename)
}

// EnsureStateDir creates the state directory if it doesn't exist and
// returns its path. The token file lives here, so the directory is
// owner-only.
func EnsureStateDir() (string, error) {
	dir := StateDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return dir, nil
}

// ResetForTest clears cached values so tests can re-run resolution logic.
// Only use in tests.
func ResetForTest() {
	configDirOnce = sync.Once{}
	configDirCached = ""
	stateDirOnce = sync.Once{}
	stateDirCached = ""
}
