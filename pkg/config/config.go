package config

import "github.com/b/termlink/pkg/paths"

type Config struct {
	Client Client `yaml:"client"`
	Daemon Daemon `yaml:"daemon"`
}

type Client struct {
	HTTPBase string `yaml:"http_base"` // REST base, e.g. http://127.0.0.1:8377
	WSBase   string `yaml:"ws_base"`   // WebSocket base, e.g. ws://127.0.0.1:8377
	// TokenFile overrides the default token location in the state dir.
	TokenFile string `yaml:"token_file"`
}

type Daemon struct {
	Listen string `yaml:"listen"` // host:port to bind
	Shell  string `yaml:"shell"`  // shell spawned per session ($SHELL when empty)
	// HistoryBytes caps retained scrollback per session. Oldest output is
	// evicted once the budget is exceeded.
	HistoryBytes int    `yaml:"history_bytes"`
	TokenFile    string `yaml:"token_file"`
}

func DefaultConfigPath() string {
	return paths.ConfigPath()
}
