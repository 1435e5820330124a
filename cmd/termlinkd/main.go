package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/b/termlink/pkg/authtoken"
	"github.com/b/termlink/pkg/config"
	"github.com/b/termlink/pkg/paths"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: ~/.config/termlink/config.yaml)")
	listen := flag.String("listen", "", "host:port to bind (overrides config)")
	shell := flag.String("shell", "", "shell to spawn per session (overrides config)")
	regenerateToken := flag.Bool("regenerate-token", false, "regenerate auth token on startup")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// first run: write the resolved defaults so there is a file to edit
	if *configPath == "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.MkdirAll(paths.ConfigDir(), 0o755); err != nil {
				log.Printf("could not create config dir: %v", err)
			} else if err := config.SaveConfig(path, cfg); err != nil {
				log.Printf("could not write default config: %v", err)
			}
		}
	}

	if *listen != "" {
		cfg.Daemon.Listen = *listen
	}
	if *shell != "" {
		cfg.Daemon.Shell = *shell
	}

	if _, err := paths.EnsureStateDir(); err != nil {
		log.Fatalf("failed to create state dir: %v", err)
	}

	var token string
	if *regenerateToken {
		token, err = authtoken.Regenerate(cfg.Daemon.TokenFile)
	} else {
		token, err = authtoken.LoadOrGenerate(cfg.Daemon.TokenFile)
	}
	if err != nil {
		log.Fatalf("failed to load token: %v", err)
	}

	server := NewServer(ServerConfig{
		Listen:       cfg.Daemon.Listen,
		Shell:        cfg.Daemon.Shell,
		HistoryBytes: cfg.Daemon.HistoryBytes,
		Token:        token,
	})

	if err := server.Start(); err != nil {
		log.Fatalf("server failed to start: %v", err)
	}
	log.Printf("termlinkd listening on %s", cfg.Daemon.Listen)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	server.Stop()
}
