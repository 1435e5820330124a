package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/b/termlink/pkg/authtoken"
	"github.com/b/termlink/pkg/config"
	"github.com/b/termlink/pkg/paging"
	"github.com/b/termlink/pkg/probe"
	"github.com/b/termlink/pkg/scrollback"
	"github.com/b/termlink/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: ~/.config/termlink/config.yaml)")
	sessionFlag := flag.String("session", "", "session id (new uuid when empty)")
	tokenFile := flag.String("token-file", "", "token file path (overrides config)")
	dumpScrollback := flag.Bool("scrollback", false, "dump retained scrollback and exit")
	maxBytes := flag.Int("max-bytes", scrollback.DefaultMaxBytes, "scrollback page size in bytes")
	flag.Parse()

	initColorProfile()

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	tokenPath := *tokenFile
	if tokenPath == "" {
		tokenPath = cfg.Client.TokenFile
	}
	token, err := authtoken.Load(tokenPath)
	if err != nil {
		log.Fatalf("failed to load token (is termlinkd running?): %v", err)
	}

	sessionID := *sessionFlag
	if sessionID == "" {
		sessionID = uuid.New().String()
	} else if _, err := uuid.Parse(sessionID); err != nil {
		log.Fatalf("invalid session id %q: %v", sessionID, err)
	}

	if *dumpScrollback {
		if err := doScrollback(cfg.Client.HTTPBase, token, sessionID, *maxBytes); err != nil {
			log.Fatalf("scrollback fetch failed: %v", err)
		}
		return
	}

	doAttach(cfg, tokenPath, token, sessionID)
}

func doScrollback(httpBase, token, sessionID string, maxBytes int) error {
	client := scrollback.NewClient(httpBase, token)
	client.SetMaxBytes(maxBytes)

	ctx := context.Background()
	if err := client.FetchInitial(ctx, sessionID); err != nil {
		return err
	}
	for client.HasMore() {
		if err := client.FetchMore(ctx); err != nil {
			return err
		}
	}
	for _, page := range client.Pages() {
		_, _ = os.Stdout.Write(page.Data)
	}
	return nil
}

// doAttach connects the terminal to a daemon session and blocks until the
// user detaches (Ctrl-]) or the remote process exits.
func doAttach(cfg *config.Config, tokenPath, token, sessionID string) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		log.Fatalf("cannot set raw mode: %v", err)
	}
	var restoreOnce sync.Once
	restore := func() {
		restoreOnce.Do(func() { _ = term.Restore(fd, oldState) })
	}
	defer restore()

	renderer := newTTYRenderer()
	ctrl := paging.NewController(renderer)

	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }

	printBanner(fmt.Sprintf("[termlink] attaching to %s  (detach: Ctrl-])", sessionID), renderer.width())

	orch := session.NewOrchestrator(cfg.Client.WSBase, session.Status{
		Loading: func(loading bool) {
			if loading {
				printSubtle("[termlink] connecting...", renderer.width())
			}
		},
		ConnectionError: func(msg string) {
			if msg == "" {
				return
			}
			printError("[termlink] "+msg, renderer.width())
			if strings.HasPrefix(msg, "Process exited") {
				finish()
			}
		},
	})

	params := session.Params{
		SessionID:  sessionID,
		Token:      token,
		Renderer:   renderer,
		Controller: ctrl,
	}
	var cleanupMu sync.Mutex
	cleanup := orch.Setup(params)
	if cleanup == nil {
		restore()
		log.Fatalf("attach setup failed")
	}

	// availability banner for the period before/if the daemon drops
	prober := probe.New(probe.Config{
		WSBase: cfg.Client.WSBase,
		OnChange: func(available bool) {
			if available {
				printSubtle("[termlink] daemon reachable", renderer.width())
			} else {
				printError("[termlink] daemon unreachable", renderer.width())
			}
		},
	})
	prober.Start()
	defer prober.Stop()

	// pick up token rotation without requiring a manual reattach
	watcher, err := authtoken.Watch(tokenPath)
	if err == nil {
		defer watcher.Close()
		go func() {
			for newToken := range watcher.Changes() {
				printSubtle("[termlink] token rotated, reconnecting", renderer.width())
				cleanupMu.Lock()
				if cleanup != nil {
					cleanup()
				}
				params.Token = newToken
				cleanup = orch.Setup(params)
				cleanupMu.Unlock()
			}
		}()
	}

	// stdin → input bytes; Ctrl-] detaches
	go func() {
		pump := &inputPump{
			suppressed: ctrl.InputSuppressed,
			send: func(data []byte) bool {
				ch := orch.Channel()
				return ch != nil && ch.SendInputBytes(data)
			},
		}
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if pump.feed(buf[:n]) {
					finish()
					return
				}
			}
			if err != nil {
				finish()
				return
			}
		}
	}()

	// forward terminal resizes
	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	go func() {
		for range winchCh {
			cols, rows, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			if ch := orch.Channel(); ch != nil {
				ch.SendResize(cols, rows)
			}
		}
	}()

	<-done
	signal.Stop(winchCh)
	cleanupMu.Lock()
	if cleanup != nil {
		cleanup()
	}
	cleanupMu.Unlock()
	ctrl.Dispose()

	restore()
	fmt.Fprintf(os.Stdout, "\n[termlink] detached from %s\n", sessionID)
}
