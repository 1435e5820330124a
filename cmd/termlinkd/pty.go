package main

import (
	"log"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// ptySession owns one shell process behind a PTY, its retained output,
// and the set of attached websocket clients.
type ptySession struct {
	id      uuid.UUID
	shell   string
	cmd     *exec.Cmd
	ptmx    *os.File
	history *historyRing

	// streamMu orders output delivery: ingest holds it across
	// append+broadcast, attachReplay across snapshot+replay+register. A
	// byte is therefore either in a client's replayed snapshot or in a
	// later live frame, never both, and never live before the replay.
	streamMu sync.Mutex

	mu       sync.Mutex
	clients  map[*termClient]struct{}
	exited   bool
	exitCode int

	stopOnce sync.Once
	onExit   func(*ptySession)
}

func newPtySession(id uuid.UUID, shell string, historyBudget int, onExit func(*ptySession)) *ptySession {
	return &ptySession{
		id:      id,
		shell:   shell,
		history: newHistoryRing(historyBudget),
		clients: make(map[*termClient]struct{}),
		onExit:  onExit,
	}
}

func (s *ptySession) Start(cols, rows int) error {
	s.cmd = exec.Command(s.shell)
	s.cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	size := &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}
	if cols <= 0 || rows <= 0 {
		size = &pty.Winsize{Cols: 80, Rows: 24}
	}
	ptmx, err := pty.StartWithSize(s.cmd, size)
	if err != nil {
		return err
	}
	s.ptmx = ptmx

	go s.readLoop()
	return nil
}

func (s *ptySession) readLoop() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.ingest(buf[:n])
		}
		if err != nil {
			break
		}
	}

	code := 0
	if err := s.cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}

	s.mu.Lock()
	s.exited = true
	s.exitCode = code
	clients := make([]*termClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	log.Printf("session %s exited with code %d", s.id, code)
	for _, c := range clients {
		c.sendExit(s.id.String(), code)
	}
	if s.onExit != nil {
		s.onExit(s)
	}
}

// ingest records one chunk of PTY output and fans it out as live frames.
func (s *ptySession) ingest(data []byte) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	s.history.Append(data)

	s.mu.Lock()
	clients := make([]*termClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.sendLive(data)
	}
}

// attachReplay sends ready, replays the retained snapshot as history
// frames, and registers c for live output. Holding the stream lock across
// all three keeps replay strictly before any live frame and free of
// duplicated bytes.
func (s *ptySession) attachReplay(c *termClient) {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()

	c.sendControl(controlMessage{Type: "ready", SessionID: s.id.String()})
	c.replayHistory(s.history.Snapshot())

	s.mu.Lock()
	s.clients[c] = struct{}{}
	exited, code := s.exited, s.exitCode
	s.mu.Unlock()

	if exited {
		c.sendExit(s.id.String(), code)
	}
}

func (s *ptySession) detach(c *termClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *ptySession) Write(data []byte) {
	if len(data) == 0 {
		return
	}
	if _, err := s.ptmx.Write(data); err != nil {
		log.Printf("session %s pty write failed: %v", s.id, err)
	}
}

func (s *ptySession) Resize(cols, rows int) {
	if cols <= 0 || rows <= 0 {
		return
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}); err != nil {
		log.Printf("session %s resize failed: %v", s.id, err)
	}
}

func (s *ptySession) Stop() {
	s.stopOnce.Do(func() {
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		if s.ptmx != nil {
			_ = s.ptmx.Close()
		}
	})
}
