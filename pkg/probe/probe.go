// Package probe implements a best-effort daemon reachability check: a
// lightweight WebSocket that expects periodic daemon:alive heartbeats and
// manages its own reconnect backoff, independent of any terminal channel.
package probe

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultHeartbeatTimeout tolerates two missed beats at the daemon's
	// 5s cadence.
	DefaultHeartbeatTimeout = 15 * time.Second
	DefaultReconnectDelay   = 5 * time.Second

	aliveType = "daemon:alive"
)

// Config describes one probe target. OnChange fires on availability
// transitions only, from the probe's goroutine.
type Config struct {
	WSBase           string
	HeartbeatTimeout time.Duration
	ReconnectDelay   time.Duration
	OnChange         func(available bool)
}

// Prober watches a single daemon. Dial errors, socket closes, and
// heartbeat silence all degrade to "unavailable" and a scheduled retry;
// none of them propagate.
type Prober struct {
	cfg Config

	mu        sync.Mutex
	conn      *websocket.Conn
	available bool
	stopped   bool
	stopCh    chan struct{}
}

func New(cfg Config) *Prober {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	return &Prober{cfg: cfg, stopCh: make(chan struct{})}
}

// Start launches the probe loop. Call Stop to tear it down.
func (p *Prober) Start() {
	go p.run()
}

// Available reports the last observed daemon reachability.
func (p *Prober) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// Stop halts probing and marks the daemon unavailable. Idempotent.
func (p *Prober) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	p.setAvailable(false)
}

func (p *Prober) run() {
	for {
		if p.isStopped() {
			return
		}
		p.probeOnce()
		p.setAvailable(false)

		select {
		case <-p.stopCh:
			return
		case <-time.After(p.cfg.ReconnectDelay):
		}
	}
}

// probeOnce dials the probe endpoint and consumes heartbeats until the
// socket dies or falls silent past the timeout window.
func (p *Prober) probeOnce() {
	url := fmt.Sprintf("%s/ws?probe=1", p.cfg.WSBase)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return
	}

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		_ = conn.Close()
		return
	}
	p.conn = conn
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		p.mu.Unlock()
		_ = conn.Close()
	}()

	p.setAvailable(true)

	// Only a daemon:alive message extends the deadline; unrecognized or
	// malformed messages are ignored and do not count as signs of life.
	_ = conn.SetReadDeadline(time.Now().Add(p.cfg.HeartbeatTimeout))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == aliveType {
			_ = conn.SetReadDeadline(time.Now().Add(p.cfg.HeartbeatTimeout))
		}
	}
}

func (p *Prober) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *Prober) setAvailable(available bool) {
	p.mu.Lock()
	changed := p.available != available
	p.available = available
	p.mu.Unlock()

	if changed && p.cfg.OnChange != nil {
		p.cfg.OnChange(available)
	}
}
