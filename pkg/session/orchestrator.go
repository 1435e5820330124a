// Package session wires one terminal session together: it validates attach
// preconditions, constructs a channel bound to a renderer and paging
// controller, and hands back a single idempotent cleanup function.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/b/termlink/pkg/channel"
	"github.com/b/termlink/pkg/paging"
	"github.com/b/termlink/pkg/wire"
)

// NotAuthenticatedMessage is surfaced when attach is attempted without a
// token. No connection is opened in that case.
const NotAuthenticatedMessage = "Not authenticated: cannot attach to terminal session"

// Status receives user-facing orchestration state. Nil fields are skipped.
type Status struct {
	Loading         func(loading bool)
	ConnectionError func(msg string) // empty string clears the error
}

// Params describes one attach attempt.
type Params struct {
	SessionID  string
	Token      string
	Renderer   paging.Renderer
	Controller *paging.Controller
}

// Orchestrator owns the channel reference for the renderer it serves. One
// orchestrator handles one session slot; a newer Setup replaces the channel
// and invalidates the previous cleanup.
type Orchestrator struct {
	wsBase string
	status Status

	newChannel func(channel.Config, channel.Handlers) *channel.Channel

	mu          sync.Mutex
	channel     *channel.Channel
	firstOutput bool
}

func NewOrchestrator(wsBase string, status Status) *Orchestrator {
	return &Orchestrator{
		wsBase:     wsBase,
		status:     status,
		newChannel: channel.New,
	}
}

// Setup validates preconditions, builds and connects a channel, and returns
// a cleanup closure. It returns nil, with no side effects, when the
// renderer is absent or the session id is empty, and nil with a single
// authentication error report when the token is missing.
func (o *Orchestrator) Setup(p Params) func() {
	if p.Renderer == nil || p.SessionID == "" {
		return nil
	}
	if p.Token == "" {
		o.setLoading(false)
		o.reportError(NotAuthenticatedMessage)
		return nil
	}

	o.setLoading(true)
	o.reportError("")
	o.mu.Lock()
	o.firstOutput = false
	o.mu.Unlock()

	cfg := channel.Config{
		WSBase:    o.wsBase,
		SessionID: p.SessionID,
		Token:     p.Token,
	}
	if cols, rows := p.Renderer.Size(); cols > 0 && rows > 0 {
		cfg.Cols = cols
		cfg.Rows = rows
	}

	ch := o.newChannel(cfg, o.buildHandlers(p))

	o.mu.Lock()
	o.channel = ch
	o.mu.Unlock()

	go func() {
		if err := ch.Connect(context.Background()); err != nil {
			// Same path as a mid-session drop: show as reconnect-pending.
			o.setLoading(true)
			if p.Controller != nil {
				p.Controller.Reset()
			}
		}
	}()

	return func() {
		o.mu.Lock()
		if o.channel != ch {
			// A newer Setup owns the slot; stale cleanup must not touch it.
			o.mu.Unlock()
			return
		}
		o.channel = nil
		o.mu.Unlock()
		ch.Disconnect()
	}
}

func (o *Orchestrator) buildHandlers(p Params) channel.Handlers {
	return channel.Handlers{
		ConnectionChange: func(connected bool) {
			if connected {
				return
			}
			if ch := o.Channel(); ch != nil {
				if code, reason := ch.CloseStatus(); code != 0 {
					log.Printf("session %s: channel closed: code=%d reason=%q", p.SessionID, code, reason)
				}
			}
			o.setLoading(true)
			if p.Controller != nil {
				p.Controller.Reset()
			}
		},
		Ready: func(sessionID string) {
			if sessionID != p.SessionID {
				return
			}
			p.Renderer.Reset()
			p.Renderer.Focus()
			o.reportError("")
			if cols, rows := p.Renderer.Size(); cols > 0 && rows > 0 {
				o.sendResize(cols, rows)
			}
		},
		Output: func(frame *wire.Frame) {
			if frame.SessionID != p.SessionID {
				return
			}
			o.mu.Lock()
			first := !o.firstOutput
			o.firstOutput = true
			o.mu.Unlock()
			if first {
				o.setLoading(false)
			}
			if p.Controller != nil {
				p.Controller.CheckSequence(frame.Seq)
				p.Controller.ProcessFrame(frame.Kind, frame.Payload)
			}
		},
		Exit: func(sessionID string, exitCode int) {
			if sessionID != p.SessionID {
				return
			}
			o.reportError(fmt.Sprintf("Process exited (code %d).", exitCode))
		},
		ProtocolError: func(code, message string) {
			if p.Controller != nil {
				p.Controller.Reset()
			}
			o.reportError(message)
			line := fmt.Sprintf("\r\n\x1b[31m[%s] %s\x1b[0m\r\n", code, message)
			p.Renderer.Write([]byte(line), nil)
		},
	}
}

// sendResize forwards dimensions to the current channel, if any.
func (o *Orchestrator) sendResize(cols, rows int) {
	o.mu.Lock()
	ch := o.channel
	o.mu.Unlock()
	if ch != nil {
		ch.SendResize(cols, rows)
	}
}

// Channel exposes the live channel for input forwarding; nil when no
// session is attached.
func (o *Orchestrator) Channel() *channel.Channel {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.channel
}

func (o *Orchestrator) setLoading(loading bool) {
	if o.status.Loading != nil {
		o.status.Loading(loading)
	}
}

func (o *Orchestrator) reportError(msg string) {
	if o.status.ConnectionError != nil {
		o.status.ConnectionError(msg)
	}
}
