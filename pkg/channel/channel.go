// Package channel manages exactly one WebSocket bound to one terminal
// session: it builds the connection URL, classifies incoming messages
// (binary output frames vs. JSON control messages), exposes typed send
// operations, and reports connection state to a handler set.
//
// A Channel is created per attach attempt and never reused across
// sessions. It performs no reconnection itself; that is the caller's
// concern.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/b/termlink/pkg/wire"
)

// State is the connection lifecycle, owned exclusively by the Channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Control message types sent by the daemon. The set is closed: anything
// else is counted as ignored rather than silently swallowed in a default
// branch.
const (
	msgReady = "ready"
	msgExit  = "exit"
	msgError = "error"
)

type controlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ExitCode  *int   `json:"exit_code"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Outbound client commands, mirrored from the daemon's terminal endpoint.
type resizeCommand struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

type inputUTF8Command struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// Handlers receives channel events. Nil fields are skipped. All callbacks
// fire from the channel's read goroutine (or, for ConnectionChange on
// Disconnect, from the caller's goroutine), never concurrently with each
// other for output/control events.
type Handlers struct {
	ConnectionChange func(connected bool)
	Ready            func(sessionID string)
	Output           func(frame *wire.Frame)
	Exit             func(sessionID string, exitCode int)
	ProtocolError    func(code, message string)
}

// Config describes the endpoint for one session.
type Config struct {
	WSBase    string // e.g. "ws://127.0.0.1:8377"
	SessionID string
	Token     string
	Cols      int // forwarded only if > 0
	Rows      int // forwarded only if > 0
}

// Channel owns one WebSocket for one session.
type Channel struct {
	cfg      Config
	handlers Handlers

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	closeCode    int
	closeReason  string
	reportedDown bool
	ignoredMsgs  int
}

func New(cfg Config, handlers Handlers) *Channel {
	return &Channel{cfg: cfg, handlers: handlers, state: StateDisconnected}
}

// BuildURL assembles the terminal endpoint URL:
// {wsBase}/term/{sessionID}?token={token}[&cols=N][&rows=N].
func BuildURL(cfg Config) string {
	q := url.Values{}
	q.Set("token", cfg.Token)
	if cfg.Cols > 0 {
		q.Set("cols", fmt.Sprintf("%d", cfg.Cols))
	}
	if cfg.Rows > 0 {
		q.Set("rows", fmt.Sprintf("%d", cfg.Rows))
	}
	return fmt.Sprintf("%s/term/%s?%s", cfg.WSBase, url.PathEscape(cfg.SessionID), q.Encode())
}

// Connect dials the session endpoint and starts the read loop. On success
// the handler set observes ConnectionChange(true).
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("channel: connect in state %s", state)
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, BuildURL(c.cfg), nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("channel: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.reportedDown = false
	c.mu.Unlock()

	if c.handlers.ConnectionChange != nil {
		c.handlers.ConnectionChange(true)
	}

	go c.readLoop(conn)
	return nil
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CloseStatus returns the close code and reason after the socket closed.
func (c *Channel) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	defer c.markDisconnected()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ce, ok := err.(*websocket.CloseError); ok {
				c.mu.Lock()
				c.closeCode = ce.Code
				c.closeReason = ce.Text
				c.mu.Unlock()
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.handleBinary(data)
		case websocket.TextMessage:
			c.handleText(data)
		}
	}
}

// handleBinary decodes an output frame. Corrupt frames are transient noise:
// they are dropped with no handler call and must never take the session
// down.
func (c *Channel) handleBinary(data []byte) {
	frame, err := wire.Decode(data)
	if err != nil {
		return
	}
	if c.handlers.Output != nil {
		c.handlers.Output(frame)
	}
}

func (c *Channel) handleText(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}

	switch msg.Type {
	case msgReady:
		if msg.SessionID == "" {
			return
		}
		if c.handlers.Ready != nil {
			c.handlers.Ready(msg.SessionID)
		}
	case msgExit:
		if msg.SessionID == "" || msg.ExitCode == nil {
			return
		}
		if c.handlers.Exit != nil {
			c.handlers.Exit(msg.SessionID, *msg.ExitCode)
		}
	case msgError:
		if msg.Message == "" {
			return
		}
		if c.handlers.ProtocolError != nil {
			c.handlers.ProtocolError(msg.Code, msg.Message)
		}
	default:
		c.mu.Lock()
		c.ignoredMsgs++
		c.mu.Unlock()
	}
}

// IgnoredMessages counts control messages with unrecognized types.
func (c *Channel) IgnoredMessages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ignoredMsgs
}

// SendInputUTF8 sends text input. Returns false, writing nothing, when the
// socket is not open: callers treat that as "accepted but dropped".
func (c *Channel) SendInputUTF8(text string) bool {
	return c.writeJSON(inputUTF8Command{Type: "input_utf8", Data: text})
}

// SendInputBytes sends raw input bytes as a binary message prefixed with
// the input opcode.
func (c *Channel) SendInputBytes(data []byte) bool {
	return c.write(websocket.BinaryMessage, wire.EncodeInput(data))
}

// SendResize reports new terminal dimensions.
func (c *Channel) SendResize(cols, rows int) bool {
	return c.writeJSON(resizeCommand{Type: "resize", Cols: cols, Rows: rows})
}

func (c *Channel) writeJSON(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Channel) write(msgType int, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.conn == nil {
		return false
	}
	return c.conn.WriteMessage(msgType, data) == nil
}

// Disconnect closes the socket and immediately reports the connection as
// down. Idempotent: a second call is a no-op. The channel ends in
// StateClosed and cannot be redialed.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateClosed
	alreadyDown := c.reportedDown
	c.reportedDown = true
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !alreadyDown && c.handlers.ConnectionChange != nil {
		c.handlers.ConnectionChange(false)
	}
}

func (c *Channel) markDisconnected() {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
	alreadyDown := c.reportedDown
	c.reportedDown = true
	c.mu.Unlock()

	if !alreadyDown && c.handlers.ConnectionChange != nil {
		c.handlers.ConnectionChange(false)
	}
}
