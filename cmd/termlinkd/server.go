package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/b/termlink/pkg/wire"
)

const (
	historyChunkBytes = 64 * 1024
	heartbeatInterval = 5 * time.Second
)

type ServerConfig struct {
	Listen       string
	Shell        string
	HistoryBytes int
	Token        string
}

type Server struct {
	cfg        ServerConfig
	mu         sync.Mutex
	sessions   map[uuid.UUID]*ptySession
	httpServer *http.Server
	upgrader   websocket.Upgrader
	stopCh     chan struct{}
}

// termClient is one attached websocket. Frame writes are serialized by
// mu; seq is the per-connection frame counter.
type termClient struct {
	conn      *websocket.Conn
	sessionID uuid.UUID
	mu        sync.Mutex
	seq       uint64
}

type clientCommand struct {
	Type string `json:"type"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Data string `json:"data,omitempty"`
}

type controlMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type heartbeatMessage struct {
	Type    string           `json:"type"`
	Payload heartbeatPayload `json:"payload"`
}

type heartbeatPayload struct {
	TsMs int64 `json:"ts_ms"`
}

type scrollbackResponse struct {
	Data        string `json:"data"`
	StartOffset uint64 `json:"start_offset"`
	EndOffset   uint64 `json:"end_offset"`
	HasMore     bool   `json:"has_more"`
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*ptySession),
		stopCh:   make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/term/", s.handleTerminal)
	mux.HandleFunc("/ws", s.handleProbe)
	mux.HandleFunc("/api/v1/agents/sessions/", s.handleScrollback)
	return mux
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("http server error: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
	if s.httpServer != nil {
		_ = s.httpServer.Close()
	}
	s.mu.Lock()
	sessions := make([]*ptySession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.Stop()
	}
}

func (s *Server) handleTerminal(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if !s.validateToken(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	rawID := strings.TrimPrefix(r.URL.Path, "/term/")
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	cols := queryInt(r, "cols")
	rows := queryInt(r, "rows")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	sess, err := s.sessionFor(sessionID, cols, rows)
	if err != nil {
		log.Printf("spawn session %s failed: %v", sessionID, err)
		_ = conn.Close()
		return
	}

	client := &termClient{conn: conn, sessionID: sessionID}
	sess.attachReplay(client)

	go s.readLoop(client, sess)
}

func (s *Server) sessionFor(id uuid.UUID, cols, rows int) (*ptySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	sess := newPtySession(id, s.cfg.Shell, s.cfg.HistoryBytes, s.removeSession)
	if err := sess.Start(cols, rows); err != nil {
		return nil, err
	}
	s.sessions[id] = sess
	return sess, nil
}

func (s *Server) removeSession(sess *ptySession) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()
}

func (s *Server) readLoop(client *termClient, sess *ptySession) {
	defer func() {
		sess.detach(client)
		_ = client.conn.Close()
	}()

	for {
		msgType, data, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		switch msgType {
		case websocket.TextMessage:
			s.handleCommand(client, sess, data)
		case websocket.BinaryMessage:
			s.handleInputBytes(client, sess, data)
		}
	}
}

func (s *Server) handleCommand(client *termClient, sess *ptySession, data []byte) {
	var cmd clientCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		client.sendError("bad_command", "malformed command", false)
		return
	}

	switch cmd.Type {
	case "resize":
		sess.Resize(cmd.Cols, cmd.Rows)
	case "input_utf8":
		sess.Write([]byte(cmd.Data))
	default:
		// unknown command types are ignored
	}
}

func (s *Server) handleInputBytes(client *termClient, sess *ptySession, data []byte) {
	if len(data) < 1 || data[0] != wire.InputBytesOpcode {
		client.sendError("bad_frame", "unrecognized binary frame", false)
		return
	}
	sess.Write(data[1:])
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if r.URL.Query().Get("probe") != "1" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("probe upgrade failed: %v", err)
		return
	}

	go func() {
		defer conn.Close()
		// drain so pings and close frames are processed
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		send := func() error {
			msg := heartbeatMessage{
				Type:    "daemon:alive",
				Payload: heartbeatPayload{TsMs: time.Now().UnixMilli()},
			}
			return conn.WriteJSON(msg)
		}
		if err := send(); err != nil {
			return
		}
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := send(); err != nil {
					return
				}
			}
		}
	}()
}

func (s *Server) handleScrollback(w http.ResponseWriter, r *http.Request) {
	if !s.validateToken(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/agents/sessions/")
	rawID, tail, ok := strings.Cut(rest, "/")
	if !ok || tail != "scrollback" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	sessionID, err := uuid.Parse(rawID)
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	sess, found := s.sessions[sessionID]
	s.mu.Unlock()
	if !found {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	maxBytes := 512 * 1024
	if v := queryInt(r, "max_bytes"); v > 0 {
		maxBytes = v
	}
	var before *uint64
	if raw := r.URL.Query().Get("before_offset"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid before_offset", http.StatusBadRequest)
			return
		}
		before = &v
	}

	data, start, end, hasMore := sess.history.SliceBefore(before, maxBytes)
	resp := scrollbackResponse{
		Data:        base64.StdEncoding.EncodeToString(data),
		StartOffset: start,
		EndOffset:   end,
		HasMore:     hasMore,
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) validateToken(r *http.Request) bool {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == s.cfg.Token
	}
	token := r.URL.Query().Get("token")
	return token != "" && token == s.cfg.Token
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := originURL.Hostname()
	if originHost == "" {
		return false
	}
	requestHost, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		requestHost = r.Host
	}
	if originHost == requestHost {
		return true
	}
	if originHost == "localhost" || originHost == "127.0.0.1" {
		return true
	}
	return false
}

func queryInt(r *http.Request, key string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}

func (c *termClient) nextSeq() uint64 {
	c.seq++
	return c.seq
}

func (c *termClient) replayHistory(snapshot []byte) {
	for off := 0; off < len(snapshot); off += historyChunkBytes {
		end := off + historyChunkBytes
		if end > len(snapshot) {
			end = len(snapshot)
		}
		c.sendFrame(wire.KindHistory, snapshot[off:end])
	}
}

func (c *termClient) sendLive(data []byte) {
	c.sendFrame(wire.KindLive, data)
}

func (c *termClient) sendFrame(kind byte, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	frame := wire.Encode(wire.Version, kind, c.sessionID, c.nextSeq(), payload)
	_ = c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *termClient) sendControl(msg controlMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *termClient) sendExit(sessionID string, code int) {
	c.sendControl(controlMessage{Type: "exit", SessionID: sessionID, ExitCode: &code})
}

func (c *termClient) sendError(code, message string, retryable bool) {
	c.sendControl(controlMessage{Type: "error", Code: code, Message: message, Retryable: retryable})
}
