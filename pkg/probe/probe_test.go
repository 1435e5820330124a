package probe

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// heartbeatServer speaks the probe endpoint and sends whatever the test
// pushes through beats.
type heartbeatServer struct {
	srv   *httptest.Server
	beats chan string

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newHeartbeatServer(t *testing.T) *heartbeatServer {
	t.Helper()
	h := &heartbeatServer{beats: make(chan string, 16)}
	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("probe") != "1" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.mu.Lock()
		h.conns = append(h.conns, conn)
		h.mu.Unlock()
		for beat := range h.beats {
			if conn.WriteMessage(websocket.TextMessage, []byte(beat)) != nil {
				return
			}
		}
	}))
	return h
}

func (h *heartbeatServer) wsBase() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *heartbeatServer) closeConns() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.conns {
		_ = c.Close()
	}
	h.conns = nil
}

func waitAvail(t *testing.T, p *Prober, want bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if p.Available() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("availability never reached %v", want)
}

func TestProbeBecomesAvailableOnOpen(t *testing.T) {
	h := newHeartbeatServer(t)
	defer h.srv.Close()
	defer close(h.beats)

	p := New(Config{
		WSBase:           h.wsBase(),
		HeartbeatTimeout: 500 * time.Millisecond,
		ReconnectDelay:   50 * time.Millisecond,
	})
	p.Start()
	defer p.Stop()

	waitAvail(t, p, true)
}

func TestProbeFlipsFalseWithoutHeartbeat(t *testing.T) {
	h := newHeartbeatServer(t)
	defer h.srv.Close()
	defer close(h.beats)

	p := New(Config{
		WSBase:           h.wsBase(),
		HeartbeatTimeout: 150 * time.Millisecond,
		ReconnectDelay:   time.Hour, // keep it down once it drops
	})
	p.Start()
	defer p.Stop()

	waitAvail(t, p, true)
	// Unrecognized and malformed messages must not extend the window.
	h.beats <- `{"type":"something:else"}`
	h.beats <- `garbage`
	waitAvail(t, p, false)
}

func TestProbeStaysUpOnHeartbeats(t *testing.T) {
	h := newHeartbeatServer(t)
	defer h.srv.Close()
	defer close(h.beats)

	p := New(Config{
		WSBase:           h.wsBase(),
		HeartbeatTimeout: 200 * time.Millisecond,
		ReconnectDelay:   50 * time.Millisecond,
	})
	p.Start()
	defer p.Stop()

	waitAvail(t, p, true)
	for i := 0; i < 4; i++ {
		h.beats <- `{"type":"daemon:alive","payload":{"ts_ms":1}}`
		time.Sleep(100 * time.Millisecond)
		if !p.Available() {
			t.Fatal("probe dropped despite live heartbeats")
		}
	}
}

func TestProbeReconnectsAfterClose(t *testing.T) {
	h := newHeartbeatServer(t)
	defer h.srv.Close()
	defer close(h.beats)

	var mu sync.Mutex
	var transitions []bool
	p := New(Config{
		WSBase:           h.wsBase(),
		HeartbeatTimeout: time.Second,
		ReconnectDelay:   50 * time.Millisecond,
		OnChange: func(up bool) {
			mu.Lock()
			transitions = append(transitions, up)
			mu.Unlock()
		},
	})
	p.Start()
	defer p.Stop()

	waitAvail(t, p, true)
	h.closeConns()
	waitAvail(t, p, false)
	waitAvail(t, p, true)

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) < 3 || !transitions[0] || transitions[1] || !transitions[2] {
		t.Fatalf("expected up/down/up transitions, got %v", transitions)
	}
}

func TestProbeUnreachableHost(t *testing.T) {
	p := New(Config{
		WSBase:           "ws://127.0.0.1:1",
		HeartbeatTimeout: 100 * time.Millisecond,
		ReconnectDelay:   50 * time.Millisecond,
	})
	p.Start()
	defer p.Stop()

	time.Sleep(200 * time.Millisecond)
	if p.Available() {
		t.Fatal("unreachable daemon must read as unavailable")
	}
}

func TestProbeStopIsIdempotent(t *testing.T) {
	p := New(Config{WSBase: "ws://127.0.0.1:1"})
	p.Start()
	p.Stop()
	p.Stop()
	if p.Available() {
		t.Fatal("stopped probe must report unavailable")
	}
}
