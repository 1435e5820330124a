package paging

import (
	"bytes"
	"sync"
	"testing"

	"github.com/b/termlink/pkg/wire"
)

// mockRenderer logs writes and lets the test decide when history
// completions fire.
type mockRenderer struct {
	mu      sync.Mutex
	writes  [][]byte
	pending []func()
	resets  int
	focuses int
}

func (m *mockRenderer) Write(p []byte, done func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	m.writes = append(m.writes, buf)
	if done != nil {
		m.pending = append(m.pending, done)
	}
}

func (m *mockRenderer) Reset()           { m.mu.Lock(); m.resets++; m.mu.Unlock() }
func (m *mockRenderer) Focus()           { m.mu.Lock(); m.focuses++; m.mu.Unlock() }
func (m *mockRenderer) Size() (int, int) { return 80, 24 }

func (m *mockRenderer) completeNext(t *testing.T) {
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		t.Fatalf("no pending history completion")
	}
	done := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()
	done()
}

func (m *mockRenderer) writeLog() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

func TestLiveWritesPassThrough(t *testing.T) {
	r := &mockRenderer{}
	c := NewController(r)

	c.ProcessFrame(wire.KindLive, []byte("a"))
	c.ProcessFrame(wire.KindLive, []byte("b"))

	log := r.writeLog()
	if len(log) != 2 || string(log[0]) != "a" || string(log[1]) != "b" {
		t.Fatalf("unexpected write log: %q", log)
	}
	if c.InputSuppressed() {
		t.Fatal("live writes must not suppress input")
	}
}

func TestLiveFramesQueueBehindHistoryWrite(t *testing.T) {
	r := &mockRenderer{}
	c := NewController(r)

	c.ProcessFrame(wire.KindHistory, []byte("h1"))
	if !c.InputSuppressed() {
		t.Fatal("input should be suppressed during history replay")
	}

	c.ProcessFrame(wire.KindLive, []byte("l1"))
	c.ProcessFrame(wire.KindLive, []byte("l2"))

	if got := r.writeLog(); len(got) != 1 {
		t.Fatalf("expected only the history write before completion, got %q", got)
	}

	r.completeNext(t)

	log := r.writeLog()
	want := []string{"h1", "l1", "l2"}
	if len(log) != len(want) {
		t.Fatalf("expected %d writes, got %q", len(want), log)
	}
	for i, w := range want {
		if string(log[i]) != w {
			t.Fatalf("write %d: got %q, want %q", i, log[i], w)
		}
	}
	if c.InputSuppressed() {
		t.Fatal("input suppression should clear after replay drains")
	}
}

func TestQueuedHistoryFrameReplaysInOrder(t *testing.T) {
	r := &mockRenderer{}
	c := NewController(r)

	c.ProcessFrame(wire.KindHistory, []byte("h1"))
	c.ProcessFrame(wire.KindHistory, []byte("h2"))
	c.ProcessFrame(wire.KindLive, []byte("l1"))

	r.completeNext(t) // h1 done; h2 starts its own write, l1 re-queues
	r.completeNext(t) // h2 done; l1 drains

	log := r.writeLog()
	want := []string{"h1", "h2", "l1"}
	if len(log) != len(want) {
		t.Fatalf("expected %d writes, got %q", len(want), log)
	}
	for i, w := range want {
		if string(log[i]) != w {
			t.Fatalf("write %d: got %q, want %q", i, log[i], w)
		}
	}
}

func TestQueuedFramesAreIndependentCopies(t *testing.T) {
	r := &mockRenderer{}
	c := NewController(r)

	buf := []byte("live")
	c.ProcessFrame(wire.KindHistory, []byte("h"))
	c.ProcessFrame(wire.KindLive, buf)
	copy(buf, "XXXX") // caller reuses its buffer

	r.completeNext(t)

	log := r.writeLog()
	if string(log[1]) != "live" {
		t.Fatalf("queued frame aliased the caller's buffer: %q", log[1])
	}
}

func TestQueueCoalescesAtCap(t *testing.T) {
	r := &mockRenderer{}
	c := NewController(r)

	c.ProcessFrame(wire.KindHistory, []byte("h"))

	var want bytes.Buffer
	for i := 0; i < maxQueuedFrames+100; i++ {
		c.ProcessFrame(wire.KindLive, []byte{byte(i)})
		want.WriteByte(byte(i))
	}

	c.mu.Lock()
	queueLen := len(c.queued)
	c.mu.Unlock()
	if queueLen > maxQueuedFrames {
		t.Fatalf("queue grew past cap: %d entries", queueLen)
	}

	r.completeNext(t)

	var got bytes.Buffer
	for _, w := range r.writeLog()[1:] {
		got.Write(w)
	}
	if !bytes.Equal(got.Bytes(), want.Bytes()) {
		t.Fatalf("coalescing changed the byte stream: %d bytes vs %d", got.Len(), want.Len())
	}
}

func TestCheckSequenceAdvances(t *testing.T) {
	c := NewController(&mockRenderer{})
	c.CheckSequence(5)
	c.CheckSequence(5)
	c.CheckSequence(3) // regression: diagnostic only, lastSeq holds
	c.CheckSequence(9)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastSeq != 9 {
		t.Fatalf("lastSeq = %d, want 9", c.lastSeq)
	}
}

func TestResetClearsTransientState(t *testing.T) {
	r := &mockRenderer{}
	c := NewController(r)

	c.ProcessFrame(wire.KindHistory, []byte("h"))
	c.ProcessFrame(wire.KindLive, []byte("l"))
	c.CheckSequence(10)
	c.Reset()

	if c.InputSuppressed() {
		t.Fatal("reset should clear suppression")
	}

	// The stale completion must not clear flags set by a later write.
	c.ProcessFrame(wire.KindHistory, []byte("h2"))
	r.completeNext(t) // stale completion from before Reset
	if !c.InputSuppressed() {
		t.Fatal("stale history completion leaked across Reset")
	}
	r.completeNext(t)
	if c.InputSuppressed() {
		t.Fatal("post-reset write never completed")
	}

	// Reset must also forget the sequence watermark.
	c.mu.Lock()
	haveSeq := c.haveSeq
	c.mu.Unlock()
	if haveSeq {
		t.Fatal("reset should clear the sequence watermark")
	}
}

func TestDisposeIsTerminalAndIdempotent(t *testing.T) {
	r := &mockRenderer{}
	c := NewController(r)

	c.ProcessFrame(wire.KindHistory, []byte("h"))
	c.Dispose()
	c.Dispose()

	if c.InputSuppressed() {
		t.Fatal("dispose should leave input unsuppressed")
	}

	c.ProcessFrame(wire.KindLive, []byte("late"))
	if got := r.writeLog(); len(got) != 1 {
		t.Fatalf("write after dispose reached the renderer: %q", got)
	}

	c.SetRenderer(r)
	c.ProcessFrame(wire.KindLive, []byte("later"))
	if got := r.writeLog(); len(got) != 1 {
		t.Fatalf("rebind after dispose must not revive the controller: %q", got)
	}
}
