// Package paging reconciles the two output streams of a terminal session,
// buffered history replay and live output, into a single correctly ordered
// byte stream for a renderer.
//
// History writes complete asynchronously. Any frame that arrives while a
// history write is in flight is queued and replayed in arrival order once
// the write completes, so the renderer never observes history and live
// bytes interleaved out of order.
package paging

import (
	"log"
	"sync"

	"github.com/b/termlink/pkg/wire"
)

// Renderer is the terminal surface the controller writes to. Write must
// deliver bytes in call order and invoke done (if non-nil) once the bytes
// have been applied; done may fire from any goroutine.
type Renderer interface {
	Write(p []byte, done func())
	Reset()
	Focus()
	Size() (cols, rows int)
}

// maxQueuedFrames bounds queue bookkeeping during a slow history replay.
// Once reached, adjacent live frames are coalesced instead of appended:
// every queued frame is part of the same ordered byte stream, so merging
// neighbors preserves it exactly. Bytes are never dropped; dropping PTY
// output would corrupt the renderer.
const maxQueuedFrames = 256

type queuedFrame struct {
	kind byte
	data []byte
}

// Controller owns one renderer binding and the replay-ordering state for
// one session stream. Create it once per renderer lifetime; Reset clears
// transient state on reconnect, Dispose severs the renderer for good.
type Controller struct {
	mu sync.Mutex

	renderer Renderer
	disposed bool

	historyWriteInProgress bool
	suppressInput          bool
	queued                 []queuedFrame

	lastSeq  uint64
	haveSeq  bool
	writeGen uint64 // invalidates in-flight history completions across Reset/Dispose
}

func NewController(r Renderer) *Controller {
	return &Controller{renderer: r}
}

// SetRenderer rebinds the controller to a new renderer instance.
func (c *Controller) SetRenderer(r Renderer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	c.renderer = r
}

// ProcessFrame routes one decoded output frame to the renderer, queuing it
// if a history write is still in flight.
func (c *Controller) ProcessFrame(kind byte, data []byte) {
	c.mu.Lock()
	if c.disposed || c.renderer == nil {
		c.mu.Unlock()
		return
	}

	if c.historyWriteInProgress {
		c.enqueueLocked(kind, data)
		c.mu.Unlock()
		return
	}

	if kind == wire.KindHistory {
		c.historyWriteInProgress = true
		c.suppressInput = true
		gen := c.writeGen
		r := c.renderer
		c.mu.Unlock()
		r.Write(data, func() { c.completeHistoryWrite(gen) })
		return
	}

	r := c.renderer
	c.mu.Unlock()
	r.Write(data, nil)
}

// enqueueLocked appends an independent copy of the frame bytes; the source
// buffer may be reused by the caller before the queue drains.
func (c *Controller) enqueueLocked(kind byte, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	if n := len(c.queued); n >= maxQueuedFrames && kind == wire.KindLive {
		if last := &c.queued[n-1]; last.kind == wire.KindLive {
			last.data = append(last.data, buf...)
			return
		}
	}
	c.queued = append(c.queued, queuedFrame{kind: kind, data: buf})
}

func (c *Controller) completeHistoryWrite(gen uint64) {
	c.mu.Lock()
	if c.disposed || gen != c.writeGen {
		c.mu.Unlock()
		return
	}
	c.historyWriteInProgress = false
	c.suppressInput = false
	queued := c.queued
	c.queued = nil
	c.mu.Unlock()

	for _, f := range queued {
		c.ProcessFrame(f.kind, f.data)
	}
}

// CheckSequence flags sequence regressions. They are advisory only: the
// client cannot request retransmission, so rendering continues regardless.
func (c *Controller) CheckSequence(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.haveSeq && seq < c.lastSeq {
		log.Printf("paging: sequence regression: previous=%d current=%d", c.lastSeq, seq)
		return
	}
	c.lastSeq = seq
	c.haveSeq = true
}

// InputSuppressed reports whether user keystrokes should be held back
// while a history replay is being written.
func (c *Controller) InputSuppressed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressInput
}

// Reset clears all transient state. Used on reconnect; the renderer
// binding survives.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// Dispose resets and drops the renderer reference. Terminal: every later
// ProcessFrame call is a no-op.
func (c *Controller) Dispose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	c.renderer = nil
	c.disposed = true
}

func (c *Controller) resetLocked() {
	c.historyWriteInProgress = false
	c.suppressInput = false
	c.queued = nil
	c.lastSeq = 0
	c.haveSeq = false
	c.writeGen++
}
