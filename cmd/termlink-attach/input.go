package main

import "bytes"

const detachByte = 0x1D // Ctrl-]

// inputPump accumulates stdin bytes and forwards them when the session
// accepts input. Bytes read while input is suppressed, or while the send
// fails, are held and flushed on the next read rather than dropped.
type inputPump struct {
	suppressed func() bool
	send       func([]byte) bool
	pending    []byte
}

// feed consumes one stdin read. It reports whether the detach byte was
// seen; bytes preceding it in the same read are still forwarded.
func (p *inputPump) feed(chunk []byte) (detach bool) {
	if i := bytes.IndexByte(chunk, detachByte); i >= 0 {
		chunk = chunk[:i]
		detach = true
	}
	p.pending = append(p.pending, chunk...)
	p.flush()
	return detach
}

func (p *inputPump) flush() {
	if len(p.pending) == 0 || p.suppressed() {
		return
	}
	if p.send(p.pending) {
		p.pending = nil
	}
}
