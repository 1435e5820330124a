package main

import "sync"

// historyRing retains recent PTY output with absolute byte offsets.
// Offsets keep counting from session start even after eviction, so
// scrollback pagination stays stable while old chunks fall off.
type historyRing struct {
	mu     sync.Mutex
	chunks [][]byte
	start  uint64 // absolute offset of chunks[0][0]
	end    uint64 // absolute offset one past the last retained byte
	size   int
	budget int
}

func newHistoryRing(budget int) *historyRing {
	return &historyRing{budget: budget}
}

func (h *historyRing) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	chunk := make([]byte, len(data))
	copy(chunk, data)
	h.chunks = append(h.chunks, chunk)
	h.size += len(chunk)
	h.end += uint64(len(chunk))

	for h.size > h.budget && len(h.chunks) > 1 {
		evicted := h.chunks[0]
		h.chunks = h.chunks[1:]
		h.size -= len(evicted)
		h.start += uint64(len(evicted))
	}
}

// Snapshot returns a copy of everything currently retained.
func (h *historyRing) Snapshot() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, 0, h.size)
	for _, c := range h.chunks {
		out = append(out, c...)
	}
	return out
}

// SliceBefore returns up to maxBytes of retained output ending at the
// absolute offset *before (exclusive), or at the live end when before is
// nil. An explicit offset at or below the retained start yields an empty
// slice. hasMore reports whether older retained bytes remain.
func (h *historyRing) SliceBefore(before *uint64, maxBytes int) (data []byte, start, end uint64, hasMore bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	end = h.end
	if before != nil && *before < end {
		end = *before
	}
	if end < h.start {
		end = h.start
	}

	start = h.start
	if span := end - start; span > uint64(maxBytes) {
		start = end - uint64(maxBytes)
	}
	hasMore = start > h.start

	data = make([]byte, 0, end-start)
	off := h.start
	for _, c := range h.chunks {
		chunkEnd := off + uint64(len(c))
		if chunkEnd > start && off < end {
			lo := uint64(0)
			if start > off {
				lo = start - off
			}
			hi := uint64(len(c))
			if chunkEnd > end {
				hi = end - off
			}
			data = append(data, c[lo:hi]...)
		}
		off = chunkEnd
		if off >= end {
			break
		}
	}
	return data, start, end, hasMore
}

func (h *historyRing) Bounds() (start, end uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.start, h.end
}
