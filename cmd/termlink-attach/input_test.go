package main

import (
	"bytes"
	"testing"
)

func TestPumpForwardsBytesBeforeDetach(t *testing.T) {
	var sent []byte
	p := &inputPump{
		suppressed: func() bool { return false },
		send:       func(data []byte) bool { sent = append(sent, data...); return true },
	}

	detach := p.feed([]byte{'l', 's', '\r', detachByte})
	if !detach {
		t.Fatal("detach byte not reported")
	}
	if !bytes.Equal(sent, []byte("ls\r")) {
		t.Fatalf("sent %q, want bytes preceding the detach byte", sent)
	}
}

func TestPumpHoldsSuppressedInput(t *testing.T) {
	suppressed := true
	var sent []byte
	p := &inputPump{
		suppressed: func() bool { return suppressed },
		send:       func(data []byte) bool { sent = append(sent, data...); return true },
	}

	if p.feed([]byte("ab")) {
		t.Fatal("unexpected detach")
	}
	if len(sent) != 0 {
		t.Fatalf("sent %q while suppressed", sent)
	}

	suppressed = false
	if p.feed([]byte("cd")) {
		t.Fatal("unexpected detach")
	}
	if !bytes.Equal(sent, []byte("abcd")) {
		t.Fatalf("sent %q, want held bytes followed by new ones", sent)
	}
}

func TestPumpRetainsBytesOnFailedSend(t *testing.T) {
	ok := false
	var sent []byte
	p := &inputPump{
		suppressed: func() bool { return false },
		send: func(data []byte) bool {
			if !ok {
				return false
			}
			sent = append(sent, data...)
			return true
		},
	}

	p.feed([]byte("xy"))
	if len(sent) != 0 {
		t.Fatalf("sent %q despite failed send", sent)
	}

	ok = true
	p.feed([]byte("z"))
	if !bytes.Equal(sent, []byte("xyz")) {
		t.Fatalf("sent %q, want all bytes once the channel accepts", sent)
	}
}
