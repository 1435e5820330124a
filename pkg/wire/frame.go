// Package wire implements the binary frame format carried on the terminal
// WebSocket. Each frame holds one chunk of PTY output plus routing metadata;
// the layout is fixed by the daemon and shared with the browser client.
//
// Layout (little-endian):
//
//	offset 0  size 1   version (must be 1)
//	offset 1  size 1   kind (1=history, 2=live)
//	offset 2  size 16  session UUID
//	offset 18 size 8   sequence number (uint64)
//	offset 26 size 4   payload length (uint32)
//	offset 30 size N   payload
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/google/uuid"
)

const (
	Version byte = 1

	KindHistory byte = 1
	KindLive    byte = 2

	HeaderSize = 30

	// InputBytesOpcode prefixes raw input bytes sent client->daemon so the
	// daemon can distinguish binary input kinds on a single channel.
	InputBytesOpcode byte = 0x01

	// MaxSeq is the largest sequence number the codec accepts. The browser
	// client shares this protocol and cannot represent values beyond 2^53-1
	// without precision loss, so the daemon never emits them; anything
	// larger is treated as corruption.
	MaxSeq uint64 = 1<<53 - 1
)

var (
	ErrShortFrame    = errors.New("wire: frame shorter than header")
	ErrVersion       = errors.New("wire: unsupported frame version")
	ErrKind          = errors.New("wire: unknown frame kind")
	ErrPayloadLength = errors.New("wire: declared payload length exceeds frame")
	ErrSeqRange      = errors.New("wire: sequence number out of range")
)

// Frame is one decoded wire unit.
type Frame struct {
	Kind      byte
	SessionID string // canonical lowercase hyphenated UUID
	Seq       uint64
	Payload   []byte
}

// Decode parses a binary frame. Validation failures return a nil frame and
// one of the sentinel errors above; Decode never panics on hostile input.
// The returned payload is a copy, safe to retain after the source buffer is
// reused.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortFrame
	}
	if data[0] != Version {
		return nil, ErrVersion
	}
	kind := data[1]
	if kind != KindHistory && kind != KindLive {
		return nil, ErrKind
	}
	payloadLen := binary.LittleEndian.Uint32(data[26:30])
	if uint64(payloadLen)+HeaderSize > uint64(len(data)) {
		return nil, ErrPayloadLength
	}
	seq := binary.LittleEndian.Uint64(data[18:26])
	if seq > MaxSeq {
		return nil, ErrSeqRange
	}

	id, err := uuid.FromBytes(data[2:18])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[HeaderSize:HeaderSize+int(payloadLen)])

	return &Frame{
		Kind:      kind,
		SessionID: id.String(),
		Seq:       seq,
		Payload:   payload,
	}, nil
}

// Encode builds a binary frame. It is the structural inverse of Decode and
// is what the daemon uses for outbound output frames.
func Encode(version, kind byte, sessionID uuid.UUID, seq uint64, payload []byte) []byte {
	frame := make([]byte, HeaderSize, HeaderSize+len(payload))
	frame[0] = version
	frame[1] = kind
	copy(frame[2:18], sessionID[:])
	binary.LittleEndian.PutUint64(frame[18:26], seq)
	binary.LittleEndian.PutUint32(frame[26:30], uint32(len(payload)))
	return append(frame, payload...)
}

// EncodeInput prefixes raw input bytes with the input opcode for the
// client->daemon binary message.
func EncodeInput(data []byte) []byte {
	msg := make([]byte, 0, 1+len(data))
	msg = append(msg, InputBytesOpcode)
	return append(msg, data...)
}
