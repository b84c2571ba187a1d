package wire

import (
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/cuemby/tablemesh/pkg/kverrors"
)

// Flag bits carried in a header's Flags field.
const (
	// FlagPartitionAssignmentChanged is set by the server when a
	// response's partition assignment differs from the one it last
	// reported to this client, per spec §6 bit 0.
	FlagPartitionAssignmentChanged uint32 = 1 << 0
)

// MaxFrameSize bounds a single frame's length prefix to guard against
// a corrupt or hostile peer claiming an unbounded payload.
const MaxFrameSize = 64 << 20

// Header is the JSON map prefixing every frame's payload.
type Header struct {
	MessageType string `json:"message_type"`
	RequestID   string `json:"request_id"`
	Flags       uint32 `json:"flags"`
}

// Message is one framed unit: header plus an opaque payload
// interpreted according to Header.MessageType.
type Message struct {
	Header  Header
	Payload []byte
}

// WriteMessage frames m as: 4-byte big-endian total length, then the
// JSON-encoded header length-prefixed the same way, then the header
// bytes, then the payload.
func WriteMessage(w io.Writer, m Message) error {
	headerBytes, err := json.Marshal(m.Header)
	if err != nil {
		return kverrors.Wrap(kverrors.Assembly, "marshal wire header", err)
	}

	body := make([]byte, 4+len(headerBytes)+len(m.Payload))
	binary.BigEndian.PutUint32(body, uint32(len(headerBytes)))
	copy(body[4:], headerBytes)
	copy(body[4+len(headerBytes):], m.Payload)

	total := len(body)
	frame := make([]byte, 4+total)
	binary.BigEndian.PutUint32(frame, uint32(total))
	copy(frame[4:], body)

	_, err = w.Write(frame)
	if err != nil {
		return kverrors.Wrap(kverrors.Network, "write wire frame", err)
	}
	return nil
}

// ReadMessage reads one frame written by WriteMessage.
func ReadMessage(r io.Reader) (Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Message{}, kverrors.Wrap(kverrors.Network, "read frame length", err)
	}
	total := binary.BigEndian.Uint32(lenBuf[:])
	if total > MaxFrameSize {
		return Message{}, kverrors.New(kverrors.Assembly, "frame exceeds maximum size")
	}

	body := make([]byte, total)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, kverrors.Wrap(kverrors.Network, "read frame body", err)
	}
	if len(body) < 4 {
		return Message{}, kverrors.New(kverrors.Assembly, "frame body shorter than header length prefix")
	}

	headerLen := binary.BigEndian.Uint32(body[:4])
	if uint32(len(body)-4) < headerLen {
		return Message{}, kverrors.New(kverrors.Assembly, "frame header length exceeds body")
	}

	var header Header
	if err := json.Unmarshal(body[4:4+headerLen], &header); err != nil {
		return Message{}, kverrors.Wrap(kverrors.Assembly, "unmarshal wire header", err)
	}

	payload := body[4+headerLen:]
	return Message{Header: header, Payload: payload}, nil
}
