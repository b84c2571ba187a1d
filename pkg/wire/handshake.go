package wire

import (
	"encoding/binary"
	"io"

	"github.com/cuemby/tablemesh/pkg/kverrors"
)

// HandshakeMagic is the 4-byte magic value exchanged at connection
// open, per spec §6 ("IG03" as big-endian bytes).
const HandshakeMagic uint32 = 0x49473033

// Version is the wire protocol's version triple.
type Version struct {
	Major, Minor, Patch uint8
}

// ClientHandshake is sent by the client immediately after connecting.
type ClientHandshake struct {
	Version      Version
	FeatureFlags uint32
}

// ServerHandshake is the server's reply.
type ServerHandshake struct {
	Version            Version
	NodeID             string
	NodeName           string
	IdleTimeoutSeconds uint32
	FeatureFlags       uint32
}

// WriteClientHandshake writes the magic, version triple, and feature
// flags bitset.
func WriteClientHandshake(w io.Writer, h ClientHandshake) error {
	buf := make([]byte, 4+3+4)
	binary.BigEndian.PutUint32(buf[0:4], HandshakeMagic)
	buf[4], buf[5], buf[6] = h.Version.Major, h.Version.Minor, h.Version.Patch
	binary.BigEndian.PutUint32(buf[7:11], h.FeatureFlags)
	_, err := w.Write(buf)
	if err != nil {
		return kverrors.Wrap(kverrors.Network, "write client handshake", err)
	}
	return nil
}

// ReadClientHandshake reads and validates a ClientHandshake's magic.
func ReadClientHandshake(r io.Reader) (ClientHandshake, error) {
	buf := make([]byte, 4+3+4)
	if _, err := io.ReadFull(r, buf); err != nil {
		return ClientHandshake{}, kverrors.Wrap(kverrors.Network, "read client handshake", err)
	}
	if magic := binary.BigEndian.Uint32(buf[0:4]); magic != HandshakeMagic {
		return ClientHandshake{}, kverrors.New(kverrors.Assembly, "bad handshake magic")
	}
	return ClientHandshake{
		Version:      Version{Major: buf[4], Minor: buf[5], Patch: buf[6]},
		FeatureFlags: binary.BigEndian.Uint32(buf[7:11]),
	}, nil
}

// WriteServerHandshake writes the server's reply: magic, version,
// node id, node name, idle timeout, feature flags.
func WriteServerHandshake(w io.Writer, h ServerHandshake) error {
	idBytes := []byte(h.NodeID)
	nameBytes := []byte(h.NodeName)

	buf := make([]byte, 0, 4+3+4+4+len(idBytes)+4+len(nameBytes)+4)
	head := make([]byte, 4+3)
	binary.BigEndian.PutUint32(head[0:4], HandshakeMagic)
	head[4], head[5], head[6] = h.Version.Major, h.Version.Minor, h.Version.Patch
	buf = append(buf, head...)

	buf = appendLenPrefixed(buf, idBytes)
	buf = appendLenPrefixed(buf, nameBytes)

	tail := make([]byte, 8)
	binary.BigEndian.PutUint32(tail[0:4], h.IdleTimeoutSeconds)
	binary.BigEndian.PutUint32(tail[4:8], h.FeatureFlags)
	buf = append(buf, tail...)

	if _, err := w.Write(buf); err != nil {
		return kverrors.Wrap(kverrors.Network, "write server handshake", err)
	}
	return nil
}

// ReadServerHandshake reads a ServerHandshake written by
// WriteServerHandshake.
func ReadServerHandshake(r io.Reader) (ServerHandshake, error) {
	head := make([]byte, 4+3)
	if _, err := io.ReadFull(r, head); err != nil {
		return ServerHandshake{}, kverrors.Wrap(kverrors.Network, "read server handshake header", err)
	}
	if magic := binary.BigEndian.Uint32(head[0:4]); magic != HandshakeMagic {
		return ServerHandshake{}, kverrors.New(kverrors.Assembly, "bad handshake magic")
	}
	version := Version{Major: head[4], Minor: head[5], Patch: head[6]}

	nodeID, err := readLenPrefixed(r)
	if err != nil {
		return ServerHandshake{}, err
	}
	nodeName, err := readLenPrefixed(r)
	if err != nil {
		return ServerHandshake{}, err
	}

	tail := make([]byte, 8)
	if _, err := io.ReadFull(r, tail); err != nil {
		return ServerHandshake{}, kverrors.Wrap(kverrors.Network, "read server handshake tail", err)
	}

	return ServerHandshake{
		Version:            version,
		NodeID:             string(nodeID),
		NodeName:           string(nodeName),
		IdleTimeoutSeconds: binary.BigEndian.Uint32(tail[0:4]),
		FeatureFlags:       binary.BigEndian.Uint32(tail[4:8]),
	}, nil
}

func appendLenPrefixed(buf []byte, v []byte) []byte {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(v)))
	buf = append(buf, lenBuf...)
	buf = append(buf, v...)
	return buf
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 4)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, kverrors.Wrap(kverrors.Network, "read length-prefixed field", err)
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n > MaxFrameSize {
		return nil, kverrors.New(kverrors.Assembly, "length-prefixed field exceeds maximum size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, kverrors.Wrap(kverrors.Network, "read length-prefixed field body", err)
	}
	return buf, nil
}
