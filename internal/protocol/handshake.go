package protocol

import (
	"fmt"
	"io"
)

// Handshake is the payload of a CONNECT message.
type Handshake struct {
	RequestPath      string
	ResponsePath     string
	NotificationPath string
}

// MarshalBinary encodes the full CONNECT message including the opcode.
func (h Handshake) MarshalBinary() ([]byte, error) {
	buf := make([]byte, HandshakeSize)
	buf[0] = byte(OpConnect)
	paths := []string{h.RequestPath, h.ResponsePath, h.NotificationPath}
	for i, p := range paths {
		off := 1 + i*PathSize
		if err := putField(buf[off:off+PathSize], p); err != nil {
			return nil, fmt.Errorf("handshake path %d: %w", i, err)
		}
	}
	return buf, nil
}

// ReadHandshake reads the three path fields that follow a CONNECT opcode.
// A short read yields io.ErrUnexpectedEOF or the underlying read error.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var buf [HandshakeSize - 1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Handshake{}, err
	}
	h := Handshake{
		RequestPath:      field(buf[0:PathSize]),
		ResponsePath:     field(buf[PathSize : 2*PathSize]),
		NotificationPath: field(buf[2*PathSize : 3*PathSize]),
	}
	if h.RequestPath == "" || h.ResponsePath == "" || h.NotificationPath == "" {
		return Handshake{}, fmt.Errorf("handshake: %w", ErrEmptyField)
	}
	return h, nil
}
