package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Field widths on the wire.
const (
	PathSize      = 40
	KeyFieldSize  = 41
	HandshakeSize = 1 + 3*PathSize
	RequestSize   = 1 + KeyFieldSize
	ResponseSize  = 2
)

// MaxKeySize is the longest key a request can carry; the final byte of the
// key field is always NUL.
const MaxKeySize = KeyFieldSize - 1

// DeletedValue is the placeholder value carried by delete notifications.
const DeletedValue = "DELETED"

// OpCode identifies a message.
type OpCode byte

const (
	OpConnect     OpCode = '1'
	OpDisconnect  OpCode = '2'
	OpSubscribe   OpCode = '3'
	OpUnsubscribe OpCode = '4'
)

func (op OpCode) String() string {
	switch op {
	case OpConnect:
		return "connect"
	case OpDisconnect:
		return "disconnect"
	case OpSubscribe:
		return "subscribe"
	case OpUnsubscribe:
		return "unsubscribe"
	default:
		return fmt.Sprintf("unknown(%q)", byte(op))
	}
}

// Status is the digit carried in the second byte of a response.
type Status byte

const (
	// StatusOK reports success.
	StatusOK Status = '0'
	// StatusFailed reports failure, or a missing subscription on unsubscribe.
	StatusFailed Status = '1'
	// StatusKeyMissing reports a subscription recorded for a key that is not
	// currently present in the store.
	StatusKeyMissing Status = '2'
)

func (s Status) String() string {
	return string(rune(s))
}

var (
	// ErrUnknownOpCode is returned for an opcode not valid on the channel.
	ErrUnknownOpCode = errors.New("protocol: unknown opcode")

	// ErrFieldTooLong is returned when a path or key does not fit its field.
	ErrFieldTooLong = errors.New("protocol: field too long")

	// ErrEmptyField is returned when a required path or key is empty.
	ErrEmptyField = errors.New("protocol: empty field")

	// ErrMalformed is returned for notification records that do not parse.
	ErrMalformed = errors.New("protocol: malformed message")
)

// putField copies s into dst and NUL-fills the remainder.
func putField(dst []byte, s string) error {
	if s == "" {
		return ErrEmptyField
	}
	if len(s) > len(dst) || strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: %q", ErrFieldTooLong, s)
	}
	n := copy(dst, s)
	clear(dst[n:])
	return nil
}

// field returns the contents of a NUL-padded field.
func field(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ReadOpCode reads a single opcode byte.
func ReadOpCode(r io.Reader) (OpCode, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return OpCode(b[0]), nil
}
