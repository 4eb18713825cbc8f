package protocol

import (
	"fmt"
	"io"
)

// Request is a message read from a session's request channel.
type Request struct {
	Op  OpCode
	Key string
}

// MarshalBinary encodes the request. DISCONNECT encodes to the bare opcode.
func (r Request) MarshalBinary() ([]byte, error) {
	switch r.Op {
	case OpDisconnect:
		return []byte{byte(OpDisconnect)}, nil
	case OpSubscribe, OpUnsubscribe:
		buf := make([]byte, RequestSize)
		buf[0] = byte(r.Op)
		if err := putField(buf[1:1+MaxKeySize], r.Key); err != nil {
			return nil, fmt.Errorf("%s key: %w", r.Op, err)
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOpCode, r.Op)
	}
}

// ReadRequest reads one request. An unknown opcode yields a Request with
// that opcode and an error wrapping [ErrUnknownOpCode]; the channel is left
// positioned after the opcode byte.
func ReadRequest(r io.Reader) (Request, error) {
	op, err := ReadOpCode(r)
	if err != nil {
		return Request{}, err
	}

	switch op {
	case OpDisconnect:
		return Request{Op: op}, nil
	case OpSubscribe, OpUnsubscribe:
		var buf [KeyFieldSize]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return Request{}, err
		}
		return Request{Op: op, Key: field(buf[:])}, nil
	default:
		return Request{Op: op}, fmt.Errorf("%w: %s", ErrUnknownOpCode, op)
	}
}

// Response is the two-byte acknowledgement written on the response channel.
type Response struct {
	Op     OpCode
	Status Status
}

// MarshalBinary encodes the response.
func (r Response) MarshalBinary() ([]byte, error) {
	return []byte{byte(r.Op), byte(r.Status)}, nil
}

// WriteResponse writes a response in a single write.
func WriteResponse(w io.Writer, op OpCode, status Status) error {
	_, err := w.Write([]byte{byte(op), byte(status)})
	return err
}

// ReadResponse reads a two-byte response.
func ReadResponse(r io.Reader) (Response, error) {
	var buf [ResponseSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Response{}, err
	}
	return Response{Op: OpCode(buf[0]), Status: Status(buf[1])}, nil
}
