package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshake_Layout(t *testing.T) {
	h := Handshake{
		RequestPath:      "/tmp/req1",
		ResponsePath:     "/tmp/resp1",
		NotificationPath: "/tmp/notif1",
	}
	buf, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, buf, 121)

	assert.Equal(t, byte('1'), buf[0])
	assert.Equal(t, "/tmp/req1", string(buf[1:10]))
	assert.Equal(t, byte(0), buf[10])
	assert.Equal(t, "/tmp/resp1", string(buf[41:51]))
	assert.Equal(t, "/tmp/notif1", string(buf[81:92]))

	op, err := ReadOpCode(bytes.NewReader(buf))
	require.NoError(t, err)
	assert.Equal(t, OpConnect, op)

	got, err := ReadHandshake(bytes.NewReader(buf[1:]))
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestHandshake_Errors(t *testing.T) {
	_, err := Handshake{RequestPath: strings.Repeat("p", 41), ResponsePath: "r", NotificationPath: "n"}.MarshalBinary()
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = Handshake{RequestPath: "q", NotificationPath: "n"}.MarshalBinary()
	assert.ErrorIs(t, err, ErrEmptyField)

	// exactly 40 bytes fills the field with no terminator
	full := strings.Repeat("p", PathSize)
	buf, err := Handshake{RequestPath: full, ResponsePath: "r", NotificationPath: "n"}.MarshalBinary()
	require.NoError(t, err)
	got, err := ReadHandshake(bytes.NewReader(buf[1:]))
	require.NoError(t, err)
	assert.Equal(t, full, got.RequestPath)

	_, err = ReadHandshake(bytes.NewReader(buf[1:50]))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadHandshake(bytes.NewReader(make([]byte, HandshakeSize-1)))
	assert.ErrorIs(t, err, ErrEmptyField)
}

func TestRequest_RoundTrip(t *testing.T) {
	var stream bytes.Buffer
	reqs := []Request{
		{Op: OpSubscribe, Key: "a"},
		{Op: OpUnsubscribe, Key: strings.Repeat("k", MaxKeySize)},
		{Op: OpDisconnect},
	}
	for _, r := range reqs {
		b, err := r.MarshalBinary()
		require.NoError(t, err)
		stream.Write(b)
	}
	assert.Equal(t, RequestSize*2+1, stream.Len())

	for _, want := range reqs {
		got, err := ReadRequest(&stream)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ReadRequest(&stream)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadRequest_UnknownOpCode(t *testing.T) {
	r := bytes.NewReader([]byte{'9', '2'})

	req, err := ReadRequest(r)
	assert.ErrorIs(t, err, ErrUnknownOpCode)
	assert.Equal(t, OpCode('9'), req.Op)

	// the stream continues after the dropped byte
	req, err = ReadRequest(r)
	require.NoError(t, err)
	assert.Equal(t, OpDisconnect, req.Op)
}

func TestRequest_MarshalErrors(t *testing.T) {
	_, err := Request{Op: OpSubscribe, Key: strings.Repeat("k", KeyFieldSize)}.MarshalBinary()
	assert.ErrorIs(t, err, ErrFieldTooLong)

	_, err = Request{Op: OpConnect}.MarshalBinary()
	assert.ErrorIs(t, err, ErrUnknownOpCode)
}

func TestResponse(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, OpSubscribe, StatusKeyMissing))
	assert.Equal(t, "32", buf.String())

	resp, err := ReadResponse(&buf)
	require.NoError(t, err)
	assert.Equal(t, Response{Op: OpSubscribe, Status: StatusKeyMissing}, resp)

	b, _ := Response{Op: OpConnect, Status: StatusOK}.MarshalBinary()
	assert.Equal(t, "10", string(b))

	_, err = ReadResponse(strings.NewReader("1"))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestNotification(t *testing.T) {
	b, _ := Notification{Key: "a", Value: "1"}.MarshalBinary()
	assert.Equal(t, "(a,1)\n", string(b))
	b, _ = Notification{Key: "a", Value: "ignored", Deleted: true}.MarshalBinary()
	assert.Equal(t, "(a,DELETED)\n", string(b))

	n, err := ParseNotification("(a,1)\n")
	require.NoError(t, err)
	assert.Equal(t, Notification{Key: "a", Value: "1"}, n)

	n, err = ParseNotification("(b,DELETED)")
	require.NoError(t, err)
	assert.True(t, n.Deleted)
	assert.Equal(t, "b", n.Key)

	for _, bad := range []string{"", "a,1", "(a1)", "(,1)", "(a,1"} {
		_, err := ParseNotification(bad)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", bad)
	}
}

func TestOpCode_String(t *testing.T) {
	assert.Equal(t, "subscribe", OpSubscribe.String())
	assert.Contains(t, OpCode('x').String(), "unknown")
	assert.Equal(t, "0", StatusOK.String())
}

func TestNotification_JSON(t *testing.T) {
	b, err := json.Marshal(Notification{Key: "k", Deleted: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"k","deleted":true}`, string(b))

	b, err = json.Marshal(Notification{Key: "a", Value: "1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":"a","value":"1","deleted":false}`, string(b))
}
