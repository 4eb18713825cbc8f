package protocol

import (
	"fmt"
	"strings"
)

// Notification reports a change to a subscribed key.
type Notification struct {
	Key     string `json:"key"`
	Value   string `json:"value,omitempty"`
	Deleted bool   `json:"deleted"`
}

// String formats the record without its terminator: "(key,value)" or
// "(key,DELETED)".
func (n Notification) String() string {
	value := n.Value
	if n.Deleted {
		value = DeletedValue
	}
	return "(" + n.Key + "," + value + ")"
}

// MarshalBinary encodes the newline-terminated record written on the wire.
func (n Notification) MarshalBinary() ([]byte, error) {
	return []byte(n.String() + "\n"), nil
}

// ParseNotification parses one record with or without its trailing newline.
// A value equal to "DELETED" is reported as a deletion.
func ParseNotification(line string) (Notification, error) {
	line = strings.TrimRight(line, "\r\n")
	if len(line) < 3 || line[0] != '(' || line[len(line)-1] != ')' {
		return Notification{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	key, value, ok := strings.Cut(line[1:len(line)-1], ",")
	if !ok || key == "" {
		return Notification{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	if value == DeletedValue {
		return Notification{Key: key, Deleted: true}, nil
	}
	return Notification{Key: key, Value: value}, nil
}
