package jobs

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jpalmerr/pipekv/internal/store"
)

// MaxWriteSize is the maximum number of pairs or keys in one command.
const MaxWriteSize = 256

// ErrInvalidCommand is returned for a line that does not parse.
var ErrInvalidCommand = errors.New("invalid command")

// Kind identifies a job command.
type Kind int

const (
	KindEmpty Kind = iota
	KindWrite
	KindRead
	KindDelete
	KindShow
	KindWait
	KindBackup
	KindHelp
)

var kindNames = map[string]Kind{
	"WRITE":  KindWrite,
	"READ":   KindRead,
	"DELETE": KindDelete,
	"SHOW":   KindShow,
	"WAIT":   KindWait,
	"BACKUP": KindBackup,
	"HELP":   KindHelp,
}

func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return "EMPTY"
}

// Command is one parsed job line.
type Command struct {
	Kind  Kind
	Line  int
	Pairs []store.Pair
	Keys  []string
	Delay time.Duration
}

// Parser reads commands from a job stream.
type Parser struct {
	sc   *bufio.Scanner
	line int
}

// NewParser creates a parser reading from r.
func NewParser(r io.Reader) *Parser {
	return &Parser{sc: bufio.NewScanner(r)}
}

// Next returns the next command. Blank and comment lines are skipped. At the
// end of the stream it returns io.EOF. A line that does not parse yields an
// error wrapping [ErrInvalidCommand]; parsing can continue with the next
// call.
func (p *Parser) Next() (Command, error) {
	for p.sc.Scan() {
		p.line++
		cmd, err := ParseLine(p.sc.Text())
		cmd.Line = p.line
		if err != nil {
			return cmd, fmt.Errorf("line %d: %w", p.line, err)
		}
		if cmd.Kind == KindEmpty {
			continue
		}
		return cmd, nil
	}
	if err := p.sc.Err(); err != nil {
		return Command{}, err
	}
	return Command{}, io.EOF
}

// ParseLine parses a single command line.
func ParseLine(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Command{Kind: KindEmpty}, nil
	}

	word, rest, _ := strings.Cut(line, " ")
	kind, ok := kindNames[word]
	if !ok {
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, word)
	}
	rest = strings.TrimSpace(rest)
	cmd := Command{Kind: kind}

	var err error
	switch kind {
	case KindWrite:
		cmd.Pairs, err = ParsePairs(rest)
	case KindRead, KindDelete:
		cmd.Keys, err = ParseKeys(rest)
	case KindWait:
		cmd.Delay, err = parseDelay(rest)
	default:
		if rest != "" {
			err = fmt.Errorf("%w: %s takes no arguments", ErrInvalidCommand, word)
		}
	}
	if err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// ParseKeys parses a bracketed key list such as "[a,b,c]".
func ParseKeys(arg string) ([]string, error) {
	body, err := brackets(arg)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(body, ",")
	if len(parts) > MaxWriteSize {
		return nil, fmt.Errorf("%w: more than %d keys", ErrInvalidCommand, MaxWriteSize)
	}
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		key := strings.TrimSpace(part)
		if err := checkString(key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// ParsePairs parses a bracketed pair list such as "[(a,1)(b,2)]".
func ParsePairs(arg string) ([]store.Pair, error) {
	body, err := brackets(arg)
	if err != nil {
		return nil, err
	}

	var pairs []store.Pair
	for body = strings.TrimSpace(body); body != ""; body = strings.TrimSpace(body) {
		if body[0] != '(' {
			return nil, fmt.Errorf("%w: expected '(' in %q", ErrInvalidCommand, body)
		}
		end := strings.IndexByte(body, ')')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated pair in %q", ErrInvalidCommand, body)
		}
		key, value, ok := strings.Cut(body[1:end], ",")
		if !ok {
			return nil, fmt.Errorf("%w: pair %q has no value", ErrInvalidCommand, body[:end+1])
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if err := checkString(key); err != nil {
			return nil, err
		}
		if err := checkString(value); err != nil {
			return nil, err
		}
		pairs = append(pairs, store.Pair{Key: key, Value: value})
		if len(pairs) > MaxWriteSize {
			return nil, fmt.Errorf("%w: more than %d pairs", ErrInvalidCommand, MaxWriteSize)
		}
		body = body[end+1:]
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no pairs", ErrInvalidCommand)
	}
	return pairs, nil
}

func brackets(arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	if len(arg) < 2 || arg[0] != '[' || arg[len(arg)-1] != ']' {
		return "", fmt.Errorf("%w: expected [...] argument, got %q", ErrInvalidCommand, arg)
	}
	return arg[1 : len(arg)-1], nil
}

func checkString(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty key or value", ErrInvalidCommand)
	}
	if len(s) > store.MaxStringSize {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidCommand, s, store.MaxStringSize)
	}
	return nil
}

func parseDelay(arg string) (time.Duration, error) {
	// an optional second argument is accepted and ignored
	fields := strings.Fields(arg)
	if len(fields) == 0 || len(fields) > 2 {
		return 0, fmt.Errorf("%w: WAIT expects a delay in milliseconds", ErrInvalidCommand)
	}
	ms, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid delay %q", ErrInvalidCommand, fields[0])
	}
	return time.Duration(ms) * time.Millisecond, nil
}
