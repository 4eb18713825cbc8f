package jobs

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpalmerr/pipekv/internal/store"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Command
	}{
		{"write", "WRITE [(a,1)(b,2)]", Command{Kind: KindWrite, Pairs: []store.Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}}},
		{"write spaced", "WRITE [ (a, 1) (b,2) ]", Command{Kind: KindWrite, Pairs: []store.Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}}},
		{"read", "READ [a,b]", Command{Kind: KindRead, Keys: []string{"a", "b"}}},
		{"delete", "DELETE [a]", Command{Kind: KindDelete, Keys: []string{"a"}}},
		{"show", "SHOW", Command{Kind: KindShow}},
		{"wait", "WAIT 1500", Command{Kind: KindWait, Delay: 1500 * time.Millisecond}},
		{"wait with thread", "WAIT 10 2", Command{Kind: KindWait, Delay: 10 * time.Millisecond}},
		{"backup", "BACKUP", Command{Kind: KindBackup}},
		{"help", "  HELP  ", Command{Kind: KindHelp}},
		{"comment", "# WRITE [(a,1)]", Command{Kind: KindEmpty}},
		{"blank", "   ", Command{Kind: KindEmpty}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLine_Invalid(t *testing.T) {
	long := strings.Repeat("k", store.MaxStringSize+1)
	lines := []string{
		"FROB",
		"write [(a,1)]",
		"WRITE",
		"WRITE []",
		"WRITE [(a)]",
		"WRITE [(a,1]",
		"WRITE [(,1)]",
		"WRITE (a,1)",
		"READ a,b",
		"READ [a,,b]",
		"READ [" + long + "]",
		"WAIT",
		"WAIT -5",
		"WAIT soon",
		"SHOW extra",
	}
	for _, line := range lines {
		_, err := ParseLine(line)
		assert.ErrorIs(t, err, ErrInvalidCommand, "line %q", line)
	}
}

func TestParseLine_Limits(t *testing.T) {
	var b strings.Builder
	b.WriteString("WRITE [")
	for i := 0; i <= MaxWriteSize; i++ {
		b.WriteString("(k,v)")
	}
	b.WriteString("]")
	_, err := ParseLine(b.String())
	assert.ErrorIs(t, err, ErrInvalidCommand)

	keys := strings.TrimSuffix(strings.Repeat("k,", MaxWriteSize), ",")
	cmd, err := ParseLine("READ [" + keys + "]")
	require.NoError(t, err)
	assert.Len(t, cmd.Keys, MaxWriteSize)
}

func TestParser_Next(t *testing.T) {
	input := "# setup\nWRITE [(a,1)]\n\nBOGUS\nREAD [a]\n"
	p := NewParser(strings.NewReader(input))

	cmd, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, KindWrite, cmd.Kind)
	assert.Equal(t, 2, cmd.Line)

	_, err = p.Next()
	require.True(t, errors.Is(err, ErrInvalidCommand))
	assert.Contains(t, err.Error(), "line 4")

	cmd, err = p.Next()
	require.NoError(t, err)
	assert.Equal(t, KindRead, cmd.Kind)
	assert.Equal(t, 5, cmd.Line)

	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "WRITE", KindWrite.String())
	assert.Equal(t, "EMPTY", KindEmpty.String())
}
