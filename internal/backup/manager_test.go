package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jpalmerr/pipekv/internal/metrics"
	"github.com/jpalmerr/pipekv/internal/store"
)

// gatedSource blocks every Snapshot until gate is closed.
type gatedSource struct {
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedSource) Snapshot() ([]store.Pair, error) {
	g.entered <- struct{}{}
	<-g.gate
	return []store.Pair{{Key: "a", Value: "1"}}, nil
}

type failingSource struct{}

func (failingSource) Snapshot() ([]store.Pair, error) { return nil, store.ErrNotInitialized }

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	sort.Strings(lines)
	return lines
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "test-1.bck", FileName("test", 1))
	assert.Equal(t, "jobs.a-12.bck", FileName("jobs.a", 12))
}

func TestManager_SnapshotContents(t *testing.T) {
	dir := t.TempDir()
	table := store.NewTable(4)
	require.NoError(t, table.Write("a", "1"))
	require.NoError(t, table.Write("b", "2"))

	m := NewManager(table, 1, zaptest.NewLogger(t), metrics.New())
	require.NoError(t, m.Snapshot(context.Background(), 1, "job", dir))

	// writes after Snapshot returns are not part of the snapshot
	require.NoError(t, table.Write("c", "3"))
	m.Close()

	assert.Equal(t, []string{"(a, 1)", "(b, 2)"}, readLines(t, filepath.Join(dir, "job-1.bck")))
	assert.Equal(t, 0, m.Outstanding())
}

func TestManager_EmptyStore(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(store.NewTable(4), 1, zaptest.NewLogger(t), metrics.New())
	require.NoError(t, m.Snapshot(context.Background(), 3, "empty", dir))
	m.Close()

	data, err := os.ReadFile(filepath.Join(dir, "empty-3.bck"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestManager_CeilingBlocks(t *testing.T) {
	dir := t.TempDir()
	src := &gatedSource{gate: make(chan struct{}), entered: make(chan struct{}, 10)}
	m := NewManager(src, 2, zaptest.NewLogger(t), metrics.New())

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 1; i <= 5; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			errs <- m.Snapshot(context.Background(), seq, "job", dir)
		}(i)
	}

	// two snapshots get a slot; the rest wait
	for i := 0; i < 2; i++ {
		select {
		case <-src.entered:
		case <-time.After(time.Second):
			t.Fatal("snapshot did not start")
		}
	}
	select {
	case <-src.entered:
		t.Fatal("third snapshot started while the ceiling was reached")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 2, m.Outstanding())

	close(src.gate)
	wg.Wait()
	m.Close()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, m.Peak(), 2)
	assert.Equal(t, 0, m.Outstanding())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestManager_ContextCancelledWhileWaiting(t *testing.T) {
	src := &gatedSource{gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	m := NewManager(src, 1, zaptest.NewLogger(t), metrics.New())
	dir := t.TempDir()

	go func() { _ = m.Snapshot(context.Background(), 1, "job", dir) }()
	<-src.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Snapshot(ctx, 2, "job", dir)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(src.gate)
	m.Close()
}

func TestManager_Faults(t *testing.T) {
	m := NewManager(failingSource{}, 1, zaptest.NewLogger(t), metrics.New())
	err := m.Snapshot(context.Background(), 1, "job", t.TempDir())
	assert.ErrorIs(t, err, store.ErrNotInitialized)
	assert.Equal(t, 0, m.Outstanding())

	// the slot was released: a second attempt is not blocked
	m2 := NewManager(store.NewTable(1), 1, zaptest.NewLogger(t), metrics.New())
	err = m2.Snapshot(context.Background(), 1, "job", filepath.Join(t.TempDir(), "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	require.NoError(t, m2.Snapshot(context.Background(), 2, "job", t.TempDir()))
	m2.Close()
}

func TestManager_Closed(t *testing.T) {
	m := NewManager(store.NewTable(1), 1, zaptest.NewLogger(t), metrics.New())
	m.Close()
	m.Close()
	assert.ErrorIs(t, m.Snapshot(context.Background(), 1, "job", t.TempDir()), ErrClosed)
}
