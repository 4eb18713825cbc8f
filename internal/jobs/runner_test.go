package jobs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jpalmerr/pipekv/internal/backup"
	"github.com/jpalmerr/pipekv/internal/metrics"
	"github.com/jpalmerr/pipekv/internal/store"
)

func newTestRunner(t *testing.T) (*Runner, *store.Table, *backup.Manager) {
	t.Helper()
	table := store.NewTable(store.DefaultBuckets)
	m := metrics.New()
	mgr := backup.NewManager(table, 2, zaptest.NewLogger(t), m)
	t.Cleanup(mgr.Close)
	return NewRunner(table, mgr, zaptest.NewLogger(t), m), table, mgr
}

func execute(t *testing.T, r *Runner, input string) string {
	t.Helper()
	var out bytes.Buffer
	job := NewJob(filepath.Join(t.TempDir(), "test.job"))
	require.NoError(t, r.Execute(context.Background(), job, strings.NewReader(input), &out))
	return out.String()
}

func TestNewJob(t *testing.T) {
	job := NewJob("jobs/./a.job")
	assert.Equal(t, "jobs/a.job", job.Path)
	assert.Equal(t, "a", job.Name)
	assert.Equal(t, "jobs", job.Dir)
	assert.Equal(t, filepath.Join("jobs", "a.out"), job.OutputPath())
}

func TestRunner_WriteReadDelete(t *testing.T) {
	r, _, _ := newTestRunner(t)

	out := execute(t, r, "WRITE [(a,1)]\nREAD [a,b]\nDELETE [a,b]\n")
	assert.Equal(t, "[(a,1)(b,KVSERROR)]\n[(b,KVSMISSING)]\n", out)
}

func TestRunner_DeleteAllPresentEmitsNothing(t *testing.T) {
	r, table, _ := newTestRunner(t)

	out := execute(t, r, "WRITE [(a,1)(b,2)(c,3)]\nDELETE [a,c]\n")
	assert.Empty(t, out)
	assert.Equal(t, 1, table.Len())

	// a missing key does not stop the remaining deletions
	out = execute(t, r, "DELETE [x,b,y]\n")
	assert.Equal(t, "[(x,KVSMISSING)(y,KVSMISSING)]\n", out)
	assert.Equal(t, 0, table.Len())
}

func TestRunner_Show(t *testing.T) {
	r, _, _ := newTestRunner(t)

	out := execute(t, r, "WRITE [(a,1)(b,2)]\nSHOW\n")
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	sort.Strings(lines)
	assert.Equal(t, []string{"(a, 1)", "(b, 2)"}, lines)
}

func TestRunner_WaitAndHelp(t *testing.T) {
	r, _, _ := newTestRunner(t)

	start := time.Now()
	out := execute(t, r, "WAIT 30\nWAIT 0\nHELP\n")
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, "Waiting...\n"+HelpText, out)
}

func TestRunner_InvalidLinesSkipped(t *testing.T) {
	r, _, _ := newTestRunner(t)

	out := execute(t, r, "NOPE\nWRITE [(a,1)\nWRITE [(a,2)]\nREAD [a]\n")
	assert.Equal(t, "[(a,2)]\n", out)
}

func TestRunner_WaitCancelled(t *testing.T) {
	r, _, _ := newTestRunner(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var out bytes.Buffer
	err := r.Execute(ctx, NewJob("x.job"), strings.NewReader("WAIT 10000\nWRITE [(a,1)]\n"), &out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunner_RunWritesOutputAndBackups(t *testing.T) {
	r, _, mgr := newTestRunner(t)
	dir := t.TempDir()

	path := filepath.Join(dir, "test.job")
	job := "WRITE [(a,1)(b,2)]\nBACKUP\nDELETE [a]\nBACKUP\nREAD [a,b]\n"
	require.NoError(t, os.WriteFile(path, []byte(job), 0o644))

	require.NoError(t, r.Run(context.Background(), NewJob(path)))
	mgr.Close()

	out, err := os.ReadFile(filepath.Join(dir, "test.out"))
	require.NoError(t, err)
	assert.Equal(t, "[(a,KVSERROR)(b,2)]\n", string(out))

	first, err := os.ReadFile(filepath.Join(dir, "test-1.bck"))
	require.NoError(t, err)
	assert.Contains(t, string(first), "(a, 1)\n")
	assert.Contains(t, string(first), "(b, 2)\n")

	second, err := os.ReadFile(filepath.Join(dir, "test-2.bck"))
	require.NoError(t, err)
	assert.Equal(t, "(b, 2)\n", string(second))
}

func TestRunner_RunMissingFile(t *testing.T) {
	r, _, _ := newTestRunner(t)
	err := r.Run(context.Background(), NewJob(filepath.Join(t.TempDir(), "nope.job")))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
