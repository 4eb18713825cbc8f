// Package backup writes point-in-time snapshots of the store to disk.
//
// A snapshot is captured synchronously under the store's read lock, so it
// reflects exactly the writes committed before [Manager.Snapshot] was
// called. Writing it to disk happens on a detached goroutine. The number of
// snapshots in flight is capped; callers block when the cap is reached.
package backup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jpalmerr/pipekv/internal/metrics"
	"github.com/jpalmerr/pipekv/internal/store"
)

// Extension is the suffix of snapshot files.
const Extension = ".bck"

// ErrClosed is returned by Snapshot after Close.
var ErrClosed = errors.New("backup: manager closed")

// Snapshotter is the part of the store the manager reads from.
type Snapshotter interface {
	Snapshot() ([]store.Pair, error)
}

// Manager bounds and tracks outstanding snapshots.
type Manager struct {
	src     Snapshotter
	sem     *semaphore.Weighted
	max     int64
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	outstanding atomic.Int64
	peak        atomic.Int64
}

// NewManager creates a manager allowing at most maxConcurrent snapshots in
// flight. Values below one are treated as one.
func NewManager(src Snapshotter, maxConcurrent int, logger *zap.Logger, m *metrics.Metrics) *Manager {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Manager{
		src:     src,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     int64(maxConcurrent),
		logger:  logger,
		metrics: m,
	}
}

// FileName returns the snapshot file name for the seq-th backup of job.
func FileName(job string, seq int) string {
	return fmt.Sprintf("%s-%d%s", job, seq, Extension)
}

// Snapshot captures the store and writes it to dir/<job>-<seq>.bck.
//
// Snapshot blocks while the concurrency cap is reached. It returns once the
// snapshot is captured and the file created; the file contents are written
// in the background. A nil error means the snapshot was launched.
func (m *Manager) Snapshot(ctx context.Context, seq int, job, dir string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("backup %s: %w", FileName(job, seq), err)
	}
	m.track(1)

	pairs, err := m.src.Snapshot()
	if err != nil {
		m.release("failed")
		return fmt.Errorf("backup %s: %w", FileName(job, seq), err)
	}

	path := filepath.Join(dir, FileName(job, seq))
	f, err := os.Create(path)
	if err != nil {
		m.release("failed")
		return fmt.Errorf("backup %s: %w", FileName(job, seq), err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		start := time.Now()
		if err := write(f, pairs); err != nil {
			m.logger.Error("backup write failed", zap.String("path", path), zap.Error(err))
			m.release("failed")
			return
		}
		m.metrics.BackupDuration.Observe(time.Since(start).Seconds())
		m.logger.Debug("backup written", zap.String("path", path), zap.Int("entries", len(pairs)))
		m.release("ok")
	}()

	return nil
}

func write(f *os.File, pairs []store.Pair) error {
	w := bufio.NewWriter(f)
	for _, p := range pairs {
		if _, err := fmt.Fprintf(w, "(%s, %s)\n", p.Key, p.Value); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (m *Manager) track(delta int64) {
	n := m.outstanding.Add(delta)
	m.metrics.BackupsOutstanding.Set(float64(n))
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (m *Manager) release(result string) {
	m.track(-1)
	m.sem.Release(1)
	m.metrics.Backups.WithLabelValues(result).Inc()
}

// Outstanding returns the number of snapshots in flight.
func (m *Manager) Outstanding() int {
	return int(m.outstanding.Load())
}

// Peak returns the highest number of snapshots ever in flight at once.
func (m *Manager) Peak() int {
	return int(m.peak.Load())
}

// Max returns the concurrency cap.
func (m *Manager) Max() int {
	return int(m.max)
}

// Close refuses new snapshots and waits for outstanding ones to finish
// writing. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	m.wg.Wait()
}
