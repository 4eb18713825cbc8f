package jobs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultPattern matches job files directly inside the jobs directory.
const DefaultPattern = "*" + JobExtension

// DefaultSettle is how long a watched job file must go without writes
// before it is run.
const DefaultSettle = 200 * time.Millisecond

// DispatcherConfig configures a [Dispatcher].
type DispatcherConfig struct {
	// Dir is the jobs directory.
	Dir string
	// Pattern is a doublestar glob, relative to Dir, selecting job files.
	Pattern string
	// MaxThreads bounds the number of jobs executing at once.
	MaxThreads int
	// Watch keeps the dispatcher running after the initial pass and executes
	// job files that appear later.
	Watch bool
	// Settle is the quiet period a new or modified job file must observe
	// before a watched job runs. Defaults to [DefaultSettle].
	Settle time.Duration
}

// Dispatcher runs every job file in a directory on a bounded pool.
type Dispatcher struct {
	cfg    DispatcherConfig
	runner *Runner
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDispatcher creates a [Dispatcher].
func NewDispatcher(cfg DispatcherConfig, runner *Runner, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(cfg.Pattern) {
		return nil, fmt.Errorf("invalid job pattern %q", cfg.Pattern)
	}
	if cfg.MaxThreads < 1 {
		cfg.MaxThreads = 1
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	return &Dispatcher{
		cfg:    cfg,
		runner: runner,
		logger: logger,
		seen:   make(map[string]struct{}),
	}, nil
}

// Discover lists the job files currently matching the pattern, sorted by
// path.
func (d *Dispatcher) Discover() ([]Job, error) {
	matches, err := doublestar.Glob(os.DirFS(d.cfg.Dir), d.cfg.Pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs in %s: %w", d.cfg.Dir, err)
	}
	sort.Strings(matches)

	jobs := make([]Job, 0, len(matches))
	for _, m := range matches {
		jobs = append(jobs, NewJob(filepath.Join(d.cfg.Dir, filepath.FromSlash(m))))
	}
	return jobs, nil
}

// claim marks a job as dispatched. It returns false if it already was.
func (d *Dispatcher) claim(job Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[job.Path]; ok {
		return false
	}
	d.seen[job.Path] = struct{}{}
	return true
}

// Run executes every discovered job, at most MaxThreads at a time. Without
// Watch it returns once they have all finished. With Watch it then keeps
// executing new job files until ctx is done. Individual job failures are
// logged, not returned.
func (d *Dispatcher) Run(ctx context.Context) error {
	var watcher *fsnotify.Watcher
	if d.cfg.Watch {
		// watch before listing so files created in between are not missed
		var err error
		if watcher, err = d.newWatcher(); err != nil {
			return err
		}
		defer watcher.Close()
	}

	jobs, err := d.Discover()
	if err != nil {
		return err
	}

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.MaxThreads)

	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		d.dispatch(ctx, g, job)
	}

	if watcher != nil {
		d.watch(ctx, g, watcher)
	}

	return g.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, g *errgroup.Group, job Job) {
	if !d.claim(job) {
		return
	}
	g.Go(func() error {
		d.logger.Info("running job", zap.String("path", job.Path))
		if err := d.runner.Run(ctx, job); err != nil {
			d.logger.Error("job failed", zap.String("path", job.Path), zap.Error(err))
		}
		return nil
	})
}

func (d *Dispatcher) newWatcher() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create job watcher: %w", err)
	}

	err = filepath.WalkDir(d.cfg.Dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", d.cfg.Dir, err)
	}
	return watcher, nil
}

// watch dispatches job files created, written or renamed into the jobs
// tree. A job runs once its file has seen no writes for the settle period,
// so a producer writing in place is not picked up half-written.
func (d *Dispatcher) watch(ctx context.Context, g *errgroup.Group, watcher *fsnotify.Watcher) {
	pending := make(map[string]*time.Timer)
	ready := make(chan string)
	defer func() {
		for _, timer := range pending {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case path := <-ready:
			delete(pending, path)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			d.dispatch(ctx, g, NewJob(path))

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}

			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if ev.Has(fsnotify.Create) {
					if err := watcher.Add(ev.Name); err != nil {
						d.logger.Warn("failed to watch directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
				continue
			}

			rel, err := filepath.Rel(d.cfg.Dir, ev.Name)
			if err != nil {
				continue
			}
			if match, _ := doublestar.Match(d.cfg.Pattern, filepath.ToSlash(rel)); !match {
				continue
			}
			if timer, ok := pending[ev.Name]; ok {
				timer.Reset(d.cfg.Settle)
				continue
			}
			path := ev.Name
			pending[path] = time.AfterFunc(d.cfg.Settle, func() {
				select {
				case ready <- path:
				case <-ctx.Done():
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				d.logger.Error("job watcher error", zap.Error(err))
				continue
			}
			// events were lost; rescan
			d.logger.Warn("job watcher overflow, rescanning")
			jobs, err := d.Discover()
			if err != nil {
				d.logger.Error("rescan failed", zap.Error(err))
				continue
			}
			for _, job := range jobs {
				d.dispatch(ctx, g, job)
			}
		}
	}
}
