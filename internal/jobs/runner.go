package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv/internal/backup"
	"github.com/jpalmerr/pipekv/internal/metrics"
	"github.com/jpalmerr/pipekv/internal/store"
)

// Extensions of job input and output files.
const (
	JobExtension    = ".job"
	OutputExtension = ".out"
)

// HelpText is written to the output file by the HELP command.
const HelpText = `Available commands:
  WRITE [(key,value)(key2,value2),...]
  READ [key,key2,...]
  DELETE [key,key2,...]
  SHOW
  WAIT <delay_ms>
  BACKUP
  HELP
`

// Job identifies one job file.
type Job struct {
	// Path is the job file.
	Path string
	// Name is the file name without its extension; backups are named after it.
	Name string
	// Dir is the directory outputs and backups are written to.
	Dir string
}

// NewJob describes the job file at path.
func NewJob(path string) Job {
	path = filepath.Clean(path)
	base := filepath.Base(path)
	return Job{
		Path: path,
		Name: strings.TrimSuffix(base, filepath.Ext(base)),
		Dir:  filepath.Dir(path),
	}
}

// OutputPath returns the path results are written to.
func (j Job) OutputPath() string {
	return filepath.Join(j.Dir, j.Name+OutputExtension)
}

// Runner executes jobs against the store.
type Runner struct {
	store   store.Store
	backups *backup.Manager
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewRunner creates a [Runner]. Mutations go through st, so store observers
// (such as the notifier) see every write and delete a job performs.
func NewRunner(st store.Store, backups *backup.Manager, logger *zap.Logger, m *metrics.Metrics) *Runner {
	return &Runner{
		store:   st,
		backups: backups,
		logger:  logger,
		metrics: m,
	}
}

// Run executes the job file and writes its output file.
func (r *Runner) Run(ctx context.Context, job Job) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		r.metrics.Jobs.WithLabelValues(result).Inc()
		r.metrics.JobDuration.Observe(time.Since(start).Seconds())
	}()

	in, err := os.Open(job.Path)
	if err != nil {
		return fmt.Errorf("failed to open job %s: %w", job.Path, err)
	}
	defer in.Close()

	out, err := os.Create(job.OutputPath())
	if err != nil {
		return fmt.Errorf("failed to create output for job %s: %w", job.Path, err)
	}

	w := bufio.NewWriter(out)
	if err := r.Execute(ctx, job, in, w); err != nil {
		_ = w.Flush()
		_ = out.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Execute runs every command read from in, writing results to out. Invalid
// lines and failed commands are logged and skipped. Execute stops early only
// when ctx is done or out cannot be written.
func (r *Runner) Execute(ctx context.Context, job Job, in io.Reader, out io.Writer) error {
	logger := r.logger.With(zap.String("job", job.Name))
	parser := NewParser(in)
	backups := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		cmd, err := parser.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if errors.Is(err, ErrInvalidCommand) {
			logger.Warn("Invalid command. See HELP for usage", zap.Error(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read job %s: %w", job.Path, err)
		}

		switch cmd.Kind {
		case KindWrite:
			for _, p := range cmd.Pairs {
				if err := r.store.Write(p.Key, p.Value); err != nil {
					logger.Error("failed to write pair",
						zap.String("key", p.Key), zap.String("value", p.Value), zap.Error(err))
				}
			}

		case KindRead:
			err = r.read(out, cmd.Keys)

		case KindDelete:
			err = r.delete(out, cmd.Keys, logger)

		case KindShow:
			err = r.show(out)

		case KindWait:
			if cmd.Delay > 0 {
				if _, err = io.WriteString(out, "Waiting...\n"); err != nil {
					break
				}
				if err := sleep(ctx, cmd.Delay); err != nil {
					return err
				}
			}

		case KindBackup:
			backups++
			if err := r.backups.Snapshot(ctx, backups, job.Name, job.Dir); err != nil {
				logger.Error("failed to perform backup", zap.Int("seq", backups), zap.Error(err))
				backups--
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}

		case KindHelp:
			_, err = io.WriteString(out, HelpText)
		}

		if err != nil {
			return fmt.Errorf("failed to write output of job %s: %w", job.Path, err)
		}
	}
}

func (r *Runner) read(out io.Writer, keys []string) error {
	var b strings.Builder
	b.WriteByte('[')
	for _, key := range keys {
		value, ok, err := r.store.Read(key)
		if err != nil || !ok {
			fmt.Fprintf(&b, "(%s,KVSERROR)", key)
			continue
		}
		fmt.Fprintf(&b, "(%s,%s)", key, value)
	}
	b.WriteString("]\n")
	_, err := io.WriteString(out, b.String())
	return err
}

func (r *Runner) delete(out io.Writer, keys []string, logger *zap.Logger) error {
	var b strings.Builder
	for _, key := range keys {
		found, err := r.store.Delete(key)
		if err != nil {
			logger.Error("failed to delete key", zap.String("key", key), zap.Error(err))
		}
		if found {
			continue
		}
		if b.Len() == 0 {
			b.WriteByte('[')
		}
		fmt.Fprintf(&b, "(%s,KVSMISSING)", key)
	}
	if b.Len() == 0 {
		return nil
	}
	b.WriteString("]\n")
	_, err := io.WriteString(out, b.String())
	return err
}

func (r *Runner) show(out io.Writer) error {
	for key, value := range r.store.All() {
		if _, err := fmt.Fprintf(out, "(%s, %s)\n", key, value); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
