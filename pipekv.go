package pipekv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv/internal/admin"
	"github.com/jpalmerr/pipekv/internal/backup"
	"github.com/jpalmerr/pipekv/internal/jobs"
	"github.com/jpalmerr/pipekv/internal/metrics"
	"github.com/jpalmerr/pipekv/internal/notify"
	"github.com/jpalmerr/pipekv/internal/server"
	"github.com/jpalmerr/pipekv/internal/session"
	"github.com/jpalmerr/pipekv/internal/store"
)

const (
	defaultRegisterPath     = "/tmp/pipekv"
	defaultMaxSessions      = 8
	defaultMaxThreads       = 4
	defaultMaxBackups       = 2
	defaultMaxSubscriptions = session.DefaultMaxSubscriptions
	defaultBuckets          = store.DefaultBuckets
	defaultHandshakeTimeout = server.DefaultHandshakeTimeout
	defaultNotifyTimeout    = notify.DefaultTimeout
)

// ErrAlreadyStarted is returned by Start on a second call.
var ErrAlreadyStarted = errors.New("pipekv: already started")

// PipeKV wires the store, the session server, the batch job dispatcher, the
// backup manager and the optional admin server together.
//
// The typical lifecycle is:
//
//	kv, err := pipekv.New(pipekv.WithJobsDir("./jobs"))
//	if err != nil {
//	    return err
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	kv.Start(ctx) // blocks until context cancelled
type PipeKV struct {
	cfg    kvConfig
	logger *zap.Logger

	metrics    *metrics.Metrics
	table      *store.Table
	store      *store.ObservedStore
	registry   *session.Registry
	notifier   *notify.Notifier
	backups    *backup.Manager
	server     *server.Server
	dispatcher *jobs.Dispatcher

	mu      sync.Mutex
	started bool
}

// New creates a [PipeKV] instance with the given options.
//
// A jobs directory must be configured via [WithJobsDir]. Other options have
// defaults:
//   - Register path: /tmp/pipekv
//   - Max sessions: 8
//   - Max threads: 4
//   - Max backups: 2
func New(opts ...Option) (*PipeKV, error) {
	cfg := kvConfig{
		jobPattern:       jobs.DefaultPattern,
		registerPath:     defaultRegisterPath,
		maxSessions:      defaultMaxSessions,
		maxThreads:       defaultMaxThreads,
		maxBackups:       defaultMaxBackups,
		maxSubscriptions: defaultMaxSubscriptions,
		buckets:          defaultBuckets,
		handshakeTimeout: defaultHandshakeTimeout,
		notifyTimeout:    defaultNotifyTimeout,
	}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if cfg.jobsDir == "" {
		return nil, errors.New("jobs directory is required")
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := metrics.New()
	table := store.NewTable(cfg.buckets)
	registry := session.NewRegistry(cfg.maxSessions, cfg.maxSubscriptions,
		session.WithLogger(logger.Named("registry")))
	notifier := notify.New(registry, cfg.notifyTimeout, logger, m)
	st := store.Observe(table, notifier, m)
	backups := backup.NewManager(st, cfg.maxBackups, logger, m)

	srv := server.New(server.Config{
		RegisterPath:     cfg.registerPath,
		HandshakeTimeout: cfg.handshakeTimeout,
	}, st, registry, logger, m)

	runner := jobs.NewRunner(st, backups, logger, m)
	dispatcher, err := jobs.NewDispatcher(jobs.DispatcherConfig{
		Dir:        cfg.jobsDir,
		Pattern:    cfg.jobPattern,
		MaxThreads: cfg.maxThreads,
		Watch:      cfg.watchJobs,
	}, runner, logger.Named("jobs"))
	if err != nil {
		return nil, err
	}

	return &PipeKV{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		table:      table,
		store:      st,
		registry:   registry,
		notifier:   notifier,
		backups:    backups,
		server:     srv,
		dispatcher: dispatcher,
	}, nil
}

// Start starts accepting sessions, runs the batch
// jobs and serves the admin API when configured.
//
// Start blocks until ctx is cancelled. Shutdown ends every session, unlinks
// the registration FIFO, waits for running jobs, drains outstanding backups
// and closes the store, in that order.
//
// Returns nil on graceful shutdown, or an error if a component fails to
// start.
func (kv *PipeKV) Start(ctx context.Context) error {
	kv.mu.Lock()
	if kv.started {
		kv.mu.Unlock()
		return ErrAlreadyStarted
	}
	kv.started = true
	kv.mu.Unlock()

	if ctx.Err() != nil {
		return nil
	}

	if err := kv.server.Start(ctx); err != nil {
		kv.table.Close()
		return fmt.Errorf("failed to start session server: %w", err)
	}

	if kv.cfg.adminAddr != "" {
		httpServer := admin.NewServer(kv.store, kv.notifier, kv.registry,
			kv.metrics.Registry(), kv.cfg.adminAddr, kv.logger)
		if err := httpServer.Start(ctx); err != nil {
			kv.server.Stop()
			kv.table.Close()
			return fmt.Errorf("failed to start admin server: %w", err)
		}
	}

	kv.logger.Info("pipekv started",
		zap.String("jobs_dir", kv.cfg.jobsDir),
		zap.String("register_path", kv.cfg.registerPath),
		zap.Int("max_sessions", kv.cfg.maxSessions),
		zap.Int("max_threads", kv.cfg.maxThreads),
		zap.Int("max_backups", kv.cfg.maxBackups),
	)

	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		started := time.Now()
		if err := kv.dispatcher.Run(ctx); err != nil {
			kv.logger.Error("job dispatch failed", zap.Error(err))
			return
		}
		if ctx.Err() == nil {
			kv.logger.Info("jobs finished", zap.Duration("elapsed", time.Since(started)))
		}
	}()

	<-ctx.Done()

	kv.server.Stop()
	<-jobsDone
	kv.backups.Close()
	if err := kv.table.Close(); err != nil {
		kv.logger.Warn("failed to close store", zap.Error(err))
	}
	kv.logger.Info("pipekv stopped")
	return nil
}

// ResetSessions ends every connected session without stopping the server.
// It returns the number of sessions ended.
func (kv *PipeKV) ResetSessions() int {
	return kv.server.ResetSessions()
}

// RegisterPath returns the registration FIFO path.
func (kv *PipeKV) RegisterPath() string {
	return kv.cfg.registerPath
}

// JobsDir returns the batch jobs directory.
func (kv *PipeKV) JobsDir() string {
	return kv.cfg.jobsDir
}

// MaxSessions returns the session ceiling.
func (kv *PipeKV) MaxSessions() int {
	return kv.cfg.maxSessions
}
