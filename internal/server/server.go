package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv/internal/fifo"
	"github.com/jpalmerr/pipekv/internal/metrics"
	"github.com/jpalmerr/pipekv/internal/queue"
	"github.com/jpalmerr/pipekv/internal/session"
	"github.com/jpalmerr/pipekv/internal/store"
)

// DefaultHandshakeTimeout bounds how long a connection attempt may take to
// deliver its paths and open its channels.
const DefaultHandshakeTimeout = 2 * time.Second

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("server: stopped")

// Config configures a [Server].
type Config struct {
	// RegisterPath is the registration FIFO. It is created on Start and
	// unlinked on Stop.
	RegisterPath string

	// Workers is the number of session workers. Defaults to the registry
	// capacity.
	Workers int

	// QueueSize bounds connection attempts waiting for a worker. Defaults to
	// Workers.
	QueueSize int

	// HandshakeTimeout bounds handshake reads and channel opens.
	HandshakeTimeout time.Duration
}

// Server owns the registration listener and the session worker pool.
//
// All lifecycle methods are safe for concurrent use.
type Server struct {
	cfg      Config
	store    store.Store
	registry *session.Registry
	queue    *queue.Queue[session.Pending]
	logger   *zap.Logger
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
	reg     *os.File

	serving atomic.Int64
	peak    atomic.Int64
}

// New creates a server that serves sessions against st and tracks them in
// registry. The server must be started with [Server.Start].
func New(cfg Config, st store.Store, registry *session.Registry, logger *zap.Logger, m *metrics.Metrics) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = registry.Cap()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		registry: registry,
		queue:    queue.New[session.Pending](cfg.QueueSize),
		logger:   logger.Named("server"),
		metrics:  m,
	}
}

// Start creates the registration FIFO and launches the listener and the
// worker pool. It returns once the FIFO is ready to accept connections.
//
// Start is idempotent; calls after the first are no-ops. Start after Stop
// returns [ErrStopped].
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}

	if err := fifo.Create(s.cfg.RegisterPath); err != nil {
		return fmt.Errorf("create registration fifo: %w", err)
	}
	reg, err := fifo.OpenReadWrite(s.cfg.RegisterPath)
	if err != nil {
		_ = fifo.Remove(s.cfg.RegisterPath)
		return fmt.Errorf("open registration fifo: %w", err)
	}

	s.started = true
	s.reg = reg
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx // capture under lock

	s.wg.Add(1 + s.cfg.Workers)
	go s.listen(runCtx, reg)
	for i := range s.cfg.Workers {
		go s.work(runCtx, i)
	}

	s.logger.Info("accepting connections",
		zap.String("register_path", s.cfg.RegisterPath),
		zap.Int("workers", s.cfg.Workers),
		zap.Int("max_sessions", s.registry.Cap()),
	)
	return nil
}

// Stop closes the registration FIFO, ends every session, waits for the
// listener and workers to exit and unlinks the registration FIFO together
// with the FIFOs of connections that were never served.
//
// Stop is idempotent. Calling Stop before Start is a safe no-op.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	reg := s.reg
	s.mu.Unlock()

	if reg != nil {
		_ = reg.Close()
	}
	s.queue.Close()
	s.registry.CloseAll()

	s.wg.Wait()

	// a worker may have registered a session between CloseAll and exiting
	s.registry.CloseAll()
	for _, p := range s.queue.Drain() {
		unlinkPending(p, s.logger)
	}
	s.metrics.QueueDepth.Set(0)
	s.metrics.SessionsActive.Set(0)

	if started {
		if err := fifo.Remove(s.cfg.RegisterPath); err != nil {
			s.logger.Warn("failed to unlink registration fifo", zap.Error(err))
		}
	}
	s.logger.Info("stopped")
}

// ResetSessions ends every active session, unlinking its FIFOs and clearing
// its subscriptions, without stopping the server. It returns the number of
// sessions ended.
func (s *Server) ResetSessions() int {
	ended := s.registry.CloseAll()
	s.metrics.SessionsActive.Set(float64(s.registry.Len()))
	s.logger.Info("sessions reset", zap.Int("sessions", len(ended)))
	return len(ended)
}

// Serving returns the number of sessions currently being served.
func (s *Server) Serving() int {
	return int(s.serving.Load())
}

// PeakServing returns the highest value [Server.Serving] has reached.
func (s *Server) PeakServing() int {
	return int(s.peak.Load())
}

// Pending returns the number of connection attempts waiting for a worker.
func (s *Server) Pending() int {
	return s.queue.Len()
}

func (s *Server) enterServing() {
	n := s.serving.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	s.metrics.SessionsServing.Set(float64(n))
}

func (s *Server) leaveServing() {
	n := s.serving.Add(-1)
	s.metrics.SessionsServing.Set(float64(n))
}

func unlinkPending(p session.Pending, logger *zap.Logger) {
	for _, path := range []string{p.Paths.Request, p.Paths.Response, p.Paths.Notification} {
		if path == "" {
			continue
		}
		if err := fifo.Remove(path); err != nil {
			logger.Warn("failed to unlink pending fifo", zap.String("path", path), zap.Error(err))
		}
	}
}
