package pipekv

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// kvConfig holds mutable state during PipeKV construction.
type kvConfig struct {
	jobsDir          string
	jobPattern       string
	registerPath     string
	maxSessions      int
	maxThreads       int
	maxBackups       int
	maxSubscriptions int
	buckets          int
	handshakeTimeout time.Duration
	notifyTimeout    time.Duration
	watchJobs        bool
	adminAddr        string
	logger           *zap.Logger
}

// Option is a function that configures a [PipeKV] instance during
// construction. Options return an error if validation fails.
type Option func(*kvConfig) error

// WithJobsDir sets the directory scanned for batch job files. Required.
func WithJobsDir(dir string) Option {
	return func(cfg *kvConfig) error {
		if dir == "" {
			return errors.New("jobs directory cannot be empty")
		}
		cfg.jobsDir = dir
		return nil
	}
}

// WithJobPattern sets the doublestar glob, relative to the jobs directory,
// that selects job files. Defaults to "*.job".
//
// Example:
//
//	kv, err := pipekv.New(
//	    pipekv.WithJobsDir("./jobs"),
//	    pipekv.WithJobPattern("**/*.job"),
//	)
func WithJobPattern(pattern string) Option {
	return func(cfg *kvConfig) error {
		if pattern == "" {
			return errors.New("job pattern cannot be empty")
		}
		cfg.jobPattern = pattern
		return nil
	}
}

// WithRegisterPath sets the path of the registration FIFO. Defaults to
// "/tmp/pipekv".
func WithRegisterPath(path string) Option {
	return func(cfg *kvConfig) error {
		if path == "" {
			return errors.New("register path cannot be empty")
		}
		cfg.registerPath = path
		return nil
	}
}

// WithMaxSessions sets the number of session workers, which is also the
// connection queue capacity and the registry ceiling. Defaults to 8.
func WithMaxSessions(n int) Option {
	return func(cfg *kvConfig) error {
		if n <= 0 {
			return errors.New("max sessions must be positive")
		}
		cfg.maxSessions = n
		return nil
	}
}

// WithMaxThreads sets how many job files execute concurrently. Defaults to 4.
func WithMaxThreads(n int) Option {
	return func(cfg *kvConfig) error {
		if n <= 0 {
			return errors.New("max threads must be positive")
		}
		cfg.maxThreads = n
		return nil
	}
}

// WithMaxBackups sets how many snapshots may be outstanding at once.
// Defaults to 2.
func WithMaxBackups(n int) Option {
	return func(cfg *kvConfig) error {
		if n <= 0 {
			return errors.New("max backups must be positive")
		}
		cfg.maxBackups = n
		return nil
	}
}

// WithMaxSubscriptions caps the keys a single session may subscribe to.
// Defaults to 32.
func WithMaxSubscriptions(n int) Option {
	return func(cfg *kvConfig) error {
		if n <= 0 {
			return errors.New("max subscriptions must be positive")
		}
		cfg.maxSubscriptions = n
		return nil
	}
}

// WithBuckets sets the number of store buckets. Defaults to 26.
func WithBuckets(n int) Option {
	return func(cfg *kvConfig) error {
		if n <= 0 {
			return errors.New("buckets must be positive")
		}
		cfg.buckets = n
		return nil
	}
}

// WithHandshakeTimeout bounds how long a connecting client may take to
// deliver its handshake and open its channels. Defaults to 2 seconds.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(cfg *kvConfig) error {
		if d <= 0 {
			return errors.New("handshake timeout must be positive")
		}
		cfg.handshakeTimeout = d
		return nil
	}
}

// WithNotifyTimeout bounds a single notification write. A subscriber that
// does not drain its notification FIFO within the timeout misses that
// notification. Defaults to 250ms.
func WithNotifyTimeout(d time.Duration) Option {
	return func(cfg *kvConfig) error {
		if d <= 0 {
			return errors.New("notify timeout must be positive")
		}
		cfg.notifyTimeout = d
		return nil
	}
}

// WithWatchJobs keeps watching the jobs directory after the initial pass and
// runs job files that appear later.
func WithWatchJobs(watch bool) Option {
	return func(cfg *kvConfig) error {
		cfg.watchJobs = watch
		return nil
	}
}

// WithAdminAddr enables the admin HTTP server on addr, e.g. ":9090".
func WithAdminAddr(addr string) Option {
	return func(cfg *kvConfig) error {
		cfg.adminAddr = addr
		return nil
	}
}

// WithLogger sets the logger. If not specified, a no-op logger is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *kvConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}
