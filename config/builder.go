package config

import (
	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv"
)

// BuildOptions converts parsed configuration into SDK options. A nil logger
// leaves the SDK default in place.
func BuildOptions(cfg *Config, logger *zap.Logger) []pipekv.Option {
	opts := []pipekv.Option{
		pipekv.WithJobsDir(cfg.JobsDir),
		pipekv.WithJobPattern(cfg.JobPattern),
		pipekv.WithRegisterPath(cfg.RegisterPath),
		pipekv.WithMaxSessions(cfg.MaxSessions),
		pipekv.WithMaxThreads(cfg.MaxThreads),
		pipekv.WithMaxBackups(cfg.MaxBackups),
		pipekv.WithMaxSubscriptions(cfg.MaxSubscriptions),
		pipekv.WithBuckets(cfg.Buckets),
		pipekv.WithHandshakeTimeout(cfg.HandshakeTimeout.Duration()),
		pipekv.WithNotifyTimeout(cfg.NotifyTimeout.Duration()),
		pipekv.WithWatchJobs(cfg.WatchJobs),
	}

	if cfg.AdminAddr != "" {
		opts = append(opts, pipekv.WithAdminAddr(cfg.AdminAddr))
	}
	if logger != nil {
		opts = append(opts, pipekv.WithLogger(logger))
	}

	return opts
}
