// Package config provides YAML configuration parsing for pipekv.
//
// This package enables running pipekv as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
// Every setting can be overridden by a PIPEKV_-prefixed environment variable.
//
// Example configuration:
//
//	jobs_dir: ${HOME}/jobs
//	register_path: /tmp/pipekv
//	max_sessions: 8
//	max_threads: 4
//	max_backups: 2
//	handshake_timeout: 2s
//	admin_addr: ":9090"
//	log:
//	  level: debug
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/pipekv/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. PIPEKV_JOBS_DIR.
const EnvPrefix = "pipekv"

// Defaults applied to unset fields.
const (
	DefaultJobPattern       = "*.job"
	DefaultRegisterPath     = "/tmp/pipekv"
	DefaultMaxSessions      = 8
	DefaultMaxThreads       = 4
	DefaultMaxBackups       = 2
	DefaultMaxSubscriptions = 32
	DefaultBuckets          = 26
	DefaultHandshakeTimeout = 2 * time.Second
	DefaultNotifyTimeout    = 250 * time.Millisecond
	DefaultLogLevel         = "info"
)

// Config is the root configuration structure for pipekv.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// JobsDir is the directory scanned for job files. Required.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	JobsDir string `yaml:"jobs_dir" envconfig:"JOBS_DIR"`

	// JobPattern is a doublestar glob, relative to JobsDir, selecting job
	// files. Defaults to "*.job".
	JobPattern string `yaml:"job_pattern" envconfig:"JOB_PATTERN"`

	// RegisterPath is the registration FIFO. Defaults to /tmp/pipekv.
	// Supports environment variable substitution.
	RegisterPath string `yaml:"register_path" envconfig:"REGISTER_PATH"`

	// MaxSessions is the number of session workers, the connection queue
	// capacity and the session ceiling. Defaults to 8.
	MaxSessions int `yaml:"max_sessions" envconfig:"MAX_SESSIONS"`

	// MaxThreads bounds concurrently executing job files. Defaults to 4.
	MaxThreads int `yaml:"max_threads" envconfig:"MAX_THREADS"`

	// MaxBackups bounds outstanding snapshots. Defaults to 2.
	MaxBackups int `yaml:"max_backups" envconfig:"MAX_BACKUPS"`

	// MaxSubscriptions caps the keys per session. Defaults to 32.
	MaxSubscriptions int `yaml:"max_subscriptions" envconfig:"MAX_SUBSCRIPTIONS"`

	// Buckets is the store bucket count. Defaults to 26.
	Buckets int `yaml:"buckets" envconfig:"BUCKETS"`

	// HandshakeTimeout bounds a connection handshake. Defaults to 2s.
	HandshakeTimeout Duration `yaml:"handshake_timeout" envconfig:"HANDSHAKE_TIMEOUT"`

	// NotifyTimeout bounds a single notification write. Defaults to 250ms.
	NotifyTimeout Duration `yaml:"notify_timeout" envconfig:"NOTIFY_TIMEOUT"`

	// WatchJobs keeps running job files that appear after startup.
	WatchJobs bool `yaml:"watch_jobs" envconfig:"WATCH_JOBS"`

	// AdminAddr enables the admin HTTP server, e.g. ":9090". Empty disables.
	AdminAddr string `yaml:"admin_addr" envconfig:"ADMIN_ADDR"`

	// Log configures the logger.
	Log LogConfig `yaml:"log"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level" envconfig:"LEVEL"`

	// Development selects the console encoder.
	Development bool `yaml:"development" envconfig:"DEVELOPMENT"`
}

// Logging returns the logger configuration for c.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Development = c.Log.Development
	return cfg
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.Decode(s)
}

// Decode implements envconfig.Decoder for Duration.
func (d *Duration) Decode(value string) error {
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Environment variables in paths are expanded and PIPEKV_ overrides applied.
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data, applies PIPEKV_ environment
// overrides and defaults, expands ${VAR} references in JobsDir and
// RegisterPath and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.JobPattern == "" {
		c.JobPattern = DefaultJobPattern
	}
	if c.RegisterPath == "" {
		c.RegisterPath = DefaultRegisterPath
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.MaxThreads == 0 {
		c.MaxThreads = DefaultMaxThreads
	}
	if c.MaxBackups == 0 {
		c.MaxBackups = DefaultMaxBackups
	}
	if c.MaxSubscriptions == 0 {
		c.MaxSubscriptions = DefaultMaxSubscriptions
	}
	if c.Buckets == 0 {
		c.Buckets = DefaultBuckets
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = Duration(DefaultHandshakeTimeout)
	}
	if c.NotifyTimeout == 0 {
		c.NotifyTimeout = Duration(DefaultNotifyTimeout)
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.JobsDir == "" {
		return fmt.Errorf("jobs_dir is required")
	}
	expanded, err := expandEnvVars(c.JobsDir)
	if err != nil {
		return fmt.Errorf("jobs_dir: %w", err)
	}
	c.JobsDir = expanded

	expanded, err = expandEnvVars(c.RegisterPath)
	if err != nil {
		return fmt.Errorf("register_path: %w", err)
	}
	c.RegisterPath = expanded

	if !doublestar.ValidatePattern(c.JobPattern) {
		return fmt.Errorf("job_pattern: invalid pattern %q", c.JobPattern)
	}

	limits := []struct {
		name  string
		value int
	}{
		{"max_sessions", c.MaxSessions},
		{"max_threads", c.MaxThreads},
		{"max_backups", c.MaxBackups},
		{"max_subscriptions", c.MaxSubscriptions},
		{"buckets", c.Buckets},
	}
	for _, l := range limits {
		if l.value < 1 {
			return fmt.Errorf("%s must be positive, got %d", l.name, l.value)
		}
	}

	if c.HandshakeTimeout.Duration() < 0 {
		return fmt.Errorf("handshake_timeout cannot be negative, got %s", c.HandshakeTimeout.Duration())
	}
	if c.NotifyTimeout.Duration() < 0 {
		return fmt.Errorf("notify_timeout cannot be negative, got %s", c.NotifyTimeout.Duration())
	}

	if c.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			return fmt.Errorf("admin_addr: %w", err)
		}
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}
