package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv"
	"github.com/jpalmerr/pipekv/config"
	"github.com/jpalmerr/pipekv/internal/logging"
)

const (
	shutdownTimeout = 10 * time.Second
)

// serveCmd starts the pipekv server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the pipekv server.

The server will:
  - Load configuration from the specified YAML file
  - Create the registration FIFO and accept client sessions
  - Execute every job file in the jobs directory

The server runs until interrupted (Ctrl+C) or receives SIGTERM.
SIGUSR1 disconnects every client without stopping the server.

Example:
  pipekv serve -c config.yaml
  pipekv serve --config /etc/pipekv/config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("config loaded",
		zap.String("jobs_dir", cfg.JobsDir),
		zap.String("job_pattern", cfg.JobPattern),
		zap.String("register_path", cfg.RegisterPath),
	)

	kv, err := pipekv.New(config.BuildOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("failed to create pipekv: %w", err)
	}

	// set up context with signal handling - cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go handleResets(ctx, kv, logger)

	// start server - blocks until context cancelled
	errChan := make(chan error, 1)
	go func() {
		errChan <- kv.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				zap.Duration("timeout", shutdownTimeout),
				zap.String("action", "forcing exit"),
			)
			return nil
		}
	}
}

// handleResets disconnects every client on SIGUSR1 until ctx is done.
func handleResets(ctx context.Context, kv *pipekv.PipeKV, logger *zap.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			n := kv.ResetSessions()
			logger.Info("SIGUSR1 received, sessions reset", zap.Int("sessions", n))
		}
	}
}
