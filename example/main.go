package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv"
	"github.com/jpalmerr/pipekv/internal/client"
	"github.com/jpalmerr/pipekv/internal/logging"
	"github.com/jpalmerr/pipekv/internal/session"
)

func main() {
	logger, err := logging.New(logging.DevelopmentConfig())
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to create logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	dir, err := os.MkdirTemp("/tmp", "pkvdemo")
	if err != nil {
		logger.Fatal("failed to create demo directory", zap.Error(err))
	}
	defer os.RemoveAll(dir)

	// jobs appear one at a time (see jobs.go)
	jobsDir := filepath.Join(dir, "jobs")
	if err := os.Mkdir(jobsDir, 0o755); err != nil {
		logger.Fatal("failed to create jobs directory", zap.Error(err))
	}

	registerPath := filepath.Join(dir, "reg")
	kv, err := pipekv.New(
		pipekv.WithJobsDir(jobsDir),
		pipekv.WithRegisterPath(registerPath),
		pipekv.WithWatchJobs(true),
		pipekv.WithAdminAddr("127.0.0.1:9090"),
		pipekv.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("failed to create pipekv", zap.Error(err))
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════════════════╗")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   pipekv Demo                                         ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Live feed:  curl -N http://127.0.0.1:9090/api/sse   ║")
	fmt.Println("  ║   Keys:       curl http://127.0.0.1:9090/api/keys     ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ║   Press Ctrl+C to stop                                ║")
	fmt.Println("  ║                                                       ║")
	fmt.Println("  ╚═══════════════════════════════════════════════════════╝")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() {
		done <- kv.Start(ctx)
	}()

	go subscribe(ctx, logger, registerPath, dir)
	go FeedDemoJobs(ctx, jobsDir, 2*time.Second)

	if err := <-done; err != nil {
		logger.Error("pipekv error", zap.Error(err))
		os.Exit(1)
	}
}

// subscribe connects a client that watches the demo keys and prints every
// notification it receives.
func subscribe(ctx context.Context, logger *zap.Logger, registerPath, dir string) {
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var c *client.Client
	var err error
	for {
		c, err = client.Connect(connectCtx, registerPath, session.Paths{
			Request:      filepath.Join(dir, "req"),
			Response:     filepath.Join(dir, "resp"),
			Notification: filepath.Join(dir, "notif"),
		})
		if err == nil || connectCtx.Err() != nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	if err != nil {
		logger.Error("demo client failed to connect", zap.Error(err))
		return
	}
	defer c.Close()

	for _, key := range DemoKeys {
		status, err := c.Subscribe(connectCtx, key)
		if err != nil {
			logger.Error("subscribe failed", zap.String("key", key), zap.Error(err))
			return
		}
		fmt.Printf("  subscribed to %s (status %s)\n", key, status)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-c.Notifications():
			if !ok {
				return
			}
			fmt.Printf("  notification %s\n", n)
		}
	}
}
