// Package pipekv provides an in-memory key-value store served to local
// clients over named pipes, with batch job processing and snapshots.
//
// Clients connect by writing a CONNECT message naming three FIFOs of their
// own to the server's registration FIFO. Each connected client may subscribe
// to keys and is notified on its notification FIFO whenever a subscribed key
// is written or deleted. The store itself is driven by batch job files: each
// job file in the jobs directory is executed line by line and its results
// are written to a sibling ".out" file.
//
// # Quick Start
//
//	kv, _ := pipekv.New(
//	    pipekv.WithJobsDir("./jobs"),
//	    pipekv.WithRegisterPath("/tmp/pipekv"),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	kv.Start(ctx) // blocks until context is cancelled
//
// # Architecture
//
// PipeKV consists of several internal packages (under internal/):
//
//   - internal/store: Bucketed hash table with change observers
//   - internal/protocol: Fixed-width wire framing
//   - internal/fifo: Named pipe creation and non-blocking opens
//   - internal/session: Session state and the bounded session registry
//   - internal/server: Registration listener and session worker pool
//   - internal/notify: Notification fan-out to subscribers
//   - internal/jobs: Job file parsing, execution and dispatch
//   - internal/backup: Bounded asynchronous snapshots
//   - internal/admin: HTTP health, metrics, key listing and live feed
//   - internal/client: Go client for the wire protocol
//
// The internal packages are not part of the public API and may change
// without notice.
package pipekv
