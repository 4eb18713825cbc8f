// Package admin provides the optional HTTP surface of a pipekv server.
//
// The server exposes:
//
//   - GET /healthz: Liveness probe
//   - GET /metrics: Prometheus metrics
//   - GET /api/keys: Snapshot of every key-value pair as JSON
//   - GET /api/sessions: Connected sessions as JSON
//   - GET /api/sse: Server-Sent Events stream of key notifications
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests. It is disabled unless an address
// is configured.
package admin
