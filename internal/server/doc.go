// Package server accepts client sessions on the registration FIFO and serves
// their requests.
//
// A single listener goroutine reads CONNECT messages from the registration
// FIFO and queues them. A fixed pool of workers takes queued connections one
// at a time, opens the client's channels, registers the session and then
// serves its SUBSCRIBE, UNSUBSCRIBE and DISCONNECT requests until the session
// ends. A worker serves exactly one session at a time, so the pool size bounds
// the number of sessions being served concurrently.
//
// Basic usage:
//
//	srv := server.New(server.Config{RegisterPath: "/tmp/pipekv"}, st, reg, logger, m)
//	if err := srv.Start(ctx); err != nil {
//	    return err
//	}
//	defer srv.Stop()
package server
