// Package client connects to a pipekv server over its registration FIFO and
// drives a session: subscribing to keys, receiving notifications and
// disconnecting.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv/internal/fifo"
	"github.com/jpalmerr/pipekv/internal/protocol"
	"github.com/jpalmerr/pipekv/internal/session"
)

// notificationBuffer is the capacity of the channel returned by
// [Client.Notifications].
const notificationBuffer = 64

var (
	// ErrRejected is returned by Connect when the server is at capacity.
	ErrRejected = errors.New("client: connection rejected")

	// ErrClosed is returned for operations on a closed client.
	ErrClosed = errors.New("client: closed")

	// ErrUnexpectedResponse is returned when a response does not echo the
	// request's opcode.
	ErrUnexpectedResponse = errors.New("client: unexpected response")
)

// Option configures a [Client].
type Option func(*Client)

// WithLogger sets the logger used for notification read failures.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client is a connected session. Requests are serialized; notifications are
// delivered on [Client.Notifications] as they arrive.
type Client struct {
	paths  session.Paths
	logger *zap.Logger

	req   *os.File
	resp  *os.File
	notif *os.File

	// serializes request/response exchanges
	mu     sync.Mutex
	closed bool

	notifications chan protocol.Notification
	done          chan struct{}
	closeOnce     sync.Once
	wg            sync.WaitGroup
}

// Connect creates the client's three FIFOs at paths, sends a CONNECT to the
// server listening on registerPath and waits for the acknowledgement. The
// wait is bounded by ctx's deadline, if any.
//
// The client holds every FIFO open for reading and writing, so the server can
// open its ends in any order and the request channel stays open for the
// lifetime of the session.
func Connect(ctx context.Context, registerPath string, paths session.Paths, opts ...Option) (*Client, error) {
	h := protocol.Handshake{
		RequestPath:      paths.Request,
		ResponsePath:     paths.Response,
		NotificationPath: paths.Notification,
	}
	msg, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}

	c := &Client{
		paths:         paths,
		logger:        zap.NewNop(),
		notifications: make(chan protocol.Notification, notificationBuffer),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.open(); err != nil {
		c.release()
		return nil, err
	}

	reg, err := fifo.OpenWriter(ctx, registerPath)
	if err != nil {
		c.release()
		return nil, fmt.Errorf("open registration fifo: %w", err)
	}
	_, err = reg.Write(msg)
	_ = reg.Close()
	if err != nil {
		c.release()
		return nil, fmt.Errorf("send connect: %w", err)
	}

	resp, err := c.readResponse(ctx)
	if err != nil {
		c.release()
		return nil, fmt.Errorf("read connect acknowledgement: %w", err)
	}
	if resp.Op != protocol.OpConnect {
		c.release()
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedResponse, []byte{byte(resp.Op), byte(resp.Status)})
	}
	if resp.Status != protocol.StatusOK {
		c.release()
		return nil, ErrRejected
	}

	c.wg.Add(1)
	go c.readNotifications()
	return c, nil
}

func (c *Client) open() error {
	for _, p := range []string{c.paths.Request, c.paths.Response, c.paths.Notification} {
		if err := fifo.Create(p); err != nil {
			return err
		}
	}
	var err error
	if c.req, err = fifo.OpenReadWrite(c.paths.Request); err != nil {
		return err
	}
	if c.resp, err = fifo.OpenReadWrite(c.paths.Response); err != nil {
		return err
	}
	if c.notif, err = fifo.OpenReadWrite(c.paths.Notification); err != nil {
		return err
	}
	return nil
}

// release closes and unlinks whatever open created.
func (c *Client) release() {
	for _, f := range []*os.File{c.req, c.resp, c.notif} {
		if f != nil {
			_ = f.Close()
		}
	}
	for _, p := range []string{c.paths.Request, c.paths.Response, c.paths.Notification} {
		_ = fifo.Remove(p)
	}
}

// Paths returns the FIFOs the client registered with.
func (c *Client) Paths() session.Paths {
	return c.paths
}

// Notifications returns the channel notifications are delivered on. It is
// closed by [Client.Close].
func (c *Client) Notifications() <-chan protocol.Notification {
	return c.notifications
}

// Subscribe asks to be notified of changes to key.
func (c *Client) Subscribe(ctx context.Context, key string) (protocol.Status, error) {
	return c.roundTrip(ctx, protocol.Request{Op: protocol.OpSubscribe, Key: key})
}

// Unsubscribe stops notifications for key.
func (c *Client) Unsubscribe(ctx context.Context, key string) (protocol.Status, error) {
	return c.roundTrip(ctx, protocol.Request{Op: protocol.OpUnsubscribe, Key: key})
}

// Disconnect ends the session and closes the client.
func (c *Client) Disconnect(ctx context.Context) (protocol.Status, error) {
	status, err := c.roundTrip(ctx, protocol.Request{Op: protocol.OpDisconnect})
	c.Close()
	return status, err
}

func (c *Client) roundTrip(ctx context.Context, req protocol.Request) (protocol.Status, error) {
	msg, err := req.MarshalBinary()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	if _, err := c.req.Write(msg); err != nil {
		return 0, fmt.Errorf("send %s: %w", req.Op, err)
	}
	resp, err := c.readResponse(ctx)
	if err != nil {
		return 0, fmt.Errorf("read %s response: %w", req.Op, err)
	}
	if resp.Op != req.Op {
		return 0, fmt.Errorf("%w: %q", ErrUnexpectedResponse, []byte{byte(resp.Op), byte(resp.Status)})
	}
	return resp.Status, nil
}

func (c *Client) readResponse(ctx context.Context) (protocol.Response, error) {
	deadline, _ := ctx.Deadline()
	if err := c.resp.SetReadDeadline(deadline); err != nil {
		return protocol.Response{}, err
	}
	defer c.resp.SetReadDeadline(time.Time{})
	return protocol.ReadResponse(c.resp)
}

func (c *Client) readNotifications() {
	defer c.wg.Done()
	r := bufio.NewReader(c.notif)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.EOF) {
				c.logger.Warn("notification read failed", zap.Error(err))
			}
			return
		}
		n, err := protocol.ParseNotification(line)
		if err != nil {
			c.logger.Warn("dropping malformed notification", zap.String("line", line), zap.Error(err))
			continue
		}
		select {
		case c.notifications <- n:
		case <-c.done:
			return
		}
	}
}

// Close closes the client's channels and unlinks its FIFOs without sending
// DISCONNECT; the server observes the closed request channel and ends the
// session. Close is idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		// release first so an exchange blocked on a read returns
		c.release()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.wg.Wait()
		close(c.notifications)
	})
}
