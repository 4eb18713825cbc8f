package session

import (
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Paths names the three FIFOs a client supplied in its handshake.
type Paths struct {
	Request      string `json:"request"`
	Response     string `json:"response"`
	Notification string `json:"notification"`
}

// Pending is a handshake accepted by the listener and waiting for a worker.
type Pending struct {
	Paths      Paths
	AcceptedAt time.Time
}

// deadlineWriter is implemented by *os.File and net.Conn.
type deadlineWriter interface {
	SetWriteDeadline(t time.Time) error
}

// Session is a connected client.
//
// Channel endpoints are attached by the worker that owns the session. Once an
// endpoint has been closed, attaching a replacement closes the replacement
// immediately and reports io.ErrClosedPipe, so an endpoint opened while the
// session was being torn down is never leaked.
type Session struct {
	ID    string
	Paths Paths

	mu           sync.Mutex
	request      io.ReadCloser
	response     io.WriteCloser
	notification io.WriteCloser
	reqClosed    bool
	respClosed   bool
	notifyClosed bool

	// serializes notification writes
	notifyMu sync.Mutex

	// guarded by Registry.mu
	subs map[string]struct{}
	slot int
	gen  uint64

	alive atomic.Bool
}

// New creates a detached session for paths with a fresh ID.
func New(paths Paths) *Session {
	return &Session{
		ID:    uuid.NewString(),
		Paths: paths,
		slot:  -1,
	}
}

// Attach sets the non-nil channel endpoints.
func (s *Session) Attach(request io.ReadCloser, response, notification io.WriteCloser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if request != nil {
		if s.reqClosed {
			_ = request.Close()
			err = io.ErrClosedPipe
		} else {
			s.request = request
		}
	}
	if response != nil {
		if s.respClosed {
			_ = response.Close()
			err = io.ErrClosedPipe
		} else {
			s.response = response
		}
	}
	if notification != nil {
		if s.notifyClosed {
			_ = notification.Close()
			err = io.ErrClosedPipe
		} else {
			s.notification = notification
		}
	}
	return err
}

// Request returns the request channel, or nil before it is attached.
func (s *Session) Request() io.Reader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.request == nil {
		return nil
	}
	return s.request
}

// Response returns the response channel, or nil before it is attached.
func (s *Session) Response() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.response == nil {
		return nil
	}
	return s.response
}

// Alive reports whether the session is still registered.
func (s *Session) Alive() bool {
	return s.alive.Load()
}

// Notify writes payload to the notification channel as a single write. When
// the channel supports deadlines the write is bounded by timeout.
func (s *Session) Notify(payload []byte, timeout time.Duration) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	w := s.notification
	s.mu.Unlock()
	if w == nil {
		return io.ErrClosedPipe
	}

	if dw, ok := w.(deadlineWriter); ok && timeout > 0 {
		_ = dw.SetWriteDeadline(time.Now().Add(timeout))
		defer dw.SetWriteDeadline(time.Time{})
	}
	_, err := w.Write(payload)
	return err
}

// closeRequest closes the request channel, waking a worker blocked reading it.
func (s *Session) closeRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reqClosed {
		s.reqClosed = true
		if s.request != nil {
			_ = s.request.Close()
		}
	}
}

func (s *Session) closeNotification() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.notifyClosed {
		s.notifyClosed = true
		if s.notification != nil {
			_ = s.notification.Close()
		}
	}
}

func (s *Session) closeResponse() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.respClosed {
		s.respClosed = true
		if s.response != nil {
			_ = s.response.Close()
		}
	}
}

// Close closes every channel endpoint the session holds. Close is idempotent.
func (s *Session) Close() {
	s.closeRequest()
	s.closeNotification()
	s.closeResponse()
}
