package server

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv/internal/fifo"
	"github.com/jpalmerr/pipekv/internal/protocol"
	"github.com/jpalmerr/pipekv/internal/session"
)

// work takes queued connections one at a time and serves each until its
// session ends.
func (s *Server) work(ctx context.Context, id int) {
	defer s.wg.Done()
	logger := s.logger.With(zap.Int("worker", id))

	for {
		p, err := s.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		s.metrics.QueueDepth.Set(float64(s.queue.Len()))
		s.serve(ctx, p, logger)
	}
}

// serve runs one session from handshake to teardown. A panic while serving
// aborts the session and is logged with a correlation ID; the worker goes on
// to the next connection.
func (s *Server) serve(ctx context.Context, p session.Pending, logger *zap.Logger) {
	sess := session.New(p.Paths)
	logger = logger.With(zap.String("session_id", sess.ID))

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			logger.Error("session panic",
				zap.String("correlation_id", correlationID),
				zap.String("panic", fmt.Sprintf("%v", r)),
				zap.ByteString("stack", debug.Stack()),
			)
			s.abort(sess, logger)
		}
	}()

	if !s.connect(ctx, sess, logger) {
		return
	}

	s.enterServing()
	defer s.leaveServing()
	s.loop(sess, logger)
}

// connect opens the client's channels, registers the session and writes the
// CONNECT acknowledgement. It reports whether the session is ready to serve.
func (s *Server) connect(ctx context.Context, sess *session.Session, logger *zap.Logger) bool {
	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()

	resp, err := fifo.OpenWriter(hctx, sess.Paths.Response)
	if err != nil {
		s.metrics.ConnectsTotal.WithLabelValues("aborted").Inc()
		logger.Warn("failed to open response channel", zap.String("path", sess.Paths.Response), zap.Error(err))
		return false
	}
	req, err := fifo.OpenReader(sess.Paths.Request)
	if err != nil {
		_ = resp.Close()
		s.metrics.ConnectsTotal.WithLabelValues("aborted").Inc()
		logger.Warn("failed to open request channel", zap.String("path", sess.Paths.Request), zap.Error(err))
		return false
	}
	// not registered yet, so nothing else can have closed the session
	_ = sess.Attach(req, resp, nil)

	if err := s.registry.Register(sess); err != nil {
		s.metrics.ConnectsTotal.WithLabelValues("rejected").Inc()
		logger.Warn("connection rejected", zap.Error(err))
		if werr := protocol.WriteResponse(resp, protocol.OpConnect, protocol.StatusFailed); werr != nil {
			logger.Debug("failed to write rejection", zap.Error(werr))
		}
		sess.Close()
		return false
	}
	s.metrics.SessionsActive.Set(float64(s.registry.Len()))

	if err := protocol.WriteResponse(resp, protocol.OpConnect, protocol.StatusOK); err != nil {
		s.metrics.ConnectsTotal.WithLabelValues("aborted").Inc()
		logger.Warn("failed to acknowledge connection", zap.Error(err))
		s.abort(sess, logger)
		return false
	}

	notif, err := fifo.OpenWriter(hctx, sess.Paths.Notification)
	if err != nil {
		s.metrics.ConnectsTotal.WithLabelValues("aborted").Inc()
		logger.Warn("failed to open notification channel", zap.String("path", sess.Paths.Notification), zap.Error(err))
		s.abort(sess, logger)
		return false
	}
	if err := sess.Attach(nil, nil, notif); err != nil {
		// ended by a reset while the channel was opening
		s.abort(sess, logger)
		return false
	}

	s.metrics.ConnectsTotal.WithLabelValues("accepted").Inc()
	logger.Info("session connected",
		zap.String("request", sess.Paths.Request),
		zap.Int("sessions", s.registry.Len()),
	)
	return true
}

// loop serves requests until the client disconnects, a channel fails or the
// session is ended from outside.
func (s *Server) loop(sess *session.Session, logger *zap.Logger) {
	for {
		req, err := protocol.ReadRequest(sess.Request())
		if errors.Is(err, protocol.ErrUnknownOpCode) {
			s.metrics.ProtocolFaults.WithLabelValues("request").Inc()
			logger.Warn("ignoring unknown request", zap.Stringer("op", req.Op))
			continue
		}
		if err != nil {
			if sess.Alive() {
				logger.Info("request channel closed, ending session", zap.Error(err))
			}
			s.abort(sess, logger)
			return
		}

		resp, done := s.handle(sess, req)
		s.metrics.Requests.WithLabelValues(req.Op.String(), resp.Status.String()).Inc()
		logger.Debug("request served",
			zap.Stringer("op", req.Op),
			zap.String("key", req.Key),
			zap.Stringer("status", resp.Status),
		)

		if err := protocol.WriteResponse(sess.Response(), resp.Op, resp.Status); err != nil {
			logger.Info("response channel failed, ending session", zap.Error(err))
			s.abort(sess, logger)
			return
		}
		if done {
			sess.Close()
			s.metrics.SessionsActive.Set(float64(s.registry.Len()))
			logger.Info("session disconnected")
			return
		}
	}
}

// handle applies one request and returns the response to send. done reports
// whether the session ends after the response is written.
func (s *Server) handle(sess *session.Session, req protocol.Request) (resp protocol.Response, done bool) {
	resp.Op = req.Op
	resp.Status = protocol.StatusFailed

	switch req.Op {
	case protocol.OpDisconnect:
		if err := s.registry.Remove(sess); err == nil {
			resp.Status = protocol.StatusOK
		}
		return resp, true

	case protocol.OpSubscribe:
		if req.Key == "" {
			return resp, false
		}
		if err := s.registry.Subscribe(sess, req.Key); err != nil {
			return resp, false
		}
		if _, ok, err := s.store.Read(req.Key); err == nil && ok {
			resp.Status = protocol.StatusOK
		} else {
			resp.Status = protocol.StatusKeyMissing
		}
		return resp, false

	case protocol.OpUnsubscribe:
		if req.Key == "" {
			return resp, false
		}
		if err := s.registry.Unsubscribe(sess, req.Key); err == nil {
			resp.Status = protocol.StatusOK
		}
		return resp, false
	}
	return resp, false
}

// abort evicts sess if it is still registered and closes its channels.
func (s *Server) abort(sess *session.Session, logger *zap.Logger) {
	if err := s.registry.Remove(sess); err != nil && !errors.Is(err, session.ErrNotFound) {
		logger.Warn("failed to remove session", zap.Error(err))
	}
	sess.Close()
	s.metrics.SessionsActive.Set(float64(s.registry.Len()))
}
