package server

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv/internal/protocol"
	"github.com/jpalmerr/pipekv/internal/session"
)

// listenRetryDelay paces the listener after an unexpected read error.
const listenRetryDelay = 100 * time.Millisecond

// listen reads CONNECT messages from reg and queues them for the workers.
// The registration FIFO is held open for writing by the server itself, so a
// client closing its end never produces EOF.
func (s *Server) listen(ctx context.Context, reg *os.File) {
	defer s.wg.Done()

	for {
		op, err := protocol.ReadOpCode(reg)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return
			}
			s.logger.Error("registration read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(listenRetryDelay):
			}
			continue
		}

		if op != protocol.OpConnect {
			s.metrics.ProtocolFaults.WithLabelValues("registration").Inc()
			s.logger.Warn("dropping unexpected opcode on registration fifo", zap.Stringer("op", op))
			continue
		}

		p, err := s.readHandshake(reg)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
				return
			}
			s.metrics.ConnectsTotal.WithLabelValues("malformed").Inc()
			s.logger.Warn("dropping malformed connection attempt", zap.Error(err))
			continue
		}

		if err := s.queue.Enqueue(ctx, p); err != nil {
			unlinkPending(p, s.logger)
			return
		}
		s.metrics.QueueDepth.Set(float64(s.queue.Len()))
		s.logger.Debug("connection queued",
			zap.String("request", p.Paths.Request),
			zap.Int("pending", s.queue.Len()),
		)
	}
}

// readHandshake reads the paths following a CONNECT opcode. The read is
// bounded by the handshake timeout so a truncated message cannot wedge the
// listener.
func (s *Server) readHandshake(reg *os.File) (session.Pending, error) {
	if err := reg.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return session.Pending{}, err
	}
	defer reg.SetReadDeadline(time.Time{})

	h, err := protocol.ReadHandshake(reg)
	if err != nil {
		return session.Pending{}, err
	}
	return session.Pending{
		Paths: session.Paths{
			Request:      h.RequestPath,
			Response:     h.ResponsePath,
			Notification: h.NotificationPath,
		},
		AcceptedAt: time.Now(),
	}, nil
}
