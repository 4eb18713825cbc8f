// Package notify delivers key-change notifications to subscribed sessions.
//
// [Notifier] is installed as a store observer. Every committed write or
// delete is pushed to the notification FIFO of each subscribed session
// before the mutating call returns. Delivery is best-effort: a send that
// fails or exceeds its deadline is logged and counted, never retried, and
// never fails the write.
//
// The Notifier also republishes every event to in-process subscribers (for
// example the admin event stream) over buffered channels. Slow consumers
// miss events rather than block the store.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv/internal/metrics"
	"github.com/jpalmerr/pipekv/internal/protocol"
	"github.com/jpalmerr/pipekv/internal/session"
)

// DefaultTimeout bounds a single notification write.
const DefaultTimeout = 250 * time.Millisecond

// feedBuffer is the capacity of each in-process subscriber channel.
const feedBuffer = 100

// Notifier fans store mutations out to subscribers.
type Notifier struct {
	registry *session.Registry
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics

	subMu       sync.RWMutex
	subscribers map[chan protocol.Notification]struct{}
}

// New creates a [Notifier] delivering through registry. A non-positive
// timeout selects [DefaultTimeout].
func New(registry *session.Registry, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{
		registry:    registry,
		timeout:     timeout,
		logger:      logger,
		metrics:     m,
		subscribers: make(map[chan protocol.Notification]struct{}),
	}
}

// KeyWritten notifies subscribers of key that it now holds value.
func (n *Notifier) KeyWritten(key, value string) {
	n.publish(protocol.Notification{Key: key, Value: value})
}

// KeyDeleted notifies subscribers of key that it was deleted and drops the
// key from every notified session.
func (n *Notifier) KeyDeleted(key string) {
	n.publish(protocol.Notification{Key: key, Deleted: true})
}

func (n *Notifier) publish(ev protocol.Notification) {
	payload, _ := ev.MarshalBinary()

	n.registry.Fanout(ev.Key, ev.Deleted, func(s *session.Session) error {
		if err := s.Notify(payload, n.timeout); err != nil {
			n.metrics.Notifications.WithLabelValues("failed").Inc()
			n.logger.Warn("notification dropped",
				zap.String("session_id", s.ID),
				zap.String("key", ev.Key),
				zap.Error(err),
			)
			return err
		}
		n.metrics.Notifications.WithLabelValues("delivered").Inc()
		return nil
	})

	n.broadcast(ev)
}

// Subscribe returns a channel receiving every notification published from
// now on. The channel has a buffer of 100 events; when it is full new events
// are dropped for this subscriber.
//
// Caller must call [Notifier.Unsubscribe] when done.
func (n *Notifier) Subscribe() <-chan protocol.Notification {
	ch := make(chan protocol.Notification, feedBuffer)

	n.subMu.Lock()
	n.subscribers[ch] = struct{}{}
	n.subMu.Unlock()

	return ch
}

// Unsubscribe removes a subscription and closes its channel. Safe to call
// multiple times or with an unknown channel.
func (n *Notifier) Unsubscribe(ch <-chan protocol.Notification) {
	n.subMu.Lock()
	defer n.subMu.Unlock()

	for subCh := range n.subscribers {
		if subCh == ch {
			delete(n.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (n *Notifier) broadcast(ev protocol.Notification) {
	n.subMu.RLock()
	defer n.subMu.RUnlock()

	for ch := range n.subscribers {
		select {
		case ch <- ev:
		default:
			// slow consumer
		}
	}
}
