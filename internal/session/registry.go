package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/jpalmerr/pipekv/internal/fifo"
)

// DefaultMaxSubscriptions is the per-session subscription ceiling used when
// none is configured.
const DefaultMaxSubscriptions = 32

var (
	// ErrCapacity is returned by Register when every slot is taken.
	ErrCapacity = errors.New("session: registry full")

	// ErrNotFound is returned for a session that is not registered.
	ErrNotFound = errors.New("session: not registered")

	// ErrAlreadyRegistered is returned when registering a live session again.
	ErrAlreadyRegistered = errors.New("session: already registered")

	// ErrAlreadySubscribed is returned when subscribing to a key twice.
	ErrAlreadySubscribed = errors.New("session: already subscribed")

	// ErrSubscriptionLimit is returned when a session holds the maximum
	// number of subscriptions.
	ErrSubscriptionLimit = errors.New("session: subscription limit reached")

	// ErrNotSubscribed is returned when unsubscribing from a key the session
	// is not subscribed to.
	ErrNotSubscribed = errors.New("session: not subscribed")
)

// Registry is the bounded set of live sessions.
//
// Sessions occupy slots in a fixed arena. A freed slot is reused by the next
// registration; its generation counter is bumped on every removal so a
// session holding a stale slot index is never mistaken for the new occupant.
type Registry struct {
	mu      sync.Mutex
	slots   []*Session
	gens    []uint64
	free    []int
	count   int
	maxSubs int
	unlink  func(path string) error
	logger  *zap.Logger
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithUnlink replaces the function used to remove session FIFOs.
func WithUnlink(fn func(path string) error) RegistryOption {
	return func(r *Registry) { r.unlink = fn }
}

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a registry holding at most maxSessions sessions with at
// most maxSubscriptions keys each.
func NewRegistry(maxSessions, maxSubscriptions int, opts ...RegistryOption) *Registry {
	if maxSessions < 1 {
		maxSessions = 1
	}
	if maxSubscriptions < 1 {
		maxSubscriptions = DefaultMaxSubscriptions
	}
	r := &Registry{
		slots:   make([]*Session, maxSessions),
		gens:    make([]uint64, maxSessions),
		free:    make([]int, 0, maxSessions),
		maxSubs: maxSubscriptions,
		unlink:  fifo.Remove,
		logger:  zap.NewNop(),
	}
	for i := maxSessions - 1; i >= 0; i-- {
		r.free = append(r.free, i)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register places s in a free slot and marks it alive. Its subscription set
// starts empty.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owns(s) {
		return ErrAlreadyRegistered
	}
	if len(r.free) == 0 {
		return ErrCapacity
	}

	slot := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]

	s.slot = slot
	s.gen = r.gens[slot]
	s.subs = make(map[string]struct{})
	s.alive.Store(true)
	r.slots[slot] = s
	r.count++
	return nil
}

// owns reports whether s is the current occupant of its slot. Callers hold mu.
func (r *Registry) owns(s *Session) bool {
	return s != nil && s.slot >= 0 && s.slot < len(r.slots) &&
		r.slots[s.slot] == s && r.gens[s.slot] == s.gen
}

// evict frees the slot held by s. Callers hold mu and have checked owns.
func (r *Registry) evict(s *Session) {
	r.slots[s.slot] = nil
	r.gens[s.slot]++
	r.free = append(r.free, s.slot)
	r.count--
	s.subs = nil
	s.alive.Store(false)
}

// Remove evicts s, unlinks its three FIFOs and closes its request and
// notification channels. The response channel stays open so the owning
// worker can still acknowledge; the worker closes it with [Session.Close].
//
// Removing a session that is not registered returns [ErrNotFound].
func (r *Registry) Remove(s *Session) error {
	r.mu.Lock()
	if !r.owns(s) {
		r.mu.Unlock()
		return ErrNotFound
	}
	r.evict(s)
	r.mu.Unlock()

	s.closeRequest()
	s.closeNotification()
	r.unlinkPaths(s)
	return nil
}

func (r *Registry) unlinkPaths(s *Session) {
	for _, p := range []string{s.Paths.Request, s.Paths.Response, s.Paths.Notification} {
		if p == "" {
			continue
		}
		if err := r.unlink(p); err != nil {
			r.logger.Warn("failed to unlink session fifo",
				zap.String("session_id", s.ID),
				zap.String("path", p),
				zap.Error(err),
			)
		}
	}
}

// CloseAll evicts every session, unlinks their FIFOs and closes all of their
// channels. Workers blocked on a request read observe the close and unwind.
// It returns the sessions that were evicted.
func (r *Registry) CloseAll() []*Session {
	r.mu.Lock()
	sessions := make([]*Session, 0, r.count)
	for _, s := range r.slots {
		if s != nil {
			sessions = append(sessions, s)
			r.evict(s)
		}
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
		r.unlinkPaths(s)
	}
	return sessions
}

// Subscribe adds key to the subscription set of s.
func (r *Registry) Subscribe(s *Session, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.owns(s) {
		return ErrNotFound
	}
	if _, ok := s.subs[key]; ok {
		return ErrAlreadySubscribed
	}
	if len(s.subs) >= r.maxSubs {
		return ErrSubscriptionLimit
	}
	s.subs[key] = struct{}{}
	return nil
}

// Unsubscribe removes key from the subscription set of s.
func (r *Registry) Unsubscribe(s *Session, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.owns(s) {
		return ErrNotFound
	}
	if _, ok := s.subs[key]; !ok {
		return ErrNotSubscribed
	}
	delete(s.subs, key)
	return nil
}

// Subscriptions returns a copy of the keys s is subscribed to.
func (r *Registry) Subscriptions(s *Session) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.owns(s) {
		return nil
	}
	keys := make([]string, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	return keys
}

// Subscribers returns the live sessions subscribed to key.
func (r *Registry) Subscribers(key string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Session
	for _, s := range r.slots {
		if s == nil {
			continue
		}
		if _, ok := s.subs[key]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Fanout calls send for every session subscribed to key. The subscribers
// are collected under the registry lock, so the scan cannot interleave with
// a subscribe, unsubscribe or removal; send runs after the lock is released
// so a slow subscriber does not stall the registry. When drop is set the key
// is removed from every subscriber's set during the scan, whether or not its
// send later succeeds. It returns the number of sessions for which send
// returned nil.
func (r *Registry) Fanout(key string, drop bool, send func(*Session) error) int {
	r.mu.Lock()
	var targets []*Session
	for _, s := range r.slots {
		if s == nil {
			continue
		}
		if _, ok := s.subs[key]; !ok {
			continue
		}
		targets = append(targets, s)
		if drop {
			delete(s.subs, key)
		}
	}
	r.mu.Unlock()

	delivered := 0
	for _, s := range targets {
		if err := send(s); err == nil {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Cap returns the maximum number of live sessions.
func (r *Registry) Cap() int {
	return len(r.slots)
}

// Info describes a live session.
type Info struct {
	ID            string `json:"id"`
	Paths         Paths  `json:"paths"`
	Subscriptions int    `json:"subscriptions"`
}

// List describes every live session in slot order.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, r.count)
	for _, s := range r.slots {
		if s != nil {
			out = append(out, Info{ID: s.ID, Paths: s.Paths, Subscriptions: len(s.subs)})
		}
	}
	return out
}
