package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChan records writes and closes.
type fakeChan struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed int
	fail   bool
}

func (f *fakeChan) Read(p []byte) (int, error) { return 0, io.EOF }

func (f *fakeChan) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed > 0 {
		return 0, io.ErrClosedPipe
	}
	return f.buf.Write(p)
}

func (f *fakeChan) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeChan) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buf.String()
}

type unlinkRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (u *unlinkRecorder) unlink(p string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, p)
	return nil
}

func newTestSession(n int) (*Session, *fakeChan, *fakeChan, *fakeChan) {
	s := New(Paths{
		Request:      fmt.Sprintf("/tmp/req%d", n),
		Response:     fmt.Sprintf("/tmp/resp%d", n),
		Notification: fmt.Sprintf("/tmp/notif%d", n),
	})
	req, resp, notif := &fakeChan{}, &fakeChan{}, &fakeChan{}
	s.Attach(req, resp, notif)
	return s, req, resp, notif
}

func TestRegistry_RegisterCapacity(t *testing.T) {
	r := NewRegistry(2, 0)

	a, _, _, _ := newTestSession(1)
	b, _, _, _ := newTestSession(2)
	c, _, _, _ := newTestSession(3)

	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))
	assert.ErrorIs(t, r.Register(c), ErrCapacity)
	assert.ErrorIs(t, r.Register(a), ErrAlreadyRegistered)
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, 2, r.Cap())
	assert.True(t, a.Alive())
	assert.False(t, c.Alive())
}

func TestRegistry_RemoveTwice(t *testing.T) {
	u := &unlinkRecorder{}
	r := NewRegistry(2, 0, WithUnlink(u.unlink))
	s, req, resp, notif := newTestSession(1)
	require.NoError(t, r.Register(s))

	require.NoError(t, r.Remove(s))
	assert.ErrorIs(t, r.Remove(s), ErrNotFound)

	assert.False(t, s.Alive())
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, []string{"/tmp/req1", "/tmp/resp1", "/tmp/notif1"}, u.paths)
	assert.Equal(t, 1, req.closed)
	assert.Equal(t, 1, notif.closed)
	assert.Equal(t, 0, resp.closed, "response stays open for the final ack")

	s.Close()
	s.Close()
	assert.Equal(t, 1, resp.closed)
	assert.Equal(t, 1, req.closed)
}

func TestRegistry_SlotReuseResetsSubscriptions(t *testing.T) {
	r := NewRegistry(1, 0, WithUnlink(func(string) error { return nil }))

	old, _, _, _ := newTestSession(1)
	require.NoError(t, r.Register(old))
	require.NoError(t, r.Subscribe(old, "a"))
	require.NoError(t, r.Remove(old))

	fresh, _, _, _ := newTestSession(2)
	require.NoError(t, r.Register(fresh))

	assert.Empty(t, r.Subscriptions(fresh))
	assert.Empty(t, r.Subscribers("a"))

	// the stale handle does not alias the new occupant of the slot
	assert.ErrorIs(t, r.Subscribe(old, "b"), ErrNotFound)
	assert.ErrorIs(t, r.Remove(old), ErrNotFound)
	assert.True(t, fresh.Alive())
}

func TestRegistry_Subscribe(t *testing.T) {
	r := NewRegistry(2, 3)
	s, _, _, _ := newTestSession(1)
	require.NoError(t, r.Register(s))

	require.NoError(t, r.Subscribe(s, "a"))
	assert.ErrorIs(t, r.Subscribe(s, "a"), ErrAlreadySubscribed)

	require.NoError(t, r.Subscribe(s, "b"))
	require.NoError(t, r.Subscribe(s, "c"))
	assert.ErrorIs(t, r.Subscribe(s, "d"), ErrSubscriptionLimit)

	keys := r.Subscriptions(s)
	sort.Strings(keys)
	assert.Equal(t, []string{"a", "b", "c"}, keys)

	require.NoError(t, r.Unsubscribe(s, "b"))
	assert.ErrorIs(t, r.Unsubscribe(s, "b"), ErrNotSubscribed)
	require.NoError(t, r.Subscribe(s, "d"))

	detached, _, _, _ := newTestSession(9)
	assert.ErrorIs(t, r.Subscribe(detached, "a"), ErrNotFound)
	assert.ErrorIs(t, r.Unsubscribe(detached, "a"), ErrNotFound)
}

func TestRegistry_Subscribers(t *testing.T) {
	r := NewRegistry(3, 0)
	a, _, _, _ := newTestSession(1)
	b, _, _, _ := newTestSession(2)
	c, _, _, _ := newTestSession(3)
	for _, s := range []*Session{a, b, c} {
		require.NoError(t, r.Register(s))
	}
	require.NoError(t, r.Subscribe(a, "k"))
	require.NoError(t, r.Subscribe(c, "k"))

	subs := r.Subscribers("k")
	assert.ElementsMatch(t, []*Session{a, c}, subs)
	assert.Empty(t, r.Subscribers("other"))
}

func TestRegistry_FanoutDropNotifiesEverySubscriber(t *testing.T) {
	r := NewRegistry(3, 0)
	a, _, _, na := newTestSession(1)
	b, _, _, nb := newTestSession(2)
	c, _, _, nc := newTestSession(3)
	for _, s := range []*Session{a, b, c} {
		require.NoError(t, r.Register(s))
	}
	require.NoError(t, r.Subscribe(a, "k"))
	require.NoError(t, r.Subscribe(b, "k"))
	require.NoError(t, r.Subscribe(b, "other"))
	nb.fail = true

	payload := []byte("(k,DELETED)\n")
	delivered := r.Fanout("k", true, func(s *Session) error {
		return s.Notify(payload, time.Second)
	})

	assert.Equal(t, 1, delivered)
	assert.Equal(t, string(payload), na.String())
	assert.Empty(t, nc.String())

	// the key is dropped from every notified session, including failed sends
	assert.Empty(t, r.Subscribers("k"))
	assert.Equal(t, []string{"other"}, r.Subscriptions(b))
}

func TestRegistry_CloseAll(t *testing.T) {
	u := &unlinkRecorder{}
	r := NewRegistry(3, 0, WithUnlink(u.unlink))
	a, reqA, respA, _ := newTestSession(1)
	b, _, respB, notifB := newTestSession(2)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	closed := r.CloseAll()
	assert.Len(t, closed, 2)
	assert.Equal(t, 0, r.Len())
	assert.Len(t, u.paths, 6)
	assert.Equal(t, 1, reqA.closed)
	assert.Equal(t, 1, respA.closed)
	assert.Equal(t, 1, respB.closed)
	assert.Equal(t, 1, notifB.closed)

	// a worker unwinding afterwards sees the session already gone
	assert.ErrorIs(t, r.Remove(a), ErrNotFound)
	assert.Empty(t, r.CloseAll())
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry(2, 0)
	s, _, _, _ := newTestSession(1)
	require.NoError(t, r.Register(s))
	require.NoError(t, r.Subscribe(s, "a"))

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, s.ID, list[0].ID)
	assert.Equal(t, 1, list[0].Subscriptions)
	assert.Equal(t, "/tmp/req1", list[0].Paths.Request)
}

func TestSession_NotifyClosed(t *testing.T) {
	s := New(Paths{})
	err := s.Notify([]byte("x"), time.Second)
	assert.True(t, errors.Is(err, io.ErrClosedPipe))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(8, 32, WithUnlink(func(string) error { return nil }))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s, _, _, _ := newTestSession(i)
				if err := r.Register(s); err != nil {
					continue
				}
				_ = r.Subscribe(s, "shared")
				_ = r.Subscribe(s, fmt.Sprintf("k%d", j))
				r.Fanout("shared", false, func(*Session) error { return nil })
				_ = r.Unsubscribe(s, "shared")
				_ = r.Remove(s)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
}

func TestSession_AttachAfterClose(t *testing.T) {
	s := New(Paths{})
	s.Close()

	late := &fakeChan{}
	err := s.Attach(nil, nil, late)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Equal(t, 1, late.closed, "late endpoint closed immediately")
}

func TestRegistry_FanoutSendDoesNotHoldLock(t *testing.T) {
	r := NewRegistry(2, 0)
	a, _, _, _ := newTestSession(1)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Subscribe(a, "k"))

	sending := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)
	go func() {
		done <- r.Fanout("k", false, func(*Session) error {
			close(sending)
			<-release
			return nil
		})
	}()
	<-sending

	// a slow subscriber must not block structural changes
	b, _, _, _ := newTestSession(2)
	registered := make(chan error, 1)
	go func() {
		err := r.Register(b)
		if err == nil {
			err = r.Subscribe(b, "k")
		}
		registered <- err
	}()
	select {
	case err := <-registered:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Register() blocked while a notification was being sent")
	}

	close(release)
	assert.Equal(t, 1, <-done)
}
