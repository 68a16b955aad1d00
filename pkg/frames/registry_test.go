package frames

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/wire"
)

type stubConn struct {
	mu     sync.Mutex
	writes [][]byte
	fail   bool
	closed bool
}

func (s *stubConn) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("write failed")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.writes = append(s.writes, cp)
	return nil
}

func (s *stubConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubConn) messages(t *testing.T) []wire.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []wire.Envelope
	for _, raw := range s.writes {
		var env wire.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	return out
}

func TestEnsureFrameReusesExistingEntry(t *testing.T) {
	reg := NewRegistry(0)
	first := reg.EnsureFrame(WidgetFrameID, RoleWidget)
	second := reg.EnsureFrame(WidgetFrameID, RoleWidget)
	require.Same(t, first, second)
}

func TestPostWithoutConnectionFails(t *testing.T) {
	reg := NewRegistry(0)
	e := reg.EnsureFrame(WidgetFrameID, RoleWidget)
	err := e.Post(wire.New(wire.TypeInit, nil))
	require.ErrorIs(t, err, ErrFrameNotReady)
}

func TestLoadHookFiresExactlyOnceAcrossCompetingAttachments(t *testing.T) {
	reg := NewRegistry(0)
	e := reg.EnsureFrame(WidgetFrameID, RoleWidget)

	fired := 0
	e.OnLoad(func() { fired++ })
	// a competing registration never replaces the first hook
	e.OnLoad(func() { fired += 100 })

	reg.Attach(WidgetFrameID, RoleWidget, &stubConn{})
	reg.Attach(WidgetFrameID, RoleWidget, &stubConn{})
	require.Equal(t, 1, fired)
}

func TestAttachNotifiesWatchers(t *testing.T) {
	reg := NewRegistry(0)
	watch := reg.Watch()
	reg.Attach(WidgetFrameID, RoleWidget, &stubConn{})
	select {
	case e := <-watch:
		require.Equal(t, WidgetFrameID, e.ID())
	case <-time.After(time.Second):
		t.Fatal("watcher was not notified of late-arriving frame")
	}
}

func TestPostReachesAllConnections(t *testing.T) {
	reg := NewRegistry(0)
	a, b := &stubConn{}, &stubConn{}
	e := reg.Attach(WidgetFrameID, RoleWidget, a)
	reg.Attach(WidgetFrameID, RoleWidget, b)

	require.NoError(t, e.Post(wire.New(wire.TypeChatResponse, map[string]any{"response": "hi"})))
	require.Len(t, a.messages(t), 1)
	require.Len(t, b.messages(t), 1)
	require.Equal(t, wire.TypeChatResponse, a.messages(t)[0].Type)
}

func TestBroadcastDropsFailedConnections(t *testing.T) {
	reg := NewRegistry(0)
	bad := &stubConn{fail: true}
	e := reg.Attach(WidgetFrameID, RoleWidget, bad)
	require.NoError(t, e.Post(wire.New(wire.TypeInit, nil)))
	require.True(t, bad.closed)
	require.False(t, e.Connected())
}

type memStore struct {
	mu      sync.Mutex
	visible bool
	ts      time.Time
	ok      bool
	saves   int
}

func (m *memStore) SaveVisibility(_ context.Context, _ string, visible bool, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible, m.ts, m.ok = visible, ts, true
	m.saves++
	return nil
}

func (m *memStore) LoadVisibility(_ context.Context, _ string) (bool, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible, m.ts, m.ok, nil
}

func TestIdleFrameIsEvicted(t *testing.T) {
	reg := NewRegistry(20 * time.Millisecond)
	conn := &stubConn{}
	reg.Attach("host", RoleHost, conn)
	reg.Detach("host", conn)

	require.Eventually(t, func() bool {
		return reg.Lookup("host") == nil
	}, time.Second, 5*time.Millisecond)
}

func TestReattachCancelsIdleEviction(t *testing.T) {
	reg := NewRegistry(30 * time.Millisecond)
	conn := &stubConn{}
	reg.Attach("host", RoleHost, conn)
	reg.Detach("host", conn)
	reg.Attach("host", RoleHost, &stubConn{})

	time.Sleep(90 * time.Millisecond)
	require.NotNil(t, reg.Lookup("host"))
}

func TestFrameWithoutConnectionsIsNotEvicted(t *testing.T) {
	// Identity-only registration never had a connection, so the idle timer
	// never arms; the entry stays until a connection attaches and detaches.
	reg := NewRegistry(10 * time.Millisecond)
	reg.EnsureFrame(WidgetFrameID, RoleWidget)

	time.Sleep(40 * time.Millisecond)
	require.NotNil(t, reg.Lookup(WidgetFrameID))
}

func TestRestoreVisibilityRecentRecord(t *testing.T) {
	reg := NewRegistry(0)
	e := reg.EnsureFrame(WidgetFrameID, RoleWidget)
	now := time.Now()
	store := &memStore{visible: true, ts: now.Add(-30 * time.Minute), ok: true}

	RestoreVisibility(context.Background(), store, e, 0, func() time.Time { return now })
	require.True(t, e.Visible())
}

func TestRestoreVisibilityStaleRecord(t *testing.T) {
	reg := NewRegistry(0)
	e := reg.EnsureFrame(WidgetFrameID, RoleWidget)
	now := time.Now()
	store := &memStore{visible: true, ts: now.Add(-2 * time.Hour), ok: true}

	RestoreVisibility(context.Background(), store, e, 0, func() time.Time { return now })
	require.False(t, e.Visible())
}

func TestTrackVisibilityPersistsEveryChange(t *testing.T) {
	reg := NewRegistry(0)
	e := reg.EnsureFrame(WidgetFrameID, RoleWidget)
	store := &memStore{}
	TrackVisibility(context.Background(), store, e, nil)

	e.SetVisible(true)
	e.SetVisible(true)
	e.SetVisible(false)
	require.Equal(t, 3, store.saves)
	require.False(t, store.visible)
}
