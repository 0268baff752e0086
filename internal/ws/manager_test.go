package ws

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/user/checkmate/internal/types"
)

type fakeConn struct {
	mu       sync.Mutex
	written  []any
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func testManager() *Manager {
	return NewManager(10*time.Second, 30*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterReplacesAndClosesOldConnection(t *testing.T) {
	m := testManager()
	id := types.SessionID("s1")

	first := &fakeConn{}
	second := &fakeConn{}
	m.Register(id, first)
	m.Register(id, second)

	if !first.isClosed() {
		t.Error("replaced connection was not closed")
	}
	if second.isClosed() {
		t.Error("replacement connection must stay open")
	}
	if got := m.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	if err := m.Send(id, types.NewWSMessage(types.MsgPong, nil)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if second.writeCount() != 1 || first.writeCount() != 0 {
		t.Error("send went to the wrong connection")
	}
}

func TestSendToUnknownSession(t *testing.T) {
	m := testManager()
	err := m.Send(types.SessionID("nope"), types.NewWSMessage(types.MsgPong, nil))
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Send to unknown session = %v, want ErrNotConnected", err)
	}
}

func TestSendFailureEvicts(t *testing.T) {
	m := testManager()
	id := types.SessionID("s1")
	conn := &fakeConn{writeErr: errors.New("broken pipe")}
	m.Register(id, conn)

	if err := m.Send(id, types.NewWSMessage(types.MsgPong, nil)); err == nil {
		t.Fatal("Send on broken connection should fail")
	}
	if m.Count() != 0 {
		t.Error("broken connection should have been evicted")
	}
	if !conn.isClosed() {
		t.Error("evicted connection should be closed")
	}
}

func TestHeartbeatTimeoutEvicts(t *testing.T) {
	m := testManager()
	base := time.Now()
	m.now = func() time.Time { return base }

	quiet := &fakeConn{}
	lively := &fakeConn{}
	m.Register(types.SessionID("quiet"), quiet)
	m.Register(types.SessionID("lively"), lively)

	// Only one session keeps its heartbeat up.
	base = base.Add(25 * time.Second)
	m.Touch(types.SessionID("lively"))

	base = base.Add(10 * time.Second)
	m.sweep()

	if m.Count() != 1 {
		t.Fatalf("Count() after sweep = %d, want 1", m.Count())
	}
	if !quiet.isClosed() {
		t.Error("silent connection should have been evicted even without a send error")
	}
	if lively.isClosed() {
		t.Error("heartbeating connection must survive the sweep")
	}
}

func TestSweepSendsHeartbeatAndEvictsBrokenTransport(t *testing.T) {
	m := testManager()
	healthy := &fakeConn{}
	broken := &fakeConn{writeErr: errors.New("broken pipe")}
	m.Register(types.SessionID("healthy"), healthy)
	m.Register(types.SessionID("broken"), broken)

	m.sweep()

	if healthy.writeCount() != 1 {
		t.Errorf("healthy connection got %d heartbeats, want 1", healthy.writeCount())
	}
	msg, ok := healthy.written[0].(types.WSMessage)
	if !ok || msg.Type != types.MsgHeartbeat {
		t.Errorf("sweep wrote %v, want a heartbeat message", healthy.written[0])
	}
	if m.Count() != 1 {
		t.Errorf("Count() after sweep = %d, want 1", m.Count())
	}
	if !broken.isClosed() {
		t.Error("connection with failing transport should have been evicted")
	}
	if healthy.isClosed() {
		t.Error("healthy connection must survive the sweep")
	}
}

func TestUnregisterIgnoresStaleConnection(t *testing.T) {
	m := testManager()
	id := types.SessionID("s1")

	old := &fakeConn{}
	current := &fakeConn{}
	m.Register(id, old)
	m.Register(id, current)

	// The old connection's deferred Unregister fires after the replacement.
	m.Unregister(id, old)
	if m.Count() != 1 {
		t.Fatal("unregistering a stale connection must not drop the current one")
	}

	m.Unregister(id, current)
	if m.Count() != 0 {
		t.Error("current connection should unregister")
	}
}
