package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/questroom/go/internal/models"
	"github.com/mcdev12/questroom/go/internal/questroom/events"
)

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	c.out <- frame
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// drop simulates the server going away.
func (c *fakeConn) drop() { c.Close() }

type fakeTransport struct {
	name string
	mu   sync.Mutex
	errs []error
	// conns handed out on successful dials
	conns chan *fakeConn
	block bool
}

func newFakeTransport(name string) *fakeTransport {
	return &fakeTransport{name: name, conns: make(chan *fakeConn, 16)}
}

func (t *fakeTransport) Name() string { return t.name }

func (t *fakeTransport) failNext(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errs = append(t.errs, err)
}

func (t *fakeTransport) Dial(ctx context.Context) (Conn, error) {
	if t.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	t.mu.Lock()
	if len(t.errs) > 0 {
		err := t.errs[0]
		t.errs = t.errs[1:]
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()
	c := newFakeConn()
	t.conns <- c
	return c, nil
}

func recvConn(t *testing.T, ch <-chan *fakeConn) *fakeConn {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for dial")
		return nil
	}
}

func recvFrame(t *testing.T, c *fakeConn) events.Envelope {
	t.Helper()
	select {
	case f := <-c.out:
		env, err := events.Decode(f)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for frame")
		return events.Envelope{}
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.MaxReconnectAttempts = 3
	return cfg
}

func TestManager_FallsBackToSecondTransport(t *testing.T) {
	ws := newFakeTransport("websocket")
	ws.failNext(errors.New("upgrade refused"))
	poll := newFakeTransport("polling")
	m := NewManager(testConfig(), clockwork.NewFakeClock(), ws, poll)
	defer m.Disconnect()

	h, err := m.Connect(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "polling", h.Transport)
	assert.Equal(t, StateConnected, m.Status().State)
	assert.Equal(t, models.ConnectivityConnected, m.Status().Connectivity())
}

func TestManager_ConnectTimeoutReportsError(t *testing.T) {
	ws := newFakeTransport("websocket")
	ws.block = true
	m := NewManager(testConfig(), clockwork.NewFakeClock(), ws)

	start := time.Now()
	_, err := m.Connect(context.Background())

	require.Error(t, err)
	var te *models.TransportError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, "websocket", te.Transport)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StateError, m.Status().State)
}

func TestManager_SendWhileDisconnectedIsDropped(t *testing.T) {
	m := NewManager(testConfig(), clockwork.NewFakeClock(), newFakeTransport("websocket"))

	assert.NotPanics(t, func() {
		assert.False(t, m.Send(events.TaskCreated, events.RelayCommand{RoomID: "room-1"}))
	})
	assert.Equal(t, uint64(1), m.Dropped())
}

func TestManager_SubscribeDeliversUntilUnsubscribed(t *testing.T) {
	ws := newFakeTransport("websocket")
	m := NewManager(testConfig(), clockwork.NewFakeClock(), ws)
	defer m.Disconnect()

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	conn := recvConn(t, ws.conns)

	got := make(chan events.Envelope, 4)
	unsub := m.Subscribe(events.MemberJoined, func(env events.Envelope) { got <- env })

	frame, err := events.Encode(events.MemberJoined, "room-1", events.MemberPayload{UserID: "bob"})
	require.NoError(t, err)
	conn.in <- frame

	select {
	case env := <-got:
		var p events.MemberPayload
		require.NoError(t, json.Unmarshal(env.Data, &p))
		assert.Equal(t, "bob", p.UserID)
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	unsub()
	unsub()
	conn.in <- frame
	select {
	case <-got:
		t.Fatal("handler called after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_ReconnectReplaysJoin(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ws := newFakeTransport("websocket")
	m := NewManager(testConfig(), clock, ws)
	defer m.Disconnect()

	statuses := make(chan Status, 8)
	m.OnStatus(func(s Status) { statuses <- s })

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	first := recvConn(t, ws.conns)

	require.True(t, m.JoinRoom("alice", "room-1"))
	join := recvFrame(t, first)
	assert.Equal(t, events.JoinRoom, join.Event)

	first.drop()
	require.Eventually(t, func() bool { return m.Status().State == StateReconnecting }, time.Second, 5*time.Millisecond)
	assert.False(t, m.Send(events.GetRoomStatus, events.GetRoomStatusCommand{RoomID: "room-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(testConfig().ReconnectBaseWait)

	second := recvConn(t, ws.conns)
	replayed := recvFrame(t, second)
	assert.Equal(t, events.JoinRoom, replayed.Event)
	var cmd events.JoinRoomCommand
	require.NoError(t, json.Unmarshal(replayed.Data, &cmd))
	assert.Equal(t, events.JoinRoomCommand{UserID: "alice", RoomID: "room-1"}, cmd)

	require.Eventually(t, func() bool { return m.Status().State == StateConnected }, time.Second, 5*time.Millisecond)

	var seen []State
	for len(statuses) > 0 {
		seen = append(seen, (<-statuses).State)
	}
	assert.Equal(t, []State{StateConnected, StateReconnecting, StateConnected}, seen)
}

func TestManager_ReconnectBudgetExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ws := newFakeTransport("websocket")
	m := NewManager(testConfig(), clock, ws)
	defer m.Disconnect()

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	conn := recvConn(t, ws.conns)

	for i := 0; i < 3; i++ {
		ws.failNext(errors.New("refused"))
	}
	conn.drop()

	wait := testConfig().ReconnectBaseWait
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		cancel()
		clock.Advance(wait)
		wait *= 2
	}

	require.Eventually(t, func() bool { return m.Status().State == StateError }, time.Second, 5*time.Millisecond)
	assert.Contains(t, m.Status().Reason, "reconnect attempts exhausted")
}

func TestManager_LeaveRoomStopsReplay(t *testing.T) {
	ws := newFakeTransport("websocket")
	m := NewManager(testConfig(), clockwork.NewFakeClock(), ws)

	_, err := m.Connect(context.Background())
	require.NoError(t, err)
	conn := recvConn(t, ws.conns)

	m.JoinRoom("alice", "room-1")
	recvFrame(t, conn)
	require.True(t, m.LeaveRoom())
	leave := recvFrame(t, conn)
	assert.Equal(t, events.LeaveRoom, leave.Event)
	assert.Equal(t, "room-1", leave.RoomID)

	m.Disconnect()
	_, err = m.Connect(context.Background())
	require.NoError(t, err)
	again := recvConn(t, ws.conns)
	select {
	case f := <-again.out:
		t.Fatalf("unexpected frame after leave: %s", f)
	case <-time.After(50 * time.Millisecond):
	}
	m.Disconnect()
}
