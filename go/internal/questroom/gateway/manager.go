package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/models"
	"github.com/mcdev12/questroom/go/internal/questroom/events"
)

// Config holds connection lifecycle configuration
type Config struct {
	ConnectTimeout       time.Duration // per transport dial
	WriteTimeout         time.Duration
	ReconnectBaseWait    time.Duration
	ReconnectMaxWait     time.Duration
	MaxReconnectAttempts int // negative retries forever
}

// DefaultConfig returns default connection configuration
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       20 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReconnectBaseWait:    time.Second,
		ReconnectMaxWait:     30 * time.Second,
		MaxReconnectAttempts: 10,
	}
}

// Handle identifies one established connection.
type Handle struct {
	ID          uuid.UUID
	Transport   string
	ConnectedAt time.Time
}

// Handler receives decoded inbound events.
type Handler func(events.Envelope)

// Unsubscribe detaches a handler. Calling it more than once is a no-op.
type Unsubscribe func()

// Manager owns the client side of the realtime channel: transport fallback,
// reconnect with backoff and re-announcing room membership.
type Manager struct {
	config     Config
	clock      clockwork.Clock
	transports []Transport

	mu         sync.RWMutex
	conn       Conn
	handle     Handle
	status     Status
	membership *events.JoinRoomCommand
	runCancel  context.CancelFunc

	subMu      sync.RWMutex
	subs       map[events.Name]map[uint64]Handler
	statusSubs map[uint64]func(Status)
	nextSub    uint64

	dropped atomic.Uint64
}

// NewManager creates a manager that tries transports in order.
func NewManager(config Config, clock clockwork.Clock, transports ...Transport) *Manager {
	return &Manager{
		config:     config,
		clock:      clock,
		transports: transports,
		status:     Status{State: StateDisconnected},
		subs:       make(map[events.Name]map[uint64]Handler),
		statusSubs: make(map[uint64]func(Status)),
	}
}

// Connect opens the channel using the first transport that succeeds within
// ConnectTimeout. Failure of every transport is reported as a TransportError.
func (m *Manager) Connect(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	if m.conn != nil {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.runCancel = cancel
	m.mu.Unlock()

	conn, name, err := m.dial(ctx)
	if err != nil {
		cancel()
		m.setStatus(Status{State: StateError, Reason: err.Error()})
		return Handle{}, err
	}
	return m.install(runCtx, conn, name), nil
}

// dial tries each transport in order, each bounded by ConnectTimeout.
func (m *Manager) dial(ctx context.Context) (Conn, string, error) {
	if len(m.transports) == 0 {
		return nil, "", &models.TransportError{Err: errors.New("no transports configured")}
	}

	var errs []error
	for _, t := range m.transports {
		dialCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
		conn, err := t.Dial(dialCtx)
		cancel()
		if err == nil {
			return conn, t.Name(), nil
		}
		log.Warn().Err(err).Str("transport", t.Name()).Msg("transport dial failed, trying next")
		errs = append(errs, &models.TransportError{Transport: t.Name(), Err: err})
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", fmt.Errorf("all transports failed: %w", errors.Join(errs...))
}

// install makes conn current, replays the join and starts reading.
func (m *Manager) install(runCtx context.Context, conn Conn, transport string) Handle {
	h := Handle{ID: uuid.New(), Transport: transport, ConnectedAt: m.clock.Now()}

	m.mu.Lock()
	m.conn = conn
	m.handle = h
	join := m.membership
	m.mu.Unlock()

	if join != nil {
		if err := m.write(conn, events.JoinRoom, join.RoomID, join); err != nil {
			log.Warn().Err(err).Str("room_id", join.RoomID).Msg("failed to re-announce room membership")
		}
	}

	log.Info().
		Str("connection_id", h.ID.String()).
		Str("transport", transport).
		Msg("connection established")

	m.setStatus(Status{State: StateConnected})
	go m.readLoop(runCtx, conn)
	return h
}

// Disconnect closes the channel and stops reconnecting. Membership is kept and
// replayed on the next Connect.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.setStatus(Status{State: StateDisconnected})
}

// Status returns the current connection status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// Handle returns the current connection handle and whether one is open.
func (m *Manager) Handle() (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle, m.conn != nil
}

// Dropped counts sends refused while disconnected.
func (m *Manager) Dropped() uint64 {
	return m.dropped.Load()
}

// Send emits one command. While disconnected it logs a warning and returns false;
// nothing is queued or retried.
func (m *Manager) Send(name events.Name, payload any) bool {
	m.mu.RLock()
	conn := m.conn
	roomID := ""
	if m.membership != nil {
		roomID = m.membership.RoomID
	}
	m.mu.RUnlock()

	if conn == nil {
		m.dropped.Add(1)
		log.Warn().Str("event", string(name)).Msg("cannot send event, not connected")
		return false
	}
	if err := m.write(conn, name, roomID, payload); err != nil {
		log.Warn().Err(err).Str("event", string(name)).Msg("failed to send event")
		return false
	}
	return true
}

func (m *Manager) write(conn Conn, name events.Name, roomID string, payload any) error {
	frame, err := events.Encode(name, roomID, payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, frame)
}

// JoinRoom records membership and announces it. The join is replayed on every reconnect.
func (m *Manager) JoinRoom(userID, roomID string) bool {
	m.mu.Lock()
	m.membership = &events.JoinRoomCommand{UserID: userID, RoomID: roomID}
	m.mu.Unlock()
	return m.Send(events.JoinRoom, events.JoinRoomCommand{UserID: userID, RoomID: roomID})
}

// LeaveRoom announces leaving and forgets the membership.
func (m *Manager) LeaveRoom() bool {
	sent := m.Send(events.LeaveRoom, struct{}{})
	m.mu.Lock()
	m.membership = nil
	m.mu.Unlock()
	return sent
}

// RequestRoomStatus asks the server for the online members of roomID.
func (m *Manager) RequestRoomStatus(roomID string) bool {
	return m.Send(events.GetRoomStatus, events.GetRoomStatusCommand{RoomID: roomID})
}

// Subscribe registers handler for one event name.
func (m *Manager) Subscribe(name events.Name, handler Handler) Unsubscribe {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.nextSub++
	id := m.nextSub
	if m.subs[name] == nil {
		m.subs[name] = make(map[uint64]Handler)
	}
	m.subs[name][id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.subs[name], id)
			if len(m.subs[name]) == 0 {
				delete(m.subs, name)
			}
		})
	}
}

// OnStatus registers an observer for status transitions.
func (m *Manager) OnStatus(fn func(Status)) Unsubscribe {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	m.nextSub++
	id := m.nextSub
	m.statusSubs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.statusSubs, id)
		})
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status == s {
		m.mu.Unlock()
		return
	}
	m.status = s
	m.mu.Unlock()

	log.Info().Str("state", string(s.State)).Str("reason", s.Reason).Msg("connection status changed")

	m.subMu.RLock()
	observers := make([]func(Status), 0, len(m.statusSubs))
	for _, fn := range m.statusSubs {
		observers = append(observers, fn)
	}
	m.subMu.RUnlock()

	for _, fn := range observers {
		fn(s)
	}
}

func (m *Manager) deliver(env events.Envelope) {
	m.subMu.RLock()
	handlers := make([]Handler, 0, len(m.subs[env.Event]))
	for _, h := range m.subs[env.Event] {
		handlers = append(handlers, h)
	}
	m.subMu.RUnlock()

	if len(handlers) == 0 {
		log.Debug().Str("event", string(env.Event)).Msg("no subscribers for event")
	}
	for _, h := range handlers {
		h(env)
	}
}

// readLoop forwards frames to subscribers until the connection fails.
func (m *Manager) readLoop(ctx context.Context, conn Conn) {
	for {
		frame, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.connectionLost(ctx, conn, err)
			return
		}

		env, err := events.Decode(frame)
		if err != nil {
			log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		m.deliver(env)
	}
}

func (m *Manager) connectionLost(ctx context.Context, conn Conn, cause error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()
	conn.Close()

	log.Error().Err(cause).Msg("connection lost")
	m.setStatus(Status{State: StateReconnecting, Reason: cause.Error()})
	go m.reconnect(ctx)
}

// reconnect retries with exponential backoff until it succeeds, ctx is cancelled
// or the attempt budget is exhausted.
func (m *Manager) reconnect(ctx context.Context) {
	wait := m.config.ReconnectBaseWait
	var lastErr error

	for attempt := 1; m.config.MaxReconnectAttempts < 0 || attempt <= m.config.MaxReconnectAttempts; attempt++ {
		timer := m.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.Chan():
		}

		conn, name, err := m.dial(ctx)
		if err == nil {
			if ctx.Err() != nil {
				conn.Close()
				return
			}
			log.Info().Int("attempt", attempt).Msg("reconnected")
			m.install(ctx, conn, name)
			return
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Dur("wait", wait).Msg("reconnect attempt failed")

		wait *= 2
		if wait > m.config.ReconnectMaxWait {
			wait = m.config.ReconnectMaxWait
		}
	}

	reason := "reconnect attempts exhausted"
	if lastErr != nil {
		reason = fmt.Sprintf("%s: %v", reason, lastErr)
	}
	m.setStatus(Status{State: StateError, Reason: reason})
}
