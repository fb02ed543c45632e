package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/questroom/events"
)

type ListenerConfig struct {
	DatabaseURL   string
	NotifyChannel string
	PingInterval  time.Duration
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "room_events",
		PingInterval:  90 * time.Second,
	}
}

// Listener relays server-originated room events. Each NOTIFY payload on the channel is
// one envelope, for example from a trigger on task approval.
type Listener struct {
	listener    *pq.Listener
	broadcaster Broadcaster
	cfg         ListenerConfig

	mu      sync.Mutex
	running bool
}

func NewListener(broadcaster Broadcaster, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return &Listener{listener: l, broadcaster: broadcaster, cfg: cfg}, nil
}

func (l *Listener) Start(ctx context.Context) error {
	l.setRunning(true)
	defer l.setRunning(false)

	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Msg("listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.listener.Close()
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established; events sent meanwhile are lost
				log.Warn().Str("channel", l.cfg.NotifyChannel).Msg("listener reconnected")
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

// Active reports whether the listen loop is running.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Listener) setRunning(v bool) {
	l.mu.Lock()
	l.running = v
	l.mu.Unlock()
}

// handleNotification validates one envelope and fans it out to its room.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	env, err := events.Decode([]byte(extra))
	if err != nil {
		return fmt.Errorf("invalid notification payload: %w", err)
	}
	if !events.IsInbound(env.Event) || env.RoomID == "" {
		return fmt.Errorf("notification %q for room %q is not a room event", env.Event, env.RoomID)
	}

	out := Outbound{EventID: env.ID, Event: env.Event, RoomID: env.RoomID, Frame: []byte(extra)}
	if err := l.broadcaster.Broadcast(ctx, out); err != nil {
		return fmt.Errorf("failed to broadcast notification: %w", err)
	}

	log.Info().
		Str("event_id", env.ID).
		Str("event", string(env.Event)).
		Str("room_id", env.RoomID).
		Msg("relayed database notification")
	return nil
}
