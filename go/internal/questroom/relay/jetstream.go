package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/questroom/events"
)

const (
	headerRoomID      = "Room-ID"
	headerEventType   = "Event-Type"
	headerExcludePeer = "Exclude-Peer"
)

// JetStreamConfig holds configuration for cross-instance fan-out
type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	DuplicateWindow time.Duration
}

// DefaultJetStreamConfig returns default JetStream configuration
func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "ROOM_EVENTS",
		SubjectPrefix:   "room.events",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          time.Hour,
		DuplicateWindow: 2 * time.Minute,
	}
}

// JetStreamBroadcaster publishes room events to room.events.<room_id> and delivers
// everything published by any relay instance to the local hub.
type JetStreamBroadcaster struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	hub    *Hub
	config JetStreamConfig
}

func NewJetStreamBroadcaster(hub *Hub, config JetStreamConfig) (*JetStreamBroadcaster, error) {
	opts := []nats.Option{
		nats.Name("questroom-relay"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &JetStreamBroadcaster{nc: nc, js: js, hub: hub, config: config}
	if err := b.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return b, nil
}

func (b *JetStreamBroadcaster) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        b.config.StreamName,
		Description: "Room events fanned out across relay instances",
		Subjects:    []string{b.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      b.config.MaxAge,
		Storage:     jetstream.MemoryStorage,
		Duplicates:  b.config.DuplicateWindow,
	}

	if _, err := b.js.Stream(ctx, b.config.StreamName); err != nil {
		if _, err := b.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("created JetStream stream")
		return nil
	}
	if _, err := b.js.UpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// Subject returns the subject a room's events are published on.
func (b *JetStreamBroadcaster) Subject(roomID string) string {
	return fmt.Sprintf("%s.%s", b.config.SubjectPrefix, roomID)
}

func (b *JetStreamBroadcaster) Broadcast(ctx context.Context, out Outbound) error {
	subject := b.Subject(out.RoomID)
	msg := &nats.Msg{
		Subject: subject,
		Data:    out.Frame,
		Header: nats.Header{
			headerRoomID:    []string{out.RoomID},
			headerEventType: []string{string(out.Event)},
		},
	}
	if out.ExcludePeer != "" {
		msg.Header.Set(headerExcludePeer, out.ExcludePeer)
	}

	opts := []jetstream.PublishOpt{jetstream.WithExpectStream(b.config.StreamName)}
	if out.EventID != "" {
		opts = append(opts, jetstream.WithMsgID(out.EventID))
	}
	ack, err := b.js.PublishMsg(ctx, msg, opts...)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", out.EventID).
		Uint64("sequence", ack.Sequence).
		Msg("published to JetStream")
	return nil
}

// Start consumes new room events with an ordered consumer private to this instance
// and delivers them to the local hub until ctx is done.
func (b *JetStreamBroadcaster) Start(ctx context.Context) error {
	consumer, err := b.js.OrderedConsumer(ctx, b.config.StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{b.config.SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		out, err := b.outbound(msg)
		if err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process message")
			return
		}
		b.hub.deliver(out)
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	log.Info().
		Str("stream", b.config.StreamName).
		Str("subjects", b.config.SubjectPrefix+".>").
		Msg("JetStream room consumer started")

	<-ctx.Done()
	log.Info().Msg("JetStream room consumer shutting down")
	return nil
}

func (b *JetStreamBroadcaster) outbound(msg jetstream.Msg) (Outbound, error) {
	h := msg.Headers()
	out := Outbound{
		RoomID:      h.Get(headerRoomID),
		Event:       events.Name(h.Get(headerEventType)),
		ExcludePeer: h.Get(headerExcludePeer),
		Frame:       msg.Data(),
	}
	if out.RoomID == "" {
		out.RoomID = strings.TrimPrefix(msg.Subject(), b.config.SubjectPrefix+".")
	}
	if out.RoomID == "" {
		return Outbound{}, fmt.Errorf("message without room id")
	}
	return out, nil
}

// Connected reports the NATS connection state for health checks.
func (b *JetStreamBroadcaster) Connected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

func (b *JetStreamBroadcaster) Close() error {
	if b.nc != nil {
		b.nc.Close()
	}
	return nil
}
