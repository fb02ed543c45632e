package router

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/models"
	"github.com/mcdev12/questroom/go/internal/questroom/events"
	"github.com/mcdev12/questroom/go/internal/questroom/leaderboard"
	"github.com/mcdev12/questroom/go/internal/questroom/notify"
	"github.com/mcdev12/questroom/go/internal/questroom/reconciler"
)

// Notice is a user-visible message produced by a handler.
type Notice struct {
	Message string
	Kind    notify.Kind
}

// Outcome is everything a dispatched event produced.
type Outcome struct {
	Event events.Name
	// Notice is set only when the event changed something the user should hear about.
	Notice *Notice
	// ViewChanged reports a change to members, round, room metadata or online flags.
	ViewChanged bool
	// TasksChanged reports a change to the task collection.
	TasksChanged bool
	// Leaderboard carries an authoritative full push when HasLeaderboard is set.
	Leaderboard    []leaderboard.Facts
	HasLeaderboard bool
	// Err is set when the event was dropped or reports a server error.
	Err error
}

// Handler turns one parsed payload into an outcome.
type Handler func(env events.Envelope, payload any) Outcome

// Router demultiplexes inbound events for one room onto typed handlers.
// Calls must be serialised by the owner.
type Router struct {
	rec       *reconciler.Reconciler
	handlers  map[events.Name]Handler
	announced bool
}

// New creates a router applying events to rec.
func New(rec *reconciler.Reconciler) *Router {
	r := &Router{rec: rec}
	r.handlers = map[events.Name]Handler{
		events.RoomJoined:         r.handleRoomJoined,
		events.MemberJoined:       r.handleMemberJoined,
		events.MemberLeft:         r.handleMemberLeft,
		events.RoundStarted:       r.handleRoundStarted,
		events.RoundEnded:         r.handleRoundEnded,
		events.TaskCreated:        r.handleTask,
		events.TaskCompleted:      r.handleTask,
		events.TaskApproved:       r.handleTaskApproved,
		events.TaskFlagged:        r.handleTaskFlagged,
		events.LeaderboardUpdated: r.handleLeaderboard,
		events.RoomStatus:         r.handleRoomStatus,
		events.Error:              r.handleError,
	}
	return r
}

// ResetConnection starts a new connection epoch so the next room_joined is announced.
func (r *Router) ResetConnection() {
	r.announced = false
}

// Dispatch routes one event. Unknown names are ignored. Stale, malformed and
// premature events are dropped and reported through Outcome.Err.
func (r *Router) Dispatch(env events.Envelope) Outcome {
	handler, ok := r.handlers[env.Event]
	if !ok {
		log.Debug().Str("event", string(env.Event)).Msg("ignoring unknown event")
		return Outcome{Event: env.Event}
	}

	if err := r.rec.Accepts(env.RoomID); err != nil {
		log.Debug().
			Str("event", string(env.Event)).
			Str("room_id", env.RoomID).
			Msg("dropping stale event")
		return Outcome{Event: env.Event, Err: err}
	}

	payload, err := events.ParsePayload(env)
	if err != nil {
		log.Warn().Err(err).Str("event", string(env.Event)).Msg("dropping malformed event")
		return Outcome{
			Event:  env.Event,
			Notice: &Notice{Message: fmt.Sprintf("Ignored malformed %s event", env.Event), Kind: notify.KindWarning},
			Err:    err,
		}
	}

	out := handler(env, payload)
	out.Event = env.Event
	if out.Err != nil && errors.Is(out.Err, models.ErrMalformedEvent) && out.Notice == nil {
		log.Warn().Err(out.Err).Str("event", string(env.Event)).Msg("dropping malformed event")
		out.Notice = &Notice{Message: fmt.Sprintf("Ignored malformed %s event", env.Event), Kind: notify.KindWarning}
	}
	return out
}

// DispatchRaw wraps payload in an envelope and dispatches it. Used for events
// that did not come off the wire, such as replays from a local log.
func (r *Router) DispatchRaw(name events.Name, roomID string, payload any) Outcome {
	env, err := events.New(name, roomID, payload)
	if err != nil {
		return Outcome{Event: name, Err: fmt.Errorf("dispatch %s: %w", name, err)}
	}
	return r.Dispatch(env)
}

// gate applies the snapshot barrier to deltas.
func (r *Router) gate(env events.Envelope) error {
	if err := r.rec.AcceptsDelta(env.RoomID); err != nil {
		log.Debug().
			Err(err).
			Str("event", string(env.Event)).
			Msg("dropping delta")
		return err
	}
	return nil
}

func notice(msg string, kind notify.Kind) *Notice {
	return &Notice{Message: msg, Kind: kind}
}

func or(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
