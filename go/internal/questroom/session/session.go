package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/models"
	"github.com/mcdev12/questroom/go/internal/questroom/events"
	"github.com/mcdev12/questroom/go/internal/questroom/gateway"
	"github.com/mcdev12/questroom/go/internal/questroom/leaderboard"
	"github.com/mcdev12/questroom/go/internal/questroom/notify"
	"github.com/mcdev12/questroom/go/internal/questroom/reconciler"
	"github.com/mcdev12/questroom/go/internal/questroom/router"
)

// SnapshotFetcher returns the authoritative members and active round of a room.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, roomID string) (reconciler.Snapshot, error)
}

// TaskFetcher returns every task of a round.
type TaskFetcher interface {
	FetchTasks(ctx context.Context, roundID string) ([]models.Task, error)
}

// Channel is the realtime connection a session rides on. *gateway.Manager implements it.
type Channel interface {
	Subscribe(name events.Name, handler gateway.Handler) gateway.Unsubscribe
	OnStatus(fn func(gateway.Status)) gateway.Unsubscribe
	Status() gateway.Status
	Send(name events.Name, payload any) bool
	JoinRoom(userID, roomID string) bool
	LeaveRoom() bool
	RequestRoomStatus(roomID string) bool
}

// Config holds session configuration
type Config struct {
	SnapshotTimeout   time.Duration
	SnapshotRetryWait time.Duration
	InboxSize         int
	Notify            notify.Config
	Leaderboard       leaderboard.Config
}

// DefaultConfig returns default session configuration
func DefaultConfig() Config {
	return Config{
		SnapshotTimeout:   10 * time.Second,
		SnapshotRetryWait: 2 * time.Second,
		InboxSize:         256,
		Notify:            notify.DefaultConfig(),
		Leaderboard:       leaderboard.DefaultConfig(),
	}
}

// Deps are the collaborators of a session.
type Deps struct {
	Channel   Channel
	Snapshots SnapshotFetcher
	Tasks     TaskFetcher
	Clock     clockwork.Clock
}

// View is an immutable copy of everything a session shows.
type View struct {
	Room          models.RoomView       `json:"room"`
	Tasks         []models.Task         `json:"tasks"`
	Notifications []notify.Notification `json:"notifications"`
	Standings     []leaderboard.Entry   `json:"standings"`
}

// Session reconciles one joined room. All state is owned by a single loop goroutine.
type Session struct {
	identity models.Identity
	config   Config
	deps     Deps

	rec    *reconciler.Reconciler
	router *router.Router
	queue  *notify.Queue
	ranker *leaderboard.Ranker

	inbox    chan message
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	unsubs   []gateway.Unsubscribe
	epoch    uint64
	retry    clockwork.Timer
	onUpdate func(View)

	startOnce sync.Once
	leaveOnce sync.Once
}

// New creates a session for identity. Call Join to start it.
func New(identity models.Identity, config Config, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if config.InboxSize <= 0 {
		config.InboxSize = DefaultConfig().InboxSize
	}
	rec := reconciler.New(identity)
	return &Session{
		identity: identity,
		config:   config,
		deps:     deps,
		rec:      rec,
		router:   router.New(rec),
		queue:    notify.NewQueue(deps.Clock, config.Notify),
		ranker:   leaderboard.NewRanker(deps.Clock, config.Leaderboard),
		inbox:    make(chan message, config.InboxSize),
		done:     make(chan struct{}),
	}
}

// SetOnUpdate registers a callback receiving the view after every change. It runs
// on the session loop and must not call back into the session.
func (s *Session) SetOnUpdate(fn func(View)) {
	s.onUpdate = fn
}

// Identity returns the session identity.
func (s *Session) Identity() models.Identity {
	return s.identity
}

// Join subscribes to the channel, announces membership and starts the loop.
func (s *Session) Join(ctx context.Context) {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(ctx)

		for name := range inboundNames() {
			s.unsubs = append(s.unsubs, s.deps.Channel.Subscribe(name, func(env events.Envelope) {
				s.post(inboundEvent{env: env})
			}))
		}
		s.unsubs = append(s.unsubs, s.deps.Channel.OnStatus(func(st gateway.Status) {
			s.post(statusChanged{status: st})
		}))
		s.queue.SetOnChange(s.timersFired)
		s.ranker.SetOnChange(s.timersFired)

		go s.run()

		s.deps.Channel.JoinRoom(s.identity.UserID, s.identity.RoomID)
		s.post(statusChanged{status: s.deps.Channel.Status()})

		log.Info().
			Str("room_id", s.identity.RoomID).
			Str("user_id", s.identity.UserID).
			Msg("room session started")
	})
}

// Leave detaches the session: it announces leaving, disposes every subscription and
// cancels pending timers. Events that arrive afterwards are dropped.
func (s *Session) Leave() {
	s.leaveOnce.Do(func() {
		if s.cancel == nil {
			close(s.done)
			return
		}
		s.cancel()
		<-s.done
	})
}

// Done is closed once the session has left.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// View returns the current view. After Leave it returns an empty view.
func (s *Session) View() View {
	reply := make(chan View, 1)
	select {
	case s.inbox <- getView{reply: reply}:
	case <-s.done:
		return View{}
	}
	select {
	case v := <-reply:
		return v
	case <-s.done:
		return View{}
	}
}

// Resync discards the current view and reloads it from a fresh snapshot.
func (s *Session) Resync() {
	s.post(resync{})
}

// Relay asks the server to rebroadcast a round, task or leaderboard command to the room.
func (s *Session) Relay(name events.Name, cmd events.RelayCommand) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	if !events.IsRelay(name) {
		log.Warn().Str("event", string(name)).Msg("not a relay command")
		return false
	}
	cmd.RoomID = s.identity.RoomID
	return s.deps.Channel.Send(name, cmd)
}

func (s *Session) post(msg message) {
	select {
	case s.inbox <- msg:
	case <-s.done:
	}
}

// timersFired runs on timer goroutines and on the loop itself, so it never blocks.
func (s *Session) timersFired() {
	select {
	case s.inbox <- timersFired{}:
	default:
	}
}

func (s *Session) run() {
	ticker := s.deps.Clock.NewTicker(s.config.Leaderboard.RefreshInterval)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return
		case <-ticker.Chan():
			s.refreshEstimates()
			s.publish()
		case msg := <-s.inbox:
			s.handle(msg)
		}
	}
}

func (s *Session) handle(msg message) {
	switch m := msg.(type) {
	case inboundEvent:
		s.handleEvent(m.env)
	case statusChanged:
		s.handleStatus(m.status)
	case snapshotLoaded:
		s.handleSnapshot(m)
	case retrySnapshot:
		if m.epoch == s.epoch && s.rec.Loading() {
			s.fetch(m.epoch)
		}
	case resync:
		s.startResync()
		s.publish()
	case timersFired:
		s.publish()
	case getView:
		m.reply <- s.view()
	}
}

func (s *Session) handleEvent(env events.Envelope) {
	out := s.router.Dispatch(env)
	if out.Notice != nil {
		s.queue.Push(out.Notice.Message, out.Notice.Kind)
	}
	if out.ViewChanged {
		s.ranker.SetMembers(s.rec.View().Members)
	}
	if out.TasksChanged {
		s.refreshEstimates()
	}
	if out.HasLeaderboard {
		s.ranker.ApplyAuthoritative(out.Leaderboard)
	}
	if out.Notice != nil || out.ViewChanged || out.TasksChanged || out.HasLeaderboard {
		s.publish()
	}
}

func (s *Session) handleStatus(st gateway.Status) {
	s.rec.SetConnectivity(st.Connectivity())

	switch st.State {
	case gateway.StateConnected:
		s.startResync()
	case gateway.StateError:
		s.rec.BeginResync()
		s.queue.Push(fmt.Sprintf("Connection lost: %s", st.Reason), notify.KindError)
	default:
		s.rec.BeginResync()
	}
	s.publish()
}

// startResync opens a new epoch. Deltas are refused until its snapshot lands.
func (s *Session) startResync() {
	s.epoch++
	s.rec.BeginResync()
	s.router.ResetConnection()
	s.fetch(s.epoch)
}

func (s *Session) fetch(epoch uint64) {
	ctx := s.ctx
	go func() {
		fetchCtx, cancel := context.WithTimeout(ctx, s.config.SnapshotTimeout)
		defer cancel()

		msg := snapshotLoaded{epoch: epoch}
		msg.snap, msg.err = s.deps.Snapshots.FetchSnapshot(fetchCtx, s.identity.RoomID)
		if msg.err == nil && msg.snap.ActiveRound != nil && s.deps.Tasks != nil {
			msg.tasks, msg.err = s.deps.Tasks.FetchTasks(fetchCtx, msg.snap.ActiveRound.ID)
		}
		s.post(msg)
	}()
}

func (s *Session) handleSnapshot(m snapshotLoaded) {
	if m.epoch != s.epoch {
		log.Debug().Uint64("epoch", m.epoch).Msg("discarding snapshot from superseded connection")
		return
	}
	if m.err != nil {
		log.Error().Err(m.err).Str("room_id", s.identity.RoomID).Msg("failed to fetch room snapshot")
		s.queue.Push("Failed to fetch room data", notify.KindWarning)
		s.scheduleRetry(m.epoch)
		s.publish()
		return
	}

	s.rec.LoadSnapshot(m.snap)
	if m.snap.ActiveRound != nil {
		s.rec.LoadTasks(m.snap.ActiveRound.ID, m.tasks)
	}
	s.ranker.SetMembers(s.rec.View().Members)
	s.refreshEstimates()
	s.deps.Channel.RequestRoomStatus(s.identity.RoomID)

	log.Info().
		Str("room_id", s.identity.RoomID).
		Uint64("epoch", m.epoch).
		Int("members", len(m.snap.Members)).
		Int("tasks", len(m.tasks)).
		Msg("room synchronised")
	s.publish()
}

func (s *Session) scheduleRetry(epoch uint64) {
	if s.retry != nil {
		s.retry.Stop()
	}
	s.retry = s.deps.Clock.AfterFunc(s.config.SnapshotRetryWait, func() {
		s.post(retrySnapshot{epoch: epoch})
	})
}

// refreshEstimates recomputes locally estimated facts from the task collection.
func (s *Session) refreshEstimates() {
	if s.rec.Loading() {
		return
	}
	s.ranker.ApplyEstimated(leaderboard.Estimate(s.rec.Tasks()))
}

func (s *Session) view() View {
	return View{
		Room:          s.rec.View(),
		Tasks:         s.rec.Tasks(),
		Notifications: s.queue.List(),
		Standings:     s.ranker.Standings(),
	}
}

func (s *Session) publish() {
	if s.onUpdate != nil {
		s.onUpdate(s.view())
	}
}

func (s *Session) teardown() {
	s.deps.Channel.LeaveRoom()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	if s.retry != nil {
		s.retry.Stop()
	}
	s.rec.Leave()
	s.queue.Close()
	s.ranker.Close()

	log.Info().
		Str("room_id", s.identity.RoomID).
		Str("user_id", s.identity.UserID).
		Msg("room session left")
}

func inboundNames() map[events.Name]struct{} {
	return map[events.Name]struct{}{
		events.RoomJoined:         {},
		events.MemberJoined:       {},
		events.MemberLeft:         {},
		events.RoundStarted:       {},
		events.RoundEnded:         {},
		events.TaskCreated:        {},
		events.TaskCompleted:      {},
		events.TaskApproved:       {},
		events.TaskFlagged:        {},
		events.LeaderboardUpdated: {},
		events.RoomStatus:         {},
		events.Error:              {},
	}
}
