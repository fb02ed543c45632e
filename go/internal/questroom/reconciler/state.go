package reconciler

import (
	"errors"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/models"
)

// ErrAwaitingSnapshot is returned for deltas that arrive before the room has been
// (re)synchronised from a snapshot.
var ErrAwaitingSnapshot = errors.New("awaiting snapshot")

// maxEndedRounds bounds how many ended round ids are remembered for replay detection.
const maxEndedRounds = 32

// Snapshot is an authoritative point-in-time room state.
type Snapshot struct {
	Room        models.Room
	Members     []models.Member
	ActiveRound *models.Round
}

// TaskEventKind is the lifecycle step a task event describes.
type TaskEventKind string

const (
	TaskEventCreated   TaskEventKind = "created"
	TaskEventCompleted TaskEventKind = "completed"
	TaskEventApproved  TaskEventKind = "approved"
	TaskEventFlagged   TaskEventKind = "flagged"
)

// TaskUpdate is an incoming task with markers for which optional fields were present.
type TaskUpdate struct {
	Task      models.Task
	HasPoints bool
	HasProof  bool
	HasFlags  bool
}

// Change describes the effect of one apply call. Changed is false for no-ops,
// including duplicate deliveries.
type Change struct {
	Changed  bool
	Added    bool
	Removed  bool
	Member   *models.Member
	Task     *models.Task
	Previous *models.Task
	Round    *models.Round
}

// Reconciler owns the room view and task collection for one joined room.
// It is not safe for concurrent use; the owning session serialises calls.
type Reconciler struct {
	identity     models.Identity
	room         models.Room
	members      map[string]models.Member
	round        *models.Round
	taskRoundID  string
	ended        map[string]struct{}
	endedOrder   []string
	tasks        map[string]models.Task
	connectivity models.Connectivity
	loading      bool
	left         bool
}

// New creates a reconciler for identity. The view is loading until the first snapshot.
func New(identity models.Identity) *Reconciler {
	return &Reconciler{
		identity:     identity,
		room:         models.Room{ID: identity.RoomID},
		members:      make(map[string]models.Member),
		ended:        make(map[string]struct{}),
		tasks:        make(map[string]models.Task),
		connectivity: models.ConnectivityDisconnected,
		loading:      true,
	}
}

// Identity returns the session identity this reconciler is scoped to.
func (r *Reconciler) Identity() models.Identity {
	return r.identity
}

// Loading reports whether the view is waiting for a snapshot.
func (r *Reconciler) Loading() bool {
	return r.loading
}

// Left reports whether the session has left the room.
func (r *Reconciler) Left() bool {
	return r.left
}

// Accepts checks that an event scoped to roomID may be applied. An empty roomID is
// treated as scoped to the joined room.
func (r *Reconciler) Accepts(roomID string) error {
	if r.left {
		return models.ErrStaleEvent
	}
	if roomID != "" && roomID != r.identity.RoomID {
		return models.ErrStaleEvent
	}
	return nil
}

// AcceptsDelta is Accepts plus the snapshot gate.
func (r *Reconciler) AcceptsDelta(roomID string) error {
	if err := r.Accepts(roomID); err != nil {
		return err
	}
	if r.loading {
		return ErrAwaitingSnapshot
	}
	return nil
}

// BeginResync marks the view as loading. Deltas are refused until LoadSnapshot.
func (r *Reconciler) BeginResync() {
	if r.left {
		return
	}
	r.loading = true
}

// LoadSnapshot replaces members, room metadata and the active round. Tasks are
// cleared and must be reloaded with LoadTasks.
func (r *Reconciler) LoadSnapshot(s Snapshot) {
	if r.left {
		return
	}

	if s.Room.ID == "" {
		s.Room.ID = r.identity.RoomID
	}
	if s.Room.Name == "" {
		s.Room.Name = r.room.Name
	}
	r.room = s.Room

	r.members = make(map[string]models.Member, len(s.Members))
	for _, m := range s.Members {
		r.members[m.UserID] = m
	}
	r.enforceSingleHost()

	r.round = nil
	r.taskRoundID = ""
	if s.ActiveRound != nil {
		round := *s.ActiveRound
		r.round = &round
		r.taskRoundID = round.ID
		r.forgetEnded(round.ID)
	}
	r.tasks = make(map[string]models.Task)
	r.loading = false

	log.Debug().
		Str("room_id", r.identity.RoomID).
		Int("members", len(r.members)).
		Bool("active_round", r.round != nil).
		Msg("snapshot loaded")
}

// LoadTasks replaces the task collection for roundID. Tasks for any other round are ignored.
func (r *Reconciler) LoadTasks(roundID string, tasks []models.Task) {
	if r.left || roundID == "" || roundID != r.taskRoundID {
		return
	}
	r.tasks = make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		if t.RoundID != "" && t.RoundID != roundID {
			continue
		}
		if t.Approval == "" {
			t.Approval = models.ApprovalPending
		}
		r.tasks[t.ID] = t.Clone()
	}
}

// SetRoomName records the room name announced on join.
func (r *Reconciler) SetRoomName(name string) Change {
	if r.left || name == "" || name == r.room.Name {
		return Change{}
	}
	r.room.Name = name
	return Change{Changed: true}
}

// SetConnectivity records the channel state.
func (r *Reconciler) SetConnectivity(c models.Connectivity) Change {
	if r.left || c == r.connectivity {
		return Change{}
	}
	r.connectivity = c
	return Change{Changed: true}
}

// ApplyMemberJoined adds a member. A member already present only has its metadata refreshed.
func (r *Reconciler) ApplyMemberJoined(m models.Member) Change {
	if r.left || m.UserID == "" {
		return Change{}
	}

	existing, ok := r.members[m.UserID]
	if !ok {
		m.Online = true
		r.members[m.UserID] = m
		if m.IsHost {
			r.makeHost(m.UserID)
		}
		added := r.members[m.UserID]
		return Change{Changed: true, Added: true, Member: &added}
	}

	updated := existing
	if m.Name != "" {
		updated.Name = m.Name
	}
	updated.Online = true
	if m.IsHost {
		updated.IsHost = true
	}
	if updated == existing {
		return Change{Member: &existing}
	}
	r.members[m.UserID] = updated
	if updated.IsHost && !existing.IsHost {
		r.makeHost(m.UserID)
	}
	return Change{Changed: true, Member: &updated}
}

// ApplyMemberLeft removes a member. Removing an absent member is a no-op.
func (r *Reconciler) ApplyMemberLeft(userID string) Change {
	if r.left {
		return Change{}
	}
	existing, ok := r.members[userID]
	if !ok {
		return Change{}
	}
	delete(r.members, userID)
	return Change{Changed: true, Removed: true, Member: &existing}
}

// ApplyRoundStarted replaces the active round. Tasks from other rounds are dropped.
// A start for a round that has already ended is a late replay and is ignored.
func (r *Reconciler) ApplyRoundStarted(round models.Round) Change {
	if r.left {
		return Change{}
	}
	if _, ok := r.ended[round.ID]; ok {
		log.Debug().Str("round_id", round.ID).Msg("ignoring start of ended round")
		return Change{}
	}
	round.Status = models.RoundStatusActive
	if r.round != nil && *r.round == round {
		return Change{Round: r.round}
	}

	if r.taskRoundID != round.ID {
		for id, t := range r.tasks {
			if t.RoundID != round.ID {
				delete(r.tasks, id)
			}
		}
	}
	r.round = &round
	r.taskRoundID = round.ID
	started := round
	return Change{Changed: true, Added: true, Round: &started}
}

// ApplyRoundEnded clears the active round. An end naming a different round is ignored.
func (r *Reconciler) ApplyRoundEnded(roundID string) Change {
	if r.left || r.round == nil {
		return Change{}
	}
	if roundID != "" && roundID != r.round.ID {
		return Change{}
	}
	ended := *r.round
	ended.Status = models.RoundStatusEnded
	r.round = nil
	r.rememberEnded(ended.ID)
	return Change{Changed: true, Removed: true, Round: &ended}
}

func (r *Reconciler) rememberEnded(id string) {
	if id == "" {
		return
	}
	if _, ok := r.ended[id]; ok {
		return
	}
	r.ended[id] = struct{}{}
	r.endedOrder = append(r.endedOrder, id)
	if len(r.endedOrder) > maxEndedRounds {
		delete(r.ended, r.endedOrder[0])
		r.endedOrder = r.endedOrder[1:]
	}
}

// forgetEnded drops id after a snapshot reports it active again.
func (r *Reconciler) forgetEnded(id string) {
	if _, ok := r.ended[id]; !ok {
		return
	}
	delete(r.ended, id)
	for i, e := range r.endedOrder {
		if e == id {
			r.endedOrder = append(r.endedOrder[:i], r.endedOrder[i+1:]...)
			break
		}
	}
}

// ApplyTaskEvent upserts a task by id and merges lifecycle fields into the existing entry.
func (r *Reconciler) ApplyTaskEvent(kind TaskEventKind, u TaskUpdate) Change {
	if r.left {
		return Change{}
	}
	in := u.Task
	if in.ID == "" {
		return Change{}
	}
	if in.RoundID != "" && r.taskRoundID != "" && in.RoundID != r.taskRoundID {
		log.Debug().
			Str("task_id", in.ID).
			Str("round_id", in.RoundID).
			Msg("dropping task event for inactive round")
		return Change{}
	}

	existing, ok := r.tasks[in.ID]
	if !ok {
		created := in.Clone()
		if created.Approval == "" {
			created.Approval = models.ApprovalPending
		}
		if created.RoundID == "" {
			created.RoundID = r.taskRoundID
		}
		r.tasks[created.ID] = created
		out := created.Clone()
		return Change{Changed: true, Added: true, Task: &out}
	}

	merged := mergeTask(existing, kind, u)
	if merged.Equal(existing) {
		prev := existing.Clone()
		return Change{Task: &prev, Previous: &prev}
	}
	r.tasks[merged.ID] = merged

	log.Debug().
		Str("task_id", merged.ID).
		Str("kind", string(kind)).
		Str("approval", string(merged.Approval)).
		Msg("task merged")

	out, prev := merged.Clone(), existing.Clone()
	return Change{Changed: true, Task: &out, Previous: &prev}
}

// mergeTask folds an update into the known task. Proof survives when the update omits it,
// flags never decrease and a decided approval never returns to pending. Points carried by
// a created or completed event only apply while the task is still pending review, so a
// replay cannot undo the points set by an approval or rejection.
func mergeTask(existing models.Task, kind TaskEventKind, u TaskUpdate) models.Task {
	in := u.Task
	out := existing.Clone()

	if in.RoundID != "" {
		out.RoundID = in.RoundID
	}
	if in.CreatorID != "" {
		out.CreatorID = in.CreatorID
	}
	if in.Template != "" {
		out.Template = in.Template
	}
	if in.Title != "" {
		out.Title = in.Title
	}
	if in.Description != "" {
		out.Description = in.Description
	}
	if in.Target != 0 {
		out.Target = in.Target
	}
	if in.TargetUnit != "" {
		out.TargetUnit = in.TargetUnit
	}
	if u.HasPoints && (reviews(kind) || existing.Approval == models.ApprovalPending) {
		out.Points = in.Points
	}
	if u.HasProof && in.Proof != nil {
		p := *in.Proof
		out.Proof = &p
	}
	if u.HasFlags && in.Flags > out.Flags {
		out.Flags = in.Flags
	}
	if in.Approval.Terminal() {
		out.Approval = in.Approval
	}
	if in.CompletedAt != nil {
		ts := *in.CompletedAt
		out.CompletedAt = &ts
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = in.CreatedAt
	}
	return out
}

func reviews(kind TaskEventKind) bool {
	return kind == TaskEventApproved || kind == TaskEventFlagged
}

// ApplyRoomStatus refreshes the derived online flags from the set of connected user ids.
func (r *Reconciler) ApplyRoomStatus(online []string) Change {
	if r.left {
		return Change{}
	}
	set := make(map[string]bool, len(online))
	for _, id := range online {
		set[id] = true
	}

	changed := false
	for id, m := range r.members {
		if m.Online != set[id] {
			m.Online = set[id]
			r.members[id] = m
			changed = true
		}
	}
	return Change{Changed: changed}
}

// Leave detaches the reconciler. Every later apply is a no-op.
func (r *Reconciler) Leave() {
	r.left = true
	r.tasks = make(map[string]models.Task)
	r.members = make(map[string]models.Member)
	r.round = nil
	r.taskRoundID = ""
}

// View returns a copy of the room view with members in render order.
func (r *Reconciler) View() models.RoomView {
	members := make([]models.Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sortMembers(members)

	var round *models.Round
	if r.round != nil {
		c := *r.round
		round = &c
	}
	return models.RoomView{
		Room:         r.room,
		Members:      members,
		ActiveRound:  round,
		Connectivity: r.connectivity,
		Loading:      r.loading,
	}
}

// Tasks returns copies of the known tasks ordered by creation time then id.
func (r *Reconciler) Tasks() []models.Task {
	out := make([]models.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Task returns one task by id.
func (r *Reconciler) Task(id string) (models.Task, bool) {
	t, ok := r.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return t.Clone(), true
}

// TaskRoundID is the round that task events are accepted for.
func (r *Reconciler) TaskRoundID() string {
	return r.taskRoundID
}

func (r *Reconciler) makeHost(userID string) {
	for id, m := range r.members {
		if id != userID && m.IsHost {
			m.IsHost = false
			r.members[id] = m
		}
	}
}

// enforceSingleHost keeps the first host in render order when a snapshot carries several.
func (r *Reconciler) enforceSingleHost() {
	members := make([]models.Member, 0, len(r.members))
	for _, m := range r.members {
		if m.IsHost {
			members = append(members, m)
		}
	}
	if len(members) <= 1 {
		return
	}
	sortMembers(members)
	r.makeHost(members[0].UserID)
}

func sortMembers(members []models.Member) {
	sort.Slice(members, func(i, j int) bool {
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].UserID < members[j].UserID
	})
}
