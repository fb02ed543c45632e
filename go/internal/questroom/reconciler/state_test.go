package reconciler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/questroom/go/internal/models"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newLoaded(t *testing.T) *Reconciler {
	t.Helper()
	r := New(models.Identity{UserID: "alice", RoomID: "room-1"})
	r.LoadSnapshot(Snapshot{
		Room: models.Room{ID: "room-1", Name: "Focus Club", Code: "ABC123"},
		Members: []models.Member{
			{UserID: "alice", Name: "Alice", IsHost: true, JoinedAt: t0},
			{UserID: "bob", Name: "Bob", JoinedAt: t0.Add(time.Minute)},
		},
		ActiveRound: &models.Round{ID: "r1", RoomID: "room-1", StartAt: t0, EndAt: t0.Add(time.Hour), Status: models.RoundStatusActive},
	})
	return r
}

func pending(id string) TaskUpdate {
	return TaskUpdate{
		Task: models.Task{
			ID: id, RoundID: "r1", CreatorID: "alice", Title: "Read 20 pages",
			Points: 10, Approval: models.ApprovalPending, CreatedAt: t0,
		},
		HasPoints: true,
	}
}

func approval(id string, approved bool) TaskUpdate {
	a := models.ApprovalRejected
	if approved {
		a = models.ApprovalApproved
	}
	return TaskUpdate{Task: models.Task{ID: id, RoundID: "r1", Approval: a}}
}

func TestReconciler_LoadingUntilSnapshot(t *testing.T) {
	r := New(models.Identity{UserID: "alice", RoomID: "room-1"})
	assert.True(t, r.View().Loading)
	assert.ErrorIs(t, r.AcceptsDelta("room-1"), ErrAwaitingSnapshot)

	r.LoadSnapshot(Snapshot{})
	assert.False(t, r.View().Loading)
	assert.NoError(t, r.AcceptsDelta("room-1"))
	assert.Equal(t, "room-1", r.View().Room.ID)
}

func TestReconciler_DuplicateRejoinIsIdempotent(t *testing.T) {
	r := newLoaded(t)

	left := r.ApplyMemberLeft("bob")
	assert.True(t, left.Removed)

	bob := models.Member{UserID: "bob", Name: "Bob", JoinedAt: t0.Add(2 * time.Minute)}
	first := r.ApplyMemberJoined(bob)
	second := r.ApplyMemberJoined(bob)

	assert.True(t, first.Added)
	assert.False(t, second.Added)
	assert.False(t, second.Changed)

	view := r.View()
	require.Len(t, view.Members, 2)
	assert.Equal(t, []string{"alice", "bob"}, view.MemberIDs())
}

func TestReconciler_MemberJoinedIdempotent(t *testing.T) {
	r := newLoaded(t)
	carol := models.Member{UserID: "carol", Name: "Carol", JoinedAt: t0.Add(5 * time.Minute)}

	r.ApplyMemberJoined(carol)
	once := r.View()
	r.ApplyMemberJoined(carol)

	assert.Equal(t, once, r.View())
}

func TestReconciler_MemberLeftAbsentIsNoop(t *testing.T) {
	r := newLoaded(t)
	before := r.View()

	change := r.ApplyMemberLeft("nobody")

	assert.False(t, change.Changed)
	assert.Equal(t, before, r.View())
}

func TestReconciler_MemberJoinedRefreshesMetadata(t *testing.T) {
	r := newLoaded(t)

	change := r.ApplyMemberJoined(models.Member{UserID: "bob", Name: "Robert"})

	assert.True(t, change.Changed)
	assert.False(t, change.Added)
	assert.Equal(t, "Robert", r.View().Members[1].Name)
	assert.Equal(t, t0.Add(time.Minute), r.View().Members[1].JoinedAt)
}

func TestReconciler_SingleHost(t *testing.T) {
	r := newLoaded(t)

	r.ApplyMemberJoined(models.Member{UserID: "bob", IsHost: true})

	host, ok := r.View().Host()
	require.True(t, ok)
	assert.Equal(t, "bob", host.UserID)
	hosts := 0
	for _, m := range r.View().Members {
		if m.IsHost {
			hosts++
		}
	}
	assert.Equal(t, 1, hosts)
}

func TestReconciler_SnapshotWithTwoHostsKeepsEarliest(t *testing.T) {
	r := New(models.Identity{UserID: "alice", RoomID: "room-1"})
	r.LoadSnapshot(Snapshot{Members: []models.Member{
		{UserID: "zoe", IsHost: true, JoinedAt: t0.Add(time.Hour)},
		{UserID: "yan", IsHost: true, JoinedAt: t0},
	}})

	host, ok := r.View().Host()
	require.True(t, ok)
	assert.Equal(t, "yan", host.UserID)
}

func TestReconciler_SnapshotDominance(t *testing.T) {
	fresh := newLoaded(t)
	expected := fresh.View()

	r := newLoaded(t)
	r.ApplyMemberLeft("bob")
	r.ApplyMemberJoined(models.Member{UserID: "mallory", Name: "Mallory", JoinedAt: t0})
	r.ApplyRoundEnded("r1")
	r.ApplyTaskEvent(TaskEventCreated, pending("t1"))

	r.BeginResync()
	r.LoadSnapshot(Snapshot{
		Room: models.Room{ID: "room-1", Name: "Focus Club", Code: "ABC123"},
		Members: []models.Member{
			{UserID: "alice", Name: "Alice", IsHost: true, JoinedAt: t0},
			{UserID: "bob", Name: "Bob", JoinedAt: t0.Add(time.Minute)},
		},
		ActiveRound: &models.Round{ID: "r1", RoomID: "room-1", StartAt: t0, EndAt: t0.Add(time.Hour), Status: models.RoundStatusActive},
	})

	assert.Equal(t, expected, r.View())
	assert.Empty(t, r.Tasks())
}

func TestReconciler_DuplicateApprovalIsIdempotent(t *testing.T) {
	r := newLoaded(t)
	created := r.ApplyTaskEvent(TaskEventCreated, pending("T1"))
	require.True(t, created.Added)

	first := r.ApplyTaskEvent(TaskEventApproved, approval("T1", true))
	second := r.ApplyTaskEvent(TaskEventApproved, approval("T1", true))

	assert.True(t, first.Changed)
	assert.False(t, second.Changed)
	task, ok := r.Task("T1")
	require.True(t, ok)
	assert.Equal(t, models.ApprovalApproved, task.Approval)
	assert.Equal(t, "Read 20 pages", task.Title)
	assert.Equal(t, 10, task.Points)
}

func TestReconciler_ApprovalNeverRegressesToPending(t *testing.T) {
	r := newLoaded(t)
	r.ApplyTaskEvent(TaskEventCreated, pending("T1"))
	r.ApplyTaskEvent(TaskEventApproved, approval("T1", false))

	late := r.ApplyTaskEvent(TaskEventCreated, pending("T1"))
	assert.False(t, late.Changed)
	task, _ := r.Task("T1")
	assert.Equal(t, models.ApprovalRejected, task.Approval)

	r.ApplyTaskEvent(TaskEventApproved, approval("T1", true))
	task, _ = r.Task("T1")
	assert.Equal(t, models.ApprovalApproved, task.Approval)
}

func TestReconciler_ProofPreservedWhenOmitted(t *testing.T) {
	r := newLoaded(t)
	r.ApplyTaskEvent(TaskEventCreated, pending("T1"))

	completed := pending("T1")
	completed.Task.Proof = &models.Proof{Type: "photo", Content: "https://img/1.png"}
	completed.HasProof = true
	r.ApplyTaskEvent(TaskEventCompleted, completed)

	r.ApplyTaskEvent(TaskEventApproved, approval("T1", true))

	task, _ := r.Task("T1")
	require.NotNil(t, task.Proof)
	assert.Equal(t, "https://img/1.png", task.Proof.Content)
	assert.Equal(t, models.ApprovalApproved, task.Approval)
}

func TestReconciler_FlagsNeverDecrease(t *testing.T) {
	r := newLoaded(t)
	r.ApplyTaskEvent(TaskEventCreated, pending("T1"))

	flag := func(n int) TaskUpdate {
		return TaskUpdate{Task: models.Task{ID: "T1", Flags: n}, HasFlags: true}
	}
	r.ApplyTaskEvent(TaskEventFlagged, flag(2))
	stale := r.ApplyTaskEvent(TaskEventFlagged, flag(1))

	assert.False(t, stale.Changed)
	task, _ := r.Task("T1")
	assert.Equal(t, 2, task.Flags)
}

func TestReconciler_TaskForOtherRoundDropped(t *testing.T) {
	r := newLoaded(t)
	u := pending("T9")
	u.Task.RoundID = "r-old"

	change := r.ApplyTaskEvent(TaskEventCreated, u)

	assert.False(t, change.Changed)
	assert.Empty(t, r.Tasks())
}

func TestReconciler_RoundLifecycle(t *testing.T) {
	r := newLoaded(t)
	r.ApplyTaskEvent(TaskEventCreated, pending("T1"))

	assert.False(t, r.ApplyRoundEnded("r-other").Changed)
	ended := r.ApplyRoundEnded("r1")
	require.True(t, ended.Changed)
	assert.Equal(t, models.RoundStatusEnded, ended.Round.Status)
	assert.Nil(t, r.View().ActiveRound)
	assert.False(t, r.ApplyRoundEnded("r1").Changed)

	// approvals for the round that just ended still land
	r.ApplyTaskEvent(TaskEventApproved, approval("T1", true))
	task, _ := r.Task("T1")
	assert.Equal(t, models.ApprovalApproved, task.Approval)

	next := models.Round{ID: "r2", RoomID: "room-1", StartAt: t0.Add(2 * time.Hour), EndAt: t0.Add(3 * time.Hour)}
	started := r.ApplyRoundStarted(next)
	require.True(t, started.Changed)
	assert.False(t, r.ApplyRoundStarted(next).Changed)
	assert.Equal(t, "r2", r.View().ActiveRound.ID)
	assert.Empty(t, r.Tasks())
}

func TestReconciler_LoadTasksOnlyForActiveRound(t *testing.T) {
	r := newLoaded(t)

	r.LoadTasks("r-other", []models.Task{{ID: "x", RoundID: "r-other"}})
	assert.Empty(t, r.Tasks())

	r.LoadTasks("r1", []models.Task{
		{ID: "b", RoundID: "r1", CreatedAt: t0.Add(time.Second)},
		{ID: "a", RoundID: "r1", CreatedAt: t0.Add(time.Second)},
		{ID: "c", RoundID: "r1", CreatedAt: t0},
	})
	tasks := r.Tasks()
	require.Len(t, tasks, 3)
	assert.Equal(t, "c", tasks[0].ID)
	assert.Equal(t, "a", tasks[1].ID)
	assert.Equal(t, models.ApprovalPending, tasks[2].Approval)
}

func TestReconciler_RoomStatusSetsOnline(t *testing.T) {
	r := newLoaded(t)

	assert.True(t, r.ApplyRoomStatus([]string{"bob"}).Changed)
	assert.False(t, r.ApplyRoomStatus([]string{"bob"}).Changed)

	view := r.View()
	assert.False(t, view.Members[0].Online)
	assert.True(t, view.Members[1].Online)
}

func TestReconciler_StaleAfterLeave(t *testing.T) {
	r := newLoaded(t)
	assert.ErrorIs(t, r.Accepts("room-2"), models.ErrStaleEvent)

	r.Leave()

	assert.ErrorIs(t, r.Accepts("room-1"), models.ErrStaleEvent)
	assert.False(t, r.ApplyMemberJoined(models.Member{UserID: "carol"}).Changed)
	assert.False(t, r.ApplyTaskEvent(TaskEventCreated, pending("T1")).Changed)
	assert.Empty(t, r.View().Members)
}

func TestRound_Remaining(t *testing.T) {
	round := models.Round{EndAt: t0.Add(10 * time.Minute)}
	assert.Equal(t, 10*time.Minute, round.Remaining(t0))
	assert.Equal(t, time.Duration(0), round.Remaining(t0.Add(time.Hour)))
}

func TestReconciler_StartOfEndedRoundIgnored(t *testing.T) {
	r := newLoaded(t)
	r1 := *r.View().ActiveRound
	require.True(t, r.ApplyRoundEnded("r1").Changed)

	late := r.ApplyRoundStarted(r1)

	assert.False(t, late.Changed)
	assert.Nil(t, r.View().ActiveRound)

	// a snapshot reporting the round active again is authoritative
	r.LoadSnapshot(Snapshot{ActiveRound: &r1})
	require.NotNil(t, r.View().ActiveRound)
	assert.True(t, r.ApplyRoundEnded("r1").Changed)
	assert.False(t, r.ApplyRoundStarted(r1).Changed)
}

func TestReconciler_CreatedReplayAfterRejectionKeepsPoints(t *testing.T) {
	r := newLoaded(t)
	r.ApplyTaskEvent(TaskEventCreated, pending("T1"))

	rejected := r.ApplyTaskEvent(TaskEventFlagged, TaskUpdate{
		Task:      models.Task{ID: "T1", RoundID: "r1", Approval: models.ApprovalRejected, Flags: 3},
		HasPoints: true,
		HasFlags:  true,
	})
	require.True(t, rejected.Changed)

	replay := r.ApplyTaskEvent(TaskEventCreated, pending("T1"))

	assert.False(t, replay.Changed)
	task, _ := r.Task("T1")
	assert.Equal(t, 0, task.Points)
	assert.Equal(t, models.ApprovalRejected, task.Approval)
	assert.Equal(t, 3, task.Flags)
}

func TestReconciler_CompletedReplayAfterApprovalKeepsPoints(t *testing.T) {
	r := newLoaded(t)
	r.ApplyTaskEvent(TaskEventCreated, pending("T1"))

	completed := pending("T1")
	completed.Task.Proof = &models.Proof{Type: "link", Content: "https://notes/1"}
	completed.HasProof = true
	r.ApplyTaskEvent(TaskEventCompleted, completed)

	approved := approval("T1", true)
	approved.Task.Points = 15
	approved.HasPoints = true
	require.True(t, r.ApplyTaskEvent(TaskEventApproved, approved).Changed)

	assert.False(t, r.ApplyTaskEvent(TaskEventCompleted, completed).Changed)
	task, _ := r.Task("T1")
	assert.Equal(t, 15, task.Points)
	assert.Equal(t, models.ApprovalApproved, task.Approval)
}

func TestReconciler_MemberReplayAfterChange(t *testing.T) {
	r := newLoaded(t)
	carol := models.Member{UserID: "carol", Name: "Carol", JoinedAt: t0.Add(5 * time.Minute)}
	require.True(t, r.ApplyMemberJoined(carol).Added)
	require.True(t, r.ApplyRoomStatus([]string{"alice", "carol"}).Changed)

	assert.False(t, r.ApplyMemberJoined(carol).Changed)

	require.True(t, r.ApplyMemberLeft("carol").Removed)
	again := r.ApplyMemberLeft("carol")
	assert.False(t, again.Changed)
	assert.False(t, again.Removed)
	assert.Equal(t, []string{"alice", "bob"}, r.View().MemberIDs())
}
