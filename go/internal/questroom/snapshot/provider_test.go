package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/questroom/go/internal/models"
)

func apiServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /rooms/room-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "room": {"id": "room-1", "code": "ABC123", "name": "Focus Club",
			"members": [
				{"id": "m2", "room_id": "room-1", "user_id": "bob", "joined_at": "2025-03-01T09:01:00", "is_host": false, "user": {"id": "bob", "name": "Bob"}},
				{"id": "m1", "room_id": "room-1", "user_id": "alice", "joined_at": "2025-03-01T09:00:00.123456", "is_host": true, "user": {"id": "alice", "name": "Alice"}}
			]}}`))
	})
	mux.HandleFunc("GET /rooms/room-1/active-round", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "active_round": {"id": "r1", "room_id": "room-1",
			"start_at": "2025-03-01T09:00:00", "end_at": "2025-03-01T10:00:00", "stakes": "loser buys coffee", "status": "active"}}`))
	})
	mux.HandleFunc("GET /rooms/room-2/active-round", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "active_round": null}`))
	})
	mux.HandleFunc("GET /rooms/room-2", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "room": {"id": "room-2", "code": "ZZZ", "name": "Empty", "members": []}}`))
	})
	mux.HandleFunc("GET /rounds/r1/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "tasks": [
			{"id": "t1", "round_id": "r1", "creator_id": "alice", "template": "quantitative", "title": "Read 20 pages",
			 "description": "", "points": 15, "approved": true, "proof_url": "/uploads/p.png", "proof_type": "photo",
			 "flagged_count": 1, "created_at": "2025-03-01T09:05:00"},
			{"id": "t2", "round_id": "r1", "creator_id": "bob", "template": "time-boxed", "title": "Deep work",
			 "points": 10, "approved": null, "proof_url": "", "proof_type": "", "flagged_count": 0, "created_at": "2025-03-01T09:06:00"}
		]}`))
	})
	mux.HandleFunc("GET /rooms/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success": false, "error": "Room not found"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPProvider_FetchSnapshot(t *testing.T) {
	p := NewHTTPProvider(apiServer(t).URL, time.Second)

	snap, err := p.FetchSnapshot(context.Background(), "room-1")

	require.NoError(t, err)
	assert.Equal(t, models.Room{ID: "room-1", Name: "Focus Club", Code: "ABC123"}, snap.Room)
	require.Len(t, snap.Members, 2)
	assert.Equal(t, "Bob", snap.Members[0].Name)
	assert.True(t, snap.Members[1].IsHost)
	require.NotNil(t, snap.ActiveRound)
	assert.Equal(t, "r1", snap.ActiveRound.ID)
	assert.Equal(t, time.Hour, snap.ActiveRound.EndAt.Sub(snap.ActiveRound.StartAt))
	assert.Equal(t, models.RoundStatusActive, snap.ActiveRound.Status)
}

func TestHTTPProvider_FetchSnapshotWithoutRound(t *testing.T) {
	p := NewHTTPProvider(apiServer(t).URL, time.Second)

	snap, err := p.FetchSnapshot(context.Background(), "room-2")

	require.NoError(t, err)
	assert.Nil(t, snap.ActiveRound)
	assert.Empty(t, snap.Members)
}

func TestHTTPProvider_FetchTasks(t *testing.T) {
	p := NewHTTPProvider(apiServer(t).URL, time.Second)

	tasks, err := p.FetchTasks(context.Background(), "r1")

	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, models.ApprovalApproved, tasks[0].Approval)
	require.NotNil(t, tasks[0].Proof)
	assert.Equal(t, "photo", tasks[0].Proof.Type)
	assert.Equal(t, 1, tasks[0].Flags)
	assert.Equal(t, 15, tasks[0].Points)
	assert.Equal(t, models.ApprovalPending, tasks[1].Approval)
	assert.Nil(t, tasks[1].Proof)
}

func TestHTTPProvider_NotFound(t *testing.T) {
	p := NewHTTPProvider(apiServer(t).URL, time.Second)

	_, err := p.FetchSnapshot(context.Background(), "missing")

	assert.ErrorContains(t, err, "404")
}
