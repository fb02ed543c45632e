package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/mcdev12/questroom/go/clients"
	"github.com/mcdev12/questroom/go/internal/models"
	"github.com/mcdev12/questroom/go/internal/questroom/events"
	"github.com/mcdev12/questroom/go/internal/questroom/reconciler"
)

// HTTPProvider fetches authoritative room state from the room API.
type HTTPProvider struct {
	client *clients.BaseClient
}

// NewHTTPProvider creates a provider against baseURL with a per-request timeout.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	client := clients.NewBaseClient(baseURL)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return &HTTPProvider{client: client}
}

type userData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type memberData struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	JoinedAt string    `json:"joined_at"`
	IsHost   bool      `json:"is_host"`
	User     *userData `json:"user"`
}

type roomResponse struct {
	Room struct {
		ID      string       `json:"id"`
		Code    string       `json:"code"`
		Name    string       `json:"name"`
		Members []memberData `json:"members"`
	} `json:"room"`
}

type activeRoundResponse struct {
	ActiveRound *events.RoundData `json:"active_round"`
}

type tasksResponse struct {
	Tasks []events.TaskData `json:"tasks"`
}

// FetchSnapshot retrieves room metadata, members and the active round.
func (p *HTTPProvider) FetchSnapshot(ctx context.Context, roomID string) (reconciler.Snapshot, error) {
	var room roomResponse
	if err := p.getJSON(ctx, "/rooms/"+url.PathEscape(roomID), &room); err != nil {
		return reconciler.Snapshot{}, fmt.Errorf("failed to get room: %w", err)
	}

	members := make([]models.Member, 0, len(room.Room.Members))
	for _, m := range room.Room.Members {
		joined, err := models.ParseTime(m.JoinedAt)
		if err != nil {
			return reconciler.Snapshot{}, fmt.Errorf("member %s joined_at: %w", m.UserID, err)
		}
		member := models.Member{UserID: m.UserID, IsHost: m.IsHost, JoinedAt: joined}
		if m.User != nil {
			member.Name = m.User.Name
		}
		members = append(members, member)
	}

	var active activeRoundResponse
	if err := p.getJSON(ctx, "/rooms/"+url.PathEscape(roomID)+"/active-round", &active); err != nil {
		return reconciler.Snapshot{}, fmt.Errorf("failed to get active round: %w", err)
	}

	snap := reconciler.Snapshot{
		Room:    models.Room{ID: room.Room.ID, Name: room.Room.Name, Code: room.Room.Code},
		Members: members,
	}
	if active.ActiveRound != nil {
		round, err := active.ActiveRound.ToModel(roomID)
		if err != nil {
			return reconciler.Snapshot{}, fmt.Errorf("active round: %w", err)
		}
		snap.ActiveRound = &round
	}
	return snap, nil
}

// FetchTasks retrieves every task of a round.
func (p *HTTPProvider) FetchTasks(ctx context.Context, roundID string) ([]models.Task, error) {
	var resp tasksResponse
	if err := p.getJSON(ctx, "/rounds/"+url.PathEscape(roundID)+"/tasks", &resp); err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}

	tasks := make([]models.Task, 0, len(resp.Tasks))
	for i := range resp.Tasks {
		t, err := resp.Tasks[i].ToModel()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, endpoint string, v any) error {
	body, err := p.client.Get(ctx, endpoint)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}
