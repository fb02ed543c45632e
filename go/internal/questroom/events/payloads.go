package events

import (
	"bytes"
	"encoding/json"
	"math"
	"time"

	"github.com/mcdev12/questroom/go/internal/models"
)

// RoomJoinedPayload is sent to the joining connection only.
type RoomJoinedPayload struct {
	RoomID   string `json:"room_id"`
	RoomName string `json:"room_name"`
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

// MemberPayload is the payload for member_joined and member_left.
type MemberPayload struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IsHost    bool   `json:"is_host,omitempty"`
	JoinedAt  string `json:"joined_at,omitempty"`
}

// RoundData is the wire form of a round.
type RoundData struct {
	ID      string `json:"id"`
	RoomID  string `json:"room_id"`
	StartAt string `json:"start_at"`
	EndAt   string `json:"end_at"`
	Stakes  string `json:"stakes,omitempty"`
	Status  string `json:"status,omitempty"`
}

// RoundStartedPayload is the payload for a round_started event
type RoundStartedPayload struct {
	Round   *RoundData `json:"round"`
	Message string     `json:"message,omitempty"`
}

// RoundEndedPayload is the payload for a round_ended event
type RoundEndedPayload struct {
	Round      *RoundData   `json:"round,omitempty"`
	FinalStats *StatsReport `json:"final_stats,omitempty"`
	Message    string       `json:"message,omitempty"`
}

// TaskData is the wire form of a task. Optional fields are pointers so an omitted
// field can be told apart from a zero value.
type TaskData struct {
	ID                   string   `json:"id"`
	RoundID              string   `json:"round_id"`
	CreatorID            string   `json:"creator_id"`
	Template             string   `json:"template,omitempty"`
	Title                string   `json:"title"`
	Description          string   `json:"description,omitempty"`
	Target               int      `json:"target,omitempty"`
	TargetUnit           string   `json:"target_unit,omitempty"`
	ProofURL             *string  `json:"proof_url,omitempty"`
	ProofType            *string  `json:"proof_type,omitempty"`
	Approved             *bool    `json:"approved"`
	Points               *int     `json:"points,omitempty"`
	DifficultyMultiplier *float64 `json:"difficulty_multiplier,omitempty"`
	FlaggedCount         *int     `json:"flagged_count,omitempty"`
	CreatedAt            string   `json:"created_at,omitempty"`
	CompletedAt          *string  `json:"completed_at,omitempty"`
}

// TaskPayload is the payload for task_created and task_completed.
type TaskPayload struct {
	Task    *TaskData `json:"task"`
	Message string    `json:"message,omitempty"`
}

// TaskApprovedPayload is the payload for a task_approved event
type TaskApprovedPayload struct {
	Task         *TaskData `json:"task"`
	Approved     bool      `json:"approved"`
	ApproverName string    `json:"approver_name,omitempty"`
	Message      string    `json:"message,omitempty"`
}

// TaskFlaggedPayload is the payload for a task_flagged event
type TaskFlaggedPayload struct {
	Task        *TaskData `json:"task"`
	FlaggerName string    `json:"flagger_name,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// StatsEntry is one row of the round stats.
type StatsEntry struct {
	UserID         string  `json:"user_id"`
	UserName       string  `json:"user_name"`
	TotalPoints    float64 `json:"total_points"`
	TaskCount      int     `json:"task_count"`
	CompletedCount *int    `json:"completed_count,omitempty"`
	Streak         *int    `json:"streak,omitempty"`
	Rank           int     `json:"rank,omitempty"`
}

// Score rounds the weighted point total to whole points.
func (s StatsEntry) Score() int {
	return int(math.Round(s.TotalPoints))
}

// StatsReport is the round stats document. It decodes from either the full
// {"leaderboard": [...]} object or a bare array of entries.
type StatsReport struct {
	Leaderboard        []StatsEntry `json:"leaderboard"`
	TotalTasks         int          `json:"total_tasks,omitempty"`
	TotalPointsAwarded float64      `json:"total_points_awarded,omitempty"`
}

func (r *StatsReport) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []StatsEntry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return err
		}
		r.Leaderboard = entries
		return nil
	}
	type plain StatsReport
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*r = StatsReport(p)
	return nil
}

// LeaderboardUpdatedPayload is the payload for a leaderboard_updated event
type LeaderboardUpdatedPayload struct {
	Stats     *StatsReport `json:"stats"`
	Timestamp string       `json:"timestamp,omitempty"`
}

// OnlineMember is one connected member in a room_status reply.
type OnlineMember struct {
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	SessionID string `json:"session_id"`
}

// RoomStatusPayload is the payload for a room_status event
type RoomStatusPayload struct {
	RoomID        string         `json:"room_id"`
	OnlineMembers []OnlineMember `json:"online_members"`
	TotalOnline   int            `json:"total_online"`
}

// ErrorPayload is the payload for an error event
type ErrorPayload struct {
	Message string `json:"message"`
}

// JoinRoomCommand announces membership on the channel.
type JoinRoomCommand struct {
	UserID   string `json:"user_id"`
	RoomID   string `json:"room_id"`
	UserName string `json:"user_name,omitempty"`
}

// RoomLeftPayload acknowledges leave_room to the leaving connection.
type RoomLeftPayload struct {
	Message string `json:"message"`
}

// GetRoomStatusCommand asks for the online members of a room.
type GetRoomStatusCommand struct {
	RoomID string `json:"room_id"`
}

// RelayCommand asks the server to rebroadcast an entity to the room.
type RelayCommand struct {
	RoomID       string       `json:"room_id"`
	Round        *RoundData   `json:"round,omitempty"`
	FinalStats   *StatsReport `json:"final_stats,omitempty"`
	Task         *TaskData    `json:"task,omitempty"`
	Approved     *bool        `json:"approved,omitempty"`
	ApproverName string       `json:"approver_name,omitempty"`
	FlaggerName  string       `json:"flagger_name,omitempty"`
	Stats        *StatsReport `json:"stats,omitempty"`
	Timestamp    string       `json:"timestamp,omitempty"`
}

// ToModel converts the wire round, filling the room id when the payload omits it.
func (r *RoundData) ToModel(roomID string) (models.Round, error) {
	if r == nil || r.ID == "" {
		return models.Round{}, models.Malformed("round without id")
	}
	start, err := models.ParseTime(r.StartAt)
	if err != nil {
		return models.Round{}, models.Malformed("round start_at: %v", err)
	}
	end, err := models.ParseTime(r.EndAt)
	if err != nil {
		return models.Round{}, models.Malformed("round end_at: %v", err)
	}
	status := models.RoundStatusActive
	if r.Status != "" && r.Status != string(models.RoundStatusActive) {
		status = models.RoundStatusEnded
	}
	room := r.RoomID
	if room == "" {
		room = roomID
	}
	return models.Round{
		ID:      r.ID,
		RoomID:  room,
		StartAt: start,
		EndAt:   end,
		Stakes:  r.Stakes,
		Status:  status,
	}, nil
}

// RoundDataFrom is the inverse of ToModel.
func RoundDataFrom(r models.Round) *RoundData {
	return &RoundData{
		ID:      r.ID,
		RoomID:  r.RoomID,
		StartAt: r.StartAt.UTC().Format(time.RFC3339Nano),
		EndAt:   r.EndAt.UTC().Format(time.RFC3339Nano),
		Stakes:  r.Stakes,
		Status:  string(r.Status),
	}
}

// ToModel converts the wire task. Omitted optional fields are left at their zero value;
// use the Has* helpers to tell them apart.
func (t *TaskData) ToModel() (models.Task, error) {
	if t == nil || t.ID == "" {
		return models.Task{}, models.Malformed("task without id")
	}
	created, err := models.ParseTime(t.CreatedAt)
	if err != nil {
		return models.Task{}, models.Malformed("task created_at: %v", err)
	}
	task := models.Task{
		ID:          t.ID,
		RoundID:     t.RoundID,
		CreatorID:   t.CreatorID,
		Template:    models.TemplateType(t.Template),
		Title:       t.Title,
		Description: t.Description,
		Target:      t.Target,
		TargetUnit:  t.TargetUnit,
		Approval:    models.ApprovalFromFlag(t.Approved),
		CreatedAt:   created,
	}
	if t.Points != nil {
		task.Points = weightedPoints(*t.Points, t.DifficultyMultiplier)
	}
	if t.HasProof() {
		task.Proof = &models.Proof{Type: deref(t.ProofType), Content: deref(t.ProofURL)}
	}
	if t.FlaggedCount != nil {
		task.Flags = *t.FlaggedCount
	}
	if t.CompletedAt != nil && *t.CompletedAt != "" {
		done, err := models.ParseTime(*t.CompletedAt)
		if err != nil {
			return models.Task{}, models.Malformed("task completed_at: %v", err)
		}
		task.CompletedAt = &done
	}
	return task, nil
}

// HasProof reports whether the payload carries proof data.
func (t *TaskData) HasProof() bool {
	return t.ProofURL != nil && *t.ProofURL != ""
}

// TaskDataFrom is the inverse of ToModel.
func TaskDataFrom(t models.Task) *TaskData {
	d := &TaskData{
		ID:           t.ID,
		RoundID:      t.RoundID,
		CreatorID:    t.CreatorID,
		Template:     string(t.Template),
		Title:        t.Title,
		Description:  t.Description,
		Target:       t.Target,
		TargetUnit:   t.TargetUnit,
		Points:       &t.Points,
		FlaggedCount: &t.Flags,
		CreatedAt:    t.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	switch t.Approval {
	case models.ApprovalApproved:
		v := true
		d.Approved = &v
	case models.ApprovalRejected:
		v := false
		d.Approved = &v
	}
	if t.Proof != nil {
		url, kind := t.Proof.Content, t.Proof.Type
		d.ProofURL, d.ProofType = &url, &kind
	}
	return d
}

// TitleOr returns the task title or the fallback used in broadcast messages.
func (t *TaskData) TitleOr() string {
	if t == nil || t.Title == "" {
		return "Untitled"
	}
	return t.Title
}

func weightedPoints(points int, multiplier *float64) int {
	if multiplier == nil || *multiplier == 0 {
		return points
	}
	return int(math.Round(float64(points) * *multiplier))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
