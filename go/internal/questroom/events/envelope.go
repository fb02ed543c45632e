package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the frame carried on the realtime channel in both directions.
type Envelope struct {
	ID        string          `json:"id"`        // Event UUID
	Event     Name            `json:"event"`     // Event name
	RoomID    string          `json:"room_id"`   // Room scope, empty for session-level events
	Timestamp time.Time       `json:"timestamp"` // Creation time at the sender
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// Name identifies an event or command.
type Name string

// Server to client events.
const (
	RoomJoined         Name = "room_joined"
	RoomLeft           Name = "room_left"
	MemberJoined       Name = "member_joined"
	MemberLeft         Name = "member_left"
	RoundStarted       Name = "round_started"
	RoundEnded         Name = "round_ended"
	TaskCreated        Name = "task_created"
	TaskCompleted      Name = "task_completed"
	TaskApproved       Name = "task_approved"
	TaskFlagged        Name = "task_flagged"
	LeaderboardUpdated Name = "leaderboard_updated"
	RoomStatus         Name = "room_status"
	Error              Name = "error"
)

// Client to server commands. Relay commands reuse the event names above.
const (
	JoinRoom      Name = "join_room"
	LeaveRoom     Name = "leave_room"
	GetRoomStatus Name = "get_room_status"
)

var inbound = map[Name]bool{
	RoomJoined:         true,
	MemberJoined:       true,
	MemberLeft:         true,
	RoundStarted:       true,
	RoundEnded:         true,
	TaskCreated:        true,
	TaskCompleted:      true,
	TaskApproved:       true,
	TaskFlagged:        true,
	LeaderboardUpdated: true,
	RoomStatus:         true,
	Error:              true,
}

// IsInbound reports whether name belongs to the closed set of events a room session handles.
func IsInbound(name Name) bool {
	return inbound[name]
}

// IsRelay reports whether name is a command the server rebroadcasts to the room.
func IsRelay(name Name) bool {
	switch name {
	case RoundStarted, RoundEnded, TaskCreated, TaskCompleted, TaskApproved, TaskFlagged, LeaderboardUpdated:
		return true
	}
	return false
}

// New builds an envelope with a fresh id around payload.
func New(name Name, roomID string, payload any) (Envelope, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
		}
		data = b
	}
	return Envelope{
		ID:        uuid.New().String(),
		Event:     name,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Encode marshals an envelope for the wire.
func Encode(name Name, roomID string, payload any) ([]byte, error) {
	env, err := New(name, roomID, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses a wire frame.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope without event name")
	}
	return env, nil
}
