package models

import "time"

// RoundStatus defines the lifecycle state of a round.
type RoundStatus string

const (
	RoundStatusActive RoundStatus = "active"
	RoundStatusEnded  RoundStatus = "ended"
)

// Round is a time-boxed competitive window within a room.
type Round struct {
	ID      string      `json:"id"`
	RoomID  string      `json:"room_id"`
	StartAt time.Time   `json:"start_at"`
	EndAt   time.Time   `json:"end_at"`
	Stakes  string      `json:"stakes,omitempty"`
	Status  RoundStatus `json:"status"`
}

// Remaining is derived on every call, never stored.
func (r Round) Remaining(now time.Time) time.Duration {
	if r.EndAt.IsZero() {
		return 0
	}
	d := r.EndAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
