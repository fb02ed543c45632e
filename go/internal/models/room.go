package models

import (
	"time"
)

// Identity scopes a session to one user visiting one room.
type Identity struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

// Room holds the static room metadata.
type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// Member is a room participant. Online reflects the last room_status and may be stale.
type Member struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	IsHost   bool      `json:"is_host"`
	Online   bool      `json:"online"`
	JoinedAt time.Time `json:"joined_at"`
}

// Connectivity is the channel state as seen by the room view.
type Connectivity string

const (
	ConnectivityConnected    Connectivity = "CONNECTED"
	ConnectivityDisconnected Connectivity = "DISCONNECTED"
	ConnectivityReconnecting Connectivity = "RECONNECTING"
	ConnectivityError        Connectivity = "ERROR"
)

// RoomView is an immutable copy of the reconciled room state.
type RoomView struct {
	Room         Room         `json:"room"`
	Members      []Member     `json:"members"`
	ActiveRound  *Round       `json:"active_round,omitempty"`
	Connectivity Connectivity `json:"connectivity"`
	Loading      bool         `json:"loading"`
}

// Host returns the current host, if any.
func (v RoomView) Host() (Member, bool) {
	for _, m := range v.Members {
		if m.IsHost {
			return m, true
		}
	}
	return Member{}, false
}

// MemberIDs returns user ids in render order.
func (v RoomView) MemberIDs() []string {
	ids := make([]string, 0, len(v.Members))
	for _, m := range v.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}
