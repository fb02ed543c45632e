package gateway

import (
	"context"

	"github.com/mcdev12/questroom/go/internal/models"
)

// Conn is one established channel. Close must unblock a pending Read.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, frame []byte) error
	Close() error
}

// Transport opens channels using one framing strategy.
type Transport interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// Status is the externally observable connection state. Reason is set for StateError
// and for the failure that started a reconnect.
type Status struct {
	State  State
	Reason string
}

// Connectivity maps the status onto the room view.
func (s Status) Connectivity() models.Connectivity {
	switch s.State {
	case StateConnected:
		return models.ConnectivityConnected
	case StateReconnecting:
		return models.ConnectivityReconnecting
	case StateError:
		return models.ConnectivityError
	default:
		return models.ConnectivityDisconnected
	}
}
