package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

type HealthStatus struct {
	Healthy        bool     `json:"healthy"`
	Peers          int      `json:"peers"`
	Rooms          int      `json:"rooms"`
	NATSConnected  *bool    `json:"nats_connected,omitempty"`
	ListenerActive *bool    `json:"listener_active,omitempty"`
	Errors         []string `json:"errors"`
}

type natsStatus interface {
	Connected() bool
}

type listenerStatus interface {
	Active() bool
}

// HealthChecker reports the relay state. Optional parts are nil when not configured.
type HealthChecker struct {
	hub      *Hub
	nats     natsStatus
	listener listenerStatus
}

func NewHealthChecker(hub *Hub, nats natsStatus, listener listenerStatus) *HealthChecker {
	return &HealthChecker{hub: hub, nats: nats, listener: listener}
}

func (h *HealthChecker) Check(_ context.Context) HealthStatus {
	stats := h.hub.Stats()
	status := HealthStatus{
		Healthy: true,
		Peers:   stats.Peers,
		Rooms:   stats.Rooms,
		Errors:  []string{},
	}

	if h.nats != nil {
		connected := h.nats.Connected()
		status.NATSConnected = &connected
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.listener != nil {
		active := h.listener.Active()
		status.ListenerActive = &active
		if !active {
			status.Healthy = false
			status.Errors = append(status.Errors, "listener not active")
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
