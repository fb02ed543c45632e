package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flag bool

func (f flag) Connected() bool { return bool(f) }
func (f flag) Active() bool    { return bool(f) }

func TestHealthChecker(t *testing.T) {
	hub := NewHub()
	hub.Register(testPeer(1))

	rec := httptest.NewRecorder()
	NewHealthChecker(hub, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.Equal(t, 1, status.Peers)
	assert.Nil(t, status.NATSConnected)

	rec = httptest.NewRecorder()
	NewHealthChecker(hub, flag(false), flag(true)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, []string{"NATS disconnected"}, status.Errors)
	require.NotNil(t, status.ListenerActive)
	assert.True(t, *status.ListenerActive)
}
