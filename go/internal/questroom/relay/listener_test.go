package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/questroom/go/internal/questroom/events"
)

type recordingBroadcaster struct {
	out []Outbound
	err error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, out Outbound) error {
	if b.err != nil {
		return b.err
	}
	b.out = append(b.out, out)
	return nil
}

func TestListener_HandleNotification(t *testing.T) {
	b := &recordingBroadcaster{}
	l := &Listener{broadcaster: b, cfg: DefaultListenerConfig()}

	frame, err := events.Encode(events.TaskApproved, "room-1", events.TaskApprovedPayload{
		Task:     &events.TaskData{ID: "t1", Title: "Run"},
		Approved: true,
	})
	require.NoError(t, err)

	require.NoError(t, l.handleNotification(context.Background(), string(frame)))
	require.Len(t, b.out, 1)
	assert.Equal(t, "room-1", b.out[0].RoomID)
	assert.Equal(t, events.TaskApproved, b.out[0].Event)
	assert.Equal(t, frame, b.out[0].Frame)
	assert.NotEmpty(t, b.out[0].EventID)
}

func TestListener_RejectsInvalidNotifications(t *testing.T) {
	b := &recordingBroadcaster{}
	l := &Listener{broadcaster: b, cfg: DefaultListenerConfig()}
	ctx := context.Background()

	assert.ErrorContains(t, l.handleNotification(ctx, "not json"), "invalid notification payload")

	cmd, err := events.Encode(events.JoinRoom, "room-1", events.JoinRoomCommand{UserID: "a", RoomID: "room-1"})
	require.NoError(t, err)
	assert.ErrorContains(t, l.handleNotification(ctx, string(cmd)), "not a room event")

	noRoom, err := events.Encode(events.RoundEnded, "", events.RoundEndedPayload{})
	require.NoError(t, err)
	assert.Error(t, l.handleNotification(ctx, string(noRoom)))
	assert.Empty(t, b.out)

	b.err = errors.New("nats down")
	ok, err := events.Encode(events.RoundEnded, "room-1", events.RoundEndedPayload{})
	require.NoError(t, err)
	assert.ErrorContains(t, l.handleNotification(ctx, string(ok)), "nats down")
}
