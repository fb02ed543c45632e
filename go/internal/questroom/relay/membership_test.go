package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = r.values[i].(string)
		case *bool:
			*v = r.values[i].(bool)
		}
	}
	return nil
}

type fakeQuerier struct {
	row  fakeRow
	args []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.args = args
	return q.row
}

func TestPGMembership_Lookup(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{values: []any{"Alice", "Morning Crew", true}}}

	m, err := NewPGMembership(q).Lookup(context.Background(), "alice", "room-1")
	require.NoError(t, err)
	assert.Equal(t, Member{UserID: "alice", UserName: "Alice", RoomID: "room-1", RoomName: "Morning Crew"}, m)
	assert.Equal(t, []any{"alice", "room-1"}, q.args)
}

func TestPGMembership_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewPGMembership(&fakeQuerier{row: fakeRow{values: []any{"Alice", "Crew", false}}}).Lookup(ctx, "alice", "room-1")
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = NewPGMembership(&fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}).Lookup(ctx, "ghost", "room-1")
	assert.ErrorIs(t, err, ErrUnknownUserOrRoom)

	boom := errors.New("connection reset")
	_, err = NewPGMembership(&fakeQuerier{row: fakeRow{err: boom}}).Lookup(ctx, "alice", "room-1")
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "lookup membership")
}
