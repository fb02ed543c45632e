package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotMember is returned when the user exists but is not in the room.
	ErrNotMember = errors.New("user is not a member of this room")
	// ErrUnknownUserOrRoom is returned when either id does not resolve.
	ErrUnknownUserOrRoom = errors.New("invalid user or room")

	errBroadcastFull = errors.New("broadcast channel full")
)

// Membership verifies join_room requests and resolves display names.
type Membership interface {
	Lookup(ctx context.Context, userID, roomID string) (Member, error)
}

// AllowAll admits every join. The user name falls back to the id.
type AllowAll struct{}

func (AllowAll) Lookup(_ context.Context, userID, roomID string) (Member, error) {
	return Member{UserID: userID, UserName: userID, RoomID: roomID}, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGMembership reads room_member rows. *pgxpool.Pool satisfies querier.
type PGMembership struct {
	db querier
}

func NewPGMembership(db querier) *PGMembership {
	return &PGMembership{db: db}
}

const lookupMemberSQL = `
SELECT u.name, r.name, EXISTS (
	SELECT 1 FROM room_member m WHERE m.user_id = u.id AND m.room_id = r.id
)
FROM "user" u, room r
WHERE u.id = $1 AND r.id = $2`

func (s *PGMembership) Lookup(ctx context.Context, userID, roomID string) (Member, error) {
	var (
		userName, roomName string
		isMember           bool
	)
	err := s.db.QueryRow(ctx, lookupMemberSQL, userID, roomID).Scan(&userName, &roomName, &isMember)
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, ErrUnknownUserOrRoom
	}
	if err != nil {
		return Member{}, fmt.Errorf("lookup membership: %w", err)
	}
	if !isMember {
		return Member{}, ErrNotMember
	}
	return Member{UserID: userID, UserName: userName, RoomID: roomID, RoomName: roomName}, nil
}
