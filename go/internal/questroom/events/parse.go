package events

import (
	"encoding/json"

	"github.com/mcdev12/questroom/go/internal/models"
)

// ParsePayload parses event data into the appropriate payload struct and checks
// required fields. Failures wrap models.ErrMalformedEvent. Unknown names return (nil, nil).
func ParsePayload(env Envelope) (any, error) {
	switch env.Event {
	case RoomJoined:
		var payload RoomJoinedPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		if payload.RoomID == "" || payload.UserID == "" {
			return nil, models.Malformed("room_joined without room_id or user_id")
		}
		return payload, nil

	case MemberJoined, MemberLeft:
		var payload MemberPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		if payload.UserID == "" {
			return nil, models.Malformed("%s without user_id", env.Event)
		}
		return payload, nil

	case RoundStarted:
		var payload RoundStartedPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		if payload.Round == nil || payload.Round.ID == "" {
			return nil, models.Malformed("round_started without round")
		}
		return payload, nil

	case RoundEnded:
		var payload RoundEndedPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case TaskCreated, TaskCompleted:
		var payload TaskPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		if payload.Task == nil || payload.Task.ID == "" {
			return nil, models.Malformed("%s without task id", env.Event)
		}
		return payload, nil

	case TaskApproved:
		var payload TaskApprovedPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		if payload.Task == nil || payload.Task.ID == "" {
			return nil, models.Malformed("task_approved without task id")
		}
		return payload, nil

	case TaskFlagged:
		var payload TaskFlaggedPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		if payload.Task == nil || payload.Task.ID == "" {
			return nil, models.Malformed("task_flagged without task id")
		}
		return payload, nil

	case LeaderboardUpdated:
		var payload LeaderboardUpdatedPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		if payload.Stats == nil {
			return nil, models.Malformed("leaderboard_updated without stats")
		}
		for _, e := range payload.Stats.Leaderboard {
			if e.UserID == "" {
				return nil, models.Malformed("leaderboard entry without user_id")
			}
		}
		return payload, nil

	case RoomStatus:
		var payload RoomStatusPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case Error:
		var payload ErrorPayload
		if err := decode(env, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, nil // Unknown event type
	}
}

func decode(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return models.Malformed("%s without data", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return models.Malformed("%s: %v", env.Event, err)
	}
	return nil
}
