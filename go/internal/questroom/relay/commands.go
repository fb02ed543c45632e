package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/questroom/go/internal/questroom/events"
)

// handleFrame executes one client frame.
func (s *Server) handleFrame(ctx context.Context, p *Peer, frame []byte) {
	env, err := events.Decode(frame)
	if err != nil {
		log.Warn().Err(err).Str("peer_id", p.ID).Msg("invalid client frame")
		s.replyError(p, "Invalid message")
		return
	}

	log.Debug().
		Str("peer_id", p.ID).
		Str("event", string(env.Event)).
		Str("room_id", env.RoomID).
		Msg("received client command")

	switch {
	case env.Event == events.JoinRoom:
		s.handleJoin(ctx, p, env)
	case env.Event == events.LeaveRoom:
		s.handleLeave(ctx, p)
	case env.Event == events.GetRoomStatus:
		s.handleRoomStatus(p, env)
	case events.IsRelay(env.Event):
		s.handleRelay(ctx, p, env)
	default:
		s.replyError(p, fmt.Sprintf("Unknown event: %s", env.Event))
	}
}

func (s *Server) handleJoin(ctx context.Context, p *Peer, env events.Envelope) {
	var cmd events.JoinRoomCommand
	if err := unmarshal(env, &cmd); err != nil || cmd.UserID == "" || cmd.RoomID == "" {
		s.replyError(p, "Missing user_id or room_id")
		return
	}

	m, err := s.membership.Lookup(ctx, cmd.UserID, cmd.RoomID)
	switch {
	case errors.Is(err, ErrNotMember):
		s.replyError(p, "User is not a member of this room")
		return
	case errors.Is(err, ErrUnknownUserOrRoom):
		s.replyError(p, "Invalid user or room")
		return
	case err != nil:
		log.Error().Err(err).Str("user_id", cmd.UserID).Str("room_id", cmd.RoomID).Msg("membership lookup failed")
		s.replyError(p, "Failed to join room")
		return
	}
	if cmd.UserName != "" && m.UserName == m.UserID {
		m.UserName = cmd.UserName
	}

	if prev, moved := s.hub.Join(p, m); moved {
		s.broadcast(ctx, p, events.MemberLeft, prev.RoomID, events.MemberPayload{
			UserID: prev.UserID, UserName: prev.UserName, SessionID: p.ID,
		}, "")
	}

	s.reply(p, events.RoomJoined, m.RoomID, events.RoomJoinedPayload{
		RoomID:   m.RoomID,
		RoomName: m.RoomName,
		UserID:   m.UserID,
		UserName: m.UserName,
	})
	s.broadcast(ctx, p, events.MemberJoined, m.RoomID, events.MemberPayload{
		UserID:    m.UserID,
		UserName:  m.UserName,
		SessionID: p.ID,
	}, p.ID)
}

func (s *Server) handleLeave(ctx context.Context, p *Peer) {
	m, ok := s.hub.Leave(p)
	if !ok {
		s.replyError(p, "Not in any room")
		return
	}
	s.broadcast(ctx, p, events.MemberLeft, m.RoomID, events.MemberPayload{
		UserID:    m.UserID,
		UserName:  m.UserName,
		SessionID: p.ID,
	}, "")
	s.reply(p, events.RoomLeft, m.RoomID, events.RoomLeftPayload{Message: "Left room successfully"})
}

func (s *Server) handleRoomStatus(p *Peer, env events.Envelope) {
	var cmd events.GetRoomStatusCommand
	if err := unmarshal(env, &cmd); err != nil || cmd.RoomID == "" {
		s.replyError(p, "Missing room_id")
		return
	}
	online := s.hub.Online(cmd.RoomID)
	s.reply(p, events.RoomStatus, cmd.RoomID, events.RoomStatusPayload{
		RoomID:        cmd.RoomID,
		OnlineMembers: online,
		TotalOnline:   len(online),
	})
}

// handleRelay validates a relay command and rebroadcasts it with its human message.
func (s *Server) handleRelay(ctx context.Context, p *Peer, env events.Envelope) {
	var cmd events.RelayCommand
	if err := unmarshal(env, &cmd); err != nil {
		s.replyError(p, "Invalid message")
		return
	}

	var payload any
	switch env.Event {
	case events.RoundStarted:
		if cmd.RoomID == "" || cmd.Round == nil {
			s.replyError(p, "Missing room_id or round data")
			return
		}
		payload = events.RoundStartedPayload{Round: cmd.Round, Message: "A new round has started!"}
	case events.RoundEnded:
		if cmd.RoomID == "" {
			s.replyError(p, "Missing room_id")
			return
		}
		payload = events.RoundEndedPayload{Round: cmd.Round, FinalStats: cmd.FinalStats, Message: "Round has ended!"}
	case events.TaskCreated, events.TaskCompleted, events.TaskApproved, events.TaskFlagged:
		if cmd.RoomID == "" || cmd.Task == nil {
			s.replyError(p, "Missing room_id or task data")
			return
		}
		payload = taskPayload(env.Event, cmd)
	case events.LeaderboardUpdated:
		if cmd.RoomID == "" || cmd.Stats == nil {
			s.replyError(p, "Missing room_id or stats data")
			return
		}
		payload = events.LeaderboardUpdatedPayload{Stats: cmd.Stats, Timestamp: cmd.Timestamp}
	}

	if !s.broadcast(ctx, p, env.Event, cmd.RoomID, payload, "") {
		s.replyError(p, fmt.Sprintf("Failed to broadcast %s", env.Event))
	}
}

func taskPayload(name events.Name, cmd events.RelayCommand) any {
	title := cmd.Task.TitleOr()
	switch name {
	case events.TaskCreated:
		return events.TaskPayload{Task: cmd.Task, Message: "New task created: " + title}
	case events.TaskCompleted:
		return events.TaskPayload{Task: cmd.Task, Message: "Task completed: " + title}
	case events.TaskApproved:
		approved := cmd.Approved != nil && *cmd.Approved
		status := "rejected"
		if approved {
			status = "approved"
		}
		return events.TaskApprovedPayload{
			Task:         cmd.Task,
			Approved:     approved,
			ApproverName: cmd.ApproverName,
			Message:      fmt.Sprintf("Task %s by %s: %s", status, cmd.ApproverName, title),
		}
	default:
		return events.TaskFlaggedPayload{
			Task:        cmd.Task,
			FlaggerName: cmd.FlaggerName,
			Message:     fmt.Sprintf("Task flagged by %s: %s", cmd.FlaggerName, title),
		}
	}
}

// broadcast encodes and fans out an event to roomID. It reports false on failure.
func (s *Server) broadcast(ctx context.Context, from *Peer, name events.Name, roomID string, payload any, exclude string) bool {
	env, err := events.New(name, roomID, payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(name)).Msg("failed to build event")
		return false
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event", string(name)).Msg("failed to marshal event")
		return false
	}

	out := Outbound{EventID: env.ID, Event: name, RoomID: roomID, Frame: frame, ExcludePeer: exclude}
	if err := s.broadcaster.Broadcast(ctx, out); err != nil {
		log.Error().
			Err(err).
			Str("event", string(name)).
			Str("room_id", roomID).
			Str("peer_id", from.ID).
			Msg("broadcast failed")
		return false
	}
	return true
}

func (s *Server) reply(p *Peer, name events.Name, roomID string, payload any) {
	frame, err := events.Encode(name, roomID, payload)
	if err != nil {
		log.Error().Err(err).Str("event", string(name)).Msg("failed to encode reply")
		return
	}
	if !p.Enqueue(frame) {
		log.Warn().Str("peer_id", p.ID).Str("event", string(name)).Msg("dropping reply to closed or slow peer")
	}
}

func (s *Server) replyError(p *Peer, message string) {
	roomID := ""
	if m, ok := s.hub.MemberOf(p); ok {
		roomID = m.RoomID
	}
	s.reply(p, events.Error, roomID, events.ErrorPayload{Message: message})
}

func unmarshal(env events.Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("empty %s payload", env.Event)
	}
	return json.Unmarshal(env.Data, v)
}
