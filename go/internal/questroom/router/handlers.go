package router

import (
	"fmt"

	"github.com/mcdev12/questroom/go/internal/models"
	"github.com/mcdev12/questroom/go/internal/questroom/events"
	"github.com/mcdev12/questroom/go/internal/questroom/leaderboard"
	"github.com/mcdev12/questroom/go/internal/questroom/notify"
	"github.com/mcdev12/questroom/go/internal/questroom/reconciler"
)

func (r *Router) handleRoomJoined(env events.Envelope, payload any) Outcome {
	p := payload.(events.RoomJoinedPayload)
	if err := r.rec.Accepts(p.RoomID); err != nil {
		return Outcome{Err: err}
	}
	change := r.rec.SetRoomName(p.RoomName)
	out := Outcome{ViewChanged: change.Changed}
	if !r.announced {
		r.announced = true
		out.Notice = notice(fmt.Sprintf("Connected to room: %s", or(p.RoomName, p.RoomID)), notify.KindSuccess)
	}
	return out
}

func (r *Router) handleMemberJoined(env events.Envelope, payload any) Outcome {
	if err := r.gate(env); err != nil {
		return Outcome{Err: err}
	}
	p := payload.(events.MemberPayload)
	joinedAt, err := models.ParseTime(p.JoinedAt)
	if err != nil || joinedAt.IsZero() {
		joinedAt = env.Timestamp
	}

	change := r.rec.ApplyMemberJoined(models.Member{
		UserID:   p.UserID,
		Name:     p.UserName,
		IsHost:   p.IsHost,
		JoinedAt: joinedAt,
	})
	out := Outcome{ViewChanged: change.Changed}
	if change.Added {
		out.Notice = notice(fmt.Sprintf("%s joined the room", or(p.UserName, p.UserID)), notify.KindInfo)
	}
	return out
}

func (r *Router) handleMemberLeft(env events.Envelope, payload any) Outcome {
	if err := r.gate(env); err != nil {
		return Outcome{Err: err}
	}
	p := payload.(events.MemberPayload)

	change := r.rec.ApplyMemberLeft(p.UserID)
	out := Outcome{ViewChanged: change.Changed}
	if change.Removed {
		name := p.UserName
		if name == "" && change.Member != nil {
			name = change.Member.Name
		}
		out.Notice = notice(fmt.Sprintf("%s left the room", or(name, p.UserID)), notify.KindInfo)
	}
	return out
}

func (r *Router) handleRoundStarted(env events.Envelope, payload any) Outcome {
	if err := r.gate(env); err != nil {
		return Outcome{Err: err}
	}
	p := payload.(events.RoundStartedPayload)
	round, err := p.Round.ToModel(r.rec.Identity().RoomID)
	if err != nil {
		return Outcome{Err: err}
	}

	change := r.rec.ApplyRoundStarted(round)
	out := Outcome{ViewChanged: change.Changed, TasksChanged: change.Changed}
	if change.Changed {
		out.Notice = notice(or(p.Message, "A new round has started!"), notify.KindSuccess)
	}
	return out
}

func (r *Router) handleRoundEnded(env events.Envelope, payload any) Outcome {
	if err := r.gate(env); err != nil {
		return Outcome{Err: err}
	}
	p := payload.(events.RoundEndedPayload)
	roundID := ""
	if p.Round != nil {
		roundID = p.Round.ID
	}

	change := r.rec.ApplyRoundEnded(roundID)
	out := Outcome{ViewChanged: change.Changed}
	if change.Changed {
		out.Notice = notice(or(p.Message, "Round has ended!"), notify.KindInfo)
		if p.FinalStats != nil {
			out.Leaderboard = factsFromStats(p.FinalStats)
			out.HasLeaderboard = true
		}
	}
	return out
}

func (r *Router) handleTask(env events.Envelope, payload any) Outcome {
	p := payload.(events.TaskPayload)
	kind, verb, level := reconciler.TaskEventCreated, "New task created", notify.KindInfo
	if env.Event == events.TaskCompleted {
		kind, verb, level = reconciler.TaskEventCompleted, "Task completed", notify.KindSuccess
	}
	return r.applyTask(env, kind, p.Task, nil, func() *Notice {
		return notice(or(p.Message, fmt.Sprintf("%s: %s", verb, p.Task.TitleOr())), level)
	})
}

func (r *Router) handleTaskApproved(env events.Envelope, payload any) Outcome {
	p := payload.(events.TaskApprovedPayload)
	approval := models.ApprovalRejected
	if p.Approved {
		approval = models.ApprovalApproved
	}
	return r.applyTask(env, reconciler.TaskEventApproved, p.Task, &approval, func() *Notice {
		status, level := "rejected", notify.KindWarning
		if p.Approved {
			status, level = "approved", notify.KindSuccess
		}
		msg := or(p.Message, fmt.Sprintf("Task %s by %s: %s", status, or(p.ApproverName, "someone"), p.Task.TitleOr()))
		return notice(msg, level)
	})
}

func (r *Router) handleTaskFlagged(env events.Envelope, payload any) Outcome {
	p := payload.(events.TaskFlaggedPayload)
	return r.applyTask(env, reconciler.TaskEventFlagged, p.Task, nil, func() *Notice {
		msg := or(p.Message, fmt.Sprintf("Task flagged by %s: %s", or(p.FlaggerName, "someone"), p.Task.TitleOr()))
		return notice(msg, notify.KindWarning)
	})
}

// applyTask converts the wire task, merges it and emits the notice only on a real change.
func (r *Router) applyTask(env events.Envelope, kind reconciler.TaskEventKind, data *events.TaskData, approval *models.Approval, msg func() *Notice) Outcome {
	if err := r.gate(env); err != nil {
		return Outcome{Err: err}
	}
	task, err := data.ToModel()
	if err != nil {
		return Outcome{Err: err}
	}
	if approval != nil {
		task.Approval = *approval
	}

	change := r.rec.ApplyTaskEvent(kind, reconciler.TaskUpdate{
		Task:      task,
		HasPoints: data.Points != nil,
		HasProof:  data.HasProof(),
		HasFlags:  data.FlaggedCount != nil,
	})
	out := Outcome{TasksChanged: change.Changed}
	if change.Changed {
		out.Notice = msg()
	}
	return out
}

func (r *Router) handleLeaderboard(env events.Envelope, payload any) Outcome {
	p := payload.(events.LeaderboardUpdatedPayload)
	return Outcome{
		Leaderboard:    factsFromStats(p.Stats),
		HasLeaderboard: true,
	}
}

func (r *Router) handleRoomStatus(env events.Envelope, payload any) Outcome {
	p := payload.(events.RoomStatusPayload)
	if err := r.rec.Accepts(p.RoomID); err != nil {
		return Outcome{Err: err}
	}
	if err := r.gate(env); err != nil {
		return Outcome{Err: err}
	}
	online := make([]string, 0, len(p.OnlineMembers))
	for _, m := range p.OnlineMembers {
		online = append(online, m.UserID)
	}
	change := r.rec.ApplyRoomStatus(online)
	return Outcome{ViewChanged: change.Changed}
}

func (r *Router) handleError(env events.Envelope, payload any) Outcome {
	p := payload.(events.ErrorPayload)
	msg := or(p.Message, "Connection error")
	return Outcome{
		Notice: notice(msg, notify.KindError),
		Err:    &models.ApplicationError{Message: msg},
	}
}

func factsFromStats(report *events.StatsReport) []leaderboard.Facts {
	if report == nil {
		return nil
	}
	facts := make([]leaderboard.Facts, 0, len(report.Leaderboard))
	for _, e := range report.Leaderboard {
		f := leaderboard.Facts{
			UserID:        e.UserID,
			Name:          e.UserName,
			Score:         e.Score(),
			TasksApproved: e.TaskCount,
		}
		if e.CompletedCount != nil {
			f.TasksCompleted = *e.CompletedCount
		} else {
			f.TasksCompleted = e.TaskCount
		}
		if e.Streak != nil {
			f.Streak = *e.Streak
		}
		facts = append(facts, f)
	}
	return facts
}
