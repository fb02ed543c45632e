package leaderboard

import (
	"sort"

	"github.com/mcdev12/questroom/go/internal/models"
)

// Estimate derives per-creator facts from the task collection of a round.
// Score is the sum of approved task points. Streak counts the most recent
// consecutive approvals, ordered by creation time.
func Estimate(tasks []models.Task) map[string]Facts {
	byCreator := make(map[string][]models.Task)
	for _, t := range tasks {
		if t.CreatorID == "" {
			continue
		}
		byCreator[t.CreatorID] = append(byCreator[t.CreatorID], t)
	}

	out := make(map[string]Facts, len(byCreator))
	for creator, list := range byCreator {
		f := Facts{UserID: creator}
		for _, t := range list {
			if t.Completed() {
				f.TasksCompleted++
			}
			if t.Approval == models.ApprovalApproved {
				f.TasksApproved++
				f.Score += t.Points
			}
		}
		f.Streak = streak(list)
		out[creator] = f
	}
	return out
}

func streak(tasks []models.Task) int {
	decided := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Approval.Terminal() {
			decided = append(decided, t)
		}
	}
	sort.Slice(decided, func(i, j int) bool {
		if !decided[i].CreatedAt.Equal(decided[j].CreatedAt) {
			return decided[i].CreatedAt.Before(decided[j].CreatedAt)
		}
		return decided[i].ID < decided[j].ID
	})

	n := 0
	for i := len(decided) - 1; i >= 0; i-- {
		if decided[i].Approval != models.ApprovalApproved {
			break
		}
		n++
	}
	return n
}
