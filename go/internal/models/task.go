package models

import "time"

// Approval is the peer-review state of a task.
type Approval string

const (
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
	ApprovalRejected Approval = "rejected"
)

// Terminal reports whether the approval has been decided.
func (a Approval) Terminal() bool {
	return a == ApprovalApproved || a == ApprovalRejected
}

// ApprovalFromFlag maps the wire form (null, true, false) to an Approval.
func ApprovalFromFlag(approved *bool) Approval {
	switch {
	case approved == nil:
		return ApprovalPending
	case *approved:
		return ApprovalApproved
	default:
		return ApprovalRejected
	}
}

// TemplateType is the kind of goal a task tracks.
type TemplateType string

const (
	TemplateTimeBoxed    TemplateType = "time-boxed"
	TemplateQuantitative TemplateType = "quantitative"
	TemplateMilestone    TemplateType = "milestone"
	TemplateQualitative  TemplateType = "qualitative"
)

// Proof is the evidence attached to a task.
type Proof struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Task is a user-submitted goal inside a round.
type Task struct {
	ID          string       `json:"id"`
	RoundID     string       `json:"round_id"`
	CreatorID   string       `json:"creator_id"`
	Template    TemplateType `json:"template"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Target      int          `json:"target"`
	TargetUnit  string       `json:"target_unit"`
	Points      int          `json:"points"`
	Proof       *Proof       `json:"proof,omitempty"`
	Approval    Approval     `json:"approval"`
	Flags       int          `json:"flags"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so callers never share the proof pointer.
func (t Task) Clone() Task {
	c := t
	if t.Proof != nil {
		p := *t.Proof
		c.Proof = &p
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// Completed reports whether proof has been submitted.
func (t Task) Completed() bool {
	return t.Proof != nil || t.CompletedAt != nil
}

// Equal compares two tasks field by field.
func (t Task) Equal(o Task) bool {
	if t.ID != o.ID || t.RoundID != o.RoundID || t.CreatorID != o.CreatorID ||
		t.Template != o.Template || t.Title != o.Title || t.Description != o.Description ||
		t.Target != o.Target || t.TargetUnit != o.TargetUnit || t.Points != o.Points ||
		t.Approval != o.Approval || t.Flags != o.Flags || !t.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if (t.Proof == nil) != (o.Proof == nil) {
		return false
	}
	if t.Proof != nil && *t.Proof != *o.Proof {
		return false
	}
	if (t.CompletedAt == nil) != (o.CompletedAt == nil) {
		return false
	}
	return t.CompletedAt == nil || t.CompletedAt.Equal(*o.CompletedAt)
}
