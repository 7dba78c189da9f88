package entity

import (
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

// Report is the workflow-relevant slice of an early-warning report.
// Report content lives elsewhere; the engine only drives its status.
type Report struct {
	ID              int64        `json:"id"`
	Title           string       `json:"title"`
	Status          ReportStatus `json:"status"`
	RejectionReason *string      `json:"rejection_reason,omitempty"`
	CreatedBy       string       `json:"created_by"`
	SubmittedAt     *time.Time   `json:"submitted_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsOwnedBy reports whether userID created the report
func (r *Report) IsOwnedBy(userID string) bool {
	return r.CreatedBy == userID
}

// ApprovalRecord is the decision slot for one (report, step) pair
type ApprovalRecord struct {
	ID         int64         `json:"id"`
	ReportID   int64         `json:"report_id"`
	Step       ladder.Step   `json:"step"`
	State      ApprovalState `json:"state"`
	AssignedTo string        `json:"assigned_to"`
	AssignedAt *time.Time    `json:"assigned_at,omitempty"`
	DecidedBy  string        `json:"decided_by,omitempty"`
	DecidedAt  *time.Time    `json:"decided_at,omitempty"`
	Version    int64         `json:"version"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// IsPending reports whether the record still awaits a decision
func (a *ApprovalRecord) IsPending() bool {
	return a.State == ApprovalStatePending
}

// StepProgress is one row of a report's progress view
type StepProgress struct {
	Step       ladder.Step `json:"step"`
	Label      string      `json:"label"`
	Position   int         `json:"position"`
	State      string      `json:"state"`
	AssignedTo string      `json:"assigned_to,omitempty"`
	AssignedAt *time.Time  `json:"assigned_at,omitempty"`
	DecidedAt  *time.Time  `json:"decided_at,omitempty"`
	IsCurrent  bool        `json:"is_current"`
}

// PendingApproval is an inbox row for an approver
type PendingApproval struct {
	Record      ApprovalRecord `json:"record"`
	ReportTitle string         `json:"report_title"`
	ReportOwner string         `json:"report_owner"`
	Status      ReportStatus   `json:"status"`
	SubmittedAt *time.Time     `json:"submitted_at,omitempty"`
}
