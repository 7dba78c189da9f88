package workflow

import (
	"context"

	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

// Engine drives reports through the approval ladder. Every state-changing
// operation runs in one transaction and emits at most one event after commit.
type Engine interface {
	// CreateDraft registers a new report in DRAFT owned by owner
	CreateDraft(ctx context.Context, title, owner string) (*entity.Report, error)

	// Submit moves a DRAFT, REJECTED or REVISION_REQUIRED report into review
	Submit(ctx context.Context, reportID int64, actor entity.Actor) (*Result, error)

	// Approve records the actor's approval of the pending step and advances the ladder
	Approve(ctx context.Context, reportID int64, actor entity.Actor, comment string) (*Result, error)

	// Reject ends the review with a mandatory reason
	Reject(ctx context.Context, reportID int64, actor entity.Actor, comment string) (*Result, error)

	// RequestRevision sends the report back to its owner and resets the ladder
	RequestRevision(ctx context.Context, reportID int64, actor entity.Actor, comment string) (*Result, error)

	// Override approves the report immediately, skipping remaining steps
	Override(ctx context.Context, reportID int64, actor entity.Actor, comment string) (*Result, error)

	// Reassign moves the pending step to another user
	Reassign(ctx context.Context, reportID int64, actor entity.Actor, step ladder.Step, target, comment string) (*Result, error)

	// Withdraw pulls a report back to DRAFT
	Withdraw(ctx context.Context, reportID int64, actor entity.Actor) (*Result, error)

	// Snapshot returns report, records and history read in one transaction
	Snapshot(ctx context.Context, reportID int64) (*Snapshot, error)

	// CurrentStep returns the pending step, ok is false when none is pending
	CurrentStep(ctx context.Context, reportID int64) (step ladder.Step, ok bool, err error)

	// Progress returns one entry per ladder step in ladder order
	Progress(ctx context.Context, reportID int64) ([]entity.StepProgress, error)

	// History returns audit entries newest first
	History(ctx context.Context, reportID int64) ([]*entity.AuditEntry, error)

	// PendingForUser lists the approvals awaiting userID
	PendingForUser(ctx context.Context, userID string) ([]*entity.PendingApproval, error)

	CanApprove(ctx context.Context, reportID int64, actor entity.Actor) (bool, error)
	CanOverride(ctx context.Context, reportID int64, actor entity.Actor) (bool, error)
	CanView(ctx context.Context, reportID int64, actor entity.Actor) (bool, error)
}

// Result describes the outcome of a committed operation
type Result struct {
	Report *entity.Report
	// Record is the pending record after the operation, nil when none is pending
	Record *entity.ApprovalRecord
	Audit  *entity.AuditEntry
	Event  *event.Event
	// NotifyErr is set when the operation committed but event delivery failed
	NotifyErr error
}

// Snapshot is a consistent read of one report
type Snapshot struct {
	Report  *entity.Report
	Records []*entity.ApprovalRecord
	History []*entity.AuditEntry
}

// Pending returns the pending record in the snapshot, if any
func (s *Snapshot) Pending() *entity.ApprovalRecord {
	for _, r := range s.Records {
		if r.IsPending() {
			return r
		}
	}
	return nil
}

// Recorder receives per-operation measurements
type Recorder interface {
	ObserveOperation(op, outcome string, seconds float64)
	ObserveEvent(eventType string, delivered bool)
}
