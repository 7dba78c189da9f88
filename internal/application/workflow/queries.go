package workflow

import (
	"context"

	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

// Snapshot reads the report, its records and its history in one read-only
// transaction. Results are cached until the next write to the report.
func (e *engineImpl) Snapshot(ctx context.Context, reportID int64) (*Snapshot, error) {
	var gen uint64
	if e.snapshots != nil {
		gen = e.snapshots.generation(reportID)
		if snap, ok := e.snapshots.get(reportID); ok {
			return snap, nil
		}
	}

	snap := &Snapshot{}
	err := e.txManager.WithReadTransaction(ctx, func(ctx context.Context) error {
		report, err := e.reports.GetByID(ctx, reportID)
		if err != nil {
			return err
		}
		if report == nil {
			return ErrReportNotFound
		}
		snap.Report = report

		if snap.Records, err = e.approvals.ListByReport(ctx, reportID); err != nil {
			return err
		}
		snap.History, err = e.audit.ListByReport(ctx, reportID)
		return err
	})
	if err != nil {
		return nil, &WorkflowError{Op: "snapshot", ReportID: reportID, Err: err}
	}

	if e.snapshots != nil {
		e.snapshots.store(reportID, gen, snap)
	}
	return snap, nil
}

func (e *engineImpl) CurrentStep(ctx context.Context, reportID int64) (ladder.Step, bool, error) {
	snap, err := e.Snapshot(ctx, reportID)
	if err != nil {
		return "", false, err
	}
	if p := snap.Pending(); p != nil {
		return p.Step, true, nil
	}
	return "", false, nil
}

func (e *engineImpl) Progress(ctx context.Context, reportID int64) ([]entity.StepProgress, error) {
	snap, err := e.Snapshot(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return BuildProgress(snap.Report, snap.Records), nil
}

func (e *engineImpl) History(ctx context.Context, reportID int64) ([]*entity.AuditEntry, error) {
	snap, err := e.Snapshot(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return snap.History, nil
}

func (e *engineImpl) PendingForUser(ctx context.Context, userID string) ([]*entity.PendingApproval, error) {
	items, err := e.approvals.ListPendingByAssignee(ctx, userID)
	if err != nil {
		return nil, &WorkflowError{Op: "pending_for_user", Err: err}
	}
	return items, nil
}

func (e *engineImpl) CanApprove(ctx context.Context, reportID int64, actor entity.Actor) (bool, error) {
	snap, err := e.Snapshot(ctx, reportID)
	if err != nil {
		return false, err
	}
	p := snap.Pending()
	return p != nil && p.AssignedTo == actor.ID && snap.Report.Status.InReview(), nil
}

func (e *engineImpl) CanOverride(ctx context.Context, reportID int64, actor entity.Actor) (bool, error) {
	snap, err := e.Snapshot(ctx, reportID)
	if err != nil {
		return false, err
	}
	if snap.Pending() == nil || !snap.Report.Status.InReview() {
		return false, nil
	}
	ok, err := e.canOverride(ctx, actor)
	if err != nil {
		return false, &WorkflowError{Op: "can_override", ReportID: reportID, Err: err}
	}
	return ok, nil
}

// CanView allows the owner, the super admin, anyone who holds or held a
// record on the report, and approver roles once the report left DRAFT.
func (e *engineImpl) CanView(ctx context.Context, reportID int64, actor entity.Actor) (bool, error) {
	snap, err := e.Snapshot(ctx, reportID)
	if err != nil {
		return false, err
	}
	if snap.Report.IsOwnedBy(actor.ID) {
		return true, nil
	}
	if actor, err = e.roles(ctx, actor); err != nil {
		return false, &WorkflowError{Op: "can_view", ReportID: reportID, Err: err}
	}
	if actor.HasRole(e.superAdmin) {
		return true, nil
	}
	for _, r := range snap.Records {
		if r.AssignedTo == actor.ID || r.DecidedBy == actor.ID {
			return true, nil
		}
	}
	return snap.Report.Status != entity.ReportStatusDraft && actor.HasAnyRole(ladder.ApproverRoles()...), nil
}

// BuildProgress lays records over the ladder. Steps without a record are
// SKIPPED on an approved report and NOT_STARTED otherwise.
func BuildProgress(report *entity.Report, records []*entity.ApprovalRecord) []entity.StepProgress {
	byStep := make(map[ladder.Step]*entity.ApprovalRecord, len(records))
	for _, r := range records {
		byStep[r.Step] = r
	}

	order := ladder.Order()
	out := make([]entity.StepProgress, 0, len(order))
	for _, step := range order {
		p := entity.StepProgress{
			Step:     step,
			Label:    ladder.Label(step),
			Position: ladder.Position(step),
			State:    entity.StepStateNotStarted,
		}
		if r, ok := byStep[step]; ok {
			p.State = string(r.State)
			p.AssignedTo = r.AssignedTo
			p.AssignedAt = r.AssignedAt
			p.DecidedAt = r.DecidedAt
			p.IsCurrent = r.IsPending()
		} else if report.Status == entity.ReportStatusApproved {
			p.State = entity.StepStateSkipped
		}
		out = append(out, p)
	}
	return out
}

func (s *Snapshot) clone() *Snapshot {
	cp := &Snapshot{
		Records: append([]*entity.ApprovalRecord(nil), s.Records...),
		History: append([]*entity.AuditEntry(nil), s.History...),
	}
	if s.Report != nil {
		r := *s.Report
		cp.Report = &r
	}
	return cp
}
