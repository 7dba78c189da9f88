package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/application/resolver"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
	domainwf "github.com/rhadityaaa/ewd-tools/internal/domain/workflow"
	"github.com/rhadityaaa/ewd-tools/pkg/utils"
)

// Operation names used in errors, logs and metrics
const (
	OpCreateDraft     = "create_draft"
	OpSubmit          = "submit"
	OpApprove         = "approve"
	OpReject          = "reject"
	OpRequestRevision = "request_revision"
	OpOverride        = "override"
	OpReassign        = "reassign"
	OpWithdraw        = "withdraw"
)

const maxTitleLength = 255

// EngineOption configures the engine
type EngineOption func(*engineImpl)

// WithNotifier sets where committed events are delivered
func WithNotifier(n port.Notifier) EngineOption {
	return func(e *engineImpl) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithCache enables caching of report snapshots
func WithCache(c port.Cache) EngineOption {
	return func(e *engineImpl) {
		if c != nil {
			e.snapshots = newSnapshotCache(c)
		}
	}
}

func WithLogger(l port.Logger) EngineOption {
	return func(e *engineImpl) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(r Recorder) EngineOption {
	return func(e *engineImpl) {
		if r != nil {
			e.metrics = r
		}
	}
}

// WithPrivilegedRoles sets the roles allowed to submit or withdraw on behalf of an owner
func WithPrivilegedRoles(roles ...string) EngineOption {
	return func(e *engineImpl) {
		e.privileged = append([]string(nil), roles...)
	}
}

func WithSuperAdminRole(role string) EngineOption {
	return func(e *engineImpl) {
		if role != "" {
			e.superAdmin = role
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		if now != nil {
			e.now = now
		}
	}
}

// WithOperationTimeout bounds each state-changing operation
func WithOperationTimeout(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.timeout = d
	}
}

type engineImpl struct {
	reports   port.ReportRepository
	approvals port.ApprovalRecordRepository
	audit     port.AuditLogRepository
	txManager port.TransactionManager
	resolver  resolver.Resolver
	directory port.UserDirectory
	lifecycle *domainwf.Lifecycle

	notifier   port.Notifier
	snapshots  *snapshotCache
	logger     port.Logger
	metrics    Recorder
	privileged []string
	superAdmin string
	now        func() time.Time
	timeout    time.Duration
}

// NewEngine creates a workflow engine
func NewEngine(
	reports port.ReportRepository,
	approvals port.ApprovalRecordRepository,
	audit port.AuditLogRepository,
	txManager port.TransactionManager,
	res resolver.Resolver,
	directory port.UserDirectory,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		reports:    reports,
		approvals:  approvals,
		audit:      audit,
		txManager:  txManager,
		resolver:   res,
		directory:  directory,
		lifecycle:  domainwf.NewLifecycle(),
		notifier:   nopNotifier{},
		logger:     nopLogger{},
		metrics:    nopRecorder{},
		superAdmin: ladder.RoleSuperAdmin,
		privileged: []string{ladder.RoleSuperAdmin, ladder.RoleDepartmentHeadBusiness, ladder.RoleDepartmentHeadRisk},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *engineImpl) clock() time.Time {
	return e.now().UTC()
}

// CreateDraft registers a new report
func (e *engineImpl) CreateDraft(ctx context.Context, title, owner string) (*entity.Report, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTitleLength {
		return nil, &WorkflowError{Op: OpCreateDraft, Err: fmt.Errorf("%w: title must be 1-%d characters", ErrInvalidInput, maxTitleLength)}
	}
	if err := utils.ValidateUserID(owner); err != nil {
		return nil, &WorkflowError{Op: OpCreateDraft, Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}

	now := e.clock()
	report := &entity.Report{
		Title:     title,
		Status:    entity.ReportStatusDraft,
		CreatedBy: owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.reports.Create(ctx, report); err != nil {
		return nil, &WorkflowError{Op: OpCreateDraft, Err: err}
	}
	e.logger.Info("report draft created", "report_id", report.ID, "owner", owner)
	return report, nil
}

// Submit resolves the first step before touching any row so a missing
// approver leaves the report unchanged.
func (e *engineImpl) Submit(ctx context.Context, reportID int64, actor entity.Actor) (*Result, error) {
	return e.execute(ctx, OpSubmit, reportID, func(ctx context.Context, report *entity.Report) (*Result, error) {
		if err := e.requireOwnerOrPrivileged(ctx, report, actor); err != nil {
			return nil, err
		}
		if !report.Status.CanBeSubmitted() {
			return nil, ErrInvalidStatusForSubmit
		}
		next, err := e.transition(ctx, report.Status, domainwf.TriggerSubmit)
		if err != nil {
			return nil, err
		}

		first := ladder.First()
		assignee, err := e.resolver.Resolve(ctx, first)
		if err != nil {
			return nil, err
		}

		// records from a rejected cycle are replaced by a fresh ladder
		if _, err := e.approvals.DeleteByReport(ctx, report.ID); err != nil {
			return nil, err
		}

		now := e.clock()
		previous := report.Status
		report.Status = next
		report.SubmittedAt = &now
		report.RejectionReason = nil
		report.UpdatedAt = now
		if err := e.reports.Update(ctx, report); err != nil {
			return nil, err
		}

		record := &entity.ApprovalRecord{
			ReportID:   report.ID,
			Step:       first,
			State:      entity.ApprovalStatePending,
			AssignedTo: assignee,
			AssignedAt: &now,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := e.approvals.Create(ctx, record); err != nil {
			return nil, err
		}

		entry, err := e.appendAudit(ctx, report.ID, actor.ID, entity.ActionSubmit, nil, "", map[string]string{
			entity.MetaPreviousStatus: string(previous),
			entity.MetaAssignedTo:     assignee,
		})
		if err != nil {
			return nil, err
		}

		evt := event.NewEvent(event.TypeSubmitted, report.ID, assignee, map[string]interface{}{
			event.KeyStep:      string(first),
			event.KeyStepLabel: ladder.Label(first),
			event.KeyActor:     actor.ID,
			event.KeyStatus:    string(report.Status),
			event.KeyOwner:     report.CreatedBy,
			event.KeyTitle:     report.Title,
		})
		return &Result{Report: report, Record: record, Audit: entry, Event: evt}, nil
	})
}

// Approve decides the pending step. When a further step exists its assignee
// is resolved before the current record is decided.
func (e *engineImpl) Approve(ctx context.Context, reportID int64, actor entity.Actor, comment string) (*Result, error) {
	comment = utils.NormalizeComment(comment)
	if err := validateComment(comment, false); err != nil {
		return nil, &WorkflowError{Op: OpApprove, ReportID: reportID, Err: err}
	}

	return e.execute(ctx, OpApprove, reportID, func(ctx context.Context, report *entity.Report) (*Result, error) {
		record, err := e.pendingFor(ctx, report, actor)
		if err != nil {
			return nil, err
		}

		nextStep, hasNext := ladder.Next(record.Step)
		trigger := domainwf.TriggerApproveFinal
		if hasNext {
			trigger = domainwf.TriggerAdvance
		}
		nextStatus, err := e.transition(ctx, report.Status, trigger)
		if err != nil {
			return nil, err
		}

		var assignee string
		if hasNext {
			if assignee, err = e.resolver.Resolve(ctx, nextStep); err != nil {
				return nil, err
			}
		}

		now := e.clock()
		if err := e.decide(ctx, record, entity.ApprovalStateApproved, actor.ID, now); err != nil {
			return nil, err
		}

		var pending *entity.ApprovalRecord
		if hasNext {
			pending = &entity.ApprovalRecord{
				ReportID:   report.ID,
				Step:       nextStep,
				State:      entity.ApprovalStatePending,
				AssignedTo: assignee,
				AssignedAt: &now,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := e.approvals.Create(ctx, pending); err != nil {
				return nil, err
			}
		}

		report.Status = nextStatus
		report.UpdatedAt = now
		if err := e.reports.Update(ctx, report); err != nil {
			return nil, err
		}

		step := record.Step
		entry, err := e.appendAudit(ctx, report.ID, actor.ID, entity.ActionApprove, &step, comment, nil)
		if err != nil {
			return nil, err
		}

		payload := map[string]interface{}{
			event.KeyStep:      string(step),
			event.KeyStepLabel: ladder.Label(step),
			event.KeyActor:     actor.ID,
			event.KeyStatus:    string(report.Status),
			event.KeyFinal:     !hasNext,
			event.KeyOwner:     report.CreatedBy,
			event.KeyTitle:     report.Title,
		}
		if comment != "" {
			payload[event.KeyComment] = comment
		}
		recipient := report.CreatedBy
		if hasNext {
			recipient = assignee
			payload[event.KeyNextStep] = string(nextStep)
		}
		evt := event.NewEvent(event.TypeApproved, report.ID, recipient, payload)
		return &Result{Report: report, Record: pending, Audit: entry, Event: evt}, nil
	})
}

// Reject ends the review. Decided records stay in place as the trail of this cycle.
func (e *engineImpl) Reject(ctx context.Context, reportID int64, actor entity.Actor, comment string) (*Result, error) {
	comment = utils.NormalizeComment(comment)
	if err := validateComment(comment, true); err != nil {
		return nil, &WorkflowError{Op: OpReject, ReportID: reportID, Err: err}
	}

	return e.execute(ctx, OpReject, reportID, func(ctx context.Context, report *entity.Report) (*Result, error) {
		record, err := e.pendingFor(ctx, report, actor)
		if err != nil {
			return nil, err
		}
		nextStatus, err := e.transition(ctx, report.Status, domainwf.TriggerReject)
		if err != nil {
			return nil, err
		}

		now := e.clock()
		if err := e.decide(ctx, record, entity.ApprovalStateRejected, actor.ID, now); err != nil {
			return nil, err
		}

		report.Status = nextStatus
		report.RejectionReason = &comment
		report.UpdatedAt = now
		if err := e.reports.Update(ctx, report); err != nil {
			return nil, err
		}

		step := record.Step
		entry, err := e.appendAudit(ctx, report.ID, actor.ID, entity.ActionReject, &step, comment, nil)
		if err != nil {
			return nil, err
		}

		evt := event.NewEvent(event.TypeRejected, report.ID, report.CreatedBy, map[string]interface{}{
			event.KeyStep:      string(step),
			event.KeyStepLabel: ladder.Label(step),
			event.KeyActor:     actor.ID,
			event.KeyStatus:    string(report.Status),
			event.KeyComment:   comment,
			event.KeyOwner:     report.CreatedBy,
			event.KeyTitle:     report.Title,
		})
		return &Result{Report: report, Audit: entry, Event: evt}, nil
	})
}

// RequestRevision returns the report to its owner. All approval records are
// discarded so the next submit starts the ladder from the first step.
func (e *engineImpl) RequestRevision(ctx context.Context, reportID int64, actor entity.Actor, comment string) (*Result, error) {
	comment = utils.NormalizeComment(comment)
	if err := validateComment(comment, true); err != nil {
		return nil, &WorkflowError{Op: OpRequestRevision, ReportID: reportID, Err: err}
	}

	return e.execute(ctx, OpRequestRevision, reportID, func(ctx context.Context, report *entity.Report) (*Result, error) {
		record, err := e.pendingFor(ctx, report, actor)
		if err != nil {
			return nil, err
		}
		nextStatus, err := e.transition(ctx, report.Status, domainwf.TriggerRequestRevision)
		if err != nil {
			return nil, err
		}

		if _, err := e.approvals.DeleteByReport(ctx, report.ID); err != nil {
			return nil, err
		}

		now := e.clock()
		report.Status = nextStatus
		report.RejectionReason = &comment
		report.UpdatedAt = now
		if err := e.reports.Update(ctx, report); err != nil {
			return nil, err
		}

		step := record.Step
		entry, err := e.appendAudit(ctx, report.ID, actor.ID, entity.ActionRevision, &step, comment, nil)
		if err != nil {
			return nil, err
		}

		evt := event.NewEvent(event.TypeRevisionRequested, report.ID, report.CreatedBy, map[string]interface{}{
			event.KeyStep:      string(step),
			event.KeyStepLabel: ladder.Label(step),
			event.KeyActor:     actor.ID,
			event.KeyStatus:    string(report.Status),
			event.KeyComment:   comment,
			event.KeyOwner:     report.CreatedBy,
			event.KeyTitle:     report.Title,
		})
		return &Result{Report: report, Audit: entry, Event: evt}, nil
	})
}

// Override approves every pending record and finishes the review. The actor
// must hold an override-capable role or the super-admin role; the pending
// step itself need not be one of theirs.
func (e *engineImpl) Override(ctx context.Context, reportID int64, actor entity.Actor, comment string) (*Result, error) {
	comment = utils.NormalizeComment(comment)
	if err := validateComment(comment, true); err != nil {
		return nil, &WorkflowError{Op: OpOverride, ReportID: reportID, Err: err}
	}

	return e.execute(ctx, OpOverride, reportID, func(ctx context.Context, report *entity.Report) (*Result, error) {
		if err := e.requireOverrideRole(ctx, actor, ErrOverrideNotPermitted); err != nil {
			return nil, err
		}
		record, err := e.approvals.LockPending(ctx, report.ID)
		if err != nil {
			return nil, err
		}
		if record == nil || !report.Status.InReview() {
			return nil, ErrNoPendingApproval
		}
		nextStatus, err := e.transition(ctx, report.Status, domainwf.TriggerOverride)
		if err != nil {
			return nil, err
		}

		now := e.clock()
		n, err := e.approvals.ApproveAllPending(ctx, report.ID, actor.ID, now)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrStaleApprovalState
		}

		report.Status = nextStatus
		report.RejectionReason = nil
		report.UpdatedAt = now
		if err := e.reports.Update(ctx, report); err != nil {
			return nil, err
		}

		entry, err := e.appendAudit(ctx, report.ID, actor.ID, entity.ActionOverride, nil, comment, map[string]string{
			entity.MetaOverriddenStep: string(record.Step),
		})
		if err != nil {
			return nil, err
		}

		evt := event.NewEvent(event.TypeApproved, report.ID, report.CreatedBy, map[string]interface{}{
			event.KeyStep:      string(record.Step),
			event.KeyStepLabel: ladder.Label(record.Step),
			event.KeyActor:     actor.ID,
			event.KeyStatus:    string(report.Status),
			event.KeyComment:   comment,
			event.KeyFinal:     true,
			event.KeyOverride:  true,
			event.KeyOwner:     report.CreatedBy,
			event.KeyTitle:     report.Title,
		})
		return &Result{Report: report, Audit: entry, Event: evt}, nil
	})
}

// Reassign moves the pending record of step to target. Report status is unchanged.
func (e *engineImpl) Reassign(ctx context.Context, reportID int64, actor entity.Actor, step ladder.Step, target, comment string) (*Result, error) {
	comment = utils.NormalizeComment(comment)
	target = strings.TrimSpace(target)
	if err := e.validateReassign(step, target, comment); err != nil {
		return nil, &WorkflowError{Op: OpReassign, ReportID: reportID, Err: err}
	}
	user, err := e.directory.GetUser(ctx, target)
	if err != nil {
		return nil, &WorkflowError{Op: OpReassign, ReportID: reportID, Err: err}
	}
	if user == nil {
		return nil, &WorkflowError{Op: OpReassign, ReportID: reportID, Err: fmt.Errorf("%w: unknown user %q", ErrInvalidInput, target)}
	}

	return e.execute(ctx, OpReassign, reportID, func(ctx context.Context, report *entity.Report) (*Result, error) {
		if err := e.requireOverrideRole(ctx, actor, ErrReassignNotPermitted); err != nil {
			return nil, err
		}
		record, err := e.approvals.LockPending(ctx, report.ID)
		if err != nil {
			return nil, err
		}
		if record == nil || record.Step != step || !report.Status.InReview() {
			return nil, e.stepNotPending(ctx, report.ID, step)
		}
		if record.AssignedTo == target {
			return nil, fmt.Errorf("%w: step is already assigned to %s", ErrInvalidInput, target)
		}

		now := e.clock()
		from := record.AssignedTo
		if err := e.approvals.Reassign(ctx, record.ID, record.Version, target, now); err != nil {
			if errors.Is(err, port.ErrVersionConflict) {
				return nil, ErrStaleApprovalState
			}
			return nil, err
		}
		record.AssignedTo = target
		record.AssignedAt = &now
		record.Version++
		record.UpdatedAt = now

		report.UpdatedAt = now
		if err := e.reports.Update(ctx, report); err != nil {
			return nil, err
		}

		entry, err := e.appendAudit(ctx, report.ID, actor.ID, entity.ActionReassign, &step, comment, map[string]string{
			entity.MetaReassignedTo:     target,
			entity.MetaReassignedToName: user.Name,
			entity.MetaReassignedFrom:   from,
		})
		if err != nil {
			return nil, err
		}

		payload := map[string]interface{}{
			event.KeyStep:       string(step),
			event.KeyStepLabel:  ladder.Label(step),
			event.KeyActor:      actor.ID,
			event.KeyStatus:     string(report.Status),
			event.KeyPreviousTo: from,
			event.KeyOwner:      report.CreatedBy,
			event.KeyTitle:      report.Title,
		}
		if comment != "" {
			payload[event.KeyComment] = comment
		}
		evt := event.NewEvent(event.TypeReassigned, report.ID, target, payload)
		return &Result{Report: report, Record: record, Audit: entry, Event: evt}, nil
	})
}

// Withdraw returns the report to DRAFT and discards its approval records
func (e *engineImpl) Withdraw(ctx context.Context, reportID int64, actor entity.Actor) (*Result, error) {
	return e.execute(ctx, OpWithdraw, reportID, func(ctx context.Context, report *entity.Report) (*Result, error) {
		if err := e.requireOwnerOrPrivileged(ctx, report, actor); err != nil {
			return nil, err
		}
		nextStatus, err := e.transition(ctx, report.Status, domainwf.TriggerWithdraw)
		if err != nil {
			return nil, err
		}

		pending, err := e.approvals.LockPending(ctx, report.ID)
		if err != nil {
			return nil, err
		}
		if _, err := e.approvals.DeleteByReport(ctx, report.ID); err != nil {
			return nil, err
		}

		now := e.clock()
		previous := report.Status
		report.Status = nextStatus
		report.UpdatedAt = now
		if err := e.reports.Update(ctx, report); err != nil {
			return nil, err
		}

		entry, err := e.appendAudit(ctx, report.ID, actor.ID, entity.ActionWithdraw, nil, "", map[string]string{
			entity.MetaPreviousStatus: string(previous),
		})
		if err != nil {
			return nil, err
		}

		recipient := report.CreatedBy
		payload := map[string]interface{}{
			event.KeyActor:  actor.ID,
			event.KeyStatus: string(report.Status),
			event.KeyOwner:  report.CreatedBy,
			event.KeyTitle:  report.Title,
		}
		if pending != nil {
			recipient = pending.AssignedTo
			payload[event.KeyStep] = string(pending.Step)
			payload[event.KeyStepLabel] = ladder.Label(pending.Step)
		}
		evt := event.NewEvent(event.TypeWithdrawn, report.ID, recipient, payload)
		return &Result{Report: report, Audit: entry, Event: evt}, nil
	})
}

// execute runs fn in a transaction holding the report row, then invalidates
// cached reads and delivers the event once the transaction has committed.
func (e *engineImpl) execute(ctx context.Context, op string, reportID int64, fn func(context.Context, *entity.Report) (*Result, error)) (*Result, error) {
	start := time.Now()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var res *Result
	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		report, err := e.reports.GetForUpdate(txCtx, reportID)
		if err != nil {
			return err
		}
		if report == nil {
			return ErrReportNotFound
		}
		res, err = fn(txCtx, report)
		return err
	})
	elapsed := time.Since(start).Seconds()

	if err != nil {
		kind := KindOf(err)
		e.metrics.ObserveOperation(op, kind.String(), elapsed)
		werr := e.describe(ctx, op, reportID, err)
		switch kind {
		case KindConfiguration, KindInternal:
			e.logger.Error("workflow operation failed", "op", op, "report_id", reportID, "kind", kind.String(), "error", err)
		default:
			e.logger.Info("workflow operation refused", "op", op, "report_id", reportID, "kind", kind.String(), "reason", err.Error())
		}
		return nil, werr
	}

	e.invalidate(reportID)
	e.metrics.ObserveOperation(op, "success", elapsed)
	e.logger.Info("workflow operation committed", "op", op, "report_id", reportID, "status", string(res.Report.Status))

	if res.Event != nil {
		if nerr := e.notifier.Notify(ctx, res.Event); nerr != nil {
			res.NotifyErr = nerr
			e.metrics.ObserveEvent(string(res.Event.Type), false)
			e.logger.Error("failed to deliver workflow event",
				"op", op, "report_id", reportID, "event_type", string(res.Event.Type),
				"recipient", res.Event.RecipientUserID, "error", nerr)
		} else {
			e.metrics.ObserveEvent(string(res.Event.Type), true)
		}
	}
	return res, nil
}

// describe wraps err with the committed state of the report so a caller that
// lost a race can see what won.
func (e *engineImpl) describe(ctx context.Context, op string, reportID int64, err error) error {
	werr := &WorkflowError{Op: op, ReportID: reportID, Err: err}
	switch KindOf(err) {
	case KindPrecondition, KindAuthorization:
	default:
		return werr
	}
	if ctx.Err() != nil {
		return werr
	}
	if report, rerr := e.reports.GetByID(ctx, reportID); rerr == nil && report != nil {
		werr.Status = report.Status
		if record, perr := e.approvals.GetPending(ctx, reportID); perr == nil && record != nil {
			werr.CurrentStep = record.Step
		}
	}
	return werr
}

// pendingFor locks the pending record and checks it belongs to actor. An
// actor who already decided on this report is told the state moved on.
func (e *engineImpl) pendingFor(ctx context.Context, report *entity.Report, actor entity.Actor) (*entity.ApprovalRecord, error) {
	record, err := e.approvals.LockPending(ctx, report.ID)
	if err != nil {
		return nil, err
	}
	if record != nil && record.AssignedTo == actor.ID && report.Status.InReview() {
		return record, nil
	}

	decided, err := e.approvals.HasDecided(ctx, report.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	switch {
	case decided:
		return nil, ErrStaleApprovalState
	case record == nil || !report.Status.InReview():
		return nil, ErrNoPendingApproval
	default:
		return nil, ErrNotAuthorizedForStep
	}
}

// stepNotPending tells a step that was already decided, usually by an approver
// who got there first, from one the ladder has not reached.
func (e *engineImpl) stepNotPending(ctx context.Context, reportID int64, step ladder.Step) error {
	records, err := e.approvals.ListByReport(ctx, reportID)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Step == step && !r.IsPending() {
			return ErrStaleApprovalState
		}
	}
	return ErrNoPendingApproval
}

func (e *engineImpl) decide(ctx context.Context, record *entity.ApprovalRecord, state entity.ApprovalState, actorID string, at time.Time) error {
	if err := e.approvals.Decide(ctx, record.ID, record.Version, state, actorID, at); err != nil {
		if errors.Is(err, port.ErrVersionConflict) {
			return ErrStaleApprovalState
		}
		return err
	}
	record.State = state
	record.DecidedBy = actorID
	record.DecidedAt = &at
	record.Version++
	record.UpdatedAt = at
	return nil
}

func (e *engineImpl) transition(ctx context.Context, from entity.ReportStatus, trigger domainwf.Trigger) (entity.ReportStatus, error) {
	next, err := e.lifecycle.Next(ctx, domainwf.State(from), trigger)
	if err != nil {
		return from, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	return entity.ReportStatus(next), nil
}

func (e *engineImpl) appendAudit(ctx context.Context, reportID int64, actorID string, action entity.Action, step *ladder.Step, comment string, meta map[string]string) (*entity.AuditEntry, error) {
	entry := &entity.AuditEntry{
		ReportID:    reportID,
		ActorUserID: actorID,
		Action:      action,
		Step:        step,
		Metadata:    meta,
		OccurredAt:  e.clock(),
	}
	if comment != "" {
		entry.Comment = &comment
	}
	if err := e.audit.Append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (e *engineImpl) validateReassign(step ladder.Step, target, comment string) error {
	if !step.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStep, step)
	}
	if target == "" {
		return ErrMissingTarget
	}
	if err := utils.ValidateUserID(target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return validateComment(comment, false)
}

func validateComment(comment string, required bool) error {
	if required && comment == "" {
		return ErrCommentRequired
	}
	if err := utils.ValidateComment(comment); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// roles returns the actor's roles, falling back to the directory when the
// caller did not attach any. A directory failure is returned, never read as
// "no roles".
func (e *engineImpl) roles(ctx context.Context, actor entity.Actor) (entity.Actor, error) {
	if len(actor.Roles) > 0 || e.directory == nil {
		return actor, nil
	}
	roles, err := e.directory.RolesOf(ctx, actor.ID)
	if err != nil {
		return actor, fmt.Errorf("failed to load roles of %s: %w", actor.ID, err)
	}
	actor.Roles = roles
	return actor, nil
}

func (e *engineImpl) hasRole(ctx context.Context, actor entity.Actor, roles ...string) (bool, error) {
	actor, err := e.roles(ctx, actor)
	if err != nil {
		return false, err
	}
	return actor.HasAnyRole(roles...), nil
}

func (e *engineImpl) canOverride(ctx context.Context, actor entity.Actor) (bool, error) {
	return e.hasRole(ctx, actor, append(ladder.OverrideRoles(), e.superAdmin)...)
}

func (e *engineImpl) requireOwnerOrPrivileged(ctx context.Context, report *entity.Report, actor entity.Actor) error {
	if report.IsOwnedBy(actor.ID) {
		return nil
	}
	ok, err := e.hasRole(ctx, actor, e.privileged...)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotReportOwner
	}
	return nil
}

func (e *engineImpl) requireOverrideRole(ctx context.Context, actor entity.Actor, denied error) error {
	ok, err := e.canOverride(ctx, actor)
	if err != nil {
		return err
	}
	if !ok {
		return denied
	}
	return nil
}

func (e *engineImpl) invalidate(reportID int64) {
	if e.snapshots != nil {
		e.snapshots.invalidate(reportID)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, *event.Event) error { return nil }

type nopLogger struct{}

func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, float64) {}
func (nopRecorder) ObserveEvent(string, bool)                {}
