package workflow

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/application/resolver"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/cache"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/repository"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/sqlite"
	"github.com/rhadityaaa/ewd-tools/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// recordingNotifier captures delivered events
type recordingNotifier struct {
	mu     sync.Mutex
	events []*event.Event
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, e *event.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) last() *event.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.events) == 0 {
		return nil
	}
	return n.events[len(n.events)-1]
}

// mockResolver lets a test fail resolution for chosen steps
type mockResolver struct {
	resolveFunc func(ctx context.Context, step ladder.Step) (string, error)
}

func (m *mockResolver) Resolve(ctx context.Context, step ladder.Step) (string, error) {
	return m.resolveFunc(ctx, step)
}

func (m *mockResolver) Invalidate() {}

type fixture struct {
	engine    Engine
	db        *sql.DB
	tx        *sqlite.DB
	dir       *repository.DirectoryRepository
	resolver  resolver.Resolver
	reports   port.ReportRepository
	approvals port.ApprovalRecordRepository
	audit     port.AuditLogRepository
	notifier  *recordingNotifier
}

var testUsers = []*entity.User{
	{ID: "u1", Name: "Owner"},
	{ID: "u2", Name: "Analyst One", Roles: []string{ladder.RoleRiskAnalyst}},
	{ID: "u3", Name: "Head Business", Roles: []string{ladder.RoleDepartmentHeadBusiness}},
	{ID: "u4", Name: "Head Risk", Roles: []string{ladder.RoleDepartmentHeadRisk}},
	{ID: "u5", Name: "Analyst Two", Roles: []string{ladder.RoleRiskAnalyst}},
	{ID: "admin", Name: "Administrator", Roles: []string{ladder.RoleSuperAdmin}},
	{ID: "u9", Name: "Outsider"},
}

func newFixture(t *testing.T, res resolver.Resolver, opts ...EngineOption) *fixture {
	t.Helper()
	logger := zap.NewNop()
	ctx := context.Background()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "workflow.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.NewMigrator(db.DB, logger).Run(ctx, sqlite.Migrations, sqlite.MigrationsDir))

	dir := repository.NewDirectoryRepository(db.DB, logger)
	for _, u := range testUsers {
		require.NoError(t, dir.UpsertUser(ctx, u))
	}

	lru := cache.NewLRU(cache.Config{})
	if res == nil {
		res = resolver.New(dir, lru)
	}

	f := &fixture{
		db:        db.DB,
		tx:        sqlite.NewDB(db.DB, logger),
		dir:       dir,
		resolver:  res,
		reports:   repository.NewReportRepository(db.DB, logger),
		approvals: repository.NewApprovalRecordRepository(db.DB, logger),
		audit:     repository.NewAuditLogRepository(db.DB, logger),
		notifier:  &recordingNotifier{},
	}
	opts = append([]EngineOption{WithNotifier(f.notifier), WithCache(lru)}, opts...)
	f.engine = NewEngine(f.reports, f.approvals, f.audit, f.tx, res, dir, opts...)
	return f
}

func actor(id string) entity.Actor {
	return entity.Actor{ID: id}
}

// submitted creates a report owned by u1 and submits it
func (f *fixture) submitted(t *testing.T) *entity.Report {
	t.Helper()
	ctx := context.Background()
	report, err := f.engine.CreateDraft(ctx, "EWS Debtor PT Maju", "u1")
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, report.ID, actor("u1"))
	require.NoError(t, err)
	return report
}

func (f *fixture) pending(t *testing.T, reportID int64) *entity.ApprovalRecord {
	t.Helper()
	rec, err := f.approvals.GetPending(context.Background(), reportID)
	require.NoError(t, err)
	return rec
}

func (f *fixture) historyLen(t *testing.T, reportID int64) int {
	t.Helper()
	n, err := f.audit.CountByReport(context.Background(), reportID)
	require.NoError(t, err)
	return n
}

func TestEngine_FullApprovalPath(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	rec := f.pending(t, report.ID)
	require.NotNil(t, rec)
	assert.Equal(t, ladder.StepRiskAnalyst, rec.Step)
	assert.Equal(t, "u2", rec.AssignedTo)
	assert.Equal(t, event.TypeSubmitted, f.notifier.last().Type)
	assert.Equal(t, "u2", f.notifier.last().RecipientUserID)

	res, err := f.engine.Approve(ctx, report.ID, actor("u2"), "looks fine")
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusUnderReview, res.Report.Status)
	require.NotNil(t, res.Record)
	assert.Equal(t, ladder.StepDepartmentHeadBusiness, res.Record.Step)
	assert.Equal(t, "u3", res.Record.AssignedTo)
	assert.Equal(t, "u3", res.Event.RecipientUserID)
	assert.False(t, res.Event.GetPayloadBool(event.KeyFinal))

	_, err = f.engine.Approve(ctx, report.ID, actor("u3"), "")
	require.NoError(t, err)
	assert.Equal(t, "u4", f.pending(t, report.ID).AssignedTo)

	res, err = f.engine.Approve(ctx, report.ID, actor("u4"), "")
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusApproved, res.Report.Status)
	assert.Nil(t, res.Record)
	assert.Nil(t, f.pending(t, report.ID))
	assert.Equal(t, "u1", res.Event.RecipientUserID)
	assert.True(t, res.Event.GetPayloadBool(event.KeyFinal))

	history, err := f.engine.History(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, entity.ActionApprove, history[0].Action)
	assert.Equal(t, "u4", history[0].ActorUserID)
	assert.Equal(t, entity.ActionSubmit, history[3].Action)
	assert.Nil(t, history[3].Step)
	require.NotNil(t, history[2].Comment)
	assert.Equal(t, "looks fine", *history[2].Comment)

	_, ok, err := f.engine.CurrentStep(ctx, report.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	progress, err := f.engine.Progress(ctx, report.ID)
	require.NoError(t, err)
	for _, p := range progress {
		assert.Equal(t, string(entity.ApprovalStateApproved), p.State, p.Step)
		assert.False(t, p.IsCurrent)
	}
}

func TestEngine_RejectAndResubmit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	res, err := f.engine.Reject(ctx, report.ID, actor("u2"), "  Incomplete collateral data  ")
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusRejected, res.Report.Status)
	require.NotNil(t, res.Report.RejectionReason)
	assert.Equal(t, "Incomplete collateral data", *res.Report.RejectionReason)
	assert.Equal(t, event.TypeRejected, res.Event.Type)
	assert.Equal(t, "u1", res.Event.RecipientUserID)
	assert.Nil(t, f.pending(t, report.ID))

	records, err := f.approvals.ListByReport(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entity.ApprovalStateRejected, records[0].State)
	assert.Equal(t, "u2", records[0].DecidedBy)

	history, err := f.engine.History(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, entity.ActionReject, history[0].Action)
	require.NotNil(t, history[0].Step)
	assert.Equal(t, ladder.StepRiskAnalyst, *history[0].Step)

	res, err = f.engine.Submit(ctx, report.ID, actor("u1"))
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusSubmitted, res.Report.Status)
	assert.Nil(t, res.Report.RejectionReason)
	assert.Equal(t, ladder.StepRiskAnalyst, res.Record.Step)

	records, err = f.approvals.ListByReport(ctx, report.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 3, f.historyLen(t, report.ID))
}

func TestEngine_RequestRevisionRestartsLadder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	_, err := f.engine.Approve(ctx, report.ID, actor("u2"), "")
	require.NoError(t, err)

	res, err := f.engine.RequestRevision(ctx, report.ID, actor("u3"), "update the cash flow table")
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusRevisionRequired, res.Report.Status)
	assert.Equal(t, event.TypeRevisionRequested, res.Event.Type)

	records, err := f.approvals.ListByReport(ctx, report.ID)
	require.NoError(t, err)
	assert.Empty(t, records)

	res, err = f.engine.Submit(ctx, report.ID, actor("u1"))
	require.NoError(t, err)
	assert.Equal(t, ladder.StepRiskAnalyst, res.Record.Step)
	assert.Equal(t, "u2", res.Record.AssignedTo)
}

func TestEngine_DecisionRequiresAssignee(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)
	before := f.historyLen(t, report.ID)

	ops := map[string]func(entity.Actor) error{
		"approve": func(a entity.Actor) error {
			_, err := f.engine.Approve(ctx, report.ID, a, "")
			return err
		},
		"reject": func(a entity.Actor) error {
			_, err := f.engine.Reject(ctx, report.ID, a, "no")
			return err
		},
		"revision": func(a entity.Actor) error {
			_, err := f.engine.RequestRevision(ctx, report.ID, a, "redo")
			return err
		},
	}

	for name, op := range ops {
		for _, id := range []string{"u3", "u4", "u5", "u1", "admin"} {
			t.Run(name+"/"+id, func(t *testing.T) {
				err := op(actor(id))
				require.ErrorIs(t, err, ErrNotAuthorizedForStep)
				assert.Equal(t, KindAuthorization, KindOf(err))

				var werr *WorkflowError
				require.True(t, errors.As(err, &werr))
				assert.Equal(t, entity.ReportStatusSubmitted, werr.Status)
				assert.Equal(t, ladder.StepRiskAnalyst, werr.CurrentStep)
			})
		}
	}

	assert.Equal(t, before, f.historyLen(t, report.ID))
	assert.Equal(t, "u2", f.pending(t, report.ID).AssignedTo)
}

func TestEngine_OverrideShortCircuits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	_, err := f.engine.Override(ctx, report.ID, actor("u2"), "skip")
	require.ErrorIs(t, err, ErrOverrideNotPermitted)

	_, err = f.engine.Override(ctx, report.ID, actor("u3"), "   ")
	require.ErrorIs(t, err, ErrCommentRequired)
	assert.Equal(t, KindValidation, KindOf(err))

	res, err := f.engine.Override(ctx, report.ID, actor("u3"), "urgent credit decision")
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusApproved, res.Report.Status)
	assert.True(t, res.Event.GetPayloadBool(event.KeyOverride))
	assert.Equal(t, "u1", res.Event.RecipientUserID)
	assert.Nil(t, res.Audit.Step)
	assert.Equal(t, string(ladder.StepRiskAnalyst), res.Audit.Metadata[entity.MetaOverriddenStep])

	records, err := f.approvals.ListByReport(ctx, report.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entity.ApprovalStateApproved, records[0].State)
	assert.Equal(t, "u3", records[0].DecidedBy)

	progress, err := f.engine.Progress(ctx, report.ID)
	require.NoError(t, err)
	got := make([]string, 0, len(progress))
	for _, p := range progress {
		got = append(got, p.State)
	}
	want := []string{string(entity.ApprovalStateApproved), entity.StepStateSkipped, entity.StepStateSkipped}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("progress states mismatch (-want +got):\n%s", diff)
	}

	_, err = f.engine.Override(ctx, report.ID, actor("u4"), "again")
	require.ErrorIs(t, err, ErrNoPendingApproval)
}

func TestEngine_ConcurrentApproveOneWins(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)
	_, err := f.engine.Approve(ctx, report.ID, actor("u2"), "")
	require.NoError(t, err)

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		i := i
		g.Go(func() error {
			_, errs[i] = f.engine.Approve(ctx, report.ID, actor("u3"), "")
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var wins, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrStaleApprovalState):
			stale++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, stale)

	history, err := f.engine.History(ctx, report.ID)
	require.NoError(t, err)
	var byU3 int
	for _, h := range history {
		if h.ActorUserID == "u3" && h.Action == entity.ActionApprove {
			byU3++
		}
	}
	assert.Equal(t, 1, byU3)
	assert.Equal(t, ladder.StepDepartmentHeadRisk, f.pending(t, report.ID).Step)
}

func TestEngine_RepeatedApproveIsStale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	_, err := f.engine.Approve(ctx, report.ID, actor("u2"), "")
	require.NoError(t, err)

	_, err = f.engine.Approve(ctx, report.ID, actor("u2"), "")
	require.ErrorIs(t, err, ErrStaleApprovalState)
	assert.Equal(t, KindPrecondition, KindOf(err))
}

func TestEngine_ResolverFailureAbortsApprove(t *testing.T) {
	res := &mockResolver{resolveFunc: func(ctx context.Context, step ladder.Step) (string, error) {
		if step == ladder.StepRiskAnalyst {
			return "u2", nil
		}
		return "", resolver.ErrNoEligibleApprover
	}}
	f := newFixture(t, res)
	ctx := context.Background()
	report := f.submitted(t)

	_, err := f.engine.Approve(ctx, report.ID, actor("u2"), "")
	require.ErrorIs(t, err, ErrNoEligibleApprover)
	assert.Equal(t, KindConfiguration, KindOf(err))

	got, err := f.reports.GetByID(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusSubmitted, got.Status)

	rec := f.pending(t, report.ID)
	require.NotNil(t, rec)
	assert.Equal(t, ladder.StepRiskAnalyst, rec.Step)
	assert.Equal(t, "u2", rec.AssignedTo)
	assert.Equal(t, 1, f.historyLen(t, report.ID))
}

func TestEngine_ResolverFailureAbortsSubmit(t *testing.T) {
	res := &mockResolver{resolveFunc: func(ctx context.Context, step ladder.Step) (string, error) {
		return "", resolver.ErrNoEligibleApprover
	}}
	f := newFixture(t, res)
	ctx := context.Background()
	report, err := f.engine.CreateDraft(ctx, "EWS", "u1")
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, report.ID, actor("u1"))
	require.ErrorIs(t, err, ErrNoEligibleApprover)

	got, err := f.reports.GetByID(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusDraft, got.Status)
	assert.Equal(t, 0, f.historyLen(t, report.ID))
}

func TestEngine_SubmitPreconditions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	report, err := f.engine.CreateDraft(ctx, "EWS", "u1")
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, report.ID, actor("u9"))
	require.ErrorIs(t, err, ErrNotReportOwner)

	_, err = f.engine.Submit(ctx, report.ID, actor("admin"))
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, report.ID, actor("u1"))
	require.ErrorIs(t, err, ErrInvalidStatusForSubmit)

	_, err = f.engine.Submit(ctx, 9999, actor("u1"))
	require.ErrorIs(t, err, ErrReportNotFound)
	assert.Equal(t, KindNotFound, KindOf(err))

	_, err = f.engine.CreateDraft(ctx, "  ", "u1")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestEngine_Withdraw(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	_, err := f.engine.Withdraw(ctx, report.ID, actor("u9"))
	require.ErrorIs(t, err, ErrNotReportOwner)

	res, err := f.engine.Withdraw(ctx, report.ID, actor("u1"))
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusDraft, res.Report.Status)
	assert.Equal(t, event.TypeWithdrawn, res.Event.Type)
	assert.Equal(t, "u2", res.Event.RecipientUserID)
	assert.Equal(t, string(entity.ReportStatusSubmitted), res.Audit.Metadata[entity.MetaPreviousStatus])
	assert.Nil(t, f.pending(t, report.ID))

	_, err = f.engine.Withdraw(ctx, report.ID, actor("u1"))
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.engine.Submit(ctx, report.ID, actor("u1"))
	require.NoError(t, err)
	_, err = f.engine.Override(ctx, report.ID, actor("u4"), "done")
	require.NoError(t, err)

	_, err = f.engine.Withdraw(ctx, report.ID, actor("u1"))
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEngine_Reassign(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	_, err := f.engine.Reassign(ctx, report.ID, actor("u2"), ladder.StepRiskAnalyst, "u5", "")
	require.ErrorIs(t, err, ErrReassignNotPermitted)

	_, err = f.engine.Reassign(ctx, report.ID, actor("admin"), ladder.StepRiskAnalyst, "ghost", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.engine.Reassign(ctx, report.ID, actor("admin"), ladder.StepRiskAnalyst, "", "")
	require.ErrorIs(t, err, ErrMissingTarget)

	_, err = f.engine.Reassign(ctx, report.ID, actor("admin"), ladder.Step("CFO"), "u5", "")
	require.ErrorIs(t, err, ErrInvalidStep)

	_, err = f.engine.Reassign(ctx, report.ID, actor("admin"), ladder.StepDepartmentHeadRisk, "u5", "")
	require.ErrorIs(t, err, ErrNoPendingApproval)

	_, err = f.engine.Reassign(ctx, report.ID, actor("admin"), ladder.StepRiskAnalyst, "u2", "")
	require.ErrorIs(t, err, ErrInvalidInput)

	before := f.pending(t, report.ID)
	res, err := f.engine.Reassign(ctx, report.ID, actor("admin"), ladder.StepRiskAnalyst, "u5", "u2 on leave")
	require.NoError(t, err)
	assert.Equal(t, entity.ReportStatusSubmitted, res.Report.Status)
	assert.Equal(t, "u5", res.Record.AssignedTo)
	assert.Equal(t, event.TypeReassigned, res.Event.Type)
	assert.Equal(t, "u5", res.Event.RecipientUserID)
	assert.Equal(t, map[string]string{
		entity.MetaReassignedTo:     "u5",
		entity.MetaReassignedToName: "Analyst Two",
		entity.MetaReassignedFrom:   "u2",
	}, res.Audit.Metadata)

	after := f.pending(t, report.ID)
	assert.Equal(t, "u5", after.AssignedTo)
	assert.Greater(t, after.Version, before.Version)

	_, err = f.engine.Approve(ctx, report.ID, actor("u2"), "")
	require.ErrorIs(t, err, ErrNotAuthorizedForStep)

	_, err = f.engine.Approve(ctx, report.ID, actor("u5"), "")
	require.NoError(t, err)
}

func TestEngine_CommentValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	_, err := f.engine.Reject(ctx, report.ID, actor("u2"), "")
	require.ErrorIs(t, err, ErrCommentRequired)

	_, err = f.engine.RequestRevision(ctx, report.ID, actor("u2"), "\n\t")
	require.ErrorIs(t, err, ErrCommentRequired)

	_, err = f.engine.Approve(ctx, report.ID, actor("u2"), strings.Repeat("x", 2001))
	require.ErrorIs(t, err, ErrInvalidInput)

	assert.Equal(t, 1, f.historyLen(t, report.ID))
}

func TestEngine_Queries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	ok, err := f.engine.CanApprove(ctx, report.ID, actor("u2"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.engine.CanApprove(ctx, report.ID, actor("u3"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.engine.CanOverride(ctx, report.ID, actor("u3"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.engine.CanOverride(ctx, report.ID, actor("u2"))
	require.NoError(t, err)
	assert.False(t, ok)

	for id, want := range map[string]bool{"u1": true, "u2": true, "u4": true, "admin": true, "u9": false} {
		ok, err := f.engine.CanView(ctx, report.ID, actor(id))
		require.NoError(t, err)
		assert.Equal(t, want, ok, id)
	}

	inbox, err := f.engine.PendingForUser(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, report.ID, inbox[0].Record.ReportID)
	assert.Equal(t, "u1", inbox[0].ReportOwner)

	step, ok, err := f.engine.CurrentStep(ctx, report.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ladder.StepRiskAnalyst, step)

	_, err = f.engine.Snapshot(ctx, 9999)
	require.ErrorIs(t, err, ErrReportNotFound)
}

func TestEngine_ProgressReflectsWrites(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	ignore := cmpopts.IgnoreFields(entity.StepProgress{}, "AssignedAt", "DecidedAt")

	got, err := f.engine.Progress(ctx, report.ID)
	require.NoError(t, err)
	want := []entity.StepProgress{
		{Step: ladder.StepRiskAnalyst, Label: ladder.Label(ladder.StepRiskAnalyst), Position: 1, State: "PENDING", AssignedTo: "u2", IsCurrent: true},
		{Step: ladder.StepDepartmentHeadBusiness, Label: ladder.Label(ladder.StepDepartmentHeadBusiness), Position: 2, State: entity.StepStateNotStarted},
		{Step: ladder.StepDepartmentHeadRisk, Label: ladder.Label(ladder.StepDepartmentHeadRisk), Position: 3, State: entity.StepStateNotStarted},
	}
	if diff := cmp.Diff(want, got, ignore); diff != "" {
		t.Errorf("Progress() mismatch (-want +got):\n%s", diff)
	}

	_, err = f.engine.Approve(ctx, report.ID, actor("u2"), "")
	require.NoError(t, err)

	got, err = f.engine.Progress(ctx, report.ID)
	require.NoError(t, err)
	want[0].State, want[0].IsCurrent = "APPROVED", false
	want[1].State, want[1].AssignedTo, want[1].IsCurrent = "PENDING", "u3", true
	if diff := cmp.Diff(want, got, ignore); diff != "" {
		t.Errorf("Progress() after approve mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_NotifyFailureKeepsCommit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.notifier.err = errors.New("broker down")

	report, err := f.engine.CreateDraft(ctx, "EWS", "u1")
	require.NoError(t, err)

	res, err := f.engine.Submit(ctx, report.ID, actor("u1"))
	require.NoError(t, err)
	assert.EqualError(t, res.NotifyErr, "broker down")
	assert.Equal(t, entity.ReportStatusSubmitted, res.Report.Status)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{ErrNotAuthorizedForStep, KindAuthorization},
		{ErrOverrideNotPermitted, KindAuthorization},
		{ErrStaleApprovalState, KindPrecondition},
		{ErrNoPendingApproval, KindPrecondition},
		{ErrReportNotFound, KindNotFound},
		{resolver.ErrNoEligibleApprover, KindConfiguration},
		{ErrCommentRequired, KindValidation},
		{&WorkflowError{Op: OpApprove, Err: ErrInvalidTransition}, KindPrecondition},
		{errors.New("disk full"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestWorkflowError_Error(t *testing.T) {
	err := &WorkflowError{
		Op:          OpApprove,
		ReportID:    7,
		Status:      entity.ReportStatusUnderReview,
		CurrentStep: ladder.StepDepartmentHeadRisk,
		Err:         ErrStaleApprovalState,
	}
	assert.Equal(t, "approve report 7: approval state changed concurrently (status=UNDER_REVIEW, step=DEPARTMENT_HEAD_RISK)", err.Error())
	assert.Equal(t, KindPrecondition, err.Kind())
}

func TestEngine_ReassignRacingApproveOneWins(t *testing.T) {
	for round := 0; round < 10; round++ {
		f := newFixture(t, nil)
		ctx := context.Background()
		report := f.submitted(t)
		auditBefore := f.historyLen(t, report.ID)

		var reassignErr, approveErr error
		var g errgroup.Group
		g.Go(func() error {
			_, reassignErr = f.engine.Reassign(ctx, report.ID, actor("admin"), ladder.StepRiskAnalyst, "u5", "u2 on leave")
			return nil
		})
		g.Go(func() error {
			_, approveErr = f.engine.Approve(ctx, report.ID, actor("u2"), "")
			return nil
		})
		require.NoError(t, g.Wait())

		records, err := f.approvals.ListByReport(ctx, report.ID)
		require.NoError(t, err)
		var pending []*entity.ApprovalRecord
		for _, r := range records {
			if r.IsPending() {
				pending = append(pending, r)
			}
		}
		require.Len(t, pending, 1, "round %d", round)
		assert.Equal(t, auditBefore+1, f.historyLen(t, report.ID), "round %d", round)

		switch {
		case reassignErr == nil && approveErr != nil:
			require.ErrorIs(t, approveErr, ErrNotAuthorizedForStep)
			assert.Equal(t, ladder.StepRiskAnalyst, pending[0].Step)
			assert.Equal(t, "u5", pending[0].AssignedTo)
		case approveErr == nil && reassignErr != nil:
			require.ErrorIs(t, reassignErr, ErrStaleApprovalState)
			assert.Equal(t, KindPrecondition, KindOf(reassignErr))
			assert.Equal(t, ladder.StepDepartmentHeadBusiness, pending[0].Step)
			assert.Equal(t, "u3", pending[0].AssignedTo)
		default:
			t.Fatalf("round %d: want exactly one winner, got reassign=%v approve=%v", round, reassignErr, approveErr)
		}
	}
}

func TestEngine_ReassignDecidedStepIsStale(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	_, err := f.engine.Approve(ctx, report.ID, actor("u2"), "")
	require.NoError(t, err)

	_, err = f.engine.Reassign(ctx, report.ID, actor("admin"), ladder.StepRiskAnalyst, "u5", "")
	require.ErrorIs(t, err, ErrStaleApprovalState)

	var werr *WorkflowError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, entity.ReportStatusUnderReview, werr.Status)
	assert.Equal(t, ladder.StepDepartmentHeadBusiness, werr.CurrentStep)

	_, err = f.engine.Reassign(ctx, report.ID, actor("admin"), ladder.StepDepartmentHeadRisk, "u4", "")
	require.ErrorIs(t, err, ErrNoPendingApproval)
}

// interleavedTx commits afterRead once, between the first read transaction
// and whatever the caller does with its result
type interleavedTx struct {
	port.TransactionManager
	once      sync.Once
	afterRead func()
}

func (t *interleavedTx) WithReadTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	err := t.TransactionManager.WithReadTransaction(ctx, fn)
	t.once.Do(t.afterRead)
	return err
}

func TestEngine_SnapshotReadBeforeConcurrentWriteIsNotCached(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	var engine Engine
	var approveErr error
	tx := &interleavedTx{TransactionManager: f.tx}
	tx.afterRead = func() {
		_, approveErr = engine.Approve(ctx, report.ID, actor("u2"), "")
	}
	engine = NewEngine(f.reports, f.approvals, f.audit, tx, f.resolver, f.dir, WithCache(cache.NewLRU(cache.Config{})))

	step, ok, err := engine.CurrentStep(ctx, report.ID)
	require.NoError(t, err)
	require.NoError(t, approveErr)
	assert.True(t, ok)
	assert.Equal(t, ladder.StepRiskAnalyst, step, "first read reflects the state before the approve")

	step, ok, err = engine.CurrentStep(ctx, report.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ladder.StepDepartmentHeadBusiness, step)
	assert.Equal(t, f.pending(t, report.ID).Step, step)
}

func TestSnapshotCache_StoreAfterInvalidateIsDropped(t *testing.T) {
	c := newSnapshotCache(cache.NewLRU(cache.Config{}))
	snap := &Snapshot{Report: &entity.Report{ID: 7, Status: entity.ReportStatusSubmitted}}

	gen := c.generation(7)
	c.invalidate(7)
	assert.False(t, c.store(7, gen, snap))
	_, ok := c.get(7)
	assert.False(t, ok)

	// other stripes are unaffected
	assert.True(t, c.store(8, c.generation(8), &Snapshot{Report: &entity.Report{ID: 8}}))

	gen = c.generation(7)
	require.True(t, c.store(7, gen, snap))
	got, ok := c.get(7)
	require.True(t, ok)
	assert.Equal(t, entity.ReportStatusSubmitted, got.Report.Status)
	assert.NotSame(t, snap, got)

	c.invalidate(7)
	_, ok = c.get(7)
	assert.False(t, ok)
}

// unreachableRoles fails every role lookup
type unreachableRoles struct {
	port.UserDirectory
	err error
}

func (d unreachableRoles) RolesOf(ctx context.Context, userID string) ([]string, error) {
	return nil, d.err
}

func TestEngine_RoleLookupFailureIsInternal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	report := f.submitted(t)

	down := errors.New("directory unavailable")
	engine := NewEngine(f.reports, f.approvals, f.audit, f.tx, f.resolver, unreachableRoles{UserDirectory: f.dir, err: down})

	_, err := engine.Override(ctx, report.ID, actor("u3"), "finalize")
	require.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, ErrOverrideNotPermitted)
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = engine.Withdraw(ctx, report.ID, actor("admin"))
	require.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, ErrNotReportOwner)
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = engine.CanOverride(ctx, report.ID, actor("u3"))
	require.ErrorIs(t, err, down)

	_, err = engine.CanView(ctx, report.ID, actor("u9"))
	require.ErrorIs(t, err, down)

	assert.Equal(t, 1, f.historyLen(t, report.ID))

	// roles attached by the caller need no lookup
	_, err = engine.Withdraw(ctx, report.ID, entity.Actor{ID: "admin", Roles: []string{ladder.RoleSuperAdmin}})
	require.NoError(t, err)
}
