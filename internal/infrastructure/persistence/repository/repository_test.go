package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/sqlite"
	"github.com/rhadityaaa/ewd-tools/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestDB(t *testing.T) (*sql.DB, *sqlite.DB) {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "repo.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.NewMigrator(db.DB, logger).Run(context.Background(), sqlite.Migrations, sqlite.MigrationsDir))
	return db.DB, sqlite.NewDB(db.DB, logger)
}

func createReport(t *testing.T, repo port.ReportRepository, owner string) *entity.Report {
	t.Helper()
	r := &entity.Report{Title: "EWS Q3", CreatedBy: owner}
	require.NoError(t, repo.Create(context.Background(), r))
	return r
}

func TestReportRepository_CRUD(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewReportRepository(db, zap.NewNop())
	ctx := context.Background()

	r := createReport(t, repo, "owner-1")
	assert.NotZero(t, r.ID)
	assert.Equal(t, entity.ReportStatusDraft, r.Status)

	now := time.Now().UTC()
	reason := "fix collateral"
	r.Status = entity.ReportStatusRejected
	r.RejectionReason = &reason
	r.SubmittedAt = &now
	require.NoError(t, repo.Update(ctx, r))

	got, err := repo.GetByID(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, entity.ReportStatusRejected, got.Status)
	require.NotNil(t, got.RejectionReason)
	assert.Equal(t, reason, *got.RejectionReason)
	require.NotNil(t, got.SubmittedAt)
	assert.WithinDuration(t, now, *got.SubmittedAt, time.Second)

	missing, err := repo.GetByID(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	err = repo.Update(ctx, &entity.Report{ID: 9999, Status: entity.ReportStatusDraft})
	assert.ErrorIs(t, err, port.ErrNotFound)

	createReport(t, repo, "owner-2")
	list, err := repo.List(ctx, port.ReportFilter{CreatedBy: "owner-2"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[entity.ReportStatusRejected])
	assert.Equal(t, 1, counts[entity.ReportStatusDraft])
}

func TestApprovalRecordRepository_DecideVersionCheck(t *testing.T) {
	db, _ := openTestDB(t)
	reports := NewReportRepository(db, zap.NewNop())
	repo := NewApprovalRecordRepository(db, zap.NewNop())
	ctx := context.Background()

	r := createReport(t, reports, "owner")
	now := time.Now().UTC()
	rec := &entity.ApprovalRecord{ReportID: r.ID, Step: ladder.StepRiskAnalyst, AssignedTo: "u-risk", AssignedAt: &now}
	require.NoError(t, repo.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	pending, err := repo.GetPending(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, rec.ID, pending.ID)
	assert.Equal(t, "u-risk", pending.AssignedTo)

	require.NoError(t, repo.Decide(ctx, rec.ID, 1, entity.ApprovalStateApproved, "u-risk", now))

	// same version again loses
	err = repo.Decide(ctx, rec.ID, 1, entity.ApprovalStateApproved, "u-risk", now)
	assert.ErrorIs(t, err, port.ErrVersionConflict)

	// correct version but no longer pending also loses
	err = repo.Decide(ctx, rec.ID, 2, entity.ApprovalStateRejected, "u-risk", now)
	assert.ErrorIs(t, err, port.ErrVersionConflict)

	pending, err = repo.GetPending(ctx, r.ID)
	require.NoError(t, err)
	assert.Nil(t, pending)

	decided, err := repo.HasDecided(ctx, r.ID, "u-risk")
	require.NoError(t, err)
	assert.True(t, decided)

	decided, err = repo.HasDecided(ctx, r.ID, "someone-else")
	require.NoError(t, err)
	assert.False(t, decided)
}

func TestApprovalRecordRepository_Uniqueness(t *testing.T) {
	db, _ := openTestDB(t)
	reports := NewReportRepository(db, zap.NewNop())
	repo := NewApprovalRecordRepository(db, zap.NewNop())
	ctx := context.Background()

	r := createReport(t, reports, "owner")
	require.NoError(t, repo.Create(ctx, &entity.ApprovalRecord{ReportID: r.ID, Step: ladder.StepRiskAnalyst, AssignedTo: "a"}))

	// second record for the same step
	err := repo.Create(ctx, &entity.ApprovalRecord{ReportID: r.ID, Step: ladder.StepRiskAnalyst, AssignedTo: "b"})
	assert.Error(t, err)

	// a second PENDING record on another step
	err = repo.Create(ctx, &entity.ApprovalRecord{ReportID: r.ID, Step: ladder.StepDepartmentHeadBusiness, AssignedTo: "b"})
	assert.Error(t, err)

	err = repo.Create(ctx, &entity.ApprovalRecord{ReportID: r.ID, Step: ladder.Step("BOGUS")})
	assert.Error(t, err)
}

func TestApprovalRecordRepository_ReassignApproveAllDelete(t *testing.T) {
	db, _ := openTestDB(t)
	reports := NewReportRepository(db, zap.NewNop())
	repo := NewApprovalRecordRepository(db, zap.NewNop())
	ctx := context.Background()

	r := createReport(t, reports, "owner")
	old := time.Now().UTC().Add(-96 * time.Hour)
	rec := &entity.ApprovalRecord{ReportID: r.ID, Step: ladder.StepRiskAnalyst, AssignedTo: "a", AssignedAt: &old}
	require.NoError(t, repo.Create(ctx, rec))

	stale, err := repo.ListPendingAssignedBefore(ctx, time.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	now := time.Now().UTC()
	require.NoError(t, repo.Reassign(ctx, rec.ID, 1, "b", now))
	assert.ErrorIs(t, repo.Reassign(ctx, rec.ID, 1, "c", now), port.ErrVersionConflict)

	pending, err := repo.GetPending(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "b", pending.AssignedTo)
	assert.Equal(t, int64(2), pending.Version)

	n, err := repo.ApproveAllPending(ctx, r.ID, "boss", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err := repo.ListByReport(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, entity.ApprovalStateApproved, records[0].State)
	assert.Equal(t, "boss", records[0].DecidedBy)

	n, err = repo.DeleteByReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	records, err = repo.ListByReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestApprovalRecordRepository_ListPendingByAssignee(t *testing.T) {
	db, _ := openTestDB(t)
	reports := NewReportRepository(db, zap.NewNop())
	repo := NewApprovalRecordRepository(db, zap.NewNop())
	ctx := context.Background()

	first := time.Now().UTC().Add(-2 * time.Hour)
	second := time.Now().UTC().Add(-1 * time.Hour)

	for _, submitted := range []time.Time{second, first} {
		at := submitted
		r := createReport(t, reports, "owner")
		r.Status = entity.ReportStatusSubmitted
		r.SubmittedAt = &at
		require.NoError(t, reports.Update(ctx, r))
		require.NoError(t, repo.Create(ctx, &entity.ApprovalRecord{ReportID: r.ID, Step: ladder.StepRiskAnalyst, AssignedTo: "u-risk", AssignedAt: &at}))
	}

	// draft report with a stray pending record is excluded
	draft := createReport(t, reports, "owner")
	require.NoError(t, repo.Create(ctx, &entity.ApprovalRecord{ReportID: draft.ID, Step: ladder.StepRiskAnalyst, AssignedTo: "u-risk"}))

	inbox, err := repo.ListPendingByAssignee(ctx, "u-risk")
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.True(t, inbox[0].SubmittedAt.Before(*inbox[1].SubmittedAt))
	assert.Equal(t, "EWS Q3", inbox[0].ReportTitle)
	assert.Equal(t, entity.ReportStatusSubmitted, inbox[0].Status)
}

func TestAuditLogRepository_SequenceAndImmutability(t *testing.T) {
	db, _ := openTestDB(t)
	reports := NewReportRepository(db, zap.NewNop())
	repo := NewAuditLogRepository(db, zap.NewNop())
	ctx := context.Background()

	r := createReport(t, reports, "owner")
	other := createReport(t, reports, "owner")

	step := ladder.StepRiskAnalyst
	comment := "not enough collateral"
	entries := []*entity.AuditEntry{
		{ReportID: r.ID, ActorUserID: "owner", Action: entity.ActionSubmit},
		{ReportID: other.ID, ActorUserID: "owner", Action: entity.ActionSubmit},
		{ReportID: r.ID, ActorUserID: "u-risk", Action: entity.ActionReject, Step: &step, Comment: &comment,
			Metadata: map[string]string{"k": "v"}},
	}
	for _, e := range entries {
		require.NoError(t, repo.Append(ctx, e))
	}
	assert.Equal(t, int64(1), entries[0].Sequence)
	assert.Equal(t, int64(1), entries[1].Sequence)
	assert.Equal(t, int64(2), entries[2].Sequence)

	newest, err := repo.ListByReport(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, entity.ActionReject, newest[0].Action)
	require.NotNil(t, newest[0].Step)
	assert.Equal(t, step, *newest[0].Step)
	assert.Equal(t, comment, *newest[0].Comment)
	assert.Equal(t, "v", newest[0].Metadata["k"])
	assert.Nil(t, newest[1].Step)

	timeline, err := repo.Timeline(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionSubmit, timeline[0].Action)

	n, err := repo.CountByReport(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = db.ExecContext(ctx, `UPDATE audit_entries SET comment = 'x'`)
	assert.Error(t, err)
	_, err = db.ExecContext(ctx, `DELETE FROM audit_entries`)
	assert.Error(t, err)

	assert.Error(t, repo.Append(ctx, &entity.AuditEntry{ReportID: r.ID, ActorUserID: "x", Action: "NOPE"}))
}

func TestDirectoryRepository(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewDirectoryRepository(db, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, repo.UpsertUser(ctx, &entity.User{ID: "u2", Name: "Rina", Roles: []string{"risk_analyst"}}))
	require.NoError(t, repo.UpsertUser(ctx, &entity.User{ID: "u1", Name: "Budi", Roles: []string{"risk_analyst", "super_admin"}}))

	users, err := repo.UsersWithRole(ctx, "risk_analyst")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	// upsert replaces roles
	require.NoError(t, repo.UpsertUser(ctx, &entity.User{ID: "u1", Name: "Budi S", Roles: []string{"kadept_risk"}}))
	roles, err := repo.RolesOf(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"kadept_risk"}, roles)

	u, err := repo.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "Budi S", u.Name)

	missing, err := repo.GetUser(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNotificationRepository(t *testing.T) {
	db, _ := openTestDB(t)
	repo := NewNotificationRepository(db, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, &entity.Notification{
			ReportID:        int64(i + 1),
			RecipientUserID: "owner",
			EventType:       "approved",
			Title:           "Report approved",
			Payload:         map[string]interface{}{"step": "RISK_ANALYST"},
		}))
	}

	items, err := repo.ListByRecipient(ctx, "owner", false, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[0].ReportID)
	assert.Equal(t, "RISK_ANALYST", items[0].Payload["step"])

	require.NoError(t, repo.MarkRead(ctx, items[0].ID, "owner", time.Now()))
	assert.ErrorIs(t, repo.MarkRead(ctx, items[0].ID, "intruder", time.Now()), port.ErrNotFound)

	unread, err := repo.CountUnread(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, 2, unread)

	n, err := repo.MarkAllRead(ctx, "owner", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	items, err = repo.ListByRecipient(ctx, "owner", true, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestTransactionRollback(t *testing.T) {
	db, tx := openTestDB(t)
	reports := NewReportRepository(db, zap.NewNop())
	ctx := context.Background()

	var id int64
	err := tx.WithTransaction(ctx, func(txCtx context.Context) error {
		r := &entity.Report{Title: "t", CreatedBy: "o"}
		if err := reports.Create(txCtx, r); err != nil {
			return err
		}
		id = r.ID
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	got, err := reports.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}
