package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ApprovalRecordRepository implements port.ApprovalRecordRepository
type ApprovalRecordRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewApprovalRecordRepository creates a new approval record repository
func NewApprovalRecordRepository(db *sql.DB, logger *zap.Logger) port.ApprovalRecordRepository {
	return &ApprovalRecordRepository{
		db:     db,
		logger: logger,
	}
}

const approvalColumns = `id, report_id, step, state, assigned_to, assigned_at,
	decided_by, decided_at, version, created_at, updated_at`

// Create inserts a record at version 1
func (r *ApprovalRecordRepository) Create(ctx context.Context, record *entity.ApprovalRecord) error {
	if !record.Step.IsValid() {
		return fmt.Errorf("create approval record: unknown step %q", record.Step)
	}

	now := time.Now().UTC()
	if record.State == "" {
		record.State = entity.ApprovalStatePending
	}
	record.Version = 1
	record.CreatedAt = now
	record.UpdatedAt = now

	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO approval_records (
			report_id, step, step_order, state, assigned_to, assigned_at,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ReportID,
		record.Step,
		ladder.Position(record.Step),
		record.State,
		nullString(record.AssignedTo),
		nullTimePtr(record.AssignedAt),
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create approval record",
			zap.Int64("report_id", record.ReportID),
			zap.String("step", record.Step.String()),
			zap.Error(err))
		return fmt.Errorf("failed to create approval record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	record.ID = id
	return nil
}

// GetPending returns the lowest-step pending record of a report
func (r *ApprovalRecordRepository) GetPending(ctx context.Context, reportID int64) (*entity.ApprovalRecord, error) {
	row := sqlite.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_records
		WHERE report_id = ? AND state = ?
		ORDER BY step_order ASC
		LIMIT 1`,
		reportID, entity.ApprovalStatePending)

	record, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get pending approval", zap.Int64("report_id", reportID), zap.Error(err))
		return nil, fmt.Errorf("failed to get pending approval: %w", err)
	}
	return record, nil
}

// LockPending is GetPending; the surrounding IMMEDIATE transaction already
// excludes other writers.
func (r *ApprovalRecordRepository) LockPending(ctx context.Context, reportID int64) (*entity.ApprovalRecord, error) {
	return r.GetPending(ctx, reportID)
}

// Decide moves a pending record to state if it is still at expectedVersion
func (r *ApprovalRecordRepository) Decide(ctx context.Context, id, expectedVersion int64, state entity.ApprovalState, decidedBy string, at time.Time) error {
	at = at.UTC()
	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE approval_records
		SET state = ?, decided_by = ?, decided_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND state = ?`,
		state, decidedBy, at, at, id, expectedVersion, entity.ApprovalStatePending)
	if err != nil {
		r.logger.Error("Failed to decide approval record", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to decide approval record: %w", err)
	}
	return checkVersioned(result, id)
}

// Reassign changes the assignee of a pending record if it is still at expectedVersion
func (r *ApprovalRecordRepository) Reassign(ctx context.Context, id, expectedVersion int64, assignee string, at time.Time) error {
	at = at.UTC()
	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE approval_records
		SET assigned_to = ?, assigned_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ? AND state = ?`,
		assignee, at, at, id, expectedVersion, entity.ApprovalStatePending)
	if err != nil {
		r.logger.Error("Failed to reassign approval record", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to reassign approval record: %w", err)
	}
	return checkVersioned(result, id)
}

func checkVersioned(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("approval record %d: %w", id, port.ErrVersionConflict)
	}
	return nil
}

// ApproveAllPending approves every pending record of a report
func (r *ApprovalRecordRepository) ApproveAllPending(ctx context.Context, reportID int64, decidedBy string, at time.Time) (int64, error) {
	at = at.UTC()
	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE approval_records
		SET state = ?, decided_by = ?, decided_at = ?, version = version + 1, updated_at = ?
		WHERE report_id = ? AND state = ?`,
		entity.ApprovalStateApproved, decidedBy, at, at, reportID, entity.ApprovalStatePending)
	if err != nil {
		r.logger.Error("Failed to approve pending records", zap.Int64("report_id", reportID), zap.Error(err))
		return 0, fmt.Errorf("failed to approve pending records: %w", err)
	}
	return result.RowsAffected()
}

// DeleteByReport removes every record of a report
func (r *ApprovalRecordRepository) DeleteByReport(ctx context.Context, reportID int64) (int64, error) {
	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx,
		`DELETE FROM approval_records WHERE report_id = ?`, reportID)
	if err != nil {
		r.logger.Error("Failed to delete approval records", zap.Int64("report_id", reportID), zap.Error(err))
		return 0, fmt.Errorf("failed to delete approval records: %w", err)
	}
	return result.RowsAffected()
}

// ListByReport returns a report's records in ladder order
func (r *ApprovalRecordRepository) ListByReport(ctx context.Context, reportID int64) ([]*entity.ApprovalRecord, error) {
	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_records
		WHERE report_id = ?
		ORDER BY step_order ASC`, reportID)
	if err != nil {
		r.logger.Error("Failed to list approval records", zap.Int64("report_id", reportID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approval records: %w", err)
	}
	defer rows.Close()

	return collectApprovals(rows)
}

// ListPendingByAssignee returns the inbox of userID
func (r *ApprovalRecordRepository) ListPendingByAssignee(ctx context.Context, userID string) ([]*entity.PendingApproval, error) {
	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT a.id, a.report_id, a.step, a.state, a.assigned_to, a.assigned_at,
			a.decided_by, a.decided_at, a.version, a.created_at, a.updated_at,
			rp.title, rp.created_by, rp.status, rp.submitted_at
		FROM approval_records a
		JOIN reports rp ON rp.id = a.report_id
		WHERE a.assigned_to = ? AND a.state = ? AND rp.status IN (?, ?)
		ORDER BY rp.submitted_at ASC, a.id ASC`,
		userID, entity.ApprovalStatePending,
		entity.ReportStatusSubmitted, entity.ReportStatusUnderReview)
	if err != nil {
		r.logger.Error("Failed to list pending approvals", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var items []*entity.PendingApproval
	for rows.Next() {
		var (
			item        entity.PendingApproval
			status      string
			submittedAt sql.NullTime
		)
		rec, err := scanApprovalWith(rows, &item.ReportTitle, &item.ReportOwner, &status, &submittedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending approval: %w", err)
		}
		item.Record = *rec
		item.Status = entity.ReportStatus(status)
		item.SubmittedAt = timePtr(submittedAt)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// ListPendingAssignedBefore returns pending records assigned before t
func (r *ApprovalRecordRepository) ListPendingAssignedBefore(ctx context.Context, t time.Time) ([]*entity.ApprovalRecord, error) {
	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_records
		WHERE state = ?
		ORDER BY step_order ASC, id ASC`, entity.ApprovalStatePending)
	if err != nil {
		r.logger.Error("Failed to list pending approvals", zap.Error(err))
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	all, err := collectApprovals(rows)
	if err != nil {
		return nil, err
	}

	// filtered here: sqlite compares DATETIME as text
	var stale []*entity.ApprovalRecord
	for _, rec := range all {
		if rec.AssignedAt != nil && rec.AssignedAt.Before(t) {
			stale = append(stale, rec)
		}
	}
	return stale, nil
}

// HasDecided reports whether userID is the assignee of a decided record of the report
func (r *ApprovalRecordRepository) HasDecided(ctx context.Context, reportID int64, userID string) (bool, error) {
	var exists bool
	err := sqlite.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM approval_records
			WHERE report_id = ? AND assigned_to = ? AND state IN (?, ?)
		)`,
		reportID, userID, entity.ApprovalStateApproved, entity.ApprovalStateRejected).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check decided approvals: %w", err)
	}
	return exists, nil
}

func collectApprovals(rows *sql.Rows) ([]*entity.ApprovalRecord, error) {
	var records []*entity.ApprovalRecord
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanApproval(row rowScanner) (*entity.ApprovalRecord, error) {
	return scanApprovalWith(row)
}

// scanApprovalWith scans approvalColumns followed by extra destinations
func scanApprovalWith(row rowScanner, extra ...interface{}) (*entity.ApprovalRecord, error) {
	var (
		rec        entity.ApprovalRecord
		step       string
		state      string
		assignedTo sql.NullString
		assignedAt sql.NullTime
		decidedBy  sql.NullString
		decidedAt  sql.NullTime
	)
	dest := []interface{}{
		&rec.ID,
		&rec.ReportID,
		&step,
		&state,
		&assignedTo,
		&assignedAt,
		&decidedBy,
		&decidedAt,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rec.Step = ladder.Step(step)
	rec.State = entity.ApprovalState(state)
	rec.AssignedTo = assignedTo.String
	rec.AssignedAt = timePtr(assignedAt)
	rec.DecidedBy = decidedBy.String
	rec.DecidedAt = timePtr(decidedAt)
	return &rec, nil
}

// Verify interface compliance
var _ port.ApprovalRecordRepository = (*ApprovalRecordRepository)(nil)
