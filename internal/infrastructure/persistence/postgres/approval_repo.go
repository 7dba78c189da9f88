package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
	"go.uber.org/zap"
)

// ApprovalRecordRepository implements port.ApprovalRecordRepository
type ApprovalRecordRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewApprovalRecordRepository creates a new approval record repository
func NewApprovalRecordRepository(pool *pgxpool.Pool, logger *zap.Logger) port.ApprovalRecordRepository {
	return &ApprovalRecordRepository{pool: pool, logger: logger}
}

const approvalColumns = `id, report_id, step, state, assigned_to, assigned_at,
	decided_by, decided_at, version, created_at, updated_at`

const pendingQuery = `SELECT ` + approvalColumns + `
	FROM approval_records
	WHERE report_id = $1 AND state = 'PENDING'
	ORDER BY step_order ASC
	LIMIT 1`

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

	var assignee *string
	if record.AssignedTo != "" {
		assignee = &record.AssignedTo
	}

	err := Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO approval_records (
			report_id, step, step_order, state, assigned_to, assigned_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		record.ReportID, record.Step.String(), ladder.Position(record.Step), string(record.State),
		assignee, record.AssignedAt, record.Version, record.CreatedAt, record.UpdatedAt,
	).Scan(&record.ID)
	if err != nil {
		r.logger.Error("Failed to create approval record",
			zap.Int64("report_id", record.ReportID),
			zap.String("step", record.Step.String()),
			zap.Error(err))
		return fmt.Errorf("insert approval record: %w", err)
	}
	return nil
}

// GetPending returns the lowest-step pending record of a report
func (r *ApprovalRecordRepository) GetPending(ctx context.Context, reportID int64) (*entity.ApprovalRecord, error) {
	return r.pending(ctx, pendingQuery, reportID)
}

// LockPending is GetPending holding the row lock until the transaction ends
func (r *ApprovalRecordRepository) LockPending(ctx context.Context, reportID int64) (*entity.ApprovalRecord, error) {
	return r.pending(ctx, pendingQuery+` FOR UPDATE`, reportID)
}

func (r *ApprovalRecordRepository) pending(ctx context.Context, query string, reportID int64) (*entity.ApprovalRecord, error) {
	rec, err := scanApproval(Conn(ctx, r.pool).QueryRow(ctx, query, reportID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get pending approval", zap.Int64("report_id", reportID), zap.Error(err))
		return nil, fmt.Errorf("query pending approval: %w", err)
	}
	return rec, nil
}

// Decide moves a pending record to state if it is still at expectedVersion
func (r *ApprovalRecordRepository) Decide(ctx context.Context, id, expectedVersion int64, state entity.ApprovalState, decidedBy string, at time.Time) error {
	at = at.UTC()
	tag, err := Conn(ctx, r.pool).Exec(ctx, `
		UPDATE approval_records
		SET state = $1, decided_by = $2, decided_at = $3, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5 AND state = 'PENDING'`,
		string(state), decidedBy, at, id, expectedVersion)
	if err != nil {
		r.logger.Error("Failed to decide approval record", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("decide approval record: %w", err)
	}
	return checkVersioned(tag, id)
}

// Reassign changes the assignee of a pending record if it is still at expectedVersion
func (r *ApprovalRecordRepository) Reassign(ctx context.Context, id, expectedVersion int64, assignee string, at time.Time) error {
	at = at.UTC()
	tag, err := Conn(ctx, r.pool).Exec(ctx, `
		UPDATE approval_records
		SET assigned_to = $1, assigned_at = $2, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND state = 'PENDING'`,
		assignee, at, id, expectedVersion)
	if err != nil {
		r.logger.Error("Failed to reassign approval record", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("reassign approval record: %w", err)
	}
	return checkVersioned(tag, id)
}

func checkVersioned(tag pgconn.CommandTag, id int64) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("approval record %d: %w", id, port.ErrVersionConflict)
	}
	return nil
}

// ApproveAllPending approves every pending record of a report
func (r *ApprovalRecordRepository) ApproveAllPending(ctx context.Context, reportID int64, decidedBy string, at time.Time) (int64, error) {
	at = at.UTC()
	tag, err := Conn(ctx, r.pool).Exec(ctx, `
		UPDATE approval_records
		SET state = 'APPROVED', decided_by = $1, decided_at = $2, version = version + 1, updated_at = $2
		WHERE report_id = $3 AND state = 'PENDING'`,
		decidedBy, at, reportID)
	if err != nil {
		r.logger.Error("Failed to approve pending records", zap.Int64("report_id", reportID), zap.Error(err))
		return 0, fmt.Errorf("approve pending records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByReport removes every record of a report
func (r *ApprovalRecordRepository) DeleteByReport(ctx context.Context, reportID int64) (int64, error) {
	tag, err := Conn(ctx, r.pool).Exec(ctx, `DELETE FROM approval_records WHERE report_id = $1`, reportID)
	if err != nil {
		r.logger.Error("Failed to delete approval records", zap.Int64("report_id", reportID), zap.Error(err))
		return 0, fmt.Errorf("delete approval records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByReport returns a report's records in ladder order
func (r *ApprovalRecordRepository) ListByReport(ctx context.Context, reportID int64) ([]*entity.ApprovalRecord, error) {
	rows, err := Conn(ctx, r.pool).Query(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_records
		WHERE report_id = $1
		ORDER BY step_order ASC`, reportID)
	if err != nil {
		r.logger.Error("Failed to list approval records", zap.Int64("report_id", reportID), zap.Error(err))
		return nil, fmt.Errorf("query approval records: %w", err)
	}
	return collectApprovals(rows)
}

// ListPendingByAssignee returns the inbox of userID
func (r *ApprovalRecordRepository) ListPendingByAssignee(ctx context.Context, userID string) ([]*entity.PendingApproval, error) {
	rows, err := Conn(ctx, r.pool).Query(ctx, `
		SELECT a.id, a.report_id, a.step, a.state, a.assigned_to, a.assigned_at,
			a.decided_by, a.decided_at, a.version, a.created_at, a.updated_at,
			rp.title, rp.created_by, rp.status, rp.submitted_at
		FROM approval_records a
		JOIN reports rp ON rp.id = a.report_id
		WHERE a.assigned_to = $1 AND a.state = 'PENDING' AND rp.status IN ('SUBMITTED', 'UNDER_REVIEW')
		ORDER BY rp.submitted_at ASC, a.id ASC`, userID)
	if err != nil {
		r.logger.Error("Failed to list pending approvals", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("query pending approvals: %w", err)
	}
	defer rows.Close()

	var items []*entity.PendingApproval
	for rows.Next() {
		var (
			item   entity.PendingApproval
			status string
		)
		rec, err := scanApprovalWith(rows, &item.ReportTitle, &item.ReportOwner, &status, &item.SubmittedAt)
		if err != nil {
			return nil, fmt.Errorf("scan pending approval: %w", err)
		}
		item.Record = *rec
		item.Status = entity.ReportStatus(status)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// ListPendingAssignedBefore returns pending records assigned before t
func (r *ApprovalRecordRepository) ListPendingAssignedBefore(ctx context.Context, t time.Time) ([]*entity.ApprovalRecord, error) {
	rows, err := Conn(ctx, r.pool).Query(ctx, `
		SELECT `+approvalColumns+`
		FROM approval_records
		WHERE state = 'PENDING' AND assigned_at < $1
		ORDER BY step_order ASC, id ASC`, t.UTC())
	if err != nil {
		r.logger.Error("Failed to list stale approvals", zap.Error(err))
		return nil, fmt.Errorf("query stale approvals: %w", err)
	}
	return collectApprovals(rows)
}

// HasDecided reports whether userID is the assignee of a decided record of the report
func (r *ApprovalRecordRepository) HasDecided(ctx context.Context, reportID int64, userID string) (bool, error) {
	var exists bool
	err := Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM approval_records
			WHERE report_id = $1 AND assigned_to = $2 AND state IN ('APPROVED', 'REJECTED')
		)`, reportID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check decided approvals: %w", err)
	}
	return exists, nil
}

func collectApprovals(rows pgx.Rows) ([]*entity.ApprovalRecord, error) {
	defer rows.Close()

	var records []*entity.ApprovalRecord
	for rows.Next() {
		rec, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanApproval(row pgx.Row) (*entity.ApprovalRecord, error) {
	return scanApprovalWith(row)
}

// scanApprovalWith scans approvalColumns followed by extra destinations
func scanApprovalWith(row pgx.Row, extra ...interface{}) (*entity.ApprovalRecord, error) {
	var (
		rec        entity.ApprovalRecord
		step       string
		state      string
		assignedTo *string
		decidedBy  *string
	)
	dest := []interface{}{
		&rec.ID,
		&rec.ReportID,
		&step,
		&state,
		&assignedTo,
		&rec.AssignedAt,
		&decidedBy,
		&rec.DecidedAt,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	rec.Step = ladder.Step(step)
	rec.State = entity.ApprovalState(state)
	if assignedTo != nil {
		rec.AssignedTo = *assignedTo
	}
	if decidedBy != nil {
		rec.DecidedBy = *decidedBy
	}
	return &rec, nil
}

// Verify interface compliance
var _ port.ApprovalRecordRepository = (*ApprovalRecordRepository)(nil)
