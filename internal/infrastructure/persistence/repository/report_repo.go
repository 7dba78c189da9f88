package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// ReportRepository implements port.ReportRepository
type ReportRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReportRepository creates a new report repository
func NewReportRepository(db *sql.DB, logger *zap.Logger) port.ReportRepository {
	return &ReportRepository{
		db:     db,
		logger: logger,
	}
}

const reportColumns = `id, title, status, rejection_reason, created_by, submitted_at, created_at, updated_at`

// Create inserts a report
func (r *ReportRepository) Create(ctx context.Context, report *entity.Report) error {
	now := time.Now().UTC()
	if report.Status == "" {
		report.Status = entity.ReportStatusDraft
	}
	report.CreatedAt = now
	report.UpdatedAt = now

	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO reports (title, status, rejection_reason, created_by, submitted_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.Title,
		report.Status,
		nullStringPtr(report.RejectionReason),
		report.CreatedBy,
		nullTimePtr(report.SubmittedAt),
		report.CreatedAt,
		report.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create report", zap.Error(err))
		return fmt.Errorf("failed to create report: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	report.ID = id
	return nil
}

// GetByID retrieves a report by ID
func (r *ReportRepository) GetByID(ctx context.Context, id int64) (*entity.Report, error) {
	row := sqlite.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+reportColumns+` FROM reports WHERE id = ?`, id)

	report, err := scanReport(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get report", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// GetForUpdate reads the report. Transactions on this backend begin IMMEDIATE,
// so the write lock is already held.
func (r *ReportRepository) GetForUpdate(ctx context.Context, id int64) (*entity.Report, error) {
	return r.GetByID(ctx, id)
}

// Update writes the workflow-owned columns of a report
func (r *ReportRepository) Update(ctx context.Context, report *entity.Report) error {
	report.UpdatedAt = time.Now().UTC()

	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE reports
		SET status = ?, rejection_reason = ?, submitted_at = ?, updated_at = ?
		WHERE id = ?`,
		report.Status,
		nullStringPtr(report.RejectionReason),
		nullTimePtr(report.SubmittedAt),
		report.UpdatedAt,
		report.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update report", zap.Int64("id", report.ID), zap.Error(err))
		return fmt.Errorf("failed to update report: %w", err)
	}

	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("update report %d: %w", report.ID, port.ErrNotFound)
	}
	return nil
}

// List returns reports matching filter, newest first
func (r *ReportRepository) List(ctx context.Context, filter port.ReportFilter) ([]*entity.Report, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CreatedBy != "" {
		where = append(where, "created_by = ?")
		args = append(args, filter.CreatedBy)
	}
	if filter.SubmittedFrom != nil {
		where = append(where, "submitted_at >= ?")
		args = append(args, filter.SubmittedFrom.UTC())
	}

	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list reports", zap.Error(err))
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*entity.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// CountByStatus returns the number of reports per status
func (r *ReportRepository) CountByStatus(ctx context.Context) (map[entity.ReportStatus]int, error) {
	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT status, COUNT(*) FROM reports GROUP BY status`)
	if err != nil {
		r.logger.Error("Failed to count reports", zap.Error(err))
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.ReportStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan report count: %w", err)
		}
		counts[entity.ReportStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanReport(row rowScanner) (*entity.Report, error) {
	var (
		report      entity.Report
		status      string
		reason      sql.NullString
		submittedAt sql.NullTime
	)
	if err := row.Scan(
		&report.ID,
		&report.Title,
		&status,
		&reason,
		&report.CreatedBy,
		&submittedAt,
		&report.CreatedAt,
		&report.UpdatedAt,
	); err != nil {
		return nil, err
	}
	report.Status = entity.ReportStatus(status)
	report.RejectionReason = stringPtr(reason)
	report.SubmittedAt = timePtr(submittedAt)
	return &report, nil
}

// Verify interface compliance
var _ port.ReportRepository = (*ReportRepository)(nil)
