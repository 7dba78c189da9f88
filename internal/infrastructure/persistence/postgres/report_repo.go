package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"go.uber.org/zap"
)

// ReportRepository implements port.ReportRepository
type ReportRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewReportRepository creates a new report repository
func NewReportRepository(pool *pgxpool.Pool, logger *zap.Logger) port.ReportRepository {
	return &ReportRepository{pool: pool, logger: logger}
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

	err := Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO reports (title, status, rejection_reason, created_by, submitted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		report.Title, string(report.Status), report.RejectionReason, report.CreatedBy,
		report.SubmittedAt, report.CreatedAt, report.UpdatedAt,
	).Scan(&report.ID)
	if err != nil {
		r.logger.Error("Failed to create report", zap.Error(err))
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetByID retrieves a report by ID
func (r *ReportRepository) GetByID(ctx context.Context, id int64) (*entity.Report, error) {
	return r.get(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1`, id)
}

// GetForUpdate reads the report and locks its row until the transaction ends
func (r *ReportRepository) GetForUpdate(ctx context.Context, id int64) (*entity.Report, error) {
	return r.get(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = $1 FOR UPDATE`, id)
}

func (r *ReportRepository) get(ctx context.Context, query string, id int64) (*entity.Report, error) {
	report, err := scanReport(Conn(ctx, r.pool).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get report", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("query report: %w", err)
	}
	return report, nil
}

// Update writes the workflow-owned columns of a report
func (r *ReportRepository) Update(ctx context.Context, report *entity.Report) error {
	report.UpdatedAt = time.Now().UTC()

	tag, err := Conn(ctx, r.pool).Exec(ctx, `
		UPDATE reports
		SET status = $1, rejection_reason = $2, submitted_at = $3, updated_at = $4
		WHERE id = $5`,
		string(report.Status), report.RejectionReason, report.SubmittedAt, report.UpdatedAt, report.ID)
	if err != nil {
		r.logger.Error("Failed to update report", zap.Int64("id", report.ID), zap.Error(err))
		return fmt.Errorf("update report: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.CreatedBy != "" {
		where = append(where, "created_by = "+arg(filter.CreatedBy))
	}
	if filter.SubmittedFrom != nil {
		where = append(where, "submitted_at >= "+arg(filter.SubmittedFrom.UTC()))
	}

	query := `SELECT ` + reportColumns + ` FROM reports`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit) + ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list reports", zap.Error(err))
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var reports []*entity.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

// CountByStatus returns the number of reports per status
func (r *ReportRepository) CountByStatus(ctx context.Context) (map[entity.ReportStatus]int, error) {
	rows, err := Conn(ctx, r.pool).Query(ctx, `SELECT status, COUNT(*) FROM reports GROUP BY status`)
	if err != nil {
		r.logger.Error("Failed to count reports", zap.Error(err))
		return nil, fmt.Errorf("count reports: %w", err)
	}
	defer rows.Close()

	counts := make(map[entity.ReportStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan report count: %w", err)
		}
		counts[entity.ReportStatus(status)] = n
	}
	return counts, rows.Err()
}

func scanReport(row pgx.Row) (*entity.Report, error) {
	var (
		report entity.Report
		status string
	)
	if err := row.Scan(
		&report.ID,
		&report.Title,
		&status,
		&report.RejectionReason,
		&report.CreatedBy,
		&report.SubmittedAt,
		&report.CreatedAt,
		&report.UpdatedAt,
	); err != nil {
		return nil, err
	}
	report.Status = entity.ReportStatus(status)
	return &report, nil
}

// Verify interface compliance
var _ port.ReportRepository = (*ReportRepository)(nil)
