package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
	"go.uber.org/zap"
)

// AuditLogRepository implements port.AuditLogRepository
type AuditLogRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(pool *pgxpool.Pool, logger *zap.Logger) port.AuditLogRepository {
	return &AuditLogRepository{pool: pool, logger: logger}
}

// Append inserts an entry with the next sequence number of its report. Callers hold
// the report row lock, which serializes sequence allocation.
func (r *AuditLogRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	if !entry.Action.IsValid() {
		return fmt.Errorf("append audit entry: unknown action %q", entry.Action)
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	entry.OccurredAt = entry.OccurredAt.UTC()

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	var step *string
	if entry.Step != nil {
		s := entry.Step.String()
		step = &s
	}

	err := Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO audit_entries (
			report_id, sequence, actor_user_id, action, step, comment, metadata, occurred_at
		)
		SELECT $1::bigint, COALESCE(MAX(sequence), 0) + 1, $2, $3, $4, $5, $6, $7
		FROM audit_entries WHERE report_id = $1::bigint
		RETURNING id, sequence`,
		entry.ReportID, entry.ActorUserID, string(entry.Action), step, entry.Comment, metadata, entry.OccurredAt,
	).Scan(&entry.ID, &entry.Sequence)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.Int64("report_id", entry.ReportID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByReport returns entries newest first
func (r *AuditLogRepository) ListByReport(ctx context.Context, reportID int64) ([]*entity.AuditEntry, error) {
	return r.list(ctx, `WHERE report_id = $1 ORDER BY sequence DESC`, reportID)
}

// Timeline returns entries oldest first
func (r *AuditLogRepository) Timeline(ctx context.Context, reportID int64) ([]*entity.AuditEntry, error) {
	return r.list(ctx, `WHERE report_id = $1 ORDER BY sequence ASC`, reportID)
}

// ListSince returns entries of every report that occurred at or after since, oldest first
func (r *AuditLogRepository) ListSince(ctx context.Context, since time.Time) ([]*entity.AuditEntry, error) {
	return r.list(ctx, `WHERE occurred_at >= $1 ORDER BY occurred_at ASC, id ASC`, since.UTC())
}

func (r *AuditLogRepository) list(ctx context.Context, clause string, args ...interface{}) ([]*entity.AuditEntry, error) {
	rows, err := Conn(ctx, r.pool).Query(ctx, `
		SELECT id, report_id, sequence, actor_user_id, action, step, comment, metadata, occurred_at
		FROM audit_entries `+clause, args...)
	if err != nil {
		r.logger.Error("Failed to list audit entries", zap.Error(err))
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		var (
			entry  entity.AuditEntry
			action string
			step   *string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ReportID,
			&entry.Sequence,
			&entry.ActorUserID,
			&action,
			&step,
			&entry.Comment,
			&entry.Metadata,
			&entry.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = entity.Action(action)
		if step != nil {
			s := ladder.Step(*step)
			entry.Step = &s
		}
		if len(entry.Metadata) == 0 {
			entry.Metadata = nil
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// CountByReport returns the number of entries for a report
func (r *AuditLogRepository) CountByReport(ctx context.Context, reportID int64) (int, error) {
	var n int
	if err := Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE report_id = $1`, reportID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// Verify interface compliance
var _ port.AuditLogRepository = (*AuditLogRepository)(nil)
