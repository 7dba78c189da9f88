package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// AuditLogRepository implements port.AuditLogRepository
type AuditLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditLogRepository creates a new audit log repository
func NewAuditLogRepository(db *sql.DB, logger *zap.Logger) port.AuditLogRepository {
	return &AuditLogRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts an entry with the next sequence number of its report
func (r *AuditLogRepository) Append(ctx context.Context, entry *entity.AuditEntry) error {
	if !entry.Action.IsValid() {
		return fmt.Errorf("append audit entry: unknown action %q", entry.Action)
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now()
	}
	entry.OccurredAt = entry.OccurredAt.UTC()

	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	if entry.Metadata == nil {
		metadata = []byte("{}")
	}

	var step sql.NullString
	if entry.Step != nil {
		step = nullString(entry.Step.String())
	}

	conn := sqlite.Conn(ctx, r.db)
	result, err := conn.ExecContext(ctx, `
		INSERT INTO audit_entries (
			report_id, sequence, actor_user_id, action, step, comment, metadata, occurred_at
		)
		SELECT ?, COALESCE(MAX(sequence), 0) + 1, ?, ?, ?, ?, ?, ?
		FROM audit_entries WHERE report_id = ?`,
		entry.ReportID,
		entry.ActorUserID,
		entry.Action,
		step,
		nullStringPtr(entry.Comment),
		string(metadata),
		entry.OccurredAt,
		entry.ReportID,
	)
	if err != nil {
		r.logger.Error("Failed to append audit entry",
			zap.Int64("report_id", entry.ReportID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id

	if err := conn.QueryRowContext(ctx,
		`SELECT sequence FROM audit_entries WHERE id = ?`, id).Scan(&entry.Sequence); err != nil {
		return fmt.Errorf("failed to read audit sequence: %w", err)
	}
	return nil
}

// ListByReport returns entries newest first
func (r *AuditLogRepository) ListByReport(ctx context.Context, reportID int64) ([]*entity.AuditEntry, error) {
	return r.list(ctx, `WHERE report_id = ? ORDER BY sequence DESC`, reportID)
}

// Timeline returns entries oldest first
func (r *AuditLogRepository) Timeline(ctx context.Context, reportID int64) ([]*entity.AuditEntry, error) {
	return r.list(ctx, `WHERE report_id = ? ORDER BY sequence ASC`, reportID)
}

// ListSince returns entries of every report that occurred at or after since, oldest first
func (r *AuditLogRepository) ListSince(ctx context.Context, since time.Time) ([]*entity.AuditEntry, error) {
	return r.list(ctx, `WHERE occurred_at >= ? ORDER BY occurred_at ASC, id ASC`, since.UTC())
}

func (r *AuditLogRepository) list(ctx context.Context, clause string, args ...interface{}) ([]*entity.AuditEntry, error) {
	query := `
		SELECT id, report_id, sequence, actor_user_id, action, step, comment, metadata, occurred_at
		FROM audit_entries ` + clause

	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list audit entries", zap.Error(err))
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*entity.AuditEntry
	for rows.Next() {
		var (
			entry    entity.AuditEntry
			action   string
			step     sql.NullString
			comment  sql.NullString
			metadata string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ReportID,
			&entry.Sequence,
			&entry.ActorUserID,
			&action,
			&step,
			&comment,
			&metadata,
			&entry.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entry.Action = entity.Action(action)
		if step.Valid {
			s := ladder.Step(step.String)
			entry.Step = &s
		}
		entry.Comment = stringPtr(comment)
		if metadata != "" && metadata != "{}" && metadata != "null" {
			if err := json.Unmarshal([]byte(metadata), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

// CountByReport returns the number of entries for a report
func (r *AuditLogRepository) CountByReport(ctx context.Context, reportID int64) (int, error) {
	var n int
	if err := sqlite.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE report_id = ?`, reportID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return n, nil
}

// Verify interface compliance
var _ port.AuditLogRepository = (*AuditLogRepository)(nil)
