package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/sqlite"
	"go.uber.org/zap"
)

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores an in-app notification
func (r *NotificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = n.CreatedAt.UTC()

	payload := []byte("{}")
	if len(n.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(n.Payload); err != nil {
			return fmt.Errorf("failed to encode notification payload: %w", err)
		}
	}

	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO notifications (
			report_id, recipient_user_id, event_type, title, message, payload, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ReportID,
		n.RecipientUserID,
		n.EventType,
		n.Title,
		n.Message,
		string(payload),
		n.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.Int64("report_id", n.ReportID),
			zap.String("recipient", n.RecipientUserID),
			zap.Error(err))
		return fmt.Errorf("failed to create notification: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	n.ID = id
	return nil
}

// ListByRecipient returns a user's notifications, newest first
func (r *NotificationRepository) ListByRecipient(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	query := `
		SELECT id, report_id, recipient_user_id, event_type, title, message, payload, read_at, created_at
		FROM notifications
		WHERE recipient_user_id = ?`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := sqlite.Conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var items []*entity.Notification
	for rows.Next() {
		var (
			n       entity.Notification
			payload string
			readAt  sql.NullTime
		)
		if err := rows.Scan(
			&n.ID,
			&n.ReportID,
			&n.RecipientUserID,
			&n.EventType,
			&n.Title,
			&n.Message,
			&payload,
			&readAt,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if payload != "" && payload != "{}" {
			if err := json.Unmarshal([]byte(payload), &n.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode notification payload: %w", err)
			}
		}
		n.ReadAt = timePtr(readAt)
		items = append(items, &n)
	}
	return items, rows.Err()
}

// CountUnread returns the number of unread notifications of a user
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	if err := sqlite.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_user_id = ? AND read_at IS NULL`,
		userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return n, nil
}

// MarkRead marks one notification of userID as read. Already-read rows keep their timestamp.
func (r *NotificationRepository) MarkRead(ctx context.Context, id int64, userID string, at time.Time) error {
	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, ?)
		WHERE id = ? AND recipient_user_id = ?`,
		at.UTC(), id, userID)
	if err != nil {
		r.logger.Error("Failed to mark notification read", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %d: %w", id, port.ErrNotFound)
	}
	return nil
}

// MarkAllRead marks every unread notification of userID as read
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	result, err := sqlite.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE notifications SET read_at = ?
		WHERE recipient_user_id = ? AND read_at IS NULL`,
		at.UTC(), userID)
	if err != nil {
		r.logger.Error("Failed to mark notifications read", zap.String("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return result.RowsAffected()
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
