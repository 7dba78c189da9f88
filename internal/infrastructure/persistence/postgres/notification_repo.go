package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"go.uber.org/zap"
)

// NotificationRepository implements port.NotificationRepository
type NotificationRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(pool *pgxpool.Pool, logger *zap.Logger) port.NotificationRepository {
	return &NotificationRepository{pool: pool, logger: logger}
}

// Create stores an in-app notification
func (r *NotificationRepository) Create(ctx context.Context, n *entity.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = n.CreatedAt.UTC()

	payload := n.Payload
	if payload == nil {
		payload = map[string]interface{}{}
	}

	err := Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO notifications (
			report_id, recipient_user_id, event_type, title, message, payload, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		n.ReportID, n.RecipientUserID, n.EventType, n.Title, n.Message, payload, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		r.logger.Error("Failed to create notification",
			zap.Int64("report_id", n.ReportID),
			zap.String("recipient", n.RecipientUserID),
			zap.Error(err))
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// ListByRecipient returns a user's notifications, newest first
func (r *NotificationRepository) ListByRecipient(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	query := `
		SELECT id, report_id, recipient_user_id, event_type, title, message, payload, read_at, created_at
		FROM notifications
		WHERE recipient_user_id = $1`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list notifications", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var items []*entity.Notification
	for rows.Next() {
		var n entity.Notification
		if err := rows.Scan(
			&n.ID,
			&n.ReportID,
			&n.RecipientUserID,
			&n.EventType,
			&n.Title,
			&n.Message,
			&n.Payload,
			&n.ReadAt,
			&n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if len(n.Payload) == 0 {
			n.Payload = nil
		}
		items = append(items, &n)
	}
	return items, rows.Err()
}

// CountUnread returns the number of unread notifications of a user
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int, error) {
	var n int
	if err := Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE recipient_user_id = $1 AND read_at IS NULL`,
		userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return n, nil
}

// MarkRead marks one notification of userID as read. Already-read rows keep their timestamp.
func (r *NotificationRepository) MarkRead(ctx context.Context, id int64, userID string, at time.Time) error {
	tag, err := Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, $1)
		WHERE id = $2 AND recipient_user_id = $3`,
		at.UTC(), id, userID)
	if err != nil {
		r.logger.Error("Failed to mark notification read", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, port.ErrNotFound)
	}
	return nil
}

// MarkAllRead marks every unread notification of userID as read
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	tag, err := Conn(ctx, r.pool).Exec(ctx, `
		UPDATE notifications SET read_at = $1
		WHERE recipient_user_id = $2 AND read_at IS NULL`,
		at.UTC(), userID)
	if err != nil {
		r.logger.Error("Failed to mark notifications read", zap.String("user_id", userID), zap.Error(err))
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Verify interface compliance
var _ port.NotificationRepository = (*NotificationRepository)(nil)
