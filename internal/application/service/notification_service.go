package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
)

const (
	defaultInboxLimit = 50
	maxInboxLimit     = 200
)

// Inbox is one page of a user's in-app notifications
type Inbox struct {
	Notifications []*entity.Notification `json:"notifications"`
	Unread        int                    `json:"unread"`
}

// NotificationService manages the in-app notification inbox
type NotificationService interface {
	Inbox(ctx context.Context, userID string, unreadOnly bool, limit int) (*Inbox, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	MarkRead(ctx context.Context, userID string, id int64) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

type notificationServiceImpl struct {
	notificationRepo port.NotificationRepository
	logger           Logger
	now              func() time.Time
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(
	notificationRepo port.NotificationRepository,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		notificationRepo: notificationRepo,
		logger:           logger,
		now:              time.Now,
	}
}

// Inbox lists the newest notifications of userID together with the unread count
func (s *notificationServiceImpl) Inbox(ctx context.Context, userID string, unreadOnly bool, limit int) (*Inbox, error) {
	switch {
	case limit <= 0:
		limit = defaultInboxLimit
	case limit > maxInboxLimit:
		limit = maxInboxLimit
	}

	list, err := s.notificationRepo.ListByRecipient(ctx, userID, unreadOnly, limit)
	if err != nil {
		s.logger.Error("Failed to list notifications", "error", err, "user_id", userID)
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	unread, err := s.UnreadCount(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*entity.Notification{}
	}
	return &Inbox{Notifications: list, Unread: unread}, nil
}

// UnreadCount returns the number of unread notifications of userID
func (s *notificationServiceImpl) UnreadCount(ctx context.Context, userID string) (int, error) {
	n, err := s.notificationRepo.CountUnread(ctx, userID)
	if err != nil {
		s.logger.Error("Failed to count unread notifications", "error", err, "user_id", userID)
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return n, nil
}

// MarkRead marks one notification read. A notification of another user is not found.
func (s *notificationServiceImpl) MarkRead(ctx context.Context, userID string, id int64) error {
	if err := s.notificationRepo.MarkRead(ctx, id, userID, s.now()); err != nil {
		return fmt.Errorf("mark notification %d read: %w", id, err)
	}
	return nil
}

// MarkAllRead marks every unread notification of userID read
func (s *notificationServiceImpl) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.notificationRepo.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		s.logger.Error("Failed to mark notifications read", "error", err, "user_id", userID)
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	s.logger.Info("Notifications marked read", "user_id", userID, "count", n)
	return n, nil
}
