package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/repository"
	"github.com/rhadityaaa/ewd-tools/internal/infrastructure/persistence/sqlite"
	"github.com/rhadityaaa/ewd-tools/pkg/database"
	"github.com/rhadityaaa/ewd-tools/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockNotificationRepo fails every call with err
type mockNotificationRepo struct {
	port.NotificationRepository
	err error
}

func (m *mockNotificationRepo) ListByRecipient(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	return nil, m.err
}

func (m *mockNotificationRepo) MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error) {
	return 0, m.err
}

func newInboxService(t *testing.T) (NotificationService, port.NotificationRepository) {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.New(database.Config{Path: filepath.Join(t.TempDir(), "inbox.db")}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.NewMigrator(db.DB, logger).Run(context.Background(), sqlite.Migrations, sqlite.MigrationsDir))

	repo := repository.NewNotificationRepository(db.DB, logger)
	return NewNotificationService(repo, utils.NewKVLogger(logger)), repo
}

func seedNotifications(t *testing.T, repo port.NotificationRepository, recipient string, n int) []*entity.Notification {
	t.Helper()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	out := make([]*entity.Notification, 0, n)
	for i := 0; i < n; i++ {
		notif := &entity.Notification{
			ReportID:        int64(i + 1),
			RecipientUserID: recipient,
			EventType:       "submitted",
			Title:           "Report awaiting approval",
			Message:         "EWS report submitted",
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(context.Background(), notif))
		out = append(out, notif)
	}
	return out
}

func TestNotificationService_Inbox(t *testing.T) {
	svc, repo := newInboxService(t)
	ctx := context.Background()
	seeded := seedNotifications(t, repo, "u2", 3)
	seedNotifications(t, repo, "u3", 1)

	inbox, err := svc.Inbox(ctx, "u2", false, 0)
	require.NoError(t, err)
	require.Len(t, inbox.Notifications, 3)
	assert.Equal(t, 3, inbox.Unread)
	assert.Equal(t, seeded[2].ID, inbox.Notifications[0].ID)

	inbox, err = svc.Inbox(ctx, "u2", false, 2)
	require.NoError(t, err)
	assert.Len(t, inbox.Notifications, 2)
	assert.Equal(t, 3, inbox.Unread)

	inbox, err = svc.Inbox(ctx, "nobody", false, 1000)
	require.NoError(t, err)
	assert.NotNil(t, inbox.Notifications)
	assert.Empty(t, inbox.Notifications)
	assert.Equal(t, 0, inbox.Unread)
}

func TestNotificationService_MarkRead(t *testing.T) {
	svc, repo := newInboxService(t)
	ctx := context.Background()
	seeded := seedNotifications(t, repo, "u2", 2)

	require.NoError(t, svc.MarkRead(ctx, "u2", seeded[0].ID))

	n, err := svc.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	inbox, err := svc.Inbox(ctx, "u2", true, 0)
	require.NoError(t, err)
	require.Len(t, inbox.Notifications, 1)
	assert.Equal(t, seeded[1].ID, inbox.Notifications[0].ID)

	err = svc.MarkRead(ctx, "u3", seeded[1].ID)
	assert.True(t, errors.Is(err, port.ErrNotFound))
}

func TestNotificationService_MarkAllRead(t *testing.T) {
	svc, repo := newInboxService(t)
	ctx := context.Background()
	seedNotifications(t, repo, "u2", 4)

	n, err := svc.MarkAllRead(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	unread, err := svc.UnreadCount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	n, err = svc.MarkAllRead(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestNotificationService_RepositoryErrors(t *testing.T) {
	boom := errors.New("disk full")
	svc := NewNotificationService(&mockNotificationRepo{err: boom}, utils.NewKVLogger(zap.NewNop()))

	_, err := svc.Inbox(context.Background(), "u2", false, 10)
	assert.True(t, errors.Is(err, boom))

	_, err = svc.MarkAllRead(context.Background(), "u2")
	assert.True(t, errors.Is(err, boom))
}
