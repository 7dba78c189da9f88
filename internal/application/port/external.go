package port

import (
	"context"

	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
)

// UserDirectory is the user/role lookup the workflow depends on
type UserDirectory interface {
	// UsersWithRole returns user ids holding role, sorted ascending.
	UsersWithRole(ctx context.Context, role string) ([]string, error)
	RolesOf(ctx context.Context, userID string) ([]string, error)
	// GetUser returns nil, nil for an unknown user.
	GetUser(ctx context.Context, userID string) (*entity.User, error)
}

// DirectoryWriter maintains directory entries
type DirectoryWriter interface {
	UpsertUser(ctx context.Context, user *entity.User) error
}

// Notifier delivers workflow events out of band
type Notifier interface {
	Notify(ctx context.Context, e *event.Event) error
}

// MessageSender sends a plain text chat message to a user
type MessageSender interface {
	SendText(ctx context.Context, receiverID string, text string) error
}

// Logger is the structured logger used by application services
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
