package dispatcher

import (
	"context"

	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
)

// Handler delivers one workflow event to a channel
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo describes a registered handler
type HandlerInfo struct {
	Name        string
	Handler     Handler
	Description string
}
