package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
)

// InApp stores events in the recipient's notification inbox
type InApp struct {
	repo port.NotificationRepository
	now  func() time.Time
}

// NewInApp creates the in-app channel
func NewInApp(repo port.NotificationRepository) *InApp {
	return &InApp{repo: repo, now: time.Now}
}

func (n *InApp) Name() string { return "inapp" }

func (n *InApp) Notify(ctx context.Context, evt *event.Event) error {
	if evt.RecipientUserID == "" {
		return nil
	}

	title, body := Compose(evt)
	payload := make(map[string]interface{}, len(evt.Payload)+1)
	for k, v := range evt.Payload {
		payload[k] = v
	}
	payload["event_id"] = evt.ID

	notification := &entity.Notification{
		ReportID:        evt.ReportID,
		RecipientUserID: evt.RecipientUserID,
		EventType:       string(evt.Type),
		Title:           title,
		Message:         body,
		Payload:         payload,
		CreatedAt:       n.now().UTC(),
	}
	if err := n.repo.Create(ctx, notification); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}
