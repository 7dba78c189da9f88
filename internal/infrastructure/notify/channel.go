// Package notify delivers workflow events to people and systems. Each
// channel is registered on the dispatcher and receives every event type.
package notify

import (
	"context"
	"fmt"

	"github.com/rhadityaaa/ewd-tools/internal/application/dispatcher"
	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

// Channel is one delivery target
type Channel interface {
	Name() string
	Notify(ctx context.Context, evt *event.Event) error
}

// Register subscribes every non-nil channel to all event types
func Register(d dispatcher.Dispatcher, channels ...Channel) {
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		d.SubscribeAll(ch.Name(), ch.Notify)
	}
}

// Compose renders the title and body shown to the recipient of evt
func Compose(evt *event.Event) (title, body string) {
	ref := fmt.Sprintf("Report #%d", evt.ReportID)
	if t := evt.GetPayloadString(event.KeyTitle); t != "" {
		ref = fmt.Sprintf("Report #%d %q", evt.ReportID, t)
	}
	actor := evt.GetPayloadString(event.KeyActor)
	step := evt.GetPayloadString(event.KeyStepLabel)
	comment := evt.GetPayloadString(event.KeyComment)

	switch evt.Type {
	case event.TypeSubmitted:
		title = "Report awaiting your review"
		body = fmt.Sprintf("%s was submitted by %s and is waiting for %s review.", ref, actor, step)
	case event.TypeApproved:
		switch {
		case evt.GetPayloadBool(event.KeyOverride):
			title = "Report approved by override"
			body = fmt.Sprintf("%s was approved by %s, skipping the remaining steps.", ref, actor)
		case evt.GetPayloadBool(event.KeyFinal):
			title = "Report approved"
			body = fmt.Sprintf("%s passed every review step. Final approval by %s.", ref, actor)
		default:
			next := ladder.Label(ladder.Step(evt.GetPayloadString(event.KeyNextStep)))
			title = "Report awaiting your review"
			body = fmt.Sprintf("%s was approved at %s by %s and now needs %s review.", ref, step, actor, next)
		}
	case event.TypeRejected:
		title = "Report rejected"
		body = fmt.Sprintf("%s was rejected at %s by %s.", ref, step, actor)
	case event.TypeRevisionRequested:
		title = "Revision requested"
		body = fmt.Sprintf("%s needs revision, requested at %s by %s.", ref, step, actor)
	case event.TypeReassigned:
		title = "Review reassigned to you"
		body = fmt.Sprintf("%s review at %s was reassigned to you by %s.", ref, step, actor)
	case event.TypeWithdrawn:
		title = "Report withdrawn"
		body = fmt.Sprintf("%s was withdrawn by %s and no longer needs your review.", ref, actor)
	default:
		title = "Report updated"
		body = fmt.Sprintf("%s changed: %s.", ref, evt.Type)
	}

	if comment != "" {
		body += "\nComment: " + comment
	}
	return title, body
}
