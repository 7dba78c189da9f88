package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/rhadityaaa/ewd-tools/internal/domain/event"
)

// DefaultSubjectPrefix is followed by the event type, e.g. notifications.report.approved
const DefaultSubjectPrefix = "notifications.report"

// HeaderEventID carries the event id for consumer-side deduplication
const HeaderEventID = "Nats-Msg-Id"

// NATSConfig holds the bus connection settings
type NATSConfig struct {
	URL           string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
}

// ConnectNATS opens a connection that reconnects forever
func ConnectNATS(cfg NATSConfig, logger *zap.Logger) (*nats.Conn, error) {
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 2 * time.Second
	}
	name := cfg.Name
	if name == "" {
		name = "ewd-workflow"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(wait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// MsgPublisher is the subset of *nats.Conn used for publishing
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// BusMessage is the JSON published for each event
type BusMessage struct {
	EventID       string                 `json:"event_id"`
	EventType     string                 `json:"event_type"`
	ReportID      int64                  `json:"report_id"`
	Recipient     string                 `json:"recipient_user_id"`
	Title         string                 `json:"title"`
	Message       string                 `json:"message"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// NATS publishes events for downstream consumers
type NATS struct {
	conn   MsgPublisher
	prefix string
	logger *zap.Logger
}

func NewNATS(conn MsgPublisher, prefix string, logger *zap.Logger) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{conn: conn, prefix: prefix, logger: logger}
}

func (n *NATS) Name() string { return "nats" }

// Subject returns the subject an event type is published on
func (n *NATS) Subject(t event.Type) string {
	return n.prefix + "." + string(t)
}

func (n *NATS) Notify(ctx context.Context, evt *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	title, body := Compose(evt)
	data, err := json.Marshal(BusMessage{
		EventID:       evt.ID,
		EventType:     string(evt.Type),
		ReportID:      evt.ReportID,
		Recipient:     evt.RecipientUserID,
		Title:         title,
		Message:       body,
		Payload:       evt.Payload,
		Timestamp:     evt.Timestamp,
		CorrelationID: evt.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("marshal bus message: %w", err)
	}

	msg := nats.NewMsg(n.Subject(evt.Type))
	msg.Data = data
	msg.Header.Set(HeaderEventID, evt.ID)

	if err := n.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	n.logger.Debug("Event published",
		zap.String("subject", msg.Subject),
		zap.Int64("report_id", evt.ReportID))
	return nil
}
