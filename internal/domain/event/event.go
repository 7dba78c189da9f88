package event

import (
	"time"

	"github.com/google/uuid"
)

// Payload keys set by the engine
const (
	KeyStep       = "step"
	KeyStepLabel  = "step_label"
	KeyActor      = "actor_user_id"
	KeyComment    = "comment"
	KeyStatus     = "status"
	KeyFinal      = "final"
	KeyOverride   = "override"
	KeyPreviousTo = "previous_assignee"
	KeyNextStep   = "next_step"
	KeyOwner      = "report_owner"
	KeyTitle      = "report_title"
)

// Event is emitted once per successful state-changing workflow operation
type Event struct {
	ID              string                 `json:"id"`
	Type            Type                   `json:"event_type"`
	ReportID        int64                  `json:"report_id"`
	RecipientUserID string                 `json:"recipient_user_id"`
	Payload         map[string]interface{} `json:"payload"`
	Timestamp       time.Time              `json:"timestamp"`
	CorrelationID   string                 `json:"correlation_id"`
}

// NewEvent creates an event with a fresh ID and correlation ID
func NewEvent(eventType Type, reportID int64, recipient string, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, reportID, recipient, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to an existing correlation chain
func NewEventWithCorrelation(eventType Type, reportID int64, recipient string, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	return &Event{
		ID:              uuid.NewString(),
		Type:            eventType,
		ReportID:        reportID,
		RecipientUserID: recipient,
		Payload:         payload,
		Timestamp:       time.Now().UTC(),
		CorrelationID:   correlationID,
	}
}

// WithPayload returns a copy of the event with key set; the receiver is unchanged
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	cp := *e
	cp.Payload = newPayload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if val, ok := e.Payload[key]; ok {
		if b, ok := val.(bool); ok {
			return b
		}
	}
	return false
}
