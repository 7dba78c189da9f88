package entity

import "time"

// Notification is an in-app message persisted for a recipient
type Notification struct {
	ID              int64                  `json:"id"`
	ReportID        int64                  `json:"report_id"`
	RecipientUserID string                 `json:"recipient_user_id"`
	EventType       string                 `json:"event_type"`
	Title           string                 `json:"title"`
	Message         string                 `json:"message"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	ReadAt          *time.Time             `json:"read_at,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Status returns the read status of the notification
func (n *Notification) Status() string {
	if n.ReadAt != nil {
		return NotificationStatusRead
	}
	return NotificationStatusUnread
}
