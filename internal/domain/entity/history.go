package entity

import (
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

// AuditEntry is one immutable row of a report's workflow audit trail
type AuditEntry struct {
	ID          int64             `json:"id"`
	ReportID    int64             `json:"report_id"`
	Sequence    int64             `json:"sequence"`
	ActorUserID string            `json:"actor_user_id"`
	Action      Action            `json:"action"`
	Step        *ladder.Step      `json:"step,omitempty"`
	Comment     *string           `json:"comment,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Metadata keys written by the engine
const (
	MetaReassignedTo     = "reassigned_to"
	MetaReassignedToName = "reassigned_to_name"
	MetaReassignedFrom   = "reassigned_from"
	MetaOverriddenStep   = "overridden_step"
	MetaPreviousStatus   = "previous_status"
	MetaAssignedTo       = "assigned_to"
)
