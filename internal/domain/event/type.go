package event

// Type identifies a workflow notification event
type Type string

const (
	TypeSubmitted         Type = "submitted"
	TypeApproved          Type = "approved"
	TypeRejected          Type = "rejected"
	TypeRevisionRequested Type = "revision_requested"
	TypeReassigned        Type = "reassigned"
	TypeWithdrawn         Type = "withdrawn"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeSubmitted,
		TypeApproved,
		TypeRejected,
		TypeRevisionRequested,
		TypeReassigned,
		TypeWithdrawn:
		return true
	default:
		return false
	}
}
