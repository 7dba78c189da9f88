package workflow

// State is a report lifecycle state as seen by the state machine
type State string

const (
	StateDraft            State = "DRAFT"
	StateSubmitted        State = "SUBMITTED"
	StateUnderReview      State = "UNDER_REVIEW"
	StateApproved         State = "APPROVED"
	StateRejected         State = "REJECTED"
	StateRevisionRequired State = "REVISION_REQUIRED"
)

var validStates = map[State]bool{
	StateDraft:            true,
	StateSubmitted:        true,
	StateUnderReview:      true,
	StateApproved:         true,
	StateRejected:         true,
	StateRevisionRequired: true,
}

// Only a final approval closes the lifecycle. Rejected and revision-required
// reports can still be resubmitted or withdrawn.
var terminalStates = map[State]bool{
	StateApproved: true,
}

// IsTerminal returns true if no transition leaves the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid lifecycle state
func (s State) IsValid() bool {
	return validStates[s]
}
