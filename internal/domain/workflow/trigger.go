package workflow

// Trigger represents an engine operation that moves a report between states
type Trigger string

const (
	TriggerSubmit          Trigger = "SUBMIT"
	TriggerAdvance         Trigger = "ADVANCE"
	TriggerApproveFinal    Trigger = "APPROVE_FINAL"
	TriggerReject          Trigger = "REJECT"
	TriggerRequestRevision Trigger = "REQUEST_REVISION"
	TriggerOverride        Trigger = "OVERRIDE"
	TriggerWithdraw        Trigger = "WITHDRAW"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
