package workflow

import (
	"context"
	"fmt"
)

// reviewStates are the states in which exactly one approval record is pending
var reviewStates = []State{StateSubmitted, StateUnderReview}

// NewReportLifecycle returns a builder configured with the report lifecycle:
//
//	DRAFT -> SUBMITTED <-> UNDER_REVIEW -> APPROVED
//	SUBMITTED|UNDER_REVIEW -> REJECTED | REVISION_REQUIRED
//	REJECTED|REVISION_REQUIRED -> SUBMITTED (resubmit) | DRAFT (withdraw)
func NewReportLifecycle() StateMachineBuilder {
	b := NewBuilder()

	for _, s := range []State{StateDraft, StateRejected, StateRevisionRequired} {
		b.Configure(s).Permit(TriggerSubmit, StateSubmitted)
	}

	for _, s := range reviewStates {
		b.Configure(s).
			Permit(TriggerAdvance, StateUnderReview).
			Permit(TriggerApproveFinal, StateApproved).
			Permit(TriggerReject, StateRejected).
			Permit(TriggerRequestRevision, StateRevisionRequired).
			Permit(TriggerOverride, StateApproved)
	}

	for _, s := range []State{StateSubmitted, StateUnderReview, StateRejected, StateRevisionRequired} {
		b.Configure(s).Permit(TriggerWithdraw, StateDraft)
	}

	return b
}

// Lifecycle validates single transitions against a shared, read-only rule set
type Lifecycle struct {
	builder StateMachineBuilder
}

// NewLifecycle creates a Lifecycle backed by NewReportLifecycle
func NewLifecycle() *Lifecycle {
	return &Lifecycle{builder: NewReportLifecycle()}
}

// Next returns the state reached by firing trigger from current
func (l *Lifecycle) Next(ctx context.Context, current State, trigger Trigger) (State, error) {
	if !current.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, current)
	}
	m := l.builder.Build(current)
	if err := m.Fire(ctx, trigger); err != nil {
		return current, err
	}
	return m.State(), nil
}

// Permitted returns the triggers allowed from current
func (l *Lifecycle) Permitted(current State) []Trigger {
	if !current.IsValid() {
		return nil
	}
	return l.builder.Build(current).PermittedTriggers()
}
