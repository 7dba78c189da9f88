package workflow

import (
	"errors"
	"fmt"

	"github.com/rhadityaaa/ewd-tools/internal/application/resolver"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

// Authorization errors
var (
	ErrNotAuthorizedForStep = errors.New("actor is not the assignee of the pending step")
	ErrNotReportOwner       = errors.New("actor is not the report owner")
	ErrOverrideNotPermitted = errors.New("actor may not override")
	ErrReassignNotPermitted = errors.New("actor may not reassign")
)

// Precondition errors
var (
	ErrReportNotFound         = errors.New("report not found")
	ErrNoPendingApproval      = errors.New("no pending approval")
	ErrInvalidStatusForSubmit = errors.New("report status does not allow submit")
	ErrStaleApprovalState     = errors.New("approval state changed concurrently")
	ErrInvalidTransition      = errors.New("transition not allowed from current status")
)

// ErrNoEligibleApprover is the configuration error raised by the resolver
var ErrNoEligibleApprover = resolver.ErrNoEligibleApprover

// Validation errors
var (
	ErrCommentRequired = errors.New("comment is required")
	ErrInvalidStep     = errors.New("invalid approval step")
	ErrMissingTarget   = errors.New("target user is required")
	ErrInvalidInput    = errors.New("invalid input")
)

// Kind classifies workflow errors for callers
type Kind int

const (
	KindInternal Kind = iota
	KindAuthorization
	KindPrecondition
	KindNotFound
	KindConfiguration
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindPrecondition:
		return "precondition"
	case KindNotFound:
		return "not_found"
	case KindConfiguration:
		return "configuration"
	case KindValidation:
		return "validation"
	default:
		return "internal"
	}
}

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotAuthorizedForStep, KindAuthorization},
	{ErrNotReportOwner, KindAuthorization},
	{ErrOverrideNotPermitted, KindAuthorization},
	{ErrReassignNotPermitted, KindAuthorization},
	{ErrReportNotFound, KindNotFound},
	{ErrNoPendingApproval, KindPrecondition},
	{ErrInvalidStatusForSubmit, KindPrecondition},
	{ErrStaleApprovalState, KindPrecondition},
	{ErrInvalidTransition, KindPrecondition},
	{ErrNoEligibleApprover, KindConfiguration},
	{ErrCommentRequired, KindValidation},
	{ErrInvalidStep, KindValidation},
	{ErrMissingTarget, KindValidation},
	{ErrInvalidInput, KindValidation},
}

// KindOf returns the category of err
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// WorkflowError carries the state of the report as it was after the failed
// operation so callers can refresh instead of retrying blindly.
type WorkflowError struct {
	Op          string
	ReportID    int64
	Status      entity.ReportStatus
	CurrentStep ladder.Step
	Err         error
}

func (e *WorkflowError) Error() string {
	msg := fmt.Sprintf("%s report %d: %v", e.Op, e.ReportID, e.Err)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status=%s", e.Status)
		if e.CurrentStep != "" {
			msg += fmt.Sprintf(", step=%s", e.CurrentStep)
		}
		msg += ")"
	}
	return msg
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Kind returns the category of the wrapped error
func (e *WorkflowError) Kind() Kind {
	return KindOf(e.Err)
}
