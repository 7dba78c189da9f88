package entity

// ReportStatus is the lifecycle state of a report
type ReportStatus string

// Status constants for Report
const (
	ReportStatusDraft            ReportStatus = "DRAFT"
	ReportStatusSubmitted        ReportStatus = "SUBMITTED"
	ReportStatusUnderReview      ReportStatus = "UNDER_REVIEW"
	ReportStatusApproved         ReportStatus = "APPROVED"
	ReportStatusRejected         ReportStatus = "REJECTED"
	ReportStatusRevisionRequired ReportStatus = "REVISION_REQUIRED"
)

// AllReportStatuses lists every status in display order
var AllReportStatuses = []ReportStatus{
	ReportStatusDraft,
	ReportStatusSubmitted,
	ReportStatusUnderReview,
	ReportStatusApproved,
	ReportStatusRejected,
	ReportStatusRevisionRequired,
}

// IsValid returns true if s is a known report status
func (s ReportStatus) IsValid() bool {
	for _, v := range AllReportStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// InReview reports whether the report has a pending approval record
func (s ReportStatus) InReview() bool {
	return s == ReportStatusSubmitted || s == ReportStatusUnderReview
}

// CanBeSubmitted reports whether submit is allowed from s
func (s ReportStatus) CanBeSubmitted() bool {
	return s == ReportStatusDraft || s == ReportStatusRejected || s == ReportStatusRevisionRequired
}

func (s ReportStatus) String() string {
	return string(s)
}

// ApprovalState is the state of a single approval record
type ApprovalState string

const (
	ApprovalStatePending  ApprovalState = "PENDING"
	ApprovalStateApproved ApprovalState = "APPROVED"
	ApprovalStateRejected ApprovalState = "REJECTED"
)

// IsDecided reports whether the record has left PENDING
func (s ApprovalState) IsDecided() bool {
	return s == ApprovalStateApproved || s == ApprovalStateRejected
}

// Action is the kind of an audit entry
type Action string

const (
	ActionSubmit   Action = "SUBMIT"
	ActionApprove  Action = "APPROVE"
	ActionReject   Action = "REJECT"
	ActionOverride Action = "OVERRIDE"
	ActionRevision Action = "REVISION"
	ActionWithdraw Action = "WITHDRAW"
	ActionReassign Action = "REASSIGN"
)

// IsValid returns true if a is a known audit action
func (a Action) IsValid() bool {
	switch a {
	case ActionSubmit, ActionApprove, ActionReject, ActionOverride,
		ActionRevision, ActionWithdraw, ActionReassign:
		return true
	}
	return false
}

// RequiresComment reports whether the action must carry a comment
func (a Action) RequiresComment() bool {
	return a == ActionReject || a == ActionRevision || a == ActionOverride
}

// IsPositive reports whether the action moves a report toward approval
func (a Action) IsPositive() bool {
	return a == ActionSubmit || a == ActionApprove || a == ActionOverride
}

// IsNegative reports whether the action moves a report away from approval
func (a Action) IsNegative() bool {
	return a == ActionReject || a == ActionRevision || a == ActionWithdraw
}

// Progress states shown for steps that have no approval record
const (
	StepStateNotStarted = "NOT_STARTED"
	StepStateSkipped    = "SKIPPED"
)

// Notification read status
const (
	NotificationStatusUnread = "UNREAD"
	NotificationStatusRead   = "READ"
)
