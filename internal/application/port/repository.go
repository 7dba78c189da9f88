package port

import (
	"context"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
)

// ReportFilter narrows ReportRepository.List
type ReportFilter struct {
	Status    entity.ReportStatus
	CreatedBy string
	// SubmittedFrom keeps reports submitted at or after the given time.
	SubmittedFrom *time.Time
	Limit         int
	Offset        int
}

// ReportRepository defines persistence operations for Report.
// Single-row getters return nil, nil when the row does not exist.
type ReportRepository interface {
	Create(ctx context.Context, report *entity.Report) error
	GetByID(ctx context.Context, id int64) (*entity.Report, error)
	// GetForUpdate reads the report and, on backends that support it, locks the row
	// until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*entity.Report, error)
	// Update writes status, rejection reason and submission time.
	Update(ctx context.Context, report *entity.Report) error
	List(ctx context.Context, filter ReportFilter) ([]*entity.Report, error)
	CountByStatus(ctx context.Context) (map[entity.ReportStatus]int, error)
}

// ApprovalRecordRepository defines persistence operations for ApprovalRecord
type ApprovalRecordRepository interface {
	Create(ctx context.Context, record *entity.ApprovalRecord) error
	// GetPending returns the lowest-step PENDING record of a report.
	GetPending(ctx context.Context, reportID int64) (*entity.ApprovalRecord, error)
	// LockPending is GetPending plus a row lock held until the transaction ends.
	LockPending(ctx context.Context, reportID int64) (*entity.ApprovalRecord, error)
	// Decide moves a PENDING record to state. It fails with ErrVersionConflict when
	// the record is no longer PENDING at expectedVersion.
	Decide(ctx context.Context, id, expectedVersion int64, state entity.ApprovalState, decidedBy string, at time.Time) error
	// Reassign changes the assignee of a PENDING record under the same version check.
	Reassign(ctx context.Context, id, expectedVersion int64, assignee string, at time.Time) error
	ApproveAllPending(ctx context.Context, reportID int64, decidedBy string, at time.Time) (int64, error)
	DeleteByReport(ctx context.Context, reportID int64) (int64, error)
	// ListByReport returns the records in ladder order.
	ListByReport(ctx context.Context, reportID int64) ([]*entity.ApprovalRecord, error)
	// ListPendingByAssignee returns the approver inbox, oldest submission first.
	ListPendingByAssignee(ctx context.Context, userID string) ([]*entity.PendingApproval, error)
	// ListPendingAssignedBefore returns PENDING records assigned before t.
	ListPendingAssignedBefore(ctx context.Context, t time.Time) ([]*entity.ApprovalRecord, error)
	// HasDecided reports whether userID is the assignee of a decided record of the report.
	HasDecided(ctx context.Context, reportID int64, userID string) (bool, error)
}

// AuditLogRepository is the append-only audit trail
type AuditLogRepository interface {
	// Append assigns ID and the next per-report Sequence.
	Append(ctx context.Context, entry *entity.AuditEntry) error
	// ListByReport returns entries newest first.
	ListByReport(ctx context.Context, reportID int64) ([]*entity.AuditEntry, error)
	// Timeline returns entries oldest first.
	Timeline(ctx context.Context, reportID int64) ([]*entity.AuditEntry, error)
	// ListSince returns entries of all reports at or after since, oldest first.
	ListSince(ctx context.Context, since time.Time) ([]*entity.AuditEntry, error)
	CountByReport(ctx context.Context, reportID int64) (int, error)
}

// NotificationRepository stores in-app notifications
type NotificationRepository interface {
	Create(ctx context.Context, n *entity.Notification) error
	ListByRecipient(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error)
	CountUnread(ctx context.Context, userID string) (int, error)
	// MarkRead returns ErrNotFound when the notification does not belong to userID.
	MarkRead(ctx context.Context, id int64, userID string, at time.Time) error
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int64, error)
}

// TransactionManager runs fn inside one atomic unit. Repositories called with the
// context passed to fn participate in the same transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// WithReadTransaction runs fn in a read-only transaction in which every
	// statement sees the same committed state. A call nested in WithTransaction
	// joins the outer transaction.
	WithReadTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
