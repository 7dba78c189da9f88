package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rhadityaaa/ewd-tools/internal/application/service"
	"github.com/rhadityaaa/ewd-tools/internal/application/workflow"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Dependencies
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Dependencies, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string      `json:"status"`
	Timestamp  string      `json:"timestamp"`
	Components interface{} `json:"components,omitempty"`
}

// CreateReportRequest is the body of POST /reports
type CreateReportRequest struct {
	Title string `json:"title" binding:"required"`
}

// DecisionRequest is the body of approve, reject, revision and override
type DecisionRequest struct {
	Comment string `json:"comment"`
}

// ReassignRequest is the body of POST /reports/:id/reassign
type ReassignRequest struct {
	Step         string `json:"step" binding:"required"`
	TargetUserID string `json:"target_user_id" binding:"required"`
	Comment      string `json:"comment"`
}

// ResultResponse is returned by every committed workflow operation
type ResultResponse struct {
	Report      *entity.Report         `json:"report"`
	Pending     *entity.ApprovalRecord `json:"pending,omitempty"`
	Audit       *entity.AuditEntry     `json:"audit,omitempty"`
	NotifyError string                 `json:"notify_error,omitempty"`
}

// ReportResponse is the full view of one report
type ReportResponse struct {
	Report      *entity.Report           `json:"report"`
	CurrentStep string                   `json:"current_step,omitempty"`
	Records     []*entity.ApprovalRecord `json:"records"`
}

// PermissionsResponse tells the caller which actions are open to them
type PermissionsResponse struct {
	CanView     bool `json:"can_view"`
	CanApprove  bool `json:"can_approve"`
	CanOverride bool `json:"can_override"`
}

// ListNotificationsRequest represents query parameters for the inbox
type ListNotificationsRequest struct {
	UnreadOnly bool `form:"unread_only"`
	Limit      int  `form:"limit"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if h.deps.Health != nil {
		healthy, details := h.deps.Health(c.Request.Context())
		resp.Components = details
		if !healthy {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, Response{Success: status == http.StatusOK, Data: resp})
}

// CreateReport handles POST /api/v1/reports
func (h *Handlers) CreateReport(c *gin.Context) {
	actor := mustActor(c)

	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, workflow.KindValidation.String(), "title is required")
		return
	}

	report, err := h.deps.Engine.CreateDraft(c.Request.Context(), req.Title, actor.ID)
	if err != nil {
		h.failErr(c, "create", err)
		return
	}
	ok(c, http.StatusCreated, report)
}

// GetReport handles GET /api/v1/reports/:id
func (h *Handlers) GetReport(c *gin.Context) {
	id, valid := h.reportID(c)
	if !valid || !h.authorizeView(c, id) {
		return
	}

	snap, err := h.deps.Engine.Snapshot(c.Request.Context(), id)
	if err != nil {
		h.failErr(c, "get", err)
		return
	}

	resp := ReportResponse{Report: snap.Report, Records: snap.Records}
	if p := snap.Pending(); p != nil {
		resp.CurrentStep = p.Step.String()
	}
	ok(c, http.StatusOK, resp)
}

// GetProgress handles GET /api/v1/reports/:id/progress
func (h *Handlers) GetProgress(c *gin.Context) {
	id, valid := h.reportID(c)
	if !valid || !h.authorizeView(c, id) {
		return
	}

	progress, err := h.deps.Engine.Progress(c.Request.Context(), id)
	if err != nil {
		h.failErr(c, "progress", err)
		return
	}
	ok(c, http.StatusOK, progress)
}

// GetHistory handles GET /api/v1/reports/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	id, valid := h.reportID(c)
	if !valid || !h.authorizeView(c, id) {
		return
	}

	history, err := h.deps.Engine.History(c.Request.Context(), id)
	if err != nil {
		h.failErr(c, "history", err)
		return
	}
	ok(c, http.StatusOK, history)
}

// GetPermissions handles GET /api/v1/reports/:id/permissions
func (h *Handlers) GetPermissions(c *gin.Context) {
	id, valid := h.reportID(c)
	if !valid {
		return
	}
	actor := mustActor(c)
	ctx := c.Request.Context()

	var resp PermissionsResponse
	var err error
	if resp.CanView, err = h.deps.Engine.CanView(ctx, id, actor); err != nil {
		h.failErr(c, "permissions", err)
		return
	}
	if resp.CanApprove, err = h.deps.Engine.CanApprove(ctx, id, actor); err != nil {
		h.failErr(c, "permissions", err)
		return
	}
	if resp.CanOverride, err = h.deps.Engine.CanOverride(ctx, id, actor); err != nil {
		h.failErr(c, "permissions", err)
		return
	}
	ok(c, http.StatusOK, resp)
}

// GetWorkflowDetails handles GET /api/v1/reports/:id/details
func (h *Handlers) GetWorkflowDetails(c *gin.Context) {
	id, valid := h.reportID(c)
	if !valid || !h.authorizeView(c, id) {
		return
	}

	details, err := h.deps.Reports.WorkflowDetails(c.Request.Context(), id)
	if err != nil {
		h.failErr(c, "details", err)
		return
	}
	ok(c, http.StatusOK, details)
}

// Submit handles POST /api/v1/reports/:id/submit
func (h *Handlers) Submit(c *gin.Context) {
	id, valid := h.reportID(c)
	if !valid {
		return
	}
	res, err := h.deps.Engine.Submit(c.Request.Context(), id, mustActor(c))
	h.writeResult(c, "submit", res, err)
}

// Approve handles POST /api/v1/reports/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	h.decide(c, "approve", h.deps.Engine.Approve)
}

// Reject handles POST /api/v1/reports/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	h.decide(c, "reject", h.deps.Engine.Reject)
}

// RequestRevision handles POST /api/v1/reports/:id/revision
func (h *Handlers) RequestRevision(c *gin.Context) {
	h.decide(c, "revision", h.deps.Engine.RequestRevision)
}

// Override handles POST /api/v1/reports/:id/override
func (h *Handlers) Override(c *gin.Context) {
	h.decide(c, "override", h.deps.Engine.Override)
}

type decisionFunc func(ctx context.Context, reportID int64, actor entity.Actor, comment string) (*workflow.Result, error)

func (h *Handlers) decide(c *gin.Context, op string, fn decisionFunc) {
	id, valid := h.reportID(c)
	if !valid {
		return
	}

	var req DecisionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, workflow.KindValidation.String(), "invalid request body")
			return
		}
	}

	res, err := fn(c.Request.Context(), id, mustActor(c), req.Comment)
	h.writeResult(c, op, res, err)
}

// Reassign handles POST /api/v1/reports/:id/reassign
func (h *Handlers) Reassign(c *gin.Context) {
	id, valid := h.reportID(c)
	if !valid {
		return
	}

	var req ReassignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, workflow.KindValidation.String(), "step and target_user_id are required")
		return
	}

	step := ladder.Step(strings.ToUpper(strings.TrimSpace(req.Step)))
	res, err := h.deps.Engine.Reassign(c.Request.Context(), id, mustActor(c), step, strings.TrimSpace(req.TargetUserID), req.Comment)
	h.writeResult(c, "reassign", res, err)
}

// Withdraw handles POST /api/v1/reports/:id/withdraw
func (h *Handlers) Withdraw(c *gin.Context) {
	id, valid := h.reportID(c)
	if !valid {
		return
	}
	res, err := h.deps.Engine.Withdraw(c.Request.Context(), id, mustActor(c))
	h.writeResult(c, "withdraw", res, err)
}

// ListPending handles GET /api/v1/approvals/pending
func (h *Handlers) ListPending(c *gin.Context) {
	items, err := h.deps.Engine.PendingForUser(c.Request.Context(), mustActor(c).ID)
	if err != nil {
		h.failErr(c, "pending", err)
		return
	}
	if items == nil {
		items = []*entity.PendingApproval{}
	}
	ok(c, http.StatusOK, items)
}

// ListNotifications handles GET /api/v1/notifications
func (h *Handlers) ListNotifications(c *gin.Context) {
	var req ListNotificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		fail(c, http.StatusBadRequest, workflow.KindValidation.String(), "invalid query parameters")
		return
	}

	inbox, err := h.deps.Notifications.Inbox(c.Request.Context(), mustActor(c).ID, req.UnreadOnly, req.Limit)
	if err != nil {
		h.failErr(c, "inbox", err)
		return
	}
	ok(c, http.StatusOK, inbox)
}

// MarkNotificationRead handles POST /api/v1/notifications/:id/read
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, workflow.KindValidation.String(), "invalid notification id")
		return
	}

	if err := h.deps.Notifications.MarkRead(c.Request.Context(), mustActor(c).ID, id); err != nil {
		h.failErr(c, "mark_read", err)
		return
	}
	ok(c, http.StatusOK, gin.H{"id": id})
}

// MarkAllNotificationsRead handles POST /api/v1/notifications/read-all
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	n, err := h.deps.Notifications.MarkAllRead(c.Request.Context(), mustActor(c).ID)
	if err != nil {
		h.failErr(c, "mark_all_read", err)
		return
	}
	ok(c, http.StatusOK, gin.H{"marked": n})
}

// Statistics handles GET /api/v1/stats?period=
func (h *Handlers) Statistics(c *gin.Context) {
	period, valid := h.period(c)
	if !valid {
		return
	}

	stats, err := h.deps.Reports.Statistics(c.Request.Context(), period)
	if err != nil {
		h.failErr(c, "statistics", err)
		return
	}
	ok(c, http.StatusOK, stats)
}

// Bottlenecks handles GET /api/v1/stats/bottlenecks?threshold_hours=
func (h *Handlers) Bottlenecks(c *gin.Context) {
	threshold := service.DefaultBottleneckThreshold
	if raw := c.Query("threshold_hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			fail(c, http.StatusBadRequest, workflow.KindValidation.String(), "threshold_hours must be a positive number")
			return
		}
		threshold = time.Duration(hours * float64(time.Hour))
	}

	items, err := h.deps.Reports.Bottlenecks(c.Request.Context(), threshold)
	if err != nil {
		h.failErr(c, "bottlenecks", err)
		return
	}
	ok(c, http.StatusOK, items)
}

// Timeline handles GET /api/v1/stats/timeline?period=
func (h *Handlers) Timeline(c *gin.Context) {
	period, valid := h.period(c)
	if !valid {
		return
	}

	points, err := h.deps.Reports.Timeline(c.Request.Context(), period)
	if err != nil {
		h.failErr(c, "timeline", err)
		return
	}
	ok(c, http.StatusOK, points)
}

// Export handles GET /api/v1/stats/export?period= and streams an XLSX workbook
func (h *Handlers) Export(c *gin.Context) {
	period, valid := h.period(c)
	if !valid {
		return
	}

	// buffered so a failed export still gets a JSON error
	var buf bytes.Buffer
	if err := h.deps.Reports.Export(c.Request.Context(), &buf, period); err != nil {
		h.failErr(c, "export", err)
		return
	}

	name := fmt.Sprintf("approval-report-%s-%s.xlsx", period, time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

func (h *Handlers) writeResult(c *gin.Context, op string, res *workflow.Result, err error) {
	if err != nil {
		h.failErr(c, op, err)
		return
	}

	resp := ResultResponse{Report: res.Report, Pending: res.Record, Audit: res.Audit}
	if res.NotifyErr != nil {
		resp.NotifyError = res.NotifyErr.Error()
		h.logger.Error("Notification delivery failed", "op", op, "report_id", res.Report.ID, "error", res.NotifyErr)
	}
	ok(c, http.StatusOK, resp)
}

// authorizeView aborts with 403 unless the actor may see the report
func (h *Handlers) authorizeView(c *gin.Context, id int64) bool {
	allowed, err := h.deps.Engine.CanView(c.Request.Context(), id, mustActor(c))
	if err != nil {
		h.failErr(c, "view", err)
		return false
	}
	if !allowed {
		fail(c, http.StatusForbidden, workflow.KindAuthorization.String(), "not permitted to view this report")
		return false
	}
	return true
}

func (h *Handlers) reportID(c *gin.Context) (int64, bool) {
	idStr := c.Param("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		h.logger.Error("Invalid report ID", "id", idStr)
		fail(c, http.StatusBadRequest, workflow.KindValidation.String(), "invalid report id")
		return 0, false
	}
	return id, true
}

func (h *Handlers) period(c *gin.Context) (service.Period, bool) {
	period, err := service.ParsePeriod(c.Query("period"))
	if err != nil {
		h.failErr(c, "period", err)
		return "", false
	}
	return period, true
}

// mustActor returns the actor set by authMiddleware
func mustActor(c *gin.Context) entity.Actor {
	actor, _ := actorFrom(c)
	return actor
}
