package service

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/application/port"
	"github.com/rhadityaaa/ewd-tools/internal/application/workflow"
	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/rhadityaaa/ewd-tools/internal/domain/ladder"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Period selects the submission window of a statistics query
type Period string

const (
	PeriodAll     Period = "all"
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

// DefaultBottleneckThreshold is how long a record may stay pending before it counts as stuck
const DefaultBottleneckThreshold = 72 * time.Hour

// Bottleneck severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// ParsePeriod converts a query value; an empty string means PeriodAll
func ParsePeriod(s string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PeriodAll, nil
	case PeriodAll, PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown period %q", workflow.ErrInvalidInput, s)
	}
}

// Since returns the start of the window ending at now, or nil for PeriodAll
func (p Period) Since(now time.Time) *time.Time {
	var t time.Time
	switch p {
	case PeriodWeek:
		t = now.AddDate(0, 0, -7)
	case PeriodMonth:
		t = now.AddDate(0, -1, 0)
	case PeriodQuarter:
		t = now.AddDate(0, -3, 0)
	case PeriodYear:
		t = now.AddDate(-1, 0, 0)
	default:
		return nil
	}
	return &t
}

// Statistics summarizes report outcomes over a period
type Statistics struct {
	Period        Period                      `json:"period"`
	Total         int                         `json:"total"`
	ByStatus      map[entity.ReportStatus]int `json:"by_status"`
	ApprovalRate  float64                     `json:"approval_rate"`
	RejectionRate float64                     `json:"rejection_rate"`
	Steps         []*StepPerformance          `json:"steps"`
}

// StepPerformance aggregates the approval records of one ladder step
type StepPerformance struct {
	Step           ladder.Step `json:"step"`
	Label          string      `json:"label"`
	Total          int         `json:"total"`
	Completed      int         `json:"completed"`
	Rejected       int         `json:"rejected"`
	Pending        int         `json:"pending"`
	AvgHours       float64     `json:"avg_time_hours"`
	CompletionRate float64     `json:"completion_rate"`
}

// Bottleneck lists the records of one step pending longer than the threshold
type Bottleneck struct {
	Step             ladder.Step `json:"step"`
	Label            string      `json:"label"`
	Count            int         `json:"count"`
	Severity         string      `json:"severity"`
	OldestAssignedAt *time.Time  `json:"oldest_assigned_at,omitempty"`
	ReportIDs        []int64     `json:"report_ids"`
}

// StepDuration is the time one decided record spent waiting
type StepDuration struct {
	Step  ladder.Step          `json:"step"`
	State entity.ApprovalState `json:"state"`
	Hours float64              `json:"hours"`
}

// WorkflowDetails is the per-report metrics view
type WorkflowDetails struct {
	Report          *entity.Report        `json:"report"`
	CurrentStep     *ladder.Step          `json:"current_step,omitempty"`
	Progress        []entity.StepProgress `json:"progress"`
	ProgressPercent float64               `json:"progress_percentage"`
	TotalHours      *float64              `json:"total_time_hours,omitempty"`
	StepDurations   []StepDuration        `json:"step_times"`
	Timeline        []*entity.AuditEntry  `json:"timeline"`
}

// TimelinePoint counts workflow actions on one UTC day
type TimelinePoint struct {
	Date      string `json:"date"`
	Submitted int    `json:"submitted"`
	Approved  int    `json:"approved"`
	Rejected  int    `json:"rejected"`
}

// StaleGauge receives the bottleneck count per step
type StaleGauge interface {
	SetStalePending(step string, n int)
}

// ReportService provides read-only approval reporting
type ReportService interface {
	Statistics(ctx context.Context, period Period) (*Statistics, error)
	Bottlenecks(ctx context.Context, threshold time.Duration) ([]*Bottleneck, error)
	WorkflowDetails(ctx context.Context, reportID int64) (*WorkflowDetails, error)
	Timeline(ctx context.Context, period Period) ([]*TimelinePoint, error)
	// Export writes an XLSX workbook with Summary, Reports and Steps sheets.
	Export(ctx context.Context, w io.Writer, period Period) error
}

type reportServiceImpl struct {
	reports   port.ReportRepository
	approvals port.ApprovalRecordRepository
	audit     port.AuditLogRepository
	gauge     StaleGauge
	logger    Logger
	now       func() time.Time
}

// NewReportService creates a new ReportService. gauge may be nil.
func NewReportService(
	reports port.ReportRepository,
	approvals port.ApprovalRecordRepository,
	audit port.AuditLogRepository,
	gauge StaleGauge,
	logger Logger,
) ReportService {
	return &reportServiceImpl{
		reports:   reports,
		approvals: approvals,
		audit:     audit,
		gauge:     gauge,
		logger:    logger,
		now:       time.Now,
	}
}

// Statistics counts reports submitted in the period by status and aggregates their
// approval records per step
func (s *reportServiceImpl) Statistics(ctx context.Context, period Period) (*Statistics, error) {
	reports, err := s.reportsIn(ctx, period)
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		Period:   period,
		Total:    len(reports),
		ByStatus: make(map[entity.ReportStatus]int, len(entity.AllReportStatuses)),
	}
	for _, status := range entity.AllReportStatuses {
		stats.ByStatus[status] = 0
	}
	for _, r := range reports {
		stats.ByStatus[r.Status]++
	}
	stats.ApprovalRate = percent(stats.ByStatus[entity.ReportStatusApproved], stats.Total)
	stats.RejectionRate = percent(stats.ByStatus[entity.ReportStatusRejected], stats.Total)

	stats.Steps, err = s.stepPerformance(ctx, reports)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *reportServiceImpl) reportsIn(ctx context.Context, period Period) ([]*entity.Report, error) {
	reports, err := s.reports.List(ctx, port.ReportFilter{SubmittedFrom: period.Since(s.now())})
	if err != nil {
		s.logger.Error("Failed to list reports", "error", err, "period", period)
		return nil, fmt.Errorf("list reports: %w", err)
	}
	return reports, nil
}

func (s *reportServiceImpl) stepPerformance(ctx context.Context, reports []*entity.Report) ([]*StepPerformance, error) {
	order := ladder.Order()
	perf := make(map[ladder.Step]*StepPerformance, len(order))
	hours := make(map[ladder.Step]float64, len(order))
	timed := make(map[ladder.Step]int, len(order))
	for _, step := range order {
		perf[step] = &StepPerformance{Step: step, Label: ladder.Label(step)}
	}

	for _, r := range reports {
		records, err := s.approvals.ListByReport(ctx, r.ID)
		if err != nil {
			s.logger.Error("Failed to list approval records", "error", err, "report_id", r.ID)
			return nil, fmt.Errorf("list approval records: %w", err)
		}
		for _, rec := range records {
			p, ok := perf[rec.Step]
			if !ok {
				continue
			}
			p.Total++
			switch rec.State {
			case entity.ApprovalStateApproved:
				p.Completed++
			case entity.ApprovalStateRejected:
				p.Rejected++
			case entity.ApprovalStatePending:
				p.Pending++
			}
			if d, ok := waited(rec); ok {
				hours[rec.Step] += d.Hours()
				timed[rec.Step]++
			}
		}
	}

	out := make([]*StepPerformance, 0, len(order))
	for _, step := range order {
		p := perf[step]
		if timed[step] > 0 {
			p.AvgHours = round2(hours[step] / float64(timed[step]))
		}
		p.CompletionRate = percent(p.Completed, p.Total)
		out = append(out, p)
	}
	return out, nil
}

// Bottlenecks groups records pending longer than threshold by step. Steps without
// stuck records are omitted but still reported to the gauge as zero.
func (s *reportServiceImpl) Bottlenecks(ctx context.Context, threshold time.Duration) ([]*Bottleneck, error) {
	if threshold <= 0 {
		threshold = DefaultBottleneckThreshold
	}

	records, err := s.approvals.ListPendingAssignedBefore(ctx, s.now().Add(-threshold))
	if err != nil {
		s.logger.Error("Failed to list stale approvals", "error", err)
		return nil, fmt.Errorf("list stale approvals: %w", err)
	}

	byStep := make(map[ladder.Step]*Bottleneck)
	for _, rec := range records {
		b, ok := byStep[rec.Step]
		if !ok {
			b = &Bottleneck{Step: rec.Step, Label: ladder.Label(rec.Step)}
			byStep[rec.Step] = b
		}
		b.Count++
		b.ReportIDs = append(b.ReportIDs, rec.ReportID)
		if rec.AssignedAt != nil && (b.OldestAssignedAt == nil || rec.AssignedAt.Before(*b.OldestAssignedAt)) {
			at := *rec.AssignedAt
			b.OldestAssignedAt = &at
		}
	}

	var out []*Bottleneck
	for _, step := range ladder.Order() {
		b, ok := byStep[step]
		if s.gauge != nil {
			n := 0
			if ok {
				n = b.Count
			}
			s.gauge.SetStalePending(step.String(), n)
		}
		if !ok {
			continue
		}
		b.Severity = severity(b.Count)
		sort.Slice(b.ReportIDs, func(i, j int) bool { return b.ReportIDs[i] < b.ReportIDs[j] })
		out = append(out, b)
	}

	if len(out) > 0 {
		s.logger.Info("Approval bottlenecks detected", "steps", len(out), "records", len(records))
	}
	return out, nil
}

// WorkflowDetails returns progress, step timings and the audit timeline of a report
func (s *reportServiceImpl) WorkflowDetails(ctx context.Context, reportID int64) (*WorkflowDetails, error) {
	report, err := s.reports.GetByID(ctx, reportID)
	if err != nil {
		s.logger.Error("Failed to get report", "error", err, "report_id", reportID)
		return nil, fmt.Errorf("get report: %w", err)
	}
	if report == nil {
		return nil, fmt.Errorf("report %d: %w", reportID, workflow.ErrReportNotFound)
	}

	records, err := s.approvals.ListByReport(ctx, reportID)
	if err != nil {
		s.logger.Error("Failed to list approval records", "error", err, "report_id", reportID)
		return nil, fmt.Errorf("list approval records: %w", err)
	}

	timeline, err := s.audit.Timeline(ctx, reportID)
	if err != nil {
		s.logger.Error("Failed to load audit timeline", "error", err, "report_id", reportID)
		return nil, fmt.Errorf("load timeline: %w", err)
	}

	details := &WorkflowDetails{
		Report:        report,
		Progress:      workflow.BuildProgress(report, records),
		StepDurations: []StepDuration{},
		Timeline:      timeline,
	}

	approved := 0
	for _, rec := range records {
		if rec.IsPending() && details.CurrentStep == nil {
			step := rec.Step
			details.CurrentStep = &step
		}
		if rec.State == entity.ApprovalStateApproved {
			approved++
		}
		if d, ok := waited(rec); ok {
			details.StepDurations = append(details.StepDurations, StepDuration{
				Step:  rec.Step,
				State: rec.State,
				Hours: round2(d.Hours()),
			})
		}
	}
	details.ProgressPercent = percent(approved, len(ladder.Order()))

	if report.Status == entity.ReportStatusApproved && report.SubmittedAt != nil {
		total := round2(report.UpdatedAt.Sub(*report.SubmittedAt).Hours())
		details.TotalHours = &total
	}
	return details, nil
}

// Timeline counts submissions, approvals and rejections per day
func (s *reportServiceImpl) Timeline(ctx context.Context, period Period) ([]*TimelinePoint, error) {
	var since time.Time
	if t := period.Since(s.now()); t != nil {
		since = *t
	}

	entries, err := s.audit.ListSince(ctx, since)
	if err != nil {
		s.logger.Error("Failed to list audit entries", "error", err, "period", period)
		return nil, fmt.Errorf("list audit entries: %w", err)
	}

	var (
		points []*TimelinePoint
		byDate = make(map[string]*TimelinePoint)
	)
	for _, e := range entries {
		date := e.OccurredAt.UTC().Format("2006-01-02")
		p, ok := byDate[date]
		if !ok {
			p = &TimelinePoint{Date: date}
			byDate[date] = p
			points = append(points, p)
		}
		switch e.Action {
		case entity.ActionSubmit:
			p.Submitted++
		case entity.ActionApprove, entity.ActionOverride:
			p.Approved++
		case entity.ActionReject:
			p.Rejected++
		}
	}
	return points, nil
}

// waited returns how long a decided record waited for its decision
func waited(rec *entity.ApprovalRecord) (time.Duration, bool) {
	if !rec.State.IsDecided() || rec.AssignedAt == nil || rec.DecidedAt == nil {
		return 0, false
	}
	return rec.DecidedAt.Sub(*rec.AssignedAt), true
}

func severity(n int) string {
	switch {
	case n >= 10:
		return SeverityHigh
	case n >= 5:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
