package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rhadityaaa/ewd-tools/internal/domain/entity"
	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary = "Summary"
	sheetReports = "Reports"
	sheetSteps   = "Steps"
)

// Export writes the statistics of period and one row per report to w as XLSX
func (s *reportServiceImpl) Export(ctx context.Context, w io.Writer, period Period) error {
	reports, err := s.reportsIn(ctx, period)
	if err != nil {
		return err
	}
	stats, err := s.Statistics(ctx, period)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{sheetReports, sheetSteps} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	summary := [][]interface{}{
		{"Metric", "Value"},
		{"Period", string(stats.Period)},
		{"Generated At", s.now().UTC().Format(time.RFC3339)},
		{"Total Reports", stats.Total},
	}
	for _, status := range entity.AllReportStatuses {
		summary = append(summary, []interface{}{string(status), stats.ByStatus[status]})
	}
	summary = append(summary,
		[]interface{}{"Approval Rate (%)", stats.ApprovalRate},
		[]interface{}{"Rejection Rate (%)", stats.RejectionRate},
	)

	rows := [][]interface{}{{"ID", "Title", "Status", "Created By", "Submitted At", "Updated At", "Rejection Reason"}}
	for _, r := range reports {
		submitted := ""
		if r.SubmittedAt != nil {
			submitted = r.SubmittedAt.UTC().Format(time.RFC3339)
		}
		reason := ""
		if r.RejectionReason != nil {
			reason = *r.RejectionReason
		}
		rows = append(rows, []interface{}{
			r.ID, r.Title, string(r.Status), r.CreatedBy, submitted, r.UpdatedAt.UTC().Format(time.RFC3339), reason,
		})
	}

	steps := [][]interface{}{{"Step", "Label", "Total", "Completed", "Rejected", "Pending", "Avg Hours", "Completion Rate (%)"}}
	for _, p := range stats.Steps {
		steps = append(steps, []interface{}{
			p.Step.String(), p.Label, p.Total, p.Completed, p.Rejected, p.Pending, p.AvgHours, p.CompletionRate,
		})
	}

	for sheet, data := range map[string][][]interface{}{
		sheetSummary: summary,
		sheetReports: rows,
		sheetSteps:   steps,
	} {
		if err := writeRows(f, sheet, data, header); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		s.logger.Error("Failed to write export", "error", err, "period", period)
		return fmt.Errorf("write workbook: %w", err)
	}
	s.logger.Info("Approval report exported", "period", period, "reports", len(reports))
	return nil
}

func writeRows(f *excelize.File, sheet string, data [][]interface{}, headerStyle int) error {
	for i, row := range data {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(data) == 0 {
		return nil
	}

	last, err := excelize.CoordinatesToCellName(len(data[0]), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(data[0]))
	return f.SetColWidth(sheet, "A", lastCol, 20)
}
