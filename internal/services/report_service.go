package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/alimgiray/repopulse/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// Workbook sheet names
const (
	SheetOverview     = "Overview"
	SheetPullRequests = "Pull Requests"
	SheetIssues       = "Issues"
	SheetBacklog      = "Backlog Trend"
	SheetReleases     = "Releases"
)

// ReportService renders a metrics report as an XLSX workbook.
type ReportService struct {
	metrics *MetricsService
	log     *logrus.Entry
}

func NewReportService(metrics *MetricsService, log *logrus.Entry) *ReportService {
	return &ReportService{metrics: metrics, log: log}
}

// ExportFile writes the workbook for the window to path, creating parent
// directories as needed.
func (s *ReportService) ExportFile(days *int, path string) (*models.MetricsReport, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create export directory: %w", err)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}

	report, err := s.exportAndClose(days, out)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"path": path, "window": windowLabel(report.Window)}).Info("Metrics exported")
	return report, nil
}

// exportAndClose writes the workbook to out and closes it. A failed close
// fails the export.
func (s *ReportService) exportAndClose(days *int, out io.WriteCloser) (*models.MetricsReport, error) {
	report, err := s.Export(days, out)
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close export file: %w", closeErr)
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Export computes the report for the window and writes the workbook to w.
func (s *ReportService) Export(days *int, w io.Writer) (*models.MetricsReport, error) {
	report, err := s.metrics.BuildReport(days)
	if err != nil {
		return nil, err
	}

	f, err := BuildWorkbook(report)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return report, nil
}

// BuildWorkbook lays a report out over the five workbook sheets.
func BuildWorkbook(report *models.MetricsReport) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", SheetOverview); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetPullRequests, SheetIssues, SheetBacklog, SheetReleases} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}

	writers := []func(*sheetWriter, *models.MetricsReport) error{
		writeOverview,
		writePullRequests,
		writeIssues,
		writeBacklog,
		writeReleases,
	}
	sheets := []string{SheetOverview, SheetPullRequests, SheetIssues, SheetBacklog, SheetReleases}
	for i, write := range writers {
		sw := &sheetWriter{f: f, sheet: sheets[i], header: header}
		if err := write(sw, report); err != nil {
			f.Close()
			return nil, fmt.Errorf("sheet %s: %w", sheets[i], err)
		}
		if err := f.SetColWidth(sheets[i], "A", "E", 22); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// sheetWriter appends rows to one sheet.
type sheetWriter struct {
	f      *excelize.File
	sheet  string
	header int
	row    int
}

func (w *sheetWriter) append(values ...interface{}) error {
	w.row++
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	return w.f.SetSheetRow(w.sheet, cell, &values)
}

func (w *sheetWriter) heading(values ...interface{}) error {
	if err := w.append(values...); err != nil {
		return err
	}
	start, _ := excelize.CoordinatesToCellName(1, w.row)
	end, _ := excelize.CoordinatesToCellName(len(values), w.row)
	return w.f.SetCellStyle(w.sheet, start, end, w.header)
}

func (w *sheetWriter) blank() {
	w.row++
}

func writeOverview(w *sheetWriter, report *models.MetricsReport) error {
	o := report.Overview
	rows := [][]interface{}{
		{"Window", windowLabel(report.Window)},
		{"Generated At", report.GeneratedAt.Format(time.RFC3339)},
		{"Open Pull Requests", o.OpenPRs},
		{"Open Issues", o.OpenIssues},
		{"Unique Contributors", o.UniqueContributors},
		{"Total Engagements", o.TotalEngagements},
		{"Merged Pull Requests", o.MergedPRs},
		{"Closed Issues", o.ClosedIssues},
		{"Throughput", o.Throughput},
		{"Releases", o.Releases},
		{"Release Churn", o.ReleaseChurn},
	}

	if err := w.heading("Metric", "Value"); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.append(row...); err != nil {
			return err
		}
	}
	return nil
}

func writePullRequests(w *sheetWriter, report *models.MetricsReport) error {
	m := report.PullRequests
	rows := [][]interface{}{
		{"Total", m.Total},
		{"Merged", m.Merged},
		{"Merge Rate (%)", m.MergeRate},
		{"Median Merge Hours", optionalHours(m.MedianMergeHours)},
		{"Median First Response Hours", optionalHours(m.MedianFirstResponseHours)},
		{"Open Backlog", m.OpenBacklog},
	}

	if err := w.heading("Metric", "Value"); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.append(row...); err != nil {
			return err
		}
	}

	w.blank()
	if err := w.heading("Size", "Pull Requests"); err != nil {
		return err
	}
	for _, size := range []string{models.SizeXS, models.SizeS, models.SizeM, models.SizeL, models.SizeXL} {
		if err := w.append(size, m.SizeDistribution[size]); err != nil {
			return err
		}
	}

	w.blank()
	if err := w.heading("Week", "Additions", "Deletions"); err != nil {
		return err
	}
	for _, p := range report.Trends.CodeChurn {
		if err := w.append(p.Week, p.Additions, p.Deletions); err != nil {
			return err
		}
	}
	return nil
}

func writeIssues(w *sheetWriter, report *models.MetricsReport) error {
	m := report.Issues
	rows := [][]interface{}{
		{"Total", m.Total},
		{"Closed", m.Closed},
		{"Close Rate (%)", m.CloseRate},
		{"Median Close Hours", optionalHours(m.MedianCloseHours)},
		{"Median First Response Hours", optionalHours(m.MedianFirstResponseHours)},
		{"Open Backlog", m.OpenBacklog},
	}

	if err := w.heading("Metric", "Value"); err != nil {
		return err
	}
	for _, row := range rows {
		if err := w.append(row...); err != nil {
			return err
		}
	}

	w.blank()
	if err := w.heading("Age", "Open Issues"); err != nil {
		return err
	}
	for _, bucket := range []string{models.AgeUnderWeek, models.AgeUnderMonth, models.AgeUnderQuart, models.AgeOlder} {
		if err := w.append(bucket, m.Aging[bucket]); err != nil {
			return err
		}
	}

	w.blank()
	if err := w.heading("Type", "Open Issues"); err != nil {
		return err
	}
	types := make([]string, 0, len(m.TypeDistribution))
	for t := range m.TypeDistribution {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		if err := w.append(t, m.TypeDistribution[t]); err != nil {
			return err
		}
	}
	return nil
}

func writeBacklog(w *sheetWriter, report *models.MetricsReport) error {
	if err := w.heading("Date", "Opened", "Closed", "Backlog"); err != nil {
		return err
	}
	for _, p := range report.Trends.Backlog {
		if err := w.append(p.Date, p.Opened, p.Closed, p.Backlog); err != nil {
			return err
		}
	}
	return nil
}

func writeReleases(w *sheetWriter, report *models.MetricsReport) error {
	if err := w.heading("Tag", "Created At", "Merged PRs", "Breaking"); err != nil {
		return err
	}
	for _, p := range report.Trends.ReleaseTimeline {
		if err := w.append(p.TagName, p.CreatedAt.Format(time.RFC3339), p.MergedPRs, p.IsBreaking); err != nil {
			return err
		}
	}
	return nil
}

func windowLabel(window models.MetricsWindow) string {
	if window.Days == nil {
		return "all time"
	}
	return fmt.Sprintf("last %d days", *window.Days)
}

// optionalHours leaves the cell empty when there is nothing to report.
func optionalHours(hours *float64) interface{} {
	if hours == nil {
		return ""
	}
	return *hours
}
