package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"gateway/internal/utils"

	"github.com/phpdave11/gofpdf"
)

// Report renders the current summary as a one-page PDF.
func (s DashboardService) Report(ctx context.Context) ([]byte, string, error) {
	summary, err := s.Summary(ctx)
	if err != nil {
		return nil, "", err
	}
	utils.LogEvent(s.Logger, s.RequestID, "dashboard", "generate_report", fmt.Sprintf("partial=%t", summary.Partial))
	return BuildDashboardPDF(summary)
}

// BuildDashboardPDF lays the summary out on A4. Failed sections are
// printed as unavailable instead of their zeroed counters.
func BuildDashboardPDF(d DashboardSummary) ([]byte, string, error) {
	failed := map[string]bool{}
	for _, f := range d.FailedSections {
		failed[f.Section] = true
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Maintenance Dashboard", false)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "MAINTENANCE DASHBOARD")
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, "Generated : "+utils.FormatDateTime(d.GeneratedAt))
	pdf.Ln(6)
	if d.Partial {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.Cell(0, 6, "Partial data: some services did not answer.")
		pdf.Ln(6)
	}
	pdf.Ln(4)

	block := func(title string, section string, lines []string) {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 7, title)
		pdf.Ln(7)
		pdf.SetFont("Helvetica", "", 11)
		if failed[section] {
			pdf.Cell(0, 6, "  unavailable")
			pdf.Ln(8)
			return
		}
		for _, l := range lines {
			pdf.Cell(0, 6, "  "+l)
			pdf.Ln(6)
		}
		pdf.Ln(2)
	}

	block("Tasks", SectionTasks, []string{
		fmt.Sprintf("Total        : %s", utils.FormatCount(d.Tasks.Total)),
		fmt.Sprintf("Pending      : %s", utils.FormatCount(d.Tasks.Pending)),
		fmt.Sprintf("Assigned     : %s", utils.FormatCount(d.Tasks.Assigned)),
		fmt.Sprintf("In progress  : %s", utils.FormatCount(d.Tasks.InProgress)),
		fmt.Sprintf("Completed    : %s", utils.FormatCount(d.Tasks.Completed)),
		fmt.Sprintf("Overdue      : %s", utils.FormatCount(d.Tasks.Overdue)),
	})

	crackLines := []string{
		fmt.Sprintf("Total        : %s", utils.FormatCount(d.Cracks.Total)),
		fmt.Sprintf("Pending      : %s", utils.FormatCount(d.Cracks.Pending)),
		fmt.Sprintf("Reviewing    : %s", utils.FormatCount(d.Cracks.Reviewing)),
		fmt.Sprintf("Resolved     : %s", utils.FormatCount(d.Cracks.Resolved)),
	}
	severities := make([]string, 0, len(d.Cracks.BySeverity))
	for k := range d.Cracks.BySeverity {
		severities = append(severities, k)
	}
	sort.Strings(severities)
	for _, k := range severities {
		crackLines = append(crackLines, fmt.Sprintf("  %-10s : %s", k, utils.FormatCount(d.Cracks.BySeverity[k])))
	}
	block("Crack reports", SectionCracks, crackLines)

	block("Staff", SectionStaff, []string{
		fmt.Sprintf("Total        : %s", utils.FormatCount(d.Staff.Total)),
		fmt.Sprintf("Active       : %s", utils.FormatCount(d.Staff.Active)),
		fmt.Sprintf("Inactive     : %s", utils.FormatCount(d.Staff.Inactive)),
	})

	block("Feedback", SectionFeedback, []string{
		fmt.Sprintf("Responses    : %s", utils.FormatCount(d.Feedback.Total)),
		fmt.Sprintf("Avg rating   : %.2f", d.Feedback.AverageRating),
		fmt.Sprintf("Positive     : %s", utils.FormatCount(d.Feedback.Positive)),
		fmt.Sprintf("Negative     : %s", utils.FormatCount(d.Feedback.Negative)),
	})

	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 7, "Top staff")
	pdf.Ln(7)
	pdf.SetFont("Helvetica", "", 10)
	top := TopPerformers(d.StaffPerformance, 10)
	if len(top) == 0 {
		pdf.Cell(0, 6, "  no data")
		pdf.Ln(6)
	}
	for _, p := range top {
		pdf.Cell(0, 6, fmt.Sprintf("  %-24s %3d/%-3d done  %s  on time %s",
			safe(p.Name, p.StaffID), p.Completed, p.Assigned,
			utils.FormatPercent(p.CompletionRate), utils.FormatPercent(p.OnTimeRate)))
		pdf.Ln(6)
	}

	if len(d.FailedSections) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "I", 9)
		names := make([]string, 0, len(d.FailedSections))
		for _, f := range d.FailedSections {
			names = append(names, f.String())
		}
		pdf.MultiCell(0, 5, "Unavailable sections: "+strings.Join(names, ", "), "", "", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("DASHBOARD_%s.pdf", safeFilenamePart(utils.FormatDate(d.GeneratedAt)))
	return buf.Bytes(), filename, nil
}

func safe(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func safeFilenamePart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "NA"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	s = replacer.Replace(s)
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}
