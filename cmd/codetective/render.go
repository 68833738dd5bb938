package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/Eng-Elias/codetective/internal/models"
	"github.com/Eng-Elias/codetective/internal/system"
)

// Lipgloss styles shared by the command summaries.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	tableStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)

	severityStyles = map[models.Severity]lipgloss.Style{
		models.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		models.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		models.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		models.SeverityInfo:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	}
)

// severityOrder lists severities most severe first, for summary lines.
var severityOrder = []models.Severity{
	models.SeverityCritical,
	models.SeverityHigh,
	models.SeverityMedium,
	models.SeverityLow,
	models.SeverityInfo,
}

// renderScanSummary formats one scan's outcome: a per-agent table, issue
// counts by severity and where the document was written.
func renderScanSummary(result *models.ScanResult, outPath string) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Scan complete"))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  (%.1fs)", result.ScanPath, result.ScanDuration)))
	b.WriteString("\n")

	var rows []string
	rows = append(rows, dimStyle.Render(fmt.Sprintf("%-10s  %-7s  %6s  %8s", "AGENT", "STATUS", "ISSUES", "DURATION")))
	for _, ar := range result.AgentResults {
		status := okStyle.Render("ok")
		if !ar.Success {
			status = failStyle.Render("error")
		}
		row := fmt.Sprintf("%-10s  %s  %6d  %7.1fs", ar.AgentName, pad(status, 7), len(ar.Issues), ar.Duration)
		if !ar.Success && ar.ErrorMessage != "" {
			row += dimStyle.Render("  " + ar.ErrorMessage)
		}
		rows = append(rows, row)
	}
	b.WriteString(tableStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	if result.TotalIssues == 0 {
		b.WriteString(okStyle.Render("no issues found"))
		b.WriteString("\n")
	} else {
		b.WriteString(failStyle.Render(fmt.Sprintf("%d issues found", result.TotalIssues)))
		if line := severityLine(result); line != "" {
			b.WriteString(dimStyle.Render("  (") + line + dimStyle.Render(")"))
		}
		b.WriteString("\n")
	}

	b.WriteString(dimStyle.Render("results written to " + outPath))
	return b.String()
}

// severityLine renders non-zero severity counts, most severe first.
func severityLine(result *models.ScanResult) string {
	counts := make(map[models.Severity]int)
	for _, issue := range result.AllIssues() {
		counts[issue.Severity]++
	}

	var parts []string
	for _, sev := range severityOrder {
		if n := counts[sev]; n > 0 {
			parts = append(parts, severityStyles[sev].Render(fmt.Sprintf("%d %s", n, sev)))
		}
	}
	return strings.Join(parts, dimStyle.Render(", "))
}

// renderFixSummary formats one fix run's outcome.
func renderFixSummary(fix *models.FixResult, docPath string, dryRun bool) string {
	var b strings.Builder

	title := "Fix complete"
	if dryRun {
		title = "Fix preview (dry run)"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  (%.1fs)", fix.Duration)))
	b.WriteString("\n")

	fixed := fix.CountByStatus(models.StatusFixed)
	failed := fix.CountByStatus(models.StatusFailed)
	skipped := fix.CountByStatus(models.StatusSkipped)

	var parts []string
	if fixed > 0 {
		parts = append(parts, okStyle.Render(fmt.Sprintf("%d fixed", fixed)))
	}
	if failed > 0 {
		parts = append(parts, failStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	if skipped > 0 {
		parts = append(parts, dimStyle.Render(fmt.Sprintf("%d skipped", skipped)))
	}
	if len(parts) == 0 {
		parts = append(parts, dimStyle.Render("nothing to fix"))
	}
	b.WriteString(strings.Join(parts, dimStyle.Render(", ")))
	b.WriteString("\n")

	for _, file := range fix.ModifiedFiles {
		b.WriteString(dimStyle.Render("modified ") + file + "\n")
	}
	if fix.BackupCount > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("%d backups kept\n", fix.BackupCount)))
	}

	if !dryRun {
		b.WriteString(dimStyle.Render("document updated: " + docPath))
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderInfoTable formats the tool probe results with install hints for
// anything missing.
func renderInfoTable(tools []system.ToolStatus) string {
	var rows []string
	rows = append(rows, dimStyle.Render(fmt.Sprintf("%-10s  %-9s  %s", "TOOL", "STATUS", "VERSION")))

	var hints []string
	for _, tool := range tools {
		status := okStyle.Render("ready")
		version := tool.Version
		if !tool.Available {
			status = failStyle.Render("missing")
			version = dimStyle.Render("-")
			if tool.InstallHint != "" {
				hints = append(hints, fmt.Sprintf("%s: %s", tool.Name, tool.InstallHint))
			}
		}
		rows = append(rows, fmt.Sprintf("%-10s  %s  %s", tool.Name, pad(status, 9), version))
	}

	out := tableStyle.Render(strings.Join(rows, "\n"))
	if len(hints) > 0 {
		out += "\n" + titleStyle.Render("To install:")
		for _, hint := range hints {
			out += "\n  " + dimStyle.Render(hint)
		}
	}
	return out
}

// pad right-pads styled text to a visible width. Styled strings carry ANSI
// escapes, so fmt's %-Ns padding would count the wrong length.
func pad(styled string, width int) string {
	if w := lipgloss.Width(styled); w < width {
		return styled + strings.Repeat(" ", width-w)
	}
	return styled
}
