package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/session"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/stats"
)

// alertLines caps the alert panel.
const alertLines = 8

// =============================================================================
// Main View Rendering
// =============================================================================

func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderPosition(),
		m.renderCounts(),
		m.renderRecovery(),
	}
	if m.snap.Durations.Count > 0 {
		sections = append(sections, m.renderDurations())
	}
	if m.showAlerts && len(m.snap.Alerts) > 0 {
		sections = append(sections, m.renderAlerts())
	}
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	suite := m.snap.Suite
	if suite == "" {
		suite = "(suite pending)"
	}
	header := fmt.Sprintf(
		" go-testrunner-monitor │ %s │ %s │ Runner #%d │ Elapsed: %s ",
		suite,
		GetStateLabel(m.snap.State),
		m.snap.Generation,
		stats.FormatDuration(m.snap.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Position
// =============================================================================

func (m Model) renderPosition() string {
	barWidth := max(m.width-30, 20)

	pid := "-"
	if m.snap.PID > 0 {
		pid = fmt.Sprintf("%d", m.snap.PID)
	}

	rows := []string{
		RenderKeyValue("Current case", m.Position()),
		RenderKeyValue("Runner pid", pid),
		RenderKeyValue("Status port", fmt.Sprintf("%d (%d channels)", m.snap.Port, m.snap.ActiveChannels)),
		RenderKeyValue("Status lines", stats.FormatNumber(m.snap.LinesRead)),
		mutedStyle.Render(fmt.Sprintf("Idle %s of %s case timeout",
			stats.FormatDuration(m.snap.SinceLastCase), stats.FormatDuration(m.snap.CaseTimeout))),
		RenderProgressBar(m.CaseProgress(), barWidth),
	}
	if m.snap.Aborted {
		rows = append(rows, statusError.Render("ABORTED: "+m.snap.Reason))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Runner")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Status Counts
// =============================================================================

// countColumns are the statuses shown in the counts table, in order.
var countColumns = []struct {
	status string
	label  string
}{
	{session.StatusSucceed, "Succeed"},
	{session.StatusFailed, "Failed"},
	{session.StatusCrashed, "Crashed"},
	{session.StatusTimeout, "Timeout"},
	{session.StatusFailedStartup, "Startup"},
	{session.StatusCleanupFailed, "Cleanup"},
	{session.StatusSuspended, "Suspended"},
	{session.StatusNotFound, "NotFound"},
	{session.StatusResultIgnored, "Ignored"},
	{session.StatusTotal, "Total"},
}

func (m Model) renderCounts() string {
	const cell = 10

	header := []string{lipgloss.NewStyle().Width(12).Render("")}
	for _, c := range countColumns {
		header = append(header, tableHeaderStyle.Width(cell).Align(lipgloss.Right).Render(c.label))
	}

	set := m.snap.CurrentSet
	if set == "" {
		set = "-"
	}
	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, header...),
		renderCountRow(truncate(set, 12), m.snap.SetCounts, cell),
		renderCountRow("Session", m.snap.Totals, cell),
	}

	passRate := statusOK.Render(fmt.Sprintf("Pass rate %.1f%%", m.PassRate()*100))
	if m.snap.Totals.Failed() > 0 {
		passRate = statusWarning.Render(fmt.Sprintf("Pass rate %.1f%% (%d not passed)", m.PassRate()*100, m.snap.Totals.Failed()))
	}
	rows = append(rows, passRate)

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Test Status")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

func renderCountRow(label string, c session.Counts, cell int) string {
	cells := []string{mutedStyle.Width(12).Render(label)}
	for _, col := range countColumns {
		n := c.Get(col.status)
		style := tableCellStyle
		switch {
		case n == 0:
			style = style.Foreground(colorDim)
		case col.status == session.StatusSucceed:
			style = style.Foreground(colorPass)
		case col.status == session.StatusFailed, col.status == session.StatusCrashed, col.status == session.StatusTimeout:
			style = style.Foreground(colorFail)
		}
		cells = append(cells, style.Width(cell).Render(stats.FormatNumber(int64(n))))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

// =============================================================================
// Recovery
// =============================================================================

func (m Model) renderRecovery() string {
	l := m.limits
	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Crashes:"),
			RenderLimit(m.snap.Crashes, l.MaxCrashes),
			mutedStyle.Render("  in a row "),
			RenderLimit(m.snap.ConsecutiveCrashes, l.MaxConsecutiveCrashes),
		),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Timeouts:"),
			RenderLimit(m.snap.Timeouts, l.MaxAccumulatedTimeout),
			mutedStyle.Render("  in a row "),
			RenderLimit(m.snap.ConsecutiveTimeouts, l.MaxConsecutiveTimeout),
		),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Failures in a row:"),
			RenderLimit(m.snap.ConsecutiveFailures, l.MaxConsecutiveFailure),
		),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Recovery")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Case Durations
// =============================================================================

func (m Model) renderDurations() string {
	d := m.snap.Durations
	rows := []string{
		RenderKeyValue("Cases timed", stats.FormatNumber(d.Count)),
		RenderKeyValue("P50 (median)", stats.FormatMs(d.P50)),
		RenderKeyValue("P90", stats.FormatMs(d.P90)),
		RenderKeyValue("P99", stats.FormatMs(d.P99)),
		RenderKeyValue("Max", stats.FormatMs(d.Max)),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Case Durations")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Alerts
// =============================================================================

func (m Model) renderAlerts() string {
	alerts := m.snap.Alerts
	if len(alerts) > alertLines {
		alerts = alerts[len(alerts)-alertLines:]
	}

	rows := make([]string, 0, len(alerts)+1)
	rows = append(rows, sectionHeaderStyle.Render(fmt.Sprintf("Alerts (%d)", len(m.snap.Alerts))))
	for _, a := range alerts {
		rows = append(rows, alertStyle.Render(truncate(a, m.width-6)))
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: close dashboard",
		"ctrl+c: abort session",
		"a: toggle alerts",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	} else if m.command != "" {
		right = dimStyle.Render(truncate(m.command, max(m.width-lipgloss.Width(left)-4, 10)))
	}

	padding := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

// truncate shortens s to n runes with a trailing ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if n < 4 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
