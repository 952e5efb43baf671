// Package tui provides a live terminal dashboard for a test session.
//
// The dashboard is a Bubble Tea program styled with Lipgloss. It polls the
// session snapshot and shows the runner, the status counts of the current
// set and the session, the recovery counters against their abort limits,
// case durations and recent alerts.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/session"
)

// =============================================================================
// Palette
// =============================================================================

var (
	colorAccent = lipgloss.Color("#5B21B6")
	colorTitle  = lipgloss.Color("#22D3EE")

	colorPass = lipgloss.Color("#22C55E")
	colorWarn = lipgloss.Color("#EAB308")
	colorFail = lipgloss.Color("#DC2626")
	colorIdle = lipgloss.Color("#60A5FA")

	colorText  = lipgloss.Color("#F3F4F6")
	colorMuted = lipgloss.Color("#A1A1AA")
	colorDim   = lipgloss.Color("#71717A")
	colorFrame = lipgloss.Color("#3F3F46")
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func bold(c lipgloss.Color) lipgloss.Style {
	return fg(c).Bold(true)
}

// =============================================================================
// Styles
// =============================================================================

var (
	mutedStyle = fg(colorMuted)
	dimStyle   = fg(colorDim)
	alertStyle = fg(colorWarn)
	labelStyle = fg(colorMuted).Width(20)

	statusOK      = bold(colorPass)
	statusWarning = bold(colorWarn)
	statusError   = bold(colorFail)
	statusInfo    = bold(colorIdle)

	valueStyle     = bold(colorText)
	valueGoodStyle = statusOK
	valueWarnStyle = statusWarning
	valueBadStyle  = statusError

	headerStyle = bold(colorText).
			Background(colorAccent).
			Padding(0, 1).
			MarginBottom(1)
	sectionHeaderStyle = bold(colorTitle).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorFrame)
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorFrame).
			Padding(0, 1)
	footerStyle = fg(colorMuted).MarginTop(1)

	tableHeaderStyle = bold(colorTitle)
	tableCellStyle   = fg(colorText).Align(lipgloss.Right)

	barFullStyle  = fg(colorAccent)
	barEmptyStyle = fg(colorFrame)
)

// stateStyles maps session states to their label style; anything else is
// statusInfo.
var stateStyles = map[session.State]lipgloss.Style{
	session.StateRunning:      statusOK,
	session.StateCompleted:    statusOK,
	session.StateAwaitingInit: statusWarning,
	session.StateRelaunching:  statusWarning,
	session.StateCrashed:      statusError,
	session.StateTimedOut:     statusError,
	session.StateAborted:      statusError,
}

// GetStateStyle returns the style of a session state label.
func GetStateStyle(state session.State) lipgloss.Style {
	if st, ok := stateStyles[state]; ok {
		return st
	}
	return statusInfo
}

// GetStateLabel returns a styled state label.
func GetStateLabel(state session.State) string {
	return GetStateStyle(state).Render("● " + state.String())
}

// GetLimitStyle colors a counter by how close it is to its abort limit.
// A limit of zero or less is disabled.
func GetLimitStyle(n, limit int) lipgloss.Style {
	switch {
	case n == 0:
		return valueGoodStyle
	case limit > 0 && n >= limit-1:
		return valueBadStyle
	default:
		return valueWarnStyle
	}
}

// RenderLimit renders "n/limit" styled by GetLimitStyle.
func RenderLimit(n, limit int) string {
	text := fmt.Sprint(n)
	if limit > 0 {
		text += fmt.Sprintf("/%d", limit)
	}
	return GetLimitStyle(n, limit).Render(text)
}

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label, value string) string {
	return labelStyle.Render(label+":") + valueStyle.Render(value)
}

// RenderProgressBar renders a bar of at least 10 cells followed by the
// percentage. progress is clamped to [0, 1] for the bar only.
func RenderProgressBar(progress float64, width int) string {
	width = max(width, 10)
	filled := min(max(int(progress*float64(width)), 0), width)

	return barFullStyle.Render(repeatChar('█', filled)) +
		barEmptyStyle.Render(repeatChar('░', width-filled)) +
		valueStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	return strings.Repeat(string(char), count)
}
