// Package stats provides case-level statistics for a test session.
//
// This file implements the end-of-session summary: a go-pretty totals table
// for the console and a JSON document for tooling.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// SetTotals holds the status counters of one visited test set.
type SetTotals struct {
	Name   string         `json:"name"`
	Counts map[string]int `json:"counts"`
}

// SessionSummary is everything reported when a session ends.
type SessionSummary struct {
	RunID       string        `json:"run_id"`
	Environment string        `json:"environment"`
	Suite       string        `json:"suite"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`

	// Generation counts runner launches (1 = never relaunched).
	Generation int    `json:"generation"`
	Completed  bool   `json:"completed"`
	Aborted    bool   `json:"aborted"`
	Reason     string `json:"reason,omitempty"`

	// Statuses is the column order for Totals and every SetTotals.
	Statuses []string       `json:"statuses"`
	Totals   map[string]int `json:"totals"`
	Sets     []SetTotals    `json:"sets"`

	// Failed is the number of cases that did not pass, as judged by the session.
	Failed int `json:"failed"`

	Crashes  int `json:"crashes"`
	Timeouts int `json:"timeouts"`

	CaseDurations DurationQuantiles `json:"case_durations"`

	// Artifacts lists compressed core dumps collected during the session.
	Artifacts []string `json:"artifacts,omitempty"`
}

// FormatSessionSummary renders the summary for the console.
func FormatSessionSummary(s SessionSummary) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n")
	b.WriteString("                      go-testrunner-monitor Session Summary\n")
	b.WriteString("═══════════════════════════════════════════════════════════════════════════════\n\n")

	fmt.Fprintf(&b, "Run ID:                 %s\n", s.RunID)
	fmt.Fprintf(&b, "Suite:                  %s (%s)\n", s.Suite, s.Environment)
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(s.Duration))
	fmt.Fprintf(&b, "Runner Launches:        %d\n", s.Generation)
	fmt.Fprintf(&b, "Crashes / Timeouts:     %d / %d\n", s.Crashes, s.Timeouts)

	switch {
	case s.Aborted:
		fmt.Fprintf(&b, "Result:                 ABORTED (%s)\n\n", s.Reason)
	case s.Failed > 0:
		fmt.Fprintf(&b, "Result:                 FAIL (%d of %d cases)\n\n", s.Failed, s.Totals["TOTAL"])
	default:
		b.WriteString("Result:                 PASS\n\n")
	}

	if len(s.Statuses) > 0 {
		b.WriteString(renderTotalsTable(s))
		b.WriteString("\n")
	}

	if d := s.CaseDurations; d.Count > 0 {
		b.WriteString("Case Durations:\n")
		fmt.Fprintf(&b, "  Cases timed:          %s\n", FormatNumber(d.Count))
		fmt.Fprintf(&b, "  Min / Mean / Max:     %s / %s / %s\n", FormatMs(d.Min), FormatMs(d.Mean), FormatMs(d.Max))
		fmt.Fprintf(&b, "  P50 / P90 / P99:      %s / %s / %s\n", FormatMs(d.P50), FormatMs(d.P90), FormatMs(d.P99))
	}

	if len(s.Artifacts) > 0 {
		b.WriteString("\nCore dumps:\n")
		for _, a := range s.Artifacts {
			fmt.Fprintf(&b, "  %s\n", a)
		}
	}

	b.WriteString("\n═══════════════════════════════════════════════════════════════════════════════\n")
	return b.String()
}

// renderTotalsTable lays out one row per set and a TOTAL footer.
func renderTotalsTable(s SessionSummary) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Test Results (%s)", FormatDuration(s.Duration)))

	header := table.Row{"Set"}
	configs := []table.ColumnConfig{{Number: 1, WidthMax: 60, WidthMaxEnforcer: text.WrapSoft}}
	for i, st := range s.Statuses {
		header = append(header, st)
		configs = append(configs, table.ColumnConfig{Number: i + 2, Align: text.AlignRight})
	}
	t.AppendHeader(header)
	t.SetColumnConfigs(configs)

	for _, set := range s.Sets {
		row := table.Row{set.Name}
		for _, st := range s.Statuses {
			row = append(row, set.Counts[st])
		}
		t.AppendRow(row)
	}

	footer := table.Row{"TOTAL"}
	for _, st := range s.Statuses {
		footer = append(footer, s.Totals[st])
	}
	t.AppendFooter(footer)

	switch {
	case s.Aborted || s.Failed > 0:
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	default:
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	}
	return t.Render() + "\n"
}

// WriteSummaryJSON writes s to path, replacing any previous file.
func WriteSummaryJSON(path string, s SessionSummary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary %s: %w", path, err)
	}
	return nil
}

// ReadSummaryJSON loads a summary written by WriteSummaryJSON.
func ReadSummaryJSON(path string) (SessionSummary, error) {
	var s SessionSummary
	data, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse summary %s: %w", path, err)
	}
	return s, nil
}
