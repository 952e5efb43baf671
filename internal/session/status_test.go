package session

import (
	"strings"
	"testing"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/logging"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/results"
)

// =============================================================================
// Counts
// =============================================================================

func TestCounts(t *testing.T) {
	var c Counts
	c.Add(StatusSucceed)
	c.Add(StatusSucceed)
	c.Add(StatusFailed)
	c.Add(StatusSuspended)
	c.Add(StatusNotFound)
	c.Add(StatusCrashed)

	tests := []struct {
		name string
		got  int
		want int
	}{
		{"total", c.Total(), 6},
		{"succeed", c.Get(StatusSucceed), 2},
		{"unknown column", c.Get("BOGUS"), 0},
		{"failed", c.Failed(), 2},
		{"ran", c.Ran(), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %d, want %d", tt.got, tt.want)
			}
		})
	}

	if got, want := c.Row("S1"), "S1,2,1,1,1,0,0,0,1,0,6"; got != want {
		t.Errorf("Row() = %q, want %q", got, want)
	}
	if m := c.Map(); len(m) != len(Columns) || m[StatusTotal] != 6 {
		t.Errorf("Map() = %v", m)
	}
}

func TestKnownStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusSucceed, true},
		{StatusCleanupFailed, true},
		{StatusTimeout, true},
		{StatusTotal, false},
		{statusExcluded, false},
		{"succeed", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			if got := KnownStatus(tt.status); got != tt.want {
				t.Errorf("KnownStatus(%q) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		want     string
		terminal bool
	}{
		{StateNotStarted, "NOT_STARTED", false},
		{StateAwaitingInit, "AWAITING_INIT", false},
		{StateTimedOut, "TIMED_OUT", false},
		{StateCompleted, "COMPLETED", true},
		{StateAborted, "ABORTED", true},
		{State(42), "UNKNOWN", false},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

// =============================================================================
// Status grammar handling
// =============================================================================

// handlerSession is a session with open logs and no status server, for
// feeding status lines directly.
func handlerSession(t *testing.T) *Session {
	t.Helper()
	cfg := testConfig(t)
	s := newTestSession(t, cfg, newFakeRunner(t, exits()))
	logs, err := results.Open(cfg.ResolvedOutputPrefix(), s.runID, results.Hooks{}, logging.Discard())
	if err != nil {
		t.Fatalf("results.Open() error = %v", err)
	}
	s.logs = logs
	t.Cleanup(func() { logs.Close() })
	return s
}

func feed(s *Session, lines ...string) {
	for _, l := range lines {
		s.onStatusLine(l)
	}
}

func TestStatus_Lines(t *testing.T) {
	tests := []struct {
		name       string
		lines      []string
		wantSet    string
		wantID     int
		wantCounts map[string]int
		wantAlerts int
	}{
		{
			name:       "in order",
			lines:      []string{"SET CHANGE:S1", "CASE:S1-1", "STATUS:SUCCEED(S1-1)", "CASE:S1-2", "STATUS:FAILED_STARTUP(S1-2)"},
			wantSet:    "S1",
			wantID:     3,
			wantCounts: map[string]int{StatusSucceed: 1, StatusFailedStartup: 1, StatusTotal: 2},
		},
		{
			name:       "excluded counts as suspended",
			lines:      []string{"SET CHANGE:S1", "STATUS:EXCLUDED(S1-1)"},
			wantSet:    "S1",
			wantID:     2,
			wantCounts: map[string]int{StatusSuspended: 1, StatusTotal: 1},
		},
		{
			name:       "unknown status counts as failed",
			lines:      []string{"SET CHANGE:S1", "STATUS:WEIRD(S1-1)"},
			wantSet:    "S1",
			wantID:     2,
			wantCounts: map[string]int{StatusFailed: 1, StatusTotal: 1},
			wantAlerts: 1,
		},
		{
			name:       "out of order id is corrected",
			lines:      []string{"SET CHANGE:S1", "STATUS:SUCCEED(S1-5)"},
			wantSet:    "S1",
			wantID:     6,
			wantCounts: map[string]int{StatusSucceed: 1, StatusTotal: 1},
			wantAlerts: 1,
		},
		{
			name:       "unexpected set is adopted",
			lines:      []string{"SET CHANGE:S1", "CASE:S2-1", "STATUS:SUCCEED(S2-1)"},
			wantSet:    "S2",
			wantID:     2,
			wantCounts: map[string]int{StatusSucceed: 1, StatusTotal: 1},
			wantAlerts: 1,
		},
		{
			name:       "unmatched line is an alert",
			lines:      []string{"HELLO"},
			wantSet:    "",
			wantID:     1,
			wantCounts: map[string]int{StatusTotal: 0},
			wantAlerts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := handlerSession(t)
			feed(s, tt.lines...)

			if s.currentSet != tt.wantSet || s.currentID != tt.wantID {
				t.Errorf("position = %s-%d, want %s-%d", s.currentSet, s.currentID, tt.wantSet, tt.wantID)
			}
			for status, n := range tt.wantCounts {
				if got := s.totals.Get(status); got != n {
					t.Errorf("totals[%s] = %d, want %d", status, got, n)
				}
			}
			if len(s.alerts) != tt.wantAlerts {
				t.Errorf("alerts = %q, want %d", s.alerts, tt.wantAlerts)
			}
			if s.aborted {
				t.Errorf("aborted: %s", s.reason)
			}
		})
	}
}

func TestStatus_InitAndComplete(t *testing.T) {
	s := handlerSession(t)
	feed(s, "INIT")
	if !s.inited || s.state != StateRunning {
		t.Errorf("after INIT: inited=%v state=%v", s.inited, s.state)
	}
	s.publish()
	if s.Snapshot().CasesStarted {
		t.Error("snapshot reports cases before START")
	}
	feed(s, "START")
	s.publish()
	if !s.Snapshot().CasesStarted {
		t.Error("START not recorded in the snapshot")
	}
	feed(s, "COMPLETE")
	if !s.completed {
		t.Error("COMPLETE not recorded")
	}
}

func TestStatus_ConsecutiveFailures(t *testing.T) {
	tests := []struct {
		name        string
		lines       []string
		wantAbort   bool
		wantCounter int
	}{
		{
			name:        "limit reached",
			lines:       []string{"STATUS:FAILED(S1-1)", "STATUS:CLEANUP_FAILED(S1-2)", "STATUS:FAILED(S1-3)"},
			wantAbort:   true,
			wantCounter: 3,
		},
		{
			name:        "success resets",
			lines:       []string{"STATUS:FAILED(S1-1)", "STATUS:FAILED(S1-2)", "STATUS:SUCCEED(S1-3)", "STATUS:FAILED(S1-4)"},
			wantCounter: 1,
		},
		{
			name:        "skips neither count nor reset",
			lines:       []string{"STATUS:FAILED(S1-1)", "STATUS:SUSPENDED(S1-2)", "STATUS:NOT_FOUND(S1-3)", "STATUS:FAILED(S1-4)"},
			wantCounter: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := handlerSession(t)
			s.cfg.MaxConsecutiveFailure = 3
			feed(s, "SET CHANGE:S1")
			feed(s, tt.lines...)

			if s.aborted != tt.wantAbort {
				t.Errorf("aborted = %v, want %v", s.aborted, tt.wantAbort)
			}
			if tt.wantAbort && s.reason != "too many consecutive failures" {
				t.Errorf("reason = %q", s.reason)
			}
			if s.consecutiveFailures != tt.wantCounter {
				t.Errorf("consecutiveFailures = %d, want %d", s.consecutiveFailures, tt.wantCounter)
			}
		})
	}
}

func TestStatus_ResetsCrashAndTimeoutStreaks(t *testing.T) {
	s := handlerSession(t)
	s.consecutiveCrashes = 2
	s.consecutiveTimeouts = 4
	s.crashes = 2
	feed(s, "SET CHANGE:S1", "STATUS:SUCCEED(S1-1)")

	if s.consecutiveCrashes != 0 || s.consecutiveTimeouts != 0 {
		t.Errorf("streaks = %d/%d, want 0/0", s.consecutiveCrashes, s.consecutiveTimeouts)
	}
	if s.crashes != 2 {
		t.Errorf("accumulated crashes = %d, want 2", s.crashes)
	}
}

func TestSynthesizeFailure(t *testing.T) {
	s := handlerSession(t)
	s.synthesizeFailure("Test crashed.", StatusCrashed)
	feed(s, "SET CHANGE:S1")
	s.synthesizeFailure("plain", StatusFailed)
	s.completeOutput()

	if s.totals.Total() != 2 {
		t.Errorf("total = %d, want 2", s.totals.Total())
	}
	sum := 0
	for _, set := range s.sets {
		sum += set.Counts[StatusTotal]
	}
	if sum != s.totals.Total() {
		t.Errorf("sum of sets = %d, total = %d", sum, s.totals.Total())
	}
	if len(s.sets) != 2 || s.sets[0].Name != unknownSet || s.sets[1].Name != "S1" {
		t.Errorf("sets = %+v", s.sets)
	}

	s.logs.Close()
	status := readFile(t, s.cfg.OutputPrefix+"__status.log")
	if !strings.Contains(status, "STATUS:CRASHED(Unknown-1)") {
		t.Errorf("status log lacks crash marker:\n%s", status)
	}
	if strings.Contains(status, "STATUS:FAILED") {
		t.Errorf("FAILED synthesis must not touch the status log:\n%s", status)
	}
	xml := readFile(t, s.cfg.OutputPrefix+"__summary.xml")
	if !strings.Contains(xml, `tests="2" failures="2"`) {
		t.Errorf("summary.xml counts wrong:\n%s", xml)
	}
}

func TestOnTruncatedLine_RaisesAlert(t *testing.T) {
	s := handlerSession(t)
	s.onTruncatedLine("ServerStatusLog")

	if len(s.alerts) != 1 || !strings.Contains(s.alerts[0], "ServerStatusLog") {
		t.Errorf("alerts = %q, want one naming the channel", s.alerts)
	}
	if s.aborted {
		t.Errorf("truncation aborted the session: %s", s.reason)
	}
}
