package session

import (
	"time"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/stats"
)

// Snapshot is a read-only copy of the session for observers such as the
// dashboard. It is replaced, never mutated, after publication.
type Snapshot struct {
	RunID     string
	Suite     string
	State     State
	StartedAt time.Time
	Now       time.Time

	Generation int
	PID        int
	Port       int

	CurrentSet string
	CurrentID  int
	// CasesStarted is set once the current generation reported START or
	// its first case.
	CasesStarted bool
	SetCounts    Counts
	Totals       Counts

	ActiveChannels int
	LinesRead      int64

	Crashes             int
	ConsecutiveCrashes  int
	Timeouts            int
	ConsecutiveTimeouts int
	ConsecutiveFailures int

	// SinceLastCase is the idle time the case timeout is measured against.
	SinceLastCase time.Duration
	CaseTimeout   time.Duration

	Durations stats.DurationQuantiles

	Aborted bool
	Reason  string

	// Alerts holds the most recent alerts, oldest first.
	Alerts []string
}

// Elapsed returns the session run time at the moment of the snapshot.
func (s *Snapshot) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return s.Now.Sub(s.StartedAt)
}
