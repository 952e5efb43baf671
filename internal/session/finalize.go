package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/stats"
)

// drain dispatches events until every runner channel closed or the drain
// timeout expires.
func (s *Session) drain() {
	if s.dispatcher.Active() == 0 {
		return
	}
	timer := time.NewTimer(s.drainTimeout)
	defer timer.Stop()

	for s.dispatcher.Active() > 0 {
		select {
		case ev, ok := <-s.server.Events():
			if !ok {
				return
			}
			s.dispatcher.Dispatch(ev)
		case <-timer.C:
			s.logger.Warn("drain_timeout", "active_channels", s.dispatcher.Active())
			return
		}
	}
}

// waitRunnerExit gives a completed runner the drain timeout to exit on its
// own.
func (s *Session) waitRunnerExit() {
	deadline := time.Now().Add(s.drainTimeout)
	for s.runner.Running() && time.Now().Before(deadline) {
		time.Sleep(s.tick / 10)
	}
}

// finalize writes the closing records of every log and the JSON summary.
func (s *Session) finalize() Result {
	s.drain()

	if s.completed && !s.aborted {
		s.waitRunnerExit()
		if s.fallback != "" && !s.runner.Running() {
			if _, err := os.Stat(s.fallback); !errors.Is(err, fs.ErrNotExist) {
				s.alert(slog.LevelWarn, "All tests finish successfully, however CRASH happened during cleanup!!!")
			}
		}
	}

	if s.aborted {
		s.synthesizeFailure("SESSION ABORT: "+s.reason, StatusFailed)
	}
	s.completeOutput()
	s.reportExit(s.runner.Terminate(""))
	s.drainExceptions()

	if !s.aborted {
		s.setState(StateCompleted)
	}

	summary := s.summary()
	if err := stats.WriteSummaryJSON(s.cfg.SummaryPath(), summary); err != nil {
		s.logger.Error("summary_write_failed", "path", s.cfg.SummaryPath(), "error", err)
	}
	s.publish()

	s.logger.Info("session_finished",
		"aborted", s.aborted,
		"reason", s.reason,
		"completed", s.completed,
		"generation", s.generation,
		"total", s.totals.Total(),
		"failed", s.totals.Failed(),
		"summary_rows", s.logs.Summary().Lines(),
	)

	return Result{
		Aborted:    s.aborted,
		Reason:     s.reason,
		Completed:  s.completed,
		Generation: s.generation,
		Totals:     s.totals,
		Crashes:    s.crashes,
		Timeouts:   s.timeouts,
		Summary:    summary,
	}
}

// completeOutput applies the no-run rule and writes the last set row and
// the suite totals.
func (s *Session) completeOutput() {
	if s.totals.Ran() == 0 {
		s.alert(slog.LevelWarn, "!!!!!!!!!!!!! No test has actually run")
		s.alert(slog.LevelWarn, fmt.Sprintf("    total:     %10d", s.totals.Total()))
		s.alert(slog.LevelWarn, fmt.Sprintf("    suspended: %10d", s.totals.Get(StatusSuspended)))
		if n := s.totals.Get(StatusNotFound); n > 0 {
			s.alert(slog.LevelWarn, fmt.Sprintf("    not found: %10d", n))
		}
		if s.cfg.FailNoRun {
			s.synthesizeFailure("No test has actually run", StatusFailed)
			s.alert(slog.LevelWarn, "    the whole session is considered failed")
		}
	}

	ss := s.logs.SetSummary()
	ss.WriteHeader(setSummaryHeader())
	if s.haveSet || s.setCounts.Total() > 0 {
		s.closeSet()
	}
	ss.WriteLine(s.totals.Row("SUITE SUMMARY"))
}

func (s *Session) summary() stats.SessionSummary {
	suite := s.suite
	if suite == "" {
		suite = s.cfg.TestSuite
	}
	return stats.SessionSummary{
		RunID:         s.runID,
		Environment:   s.cfg.TestEnv,
		Suite:         suite,
		StartedAt:     s.startedAt,
		Duration:      time.Since(s.startedAt),
		Generation:    s.generation,
		Completed:     s.completed,
		Aborted:       s.aborted,
		Reason:        s.reason,
		Statuses:      append([]string(nil), Columns...),
		Totals:        s.totals.Map(),
		Sets:          s.sets,
		Failed:        s.totals.Failed(),
		Crashes:       s.crashes,
		Timeouts:      s.timeouts,
		CaseDurations: s.durations.Snapshot(),
		Artifacts:     append([]string(nil), s.cores...),
	}
}

// cleanup releases the server, the logs and the fallback file.
func (s *Session) cleanup() {
	if err := s.server.Close(); err != nil {
		s.logger.Warn("status_server_close_failed", "error", err)
	}
	if err := s.logs.Close(); err != nil {
		s.logger.Error("result_logs_close_failed", "error", err)
	}
	s.removeFallback()
}
