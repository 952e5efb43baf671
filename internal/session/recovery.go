package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
)

// onCrash handles a runner that died without completing.
func (s *Session) onCrash(ctx context.Context) {
	if s.aborted {
		return
	}
	s.setState(StateCrashed)
	exit := s.runner.Terminate("")

	ranSoFar := s.totals.Total()
	s.synthesizeFailure("Test crashed.", StatusCrashed)
	s.alert(slog.LevelWarn, fmt.Sprintf("CRASHED %s-%d (exit code %d)", s.setName(), s.currentID, exit.Code))
	s.reportExit(exit)

	s.consecutiveCrashes++
	s.crashes++
	s.consecutiveFailures++
	if s.collector != nil {
		s.collector.RecordCrash()
	}

	switch {
	case s.consecutiveCrashes >= s.cfg.MaxConsecutiveCrashes:
		s.abort("too many consecutive crashes")
	case s.crashes >= s.cfg.MaxCrashes:
		s.abort("too many crashes")
	case s.failureLimitReached():
		s.abort("too many consecutive failures")
	case s.cfg.QuickAbort && ranSoFar == 0:
		s.abort("crash on the 1st test case")
	default:
		s.relaunch(ctx)
	}
}

// onTimeout handles a case that made no progress for the case timeout.
func (s *Session) onTimeout(ctx context.Context) {
	if s.aborted {
		return
	}
	s.setState(StateTimedOut)
	minutes := strconv.FormatFloat(s.cfg.TimeoutMinutes(), 'g', -1, 64)

	ranSoFar := s.totals.Total()
	s.alert(slog.LevelWarn, fmt.Sprintf("TIMEOUT %s-%d is not finished in %s minutes", s.setName(), s.currentID, minutes))
	s.synthesizeFailure(fmt.Sprintf("Timed out. Current setting is %s minutes.", minutes), StatusTimeout)
	s.reportExit(s.runner.Terminate("SIGABRT"))

	s.consecutiveTimeouts++
	s.timeouts++
	s.consecutiveFailures++
	if s.collector != nil {
		s.collector.RecordTimeout()
	}

	switch {
	case s.consecutiveTimeouts >= s.cfg.MaxConsecutiveTimeout:
		s.abort("too many consecutive timeouts")
	case s.timeouts >= s.cfg.MaxAccumulatedTimeout:
		s.abort("too many accumulated timeouts")
	case s.failureLimitReached():
		s.abort("too many consecutive failures")
	case s.cfg.QuickAbort && ranSoFar == 0:
		s.abort("timeout on the 1st test case")
	default:
		s.relaunch(ctx)
	}
}

// relaunch starts the next generation, skipping the case that failed.
func (s *Session) relaunch(ctx context.Context) {
	s.setState(StateRelaunching)
	s.drain()
	if s.aborted || s.completed {
		return
	}

	set := s.setName()
	s.alert(slog.LevelWarn, fmt.Sprintf("Relaunch runner, skip %s-%d", set, s.currentID))
	if err := s.launch(ctx, s.builder.ResumeCommand(set, s.currentID)); err != nil {
		s.err = err
		s.abort("fail to relaunch the runner")
	}
}

// abort ends the session. The first reason wins.
func (s *Session) abort(reason string) {
	if s.aborted {
		return
	}
	s.aborted = true
	s.reason = reason
	s.setState(StateAborted)
	s.alert(slog.LevelWarn, "ABORT: "+reason)
	if s.collector != nil {
		s.collector.SetAborted()
	}
	s.reportExit(s.runner.Terminate(""))
}

// reportExit logs the crash artifact of a terminated generation. An
// artifact is reported once even if Terminate returns it again.
func (s *Session) reportExit(exit Exit) {
	art := exit.Artifact
	if art == nil || len(art.Cores) == 0 {
		return
	}
	for _, c := range s.cores {
		if c == art.Cores[0] {
			return
		}
	}
	s.cores = append(s.cores, art.Cores...)
	if s.collector != nil {
		s.collector.RecordCoreDumps(len(art.Cores))
	}
	s.alert(slog.LevelWarn, art.Report)
}

// isCrash reports whether a dead runner crashed. A runner that removed the
// fallback file finished its run even without COMPLETE.
func (s *Session) isCrash() bool {
	if s.fallback == "" {
		return true
	}
	if _, err := os.Stat(s.fallback); errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("fallback_removed_by_runner", "path", s.fallback)
		s.completed = true
		return false
	}
	return true
}

func (s *Session) createFallback() {
	if s.fallback == "" {
		return
	}
	if err := os.WriteFile(s.fallback, nil, 0o644); err != nil {
		s.alert(slog.LevelWarn, fmt.Sprintf("fail to create fallback file %s: %v", s.fallback, err))
	}
}

func (s *Session) removeFallback() {
	if s.fallback == "" {
		return
	}
	if err := os.Remove(s.fallback); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("fallback_remove_failed", "path", s.fallback, "error", err)
	}
}
