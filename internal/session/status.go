package session

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/protocol"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/stats"
)

// relaunchMarker follows a synthesized status in the status log.
const relaunchMarker = "======relaunch"

// onStatusLine interprets one status channel line.
func (s *Session) onStatusLine(line string) {
	if s.collector != nil {
		s.collector.RecordStatusLine()
	}

	cmd, ok := protocol.ParseStatus(line)
	if !ok {
		s.alert(slog.LevelWarn, fmt.Sprintf("====UNKNOWN STATUS: [%s]", line))
		return
	}

	switch cmd.Kind {
	case protocol.CmdCase:
		s.startCase(cmd.Set, cmd.ID)
	case protocol.CmdStatus:
		s.finishCase(cmd.Set, cmd.ID, cmd.Status)
	case protocol.CmdSetChange:
		s.changeSet(cmd.Set)
	case protocol.CmdInit:
		s.markInited()
	case protocol.CmdStart:
		s.started = true
	case protocol.CmdComplete:
		s.completed = true
		s.logger.Info("session_complete_received", "generation", s.generation)
	}
}

// setName is the current set, or a placeholder before the first set.
func (s *Session) setName() string {
	if !s.haveSet {
		return unknownSet
	}
	return s.currentSet
}

// changeSet closes the current set's row and opens name.
func (s *Session) changeSet(name string) {
	if s.haveSet && name == s.currentSet {
		return
	}
	s.logs.SetSummary().WriteHeader(setSummaryHeader())
	if s.haveSet || s.setCounts.Total() > 0 {
		s.closeSet()
	}
	s.setCounts = Counts{}
	s.currentSet = name
	s.haveSet = true
	s.currentID = 1
	s.logger.Debug("set_changed", "set", name)
}

// closeSet writes the current set's row.
func (s *Session) closeSet() {
	name := s.setName()
	s.logs.SetSummary().WriteLine(s.setCounts.Row(name))
	s.sets = append(s.sets, stats.SetTotals{Name: name, Counts: s.setCounts.Map()})
}

func (s *Session) validateSet(name string) {
	if s.haveSet && name == s.currentSet {
		return
	}
	s.alert(slog.LevelWarn, fmt.Sprintf("Test set is changed unexpectedly, adjust to %s (from %s).", name, s.setName()))
	s.changeSet(name)
}

func (s *Session) validateID(id int) {
	if id == s.currentID {
		return
	}
	s.alert(slog.LevelWarn, fmt.Sprintf("Test IDs are not consecutive, adjust to %d (from %s-%d).", id, s.setName(), s.currentID))
	s.currentID = id
}

// startCase handles CASE:<set>-<id>.
func (s *Session) startCase(set string, id int) {
	s.started = true
	s.validateSet(set)
	s.currentID = id
	now := time.Now()
	s.lastCaseTime = now
	s.caseStart = now
}

// finishCase handles STATUS:<status>(<set>-<id>).
func (s *Session) finishCase(set string, id int, status string) {
	s.started = true
	if status == statusExcluded {
		status = StatusSuspended
	}
	if !KnownStatus(status) {
		s.alert(slog.LevelWarn, fmt.Sprintf("Unknown test status %s (%s-%d), counted as %s", status, set, id, StatusFailed))
		status = StatusFailed
	}

	now := time.Now()
	s.consecutiveCrashes = 0
	s.consecutiveTimeouts = 0
	s.lastCaseTime = now
	if status == StatusSucceed {
		s.consecutiveFailures = 0
	} else if strings.Contains(status, StatusFailed) {
		s.consecutiveFailures++
	}

	s.validateSet(set)
	s.validateID(id)

	s.setCounts.Add(status)
	s.totals.Add(status)

	var elapsed time.Duration
	if !s.caseStart.IsZero() {
		elapsed = now.Sub(s.caseStart)
		s.durations.Add(elapsed)
		s.caseStart = time.Time{}
	}
	if s.collector != nil {
		s.collector.RecordCase(status, elapsed)
	}

	if s.failureLimitReached() {
		s.alert(slog.LevelWarn, fmt.Sprintf("!!!! ABORT !!!! after %d consecutive failures", s.consecutiveFailures))
		s.abort("too many consecutive failures")
	}

	s.currentID++
}

// synthesizeFailure records a case the runner could not report itself.
func (s *Session) synthesizeFailure(msg, status string) {
	set := s.setName()
	id := strconv.Itoa(s.currentID)
	s.logs.XML().AppendCase(set, id, msg)
	s.setCounts.Add(status)
	s.totals.Add(status)
	if s.collector != nil {
		s.collector.RecordCase(status, 0)
	}
	if status != StatusFailed {
		s.logs.Status().WriteLine(fmt.Sprintf("STATUS:%s(%s-%s)", status, set, id))
		s.logs.Status().WriteLine(relaunchMarker)
	}
	s.logger.Info("case_synthesized", "set", set, "id", s.currentID, "status", status, "message", msg)
}

func (s *Session) failureLimitReached() bool {
	return s.cfg.MaxConsecutiveFailure > 0 && s.consecutiveFailures >= s.cfg.MaxConsecutiveFailure
}
