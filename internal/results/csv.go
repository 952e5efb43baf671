package results

import (
	"fmt"
	"log/slog"
)

// SummaryHeader is the column header of the per-case CSV.
const SummaryHeader = "Result,IsIgnorable,TestRunID,TestSuiteName,TestSetName,TestCaseName,ID,Description,Summary Info,Elapse"

// SummaryLog is the per-case CSV written by the runner.
type SummaryLog struct {
	*fileLog
	runID string
	lines int
}

func newSummaryLog(prefix, runID string, logger *slog.Logger) (*SummaryLog, error) {
	fl, err := openFileLog(SummaryCSV, prefix, logger)
	if err != nil {
		return nil, err
	}
	return &SummaryLog{fileLog: fl, runID: runID}, nil
}

// Action writes a runner row.
func (l *SummaryLog) Action(line string) {
	if l.WriteLine(line) == nil {
		l.lines++
	}
}

// Lines returns the number of rows received.
func (l *SummaryLog) Lines() int { return l.lines }

// Close writes a header and one FAILED row when the runner never wrote
// anything, so consumers never see an empty report.
func (l *SummaryLog) Close() error {
	if l.closed {
		return nil
	}
	if l.lines == 0 {
		runID := l.runID
		if runID == "" {
			runID = "unknown"
		}
		l.WriteLine(SummaryHeader)
		l.WriteLine(fmt.Sprintf(`FAILED,,%s,unknown-suite,unknown-set,unknown-case,1,unknown,"Fail to launch or empty suite/set",0`, runID))
	}
	return l.fileLog.Close()
}

// SetSummaryLog is the per-set CSV. The runner's own channel payload is
// ignored; the session writes the rows.
type SetSummaryLog struct {
	*fileLog
	headerWritten bool
}

func newSetSummaryLog(prefix string, logger *slog.Logger) (*SetSummaryLog, error) {
	fl, err := openFileLog(SetSummaryCSV, prefix, logger)
	if err != nil {
		return nil, err
	}
	return &SetSummaryLog{fileLog: fl}, nil
}

// WriteHeader writes header once; later calls are ignored.
func (l *SetSummaryLog) WriteHeader(header string) {
	if l.headerWritten {
		return
	}
	l.headerWritten = true
	l.WriteLine(header)
}
