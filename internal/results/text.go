package results

import (
	"log/slog"

	"github.com/acarl005/stripansi"
)

// StatusLog records the status channel and hands every line to the
// session, which interprets the status grammar.
type StatusLog struct {
	*fileLog
	onLine    func(line string)
	onConnect func()
}

func newStatusLog(prefix string, onLine func(string), onConnect func(), logger *slog.Logger) (*StatusLog, error) {
	fl, err := openFileLog(Status, prefix, logger)
	if err != nil {
		return nil, err
	}
	return &StatusLog{fileLog: fl, onLine: onLine, onConnect: onConnect}, nil
}

// Action writes the line, then reports it.
func (l *StatusLog) Action(line string) {
	l.WriteLine(line)
	if l.onLine != nil {
		l.onLine(line)
	}
}

// OnConnect reports that the runner is up: the status channel is the
// first thing it opens.
func (l *StatusLog) OnConnect() {
	if l.onConnect != nil {
		l.onConnect()
	}
}

// TextLog is a plain append-only log (verbose and console). Each new
// connection is separated from the previous generation by blank lines.
type TextLog struct {
	*fileLog
	stripANSI bool
}

func newTextLog(kind Kind, prefix string, stripANSI bool, logger *slog.Logger) (*TextLog, error) {
	fl, err := openFileLog(kind, prefix, logger)
	if err != nil {
		return nil, err
	}
	return &TextLog{fileLog: fl, stripANSI: stripANSI}, nil
}

// Action appends the line.
func (l *TextLog) Action(line string) {
	l.WriteLine(line)
}

// WriteLine appends line, without terminal escapes for the console.
func (l *TextLog) WriteLine(line string) error {
	if l.stripANSI {
		line = stripansi.Strip(line)
	}
	return l.fileLog.WriteLine(line)
}

// OnConnect writes the generation separator.
func (l *TextLog) OnConnect() {
	l.writeRaw(connectSeparator)
}
