package results

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Sink is one result log. It receives runner lines as a protocol channel
// and direct writes from the session, and is closed exactly once.
type Sink interface {
	Kind() Kind
	Path() string
	Action(line string)
	OnConnect()
	OnDisconnect()
	WriteLine(line string) error
	Close() error
}

// connectSeparator separates the output of successive runner generations.
var connectSeparator = strings.Repeat("\n", 8)

// fileLog is the shared base: one handle for the session, every line
// written through immediately.
type fileLog struct {
	kind   Kind
	path   string
	w      io.WriteCloser
	logger *slog.Logger
	closed bool
	failed bool
}

func openFileLog(kind Kind, prefix string, logger *slog.Logger) (*fileLog, error) {
	path := prefix + kind.Suffix()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create result dir: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open %s log: %w", kind, err)
	}
	return &fileLog{kind: kind, path: path, w: f, logger: logger}, nil
}

func (l *fileLog) Kind() Kind   { return l.kind }
func (l *fileLog) Path() string { return l.path }

// Action ignores payload by default; kinds that keep it override it.
func (l *fileLog) Action(string) {}
func (l *fileLog) OnConnect()    {}
func (l *fileLog) OnDisconnect() {}

// WriteLine appends line and a newline.
func (l *fileLog) WriteLine(line string) error {
	return l.writeRaw(line + "\n")
}

func (l *fileLog) writeRaw(s string) error {
	if l.closed {
		return fmt.Errorf("%s log is closed", l.kind)
	}
	_, err := io.WriteString(l.w, s)
	if err != nil && !l.failed {
		// Report the first failure only; a full disk would flood the log.
		l.failed = true
		l.logger.Error("result_log_write_failed", "log", l.kind.String(), "path", l.path, "error", err)
	}
	return err
}

func (l *fileLog) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	return l.w.Close()
}
