package logging

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the longest output line accepted before truncation.
	MaxLineLength = 64 * 1024

	// MaxBufferedLines is the number of recent lines kept per process.
	MaxBufferedLines = 100
)

// OutputHandler pumps the merged stdout/stderr of a managed process.
// Every line is copied to an optional sink (the redirect file) in write
// order, logged, and kept in a small ring for crash reports.
type OutputHandler struct {
	name    string
	logger  *slog.Logger
	sink    io.Writer
	logAll  bool
	written int64

	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewOutputHandler creates a handler for the named process. When logAll is
// false only lines that look like failures reach the logger.
func NewOutputHandler(name string, logger *slog.Logger, sink io.Writer, logAll bool) *OutputHandler {
	return &OutputHandler{
		name:   name,
		logger: logger,
		sink:   sink,
		logAll: logAll,
		buffer: make([]string, MaxBufferedLines),
	}
}

// SetSink replaces the copy target. Used when the target name depends on a
// pid that is only known after launch.
func (h *OutputHandler) SetSink(w io.Writer) {
	h.mu.Lock()
	h.sink = w
	h.mu.Unlock()
}

// HandleReader reads lines until EOF. Run it in its own goroutine.
// Lines longer than MaxLineLength are truncated and the reader keeps
// draining, so the process never blocks on a full pipe.
func (h *OutputHandler) HandleReader(r io.Reader) {
	err := ReadLines(r, MaxLineLength, func(line string, truncated bool) bool {
		if truncated {
			h.logger.Warn("process_output_truncated", "name", h.name, "limit", MaxLineLength)
		}
		h.HandleLine(line)
		return true
	})
	if err != nil {
		h.logger.Debug("process_output_read_error", "name", h.name, "error", err)
	}
}

// HandleLine processes a single output line.
func (h *OutputHandler) HandleLine(line string) {
	line = strings.TrimRight(line, "\r")

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	sink := h.sink
	if sink != nil {
		if _, err := io.WriteString(sink, line+"\n"); err == nil {
			h.written++
		}
	}
	h.mu.Unlock()

	h.logLine(line)
}

func (h *OutputHandler) logLine(line string) {
	level := classifyLine(line)
	if !h.logAll && level == slog.LevelDebug {
		return
	}
	h.logger.Log(context.Background(), level, "process_output",
		"name", h.name,
		"line", line,
	)
}

// classifyLine picks a log level from the content of a line.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "segmentation fault"),
		strings.Contains(lower, "core dumped"),
		strings.Contains(lower, "assertion"),
		strings.Contains(lower, "fatal"):
		return slog.LevelWarn
	default:
		return slog.LevelDebug
	}
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}
	return lines
}

// LinesWritten reports how many lines reached the sink.
func (h *OutputHandler) LinesWritten() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.written
}
