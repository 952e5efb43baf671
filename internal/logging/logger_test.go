package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"trace", slog.LevelInfo},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			if got := parseLevel(tc.input); got != tc.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestNew_Formats(t *testing.T) {
	testCases := []struct {
		format   string
		wantJSON bool
	}{
		{"json", true},
		{"JSON", true},
		{"text", false},
		{"", true},
		{"invalid", true},
	}

	for _, tc := range testCases {
		t.Run(tc.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Options{Format: tc.format, Level: "info", Output: &buf})
			logger.Info("runner_started", "pid", 42)

			out := strings.TrimSpace(buf.String())
			isJSON := strings.HasPrefix(out, "{")
			if isJSON != tc.wantJSON {
				t.Errorf("format %q: json=%v, want %v (output %q)", tc.format, isJSON, tc.wantJSON, out)
			}
			if !strings.Contains(out, "runner_started") {
				t.Errorf("message missing from output: %q", out)
			}
		})
	}
}

func TestNew_VerboseForcesDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Format: "text", Level: "error", Verbose: true, Output: &buf})
	logger.Debug("debug message")

	if !strings.Contains(buf.String(), "debug message") {
		t.Error("verbose logger should emit debug messages")
	}
}

func TestNewLoggerWithWriter_LevelFiltering(t *testing.T) {
	testCases := []struct {
		level     string
		wantDebug bool
		wantInfo  bool
		wantWarn  bool
	}{
		{"debug", true, true, true},
		{"info", false, true, true},
		{"warn", false, false, true},
		{"error", false, false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(&buf, "text", tc.level)
			logger.Debug("debug_event")
			logger.Info("info_event")
			logger.Warn("warn_event")

			out := buf.String()
			if got := strings.Contains(out, "debug_event"); got != tc.wantDebug {
				t.Errorf("debug logged=%v, want %v", got, tc.wantDebug)
			}
			if got := strings.Contains(out, "info_event"); got != tc.wantInfo {
				t.Errorf("info logged=%v, want %v", got, tc.wantInfo)
			}
			if got := strings.Contains(out, "warn_event"); got != tc.wantWarn {
				t.Errorf("warn logged=%v, want %v", got, tc.wantWarn)
			}
		})
	}
}

func TestNewLoggerWithWriter_DefaultFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "invalid", "info")
	logger.Info("test message")

	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Error("default format for writer loggers should be text")
	}
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	if logger.Enabled(nil, slog.LevelError) {
		t.Error("Discard logger should not be enabled at any level")
	}
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter(&buf, "text", "info"))

	slog.Info("from default logger")
	if !strings.Contains(buf.String(), "from default logger") {
		t.Error("SetDefault did not set the default logger")
	}
}
