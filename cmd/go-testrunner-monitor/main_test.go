package main

import (
	"bytes"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/metrics"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"go-testrunner-monitor"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// =============================================================================
// run
// =============================================================================

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI(t, "--version")
	if code != exitOK {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out, version) {
		t.Errorf("output %q lacks version %q", out, version)
	}
}

func TestRun_PrintCmd(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
	}{
		{"default command", nil},
		{"run command", []string{"run"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args,
				"--runner", "/opt/tests/runner --trace",
				"--test-env", filepath.Join(dir, "nightly"),
				"--test-suite", "smoke",
				"--output-prefix", filepath.Join(dir, "out"),
				"--print-cmd",
			)
			code, out, errOut := runCLI(t, args...)
			if code != exitOK {
				t.Fatalf("exit code = %d, stderr %q", code, errOut)
			}
			for _, want := range []string{"/opt/tests/runner --trace", "-te " + filepath.Join(dir, "nightly.xml"), "-ts smoke.xml", "-sp 0"} {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestRun_ConfigurationError(t *testing.T) {
	code, _, errOut := runCLI(t, "--output-prefix", "")
	if code != exitRuntime {
		t.Errorf("exit code = %d, want %d", code, exitRuntime)
	}
	if !strings.Contains(errOut, "Configuration error") || !strings.Contains(errOut, "runner") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestRun_UnknownFlag(t *testing.T) {
	code, _, _ := runCLI(t, "--no-such-flag")
	if code != exitRuntime {
		t.Errorf("exit code = %d, want %d", code, exitRuntime)
	}
}

// =============================================================================
// Commands
// =============================================================================

func TestPreflightCommand_Fails(t *testing.T) {
	dir := t.TempDir()
	code, out, _ := runCLI(t, "preflight",
		"--runner", "/nonexistent/runner",
		"--wd", dir,
		"--output-prefix", filepath.Join(dir, "out"),
	)
	if code != exitFailed {
		t.Errorf("exit code = %d, want %d", code, exitFailed)
	}
	if !strings.Contains(out, "Preflight checks:") || !strings.Contains(out, "runner") {
		t.Errorf("output = %q", out)
	}
}

func TestBacktraceCommand_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no args", []string{"backtrace"}},
		{"one arg", []string{"backtrace", "/bin/sh"}},
		{"missing core", []string{"backtrace", "/bin/sh", "/nonexistent/core"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, tt.args...); code != exitRuntime {
				t.Errorf("exit code = %d, want %d", code, exitRuntime)
			}
		})
	}
}

func TestCoreCommand_RequiresPID(t *testing.T) {
	if code, _, _ := runCLI(t, "core"); code != exitRuntime {
		t.Errorf("exit code = %d, want %d", code, exitRuntime)
	}
}

func TestStatusCommand(t *testing.T) {
	registry := prometheus.NewRegistry()
	c := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{RunID: "run-7", Suite: "smoke", Environment: "env.xml"}, registry)
	c.SetState("RUNNING")
	c.SetGeneration(2)
	c.RecordCrash()
	c.RecordCase("SUCCEED", 0)
	c.RecordCase("SUCCEED", 0)
	c.RecordCase("CRASHED", 0)

	srv := httptest.NewServer(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	defer srv.Close()

	code, out, errOut := runCLI(t, "status", "--addr", srv.URL)
	if code != exitOK {
		t.Fatalf("exit code = %d, stderr %q", code, errOut)
	}
	for _, want := range []string{"run-7", "smoke", "RUNNING", "SUCCEED", "CRASHED"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusCommand_Unreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	addr := srv.URL
	srv.Close()

	code, _, errOut := runCLI(t, "status", "--addr", addr, "--timeout", "1s")
	if code != exitRuntime {
		t.Errorf("exit code = %d, want %d", code, exitRuntime)
	}
	if !strings.Contains(errOut, "scrape") {
		t.Errorf("stderr = %q", errOut)
	}
}
