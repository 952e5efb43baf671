// Package preflight validates the host before a test session starts.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/config"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/crash"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/logging"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/protocol"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/supervisor"
)

// Overridable in tests.
var (
	lookPath  = exec.LookPath
	kernelDir = "/proc/sys/kernel"
	goos      = runtime.GOOS
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks for cfg. Only the runner, the
// suite file and the output directory can fail; the rest warn.
func RunAll(cfg *config.Config) *Result {
	result := &Result{
		Checks: make([]Check, 0, 8),
		Passed: true,
	}

	result.add(checkRunner(cfg))
	result.add(checkInputFile("test_suite", cfg.TestSuite, cfg.WorkingDir, true))
	result.add(checkInputFile("test_env", cfg.TestEnv, cfg.WorkingDir, false))
	result.add(checkOutputDir(cfg))
	result.add(checkFileDescriptors(len(cfg.Helpers)))
	result.add(checkCoreLimit())
	result.add(checkCorePattern())
	result.add(checkDebugger(cfg))
	result.add(checkStatusPort(cfg))

	return result
}

// checkRunner verifies the runner binary resolves to an executable.
func checkRunner(cfg *config.Config) Check {
	fields := strings.Fields(cfg.Runner)
	if len(fields) == 0 {
		return Check{Name: "runner", Message: "no runner configured"}
	}
	path, err := supervisor.ResolveExecutable(fields[0], cfg.WorkingDir)
	if err != nil {
		return Check{Name: "runner", Message: err.Error()}
	}
	return Check{Name: "runner", Passed: true, Message: "found at " + path}
}

// checkInputFile verifies a runner input file exists. A missing optional
// file is only a warning since the runner may provide its own default.
func checkInputFile(name, path, wd string, required bool) Check {
	if path == "" {
		return Check{Name: name, Passed: !required, Warning: !required, Message: "not set"}
	}
	if !filepath.IsAbs(path) && wd != "" {
		path = filepath.Join(wd, path)
	}
	fi, err := os.Stat(path)
	switch {
	case err != nil:
		return Check{Name: name, Passed: !required, Warning: !required, Message: "missing " + path}
	case fi.IsDir():
		return Check{Name: name, Message: path + " is a directory"}
	}
	return Check{Name: name, Passed: true, Message: path}
}

// checkOutputDir creates the output directory and probes it for writes.
func checkOutputDir(cfg *config.Config) Check {
	dir := cfg.OutputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "output_dir", Message: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return Check{Name: "output_dir", Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	f.Close()
	os.Remove(f.Name())
	return Check{Name: "output_dir", Passed: true, Message: dir}
}

// checkCorePattern warns when Linux cores are piped to a handler or named
// with a pattern the crash locator cannot predict.
func checkCorePattern() Check {
	if goos != "linux" {
		return Check{Name: "core_pattern", Passed: true, Message: "not applicable on " + goos}
	}
	read := func(name string) string {
		data, _ := os.ReadFile(filepath.Join(kernelDir, name))
		return strings.TrimSpace(string(data))
	}
	pattern := read("core_pattern")
	if pattern == "" {
		return Check{Name: "core_pattern", Passed: true, Warning: true, Message: "unable to read core_pattern"}
	}
	if strings.HasPrefix(pattern, "|") {
		return Check{Name: "core_pattern", Passed: true, Warning: true,
			Message: "cores are piped to " + strings.Fields(pattern[1:])[0] + ", backtraces will be missing"}
	}
	if _, ok := crash.ExpectedLinuxCore(pattern, read("core_uses_pid"), 1, "."); !ok {
		return Check{Name: "core_pattern", Passed: true, Warning: true, Message: "unsupported pattern " + pattern}
	}
	return Check{Name: "core_pattern", Passed: true, Message: pattern}
}

// debuggers maps each platform to the tool backtraces are taken with.
var debuggers = map[string]string{
	"linux":   "gdb",
	"hpux":    "gdb",
	"darwin":  "lldb",
	"aix":     "dbx",
	"solaris": "dbx",
	"illumos": "dbx",
}

// checkDebugger warns when backtraces are wanted but the platform debugger
// is not installed. On Windows it checks the dump monitor instead.
func checkDebugger(cfg *config.Config) Check {
	if cfg.NoBacktrace {
		return Check{Name: "debugger", Passed: true, Message: "backtraces disabled"}
	}
	if goos == "windows" {
		fields := strings.Fields(cfg.Procdump)
		if len(fields) == 0 {
			return Check{Name: "debugger", Passed: true, Warning: true, Message: "no procdump configured, minidumps rely on the runner"}
		}
		if _, err := lookPath(fields[0]); err != nil {
			return Check{Name: "debugger", Passed: true, Warning: true, Message: fields[0] + " is not in the search path"}
		}
		return Check{Name: "debugger", Passed: true, Message: "procdump " + fields[0]}
	}

	tool, ok := debuggers[goos]
	if !ok {
		return Check{Name: "debugger", Passed: true, Warning: true, Message: "no backtrace support on " + goos}
	}
	path, err := lookPath(tool)
	if err != nil {
		return Check{Name: "debugger", Passed: true, Warning: true, Message: tool + " is not in the search path"}
	}
	return Check{Name: "debugger", Passed: true, Message: "found at " + path}
}

// checkStatusPort verifies a fixed status port, or one of its scan range,
// can be bound.
func checkStatusPort(cfg *config.Config) Check {
	if cfg.Port == 0 {
		return Check{Name: "status_port", Passed: true, Message: "kernel-assigned"}
	}
	srv, err := protocol.Listen(cfg.Port, cfg.MaxPortScan, logging.Discard())
	if err != nil {
		return Check{Name: "status_port", Passed: true, Warning: true, Message: err.Error()}
	}
	port := srv.Port()
	srv.Close()
	return Check{Name: "status_port", Passed: true, Message: fmt.Sprintf("%d is free", port)}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			if fix := suggestFix(check.Name); fix != "" {
				fmt.Fprintf(w, "    Fix: %s\n", fix)
			}
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "runner":
		return "pass --runner with an absolute path, ./relative path or a binary in PATH"
	case "test_suite", "test_env":
		return "check --test-suite/--test-env against --wd"
	case "output_dir":
		return "choose a writable --output-prefix"
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "core_limit":
		return "ulimit -c unlimited"
	case "core_pattern":
		return "echo core > /proc/sys/kernel/core_pattern"
	case "debugger":
		return "install gdb (apt install gdb) or pass --no-bt"
	case "status_port":
		return "pick another --port or raise --max-port-scan"
	default:
		return ""
	}
}
