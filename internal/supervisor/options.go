package supervisor

import (
	"strconv"
	"strings"
	"time"
)

// DefaultStopTimeout is the grace window between the stop signal and the
// forced kill.
const DefaultStopTimeout = 5 * time.Second

// PIDPlaceholder in a redirect target is replaced with the effective pid.
const PIDPlaceholder = "{pid}"

// Options configure how a managed process is launched.
type Options struct {
	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env replaces the environment when not empty.
	Env []string

	// Shell runs the command through the platform shell.
	Shell bool

	// Stdout is the redirect file, <name>_stdout.txt when empty.
	Stdout string

	// Stderr is a separate redirect file. Empty merges stderr into Stdout.
	Stderr string

	// CoreDir receives core files. Empty means the current directory.
	CoreDir string

	// KeepCores keeps cores of processes that exit cleanly.
	KeepCores bool

	// CoreNameByPID names saved cores core.<pid> instead of core.<name>.
	CoreNameByPID bool

	// NoBacktrace skips the debugger when a core is found.
	NoBacktrace bool

	// LaunchDelay postpones the spawn. Stop cancels it.
	LaunchDelay time.Duration

	// Quiet only logs output lines that look like failures.
	Quiet bool

	// DumpMonitor wraps the process with a minidump monitor (Windows).
	DumpMonitor *DumpMonitor
}

// StopOptions control how Stop terminates a process.
type StopOptions struct {
	// Signal is a signal name such as SIGTERM. Empty uses the platform
	// default. A named signal also triggers a dump through the dump monitor.
	Signal string

	// Timeout is the grace window before the forced kill. Zero means
	// DefaultStopTimeout, negative kills without waiting.
	Timeout time.Duration

	// Async hands the join to the background joiner.
	Async bool
}

func (o StopOptions) gracePeriod() time.Duration {
	switch {
	case o.Timeout == 0:
		return DefaultStopTimeout
	case o.Timeout < 0:
		return 0
	default:
		return o.Timeout
	}
}

func (o Options) stdoutTarget(name string) string {
	if o.Stdout == "" {
		return name + "_stdout.txt"
	}
	return o.Stdout
}

// expandPID fills the pid placeholder of a redirect target.
func expandPID(target string, pid int) string {
	return strings.ReplaceAll(target, PIDPlaceholder, strconv.Itoa(pid))
}
