package crash

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// OldDebuggerMessage is returned instead of a backtrace on macOS releases
// whose lldb cannot read a core through a pipe.
const OldDebuggerMessage = "can not get backtrace from old lldb"

// minDarwinRelease is the first kernel major release (OS X 10.11) whose
// lldb works in batch mode.
const minDarwinRelease = 15

var (
	aixThreadRe     = regexp.MustCompile(`^[> ]\s*(\$t\d+)\s`)
	solarisThreadRe = regexp.MustCompile(`^(?:.>)?\s+(t@\d+)\s`)
)

// RunFunc runs name with args, feeding stdin when it is not empty, and
// returns the combined output.
type RunFunc func(ctx context.Context, stdin, name string, args ...string) (string, error)

// Debugger extracts backtraces from core files with the platform debugger.
type Debugger struct {
	GOOS     string
	Release  func() string
	LookPath func(file string) (string, error)
	Run      RunFunc
}

// NewDebugger returns a Debugger for the running platform.
func NewDebugger() *Debugger {
	return &Debugger{
		GOOS:     runtime.GOOS,
		Release:  kernelRelease,
		LookPath: exec.LookPath,
		Run:      runCommand,
	}
}

// Backtrace prints every thread's stack of binary as recorded in core.
// Platforms without a supported debugger return an empty string.
func (d *Debugger) Backtrace(ctx context.Context, binary, core string) (string, error) {
	switch d.GOOS {
	case "linux":
		gdb, err := d.find("gdb")
		if err != nil {
			return "", err
		}
		return d.Run(ctx, "", gdb, "--batch", "--quiet",
			"-ex", "thread apply all bt", "-ex", "quit", binary, core)

	case "hpux":
		gdb, err := d.find("gdb")
		if err != nil {
			return "", err
		}
		return d.Run(ctx, "thread apply all bt\nquit\n", gdb, "-quiet", binary, core)

	case "darwin":
		if !darwinSupportsBatch(d.Release()) {
			return OldDebuggerMessage, nil
		}
		lldb, err := d.find("lldb")
		if err != nil {
			return "", err
		}
		return d.Run(ctx, "", lldb, "-b", "-o", "bt all", "-c", core, binary)

	case "aix":
		return d.dbx(ctx, binary, core, "thread", aixThreadRe, "")

	case "solaris", "illumos":
		return d.dbx(ctx, binary, core, "threads", solarisThreadRe, "-l -h -v")

	default:
		return "", nil
	}
}

// dbx lists the threads, then asks for a where of each one.
func (d *Debugger) dbx(ctx context.Context, binary, core, listCmd string, threadRe *regexp.Regexp, whereOpts string) (string, error) {
	dbx, err := d.find("dbx")
	if err != nil {
		return "", err
	}

	listing, err := d.Run(ctx, listCmd+"\n", dbx, binary, core)
	if err != nil {
		return listing, err
	}

	var script strings.Builder
	for _, line := range strings.Split(listing, "\n") {
		m := threadRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		fields := []string{"where"}
		if whereOpts != "" {
			fields = append(fields, whereOpts)
		}
		fields = append(fields, m[1])
		script.WriteString(strings.Join(fields, " "))
		script.WriteString("\n")
	}
	return d.Run(ctx, script.String(), dbx, binary, core)
}

func (d *Debugger) find(tool string) (string, error) {
	p, err := d.LookPath(tool)
	if err != nil {
		return "", fmt.Errorf("%s is not in the search path", tool)
	}
	return p, nil
}

func darwinSupportsBatch(release string) bool {
	major, _, _ := strings.Cut(release, ".")
	n, err := strconv.Atoi(major)
	if err != nil {
		return false
	}
	return n >= minDarwinRelease
}

func runCommand(ctx context.Context, stdin, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}
