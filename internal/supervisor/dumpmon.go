package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

const (
	acceptEULA       = "-accepteula"
	monitorBannerEnd = "Press Ctrl-C to end"
	dumpDirPrefix    = "__procdump__"
)

var monitorPIDRe = regexp.MustCompile(`^Process:.*\((\d+)\)\s*$`)

// ErrNoMonitorPID is returned when the dump monitor banner ends without
// naming the pid of the process it launched.
var ErrNoMonitorPID = errors.New("fail to get pid from dump monitor")

// DumpMonitor describes a procdump-style wrapper that launches the process,
// watches it, and writes a minidump on crash or on demand.
type DumpMonitor struct {
	// Path of the monitor executable.
	Path string

	// LaunchOptions go before -x when launching. Default "-e -ma".
	LaunchOptions []string

	// DumpOptions are used for on-demand dumps. Default "-ma".
	DumpOptions []string
}

// NewDumpMonitor builds a monitor from space separated option strings.
// Empty strings select the defaults.
func NewDumpMonitor(path, launchOpts, dumpOpts string) *DumpMonitor {
	if launchOpts == "" {
		launchOpts = "-e -ma"
	}
	if dumpOpts == "" {
		dumpOpts = "-ma"
	}
	return &DumpMonitor{
		Path:          path,
		LaunchOptions: strings.Fields(launchOpts),
		DumpOptions:   strings.Fields(dumpOpts),
	}
}

// DumpDir is the per-process directory the monitor writes crash dumps to.
// The dump file name is not configurable, so each process gets its own.
func DumpDir(coreDir, name string) string {
	return filepath.Join(coreDir, dumpDirPrefix+name)
}

// LaunchArgs wraps command: monitor [opts] -x <dumpDir> command...
func (d *DumpMonitor) LaunchArgs(dumpDir string, command []string) []string {
	args := []string{d.Path}
	args = append(args, withEULA(d.LaunchOptions)...)
	args = append(args, "-x", dumpDir)
	return append(args, command...)
}

// DumpArgs asks the monitor for a dump of pid: monitor [opts] <pid> core.<name>
func (d *DumpMonitor) DumpArgs(pid int, name string) []string {
	args := []string{d.Path}
	args = append(args, withEULA(d.DumpOptions)...)
	return append(args, strconv.Itoa(pid), "core."+name)
}

func withEULA(opts []string) []string {
	if slices.Contains(opts, acceptEULA) {
		return slices.Clone(opts)
	}
	return append([]string{acceptEULA}, opts...)
}

// readMonitorPID consumes the monitor's startup banner and returns the pid
// of the wrapped process. Each banner line is passed to emit.
func readMonitorPID(r *bufio.Reader, emit func(string)) (int, error) {
	pid := 0
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			emit(line)
			if pid == 0 {
				if m := monitorPIDRe.FindStringSubmatch(line); m != nil {
					pid, _ = strconv.Atoi(m[1])
				}
			} else if strings.Contains(line, monitorBannerEnd) {
				return pid, nil
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if pid != 0 {
					return pid, nil
				}
				return 0, fmt.Errorf("%w: unexpected EOF", ErrNoMonitorPID)
			}
			return 0, err
		}
	}
}
