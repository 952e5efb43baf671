//go:build windows

package supervisor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

// ctrlEvent is a console control event, the only signals Windows delivers
// to another process group.
type ctrlEvent uint32

func (e ctrlEvent) String() string {
	if e == windows.CTRL_C_EVENT {
		return "CTRL_C_EVENT"
	}
	return "CTRL_BREAK_EVENT"
}

func (ctrlEvent) Signal() {}

// unsupportedSignal parses but is never delivered.
type unsupportedSignal string

func (s unsupportedSignal) String() string { return string(s) }
func (unsupportedSignal) Signal()          {}

func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
		CmdLine:       commandLine(cmd.Args),
	}
}

// shellCommand runs args through cmd.exe. Each argument is quoted with
// Windows rules since cmd.exe does not understand POSIX quoting.
func shellCommand(args []string) []string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = windows.EscapeArg(a)
	}
	return []string{"cmd", "/S", "/C", strings.Join(quoted, " ")}
}

// commandLine escapes every argument the way os/exec does, except the
// argument following "/S /C". That one is already quoted for cmd.exe and is
// only wrapped in the outer pair of quotes that /S strips.
func commandLine(args []string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if i >= 2 && strings.EqualFold(args[i-2], "/S") && strings.EqualFold(args[i-1], "/C") {
			parts[i] = `"` + a + `"`
			continue
		}
		parts[i] = windows.EscapeArg(a)
	}
	return strings.Join(parts, " ")
}

func isExecutable(string, fs.FileInfo) bool {
	return true
}

func defaultSignal() os.Signal {
	return ctrlEvent(windows.CTRL_BREAK_EVENT)
}

// ParseSignal accepts the console events and any SIG* name. SIG* names are
// valid but cannot be delivered, so stopping with one kills immediately.
func ParseSignal(name string) (os.Signal, error) {
	switch name {
	case "CTRL_C_EVENT":
		return ctrlEvent(windows.CTRL_C_EVENT), nil
	case "CTRL_BREAK_EVENT":
		return ctrlEvent(windows.CTRL_BREAK_EVENT), nil
	}
	if !strings.HasPrefix(name, "SIG") || strings.HasPrefix(name, "SIG_") {
		return nil, fmt.Errorf("invalid signal name %s", name)
	}
	return unsupportedSignal(name), nil
}

func deliverable(sig os.Signal) bool {
	_, ok := sig.(ctrlEvent)
	return ok
}

func signalProcess(p *os.Process, sig os.Signal) error {
	ev, ok := sig.(ctrlEvent)
	if !ok {
		return errors.New("signal not supported on windows")
	}
	return windows.GenerateConsoleCtrlEvent(uint32(ev), uint32(p.Pid))
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
