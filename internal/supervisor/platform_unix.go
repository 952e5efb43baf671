//go:build unix

package supervisor

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"al.essio.dev/pkg/shellescape"
	"golang.org/x/sys/unix"
)

// setProcAttr puts the child in its own process group so the whole tree
// can be signalled.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func shellCommand(args []string) []string {
	return []string{"/bin/sh", "-c", shellescape.QuoteCommand(args)}
}

func isExecutable(path string, _ fs.FileInfo) bool {
	return unix.Access(path, unix.X_OK) == nil
}

func defaultSignal() os.Signal {
	return unix.SIGTERM
}

// ParseSignal resolves a SIG* name. SIG_ names (SIG_DFL, SIG_IGN) are not
// signals and are rejected.
func ParseSignal(name string) (os.Signal, error) {
	if !strings.HasPrefix(name, "SIG") || strings.HasPrefix(name, "SIG_") {
		return nil, fmt.Errorf("invalid signal name %s", name)
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return nil, fmt.Errorf("unknown signal %s", name)
	}
	return sig, nil
}

func deliverable(os.Signal) bool {
	return true
}

// signalProcess signals the process group led by p, or p alone when it is
// not a group leader.
func signalProcess(p *os.Process, sig os.Signal) error {
	s, ok := sig.(syscall.Signal)
	if !ok {
		return p.Signal(sig)
	}
	if pgid, err := unix.Getpgid(p.Pid); err == nil && pgid == p.Pid {
		return unix.Kill(-pgid, s)
	}
	return unix.Kill(p.Pid, s)
}

func killProcess(p *os.Process) error {
	return signalProcess(p, unix.SIGKILL)
}
