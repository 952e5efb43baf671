package supervisor

import (
	"bufio"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestDumpMonitor_Args(t *testing.T) {
	d := NewDumpMonitor(`C:\tools\procdump64.exe`, "", "")

	launch := d.LaunchArgs(`C:\cores\__procdump__svc`, []string{"svc.exe", "-port", "1"})
	wantLaunch := []string{`C:\tools\procdump64.exe`, "-accepteula", "-e", "-ma", "-x", `C:\cores\__procdump__svc`, "svc.exe", "-port", "1"}
	if strings.Join(launch, "|") != strings.Join(wantLaunch, "|") {
		t.Errorf("LaunchArgs = %v, want %v", launch, wantLaunch)
	}

	dump := d.DumpArgs(4321, "svc")
	wantDump := []string{`C:\tools\procdump64.exe`, "-accepteula", "-ma", "4321", "core.svc"}
	if strings.Join(dump, "|") != strings.Join(wantDump, "|") {
		t.Errorf("DumpArgs = %v, want %v", dump, wantDump)
	}
}

func TestDumpMonitor_EULANotDuplicated(t *testing.T) {
	d := NewDumpMonitor("procdump", "-accepteula -e", "-mp")
	launch := d.LaunchArgs("dir", []string{"app"})
	if n := strings.Count(strings.Join(launch, " "), "-accepteula"); n != 1 {
		t.Errorf("-accepteula appears %d times in %v", n, launch)
	}
	if d.LaunchOptions[0] != "-accepteula" || len(d.LaunchOptions) != 2 {
		t.Errorf("configured options were modified: %v", d.LaunchOptions)
	}
}

func TestDumpDir(t *testing.T) {
	if got, want := DumpDir("cores", "svc"), filepath.Join("cores", "__procdump__svc"); got != want {
		t.Errorf("DumpDir = %q, want %q", got, want)
	}
}

func TestReadMonitorPID(t *testing.T) {
	banner := strings.Join([]string{
		"ProcDump v9.0 - Sysinternals process dump utility",
		"",
		"Process:               svc.exe (5120)",
		"CPU threshold:         n/a",
		"Press Ctrl-C to end monitoring without terminating the process.",
		"app output line",
		"",
	}, "\r\n")

	r := bufio.NewReader(strings.NewReader(banner))
	var seen []string
	pid, err := readMonitorPID(r, func(line string) { seen = append(seen, line) })
	if err != nil {
		t.Fatalf("readMonitorPID: %v", err)
	}
	if pid != 5120 {
		t.Errorf("pid = %d, want 5120", pid)
	}
	if len(seen) != 5 {
		t.Errorf("banner lines = %d, want 5", len(seen))
	}

	rest, _ := r.ReadString('\n')
	if strings.TrimSpace(rest) != "app output line" {
		t.Errorf("application output was consumed: %q", rest)
	}
}

func TestReadMonitorPID_NoPID(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("ProcDump v9.0\nError launching\n"))
	_, err := readMonitorPID(r, func(string) {})
	if !errors.Is(err, ErrNoMonitorPID) {
		t.Errorf("err = %v, want ErrNoMonitorPID", err)
	}
}

func TestStopOptions_GracePeriod(t *testing.T) {
	testCases := []struct {
		in   StopOptions
		want string
	}{
		{StopOptions{}, "5s"},
		{StopOptions{Timeout: -1}, "0s"},
		{StopOptions{Timeout: 2_000_000_000}, "2s"},
	}
	for _, tc := range testCases {
		if got := tc.in.gracePeriod().String(); got != tc.want {
			t.Errorf("gracePeriod(%v) = %s, want %s", tc.in.Timeout, got, tc.want)
		}
	}
}

func TestExpandPID(t *testing.T) {
	if got := expandPID("out/runner-stdout-{pid}.txt", 42); got != "out/runner-stdout-42.txt" {
		t.Errorf("expandPID = %q", got)
	}
	if got := (Options{}).stdoutTarget("helper"); got != "helper_stdout.txt" {
		t.Errorf("default stdout = %q", got)
	}
}
