//go:build windows

package supervisor

import (
	"os/exec"
	"testing"
)

func TestShellCommand_WindowsQuoting(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"plain", []string{"echo", "hello"}, `cmd /S /C "echo hello"`},
		{"spaces", []string{"echo", "two words", "$HOME"}, `cmd /S /C "echo "two words" $HOME"`},
		{"embedded quote", []string{"runner.exe", `say "hi"`}, `cmd /S /C "runner.exe "say \"hi\"""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := shellCommand(tt.args)
			if got := commandLine(args); got != tt.want {
				t.Errorf("command line = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCommandLine_WithoutShell(t *testing.T) {
	got := commandLine([]string{`C:\Program Files\runner.exe`, "-ts", "suite.xml"})
	if want := `"C:\Program Files\runner.exe" -ts suite.xml`; got != want {
		t.Errorf("commandLine = %s, want %s", got, want)
	}
}

func TestSetProcAttr_SetsCommandLine(t *testing.T) {
	cmd := exec.Command("cmd", shellCommand([]string{"echo", "a b"})[1:]...)
	setProcAttr(cmd)
	if want := `cmd /S /C "echo "a b""`; cmd.SysProcAttr.CmdLine != want {
		t.Errorf("CmdLine = %s, want %s", cmd.SysProcAttr.CmdLine, want)
	}
}
