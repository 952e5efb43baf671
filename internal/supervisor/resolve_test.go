//go:build unix

package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, path string, mode os.FileMode) {
	t.Helper()
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"), mode); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func TestResolveExecutable(t *testing.T) {
	dir := t.TempDir()
	binDir := filepath.Join(dir, "bin")
	if err := os.Mkdir(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "tool"), 0o755)
	writeFile(t, filepath.Join(dir, "plain"), 0o644)
	writeFile(t, filepath.Join(binDir, "onpath"), 0o755)
	writeFile(t, filepath.Join(binDir, "noexec"), 0o644)
	t.Setenv("PATH", binDir)

	testCases := []struct {
		name    string
		cmd     string
		want    string
		wantErr string
	}{
		{"absolute", filepath.Join(dir, "tool"), filepath.Join(dir, "tool"), ""},
		{"absolute missing", filepath.Join(dir, "nope"), "", filepath.Join(dir, "nope") + " does not exist"},
		{"absolute directory", binDir, "", binDir + " is not a file"},
		{"absolute not executable", filepath.Join(dir, "plain"), "", "is not executable"},
		{"dot relative", "./tool", filepath.Join(dir, "tool"), ""},
		{"dot relative missing", "./nope", "", "does not exist"},
		{"path search", "onpath", filepath.Join(binDir, "onpath"), ""},
		{"path hit not executable", "noexec", "", "noexec is not executable"},
		{"not found", "tool", "", "can not find executable file tool"},
		{"empty", "", "", "app binary is not defined"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveExecutable(tc.cmd, dir)
			if tc.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("err = %v, want %q", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveExecutable_PathError(t *testing.T) {
	_, err := ResolveExecutable("/no/such/file", "")
	var pe *PathError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PathError", err)
	}
	if pe.Reason != reasonMissing {
		t.Errorf("reason = %q", pe.Reason)
	}
}

func TestParseSignal(t *testing.T) {
	testCases := []struct {
		name    string
		wantErr bool
	}{
		{"SIGTERM", false},
		{"SIGKILL", false},
		{"SIGABRT", false},
		{"SIG_IGN", true},
		{"SIG_DFL", true},
		{"TERM", true},
		{"SIGNOTREAL", true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := ParseSignal(tc.name)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseSignal(%q) err = %v, wantErr %v", tc.name, err, tc.wantErr)
			}
			if !tc.wantErr && sig == nil {
				t.Error("nil signal without error")
			}
		})
	}
}
