package supervisor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	reasonMissing       = "does not exist"
	reasonNotFile       = "is not a file"
	reasonNotExecutable = "is not executable"
)

// PathError reports why a candidate binary was rejected.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return e.Path + " " + e.Reason
}

// ResolveExecutable returns the absolute path of cmd. Absolute paths are
// checked directly, "./" paths are taken relative to dir, anything else is
// searched in PATH (dir first on Windows). A PATH hit that exists but is not
// executable stops the search.
func ResolveExecutable(cmd, dir string) (string, error) {
	if cmd == "" {
		return "", errors.New("app binary is not defined")
	}
	if filepath.IsAbs(cmd) {
		return checkExecutable(cmd)
	}

	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}

	if strings.HasPrefix(cmd, "."+string(filepath.Separator)) {
		return checkExecutable(filepath.Join(dir, cmd))
	}

	search := filepath.SplitList(os.Getenv("PATH"))
	if runtime.GOOS == "windows" {
		search = append([]string{dir}, search...)
	}
	for _, p := range search {
		if p == "" {
			continue
		}
		found, err := checkExecutable(filepath.Join(p, cmd))
		if err == nil {
			return found, nil
		}
		var pe *PathError
		if errors.As(err, &pe) && pe.Reason == reasonNotExecutable {
			return "", err
		}
	}
	return "", fmt.Errorf("can not find executable file %s", cmd)
}

func checkExecutable(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", &PathError{Path: path, Reason: reasonMissing}
	}
	if !info.Mode().IsRegular() {
		return "", &PathError{Path: path, Reason: reasonNotFile}
	}
	if !isExecutable(path, info) {
		return "", &PathError{Path: path, Reason: reasonNotExecutable}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}
