// Package crash locates core dumps left by crashed processes, moves them
// into an output directory, extracts backtraces with the platform debugger
// and compresses the result.
package crash

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"syscall"
)

var corePatternRe = regexp.MustCompile(`^(.*)(core.*)`)

// Locator finds the core file a crashed process left behind. The paths are
// fields so tests can point them at a temporary directory.
type Locator struct {
	GOOS      string
	KernelDir string // holds core_pattern and core_uses_pid
	TmpDir    string
	CoresDir  string
	logger    *slog.Logger
}

// NewLocator returns a Locator for the running platform.
func NewLocator(logger *slog.Logger) *Locator {
	return &Locator{
		GOOS:      runtime.GOOS,
		KernelDir: "/proc/sys/kernel",
		TmpDir:    "/tmp",
		CoresDir:  "/cores",
		logger:    logger,
	}
}

// FindAndSave looks for the core of pid and moves it to outputDir as name
// (core.<pid> when name is empty). With remove set the core is deleted
// instead. Missing cores are only warned about when optional is false.
// It returns the final paths, which is more than one only on Windows.
func (l *Locator) FindAndSave(pid int, workingDir, outputDir, name string, optional, remove bool) ([]string, error) {
	if l.GOOS == "windows" {
		return l.saveMinidumps(pid, workingDir, outputDir, optional, remove)
	}

	core := l.CorePath(pid, workingDir)
	if core == "" {
		return nil, nil
	}

	info, err := os.Stat(core)
	if err != nil || !info.Mode().IsRegular() {
		if !optional {
			l.logger.Warn("core_not_found", "pid", pid, "path", core)
		}
		return nil, nil
	}

	if remove {
		if err := os.Remove(core); err != nil {
			return nil, fmt.Errorf("remove core %s: %w", core, err)
		}
		l.logger.Debug("core_removed", "pid", pid, "path", core)
		return nil, nil
	}

	if name == "" {
		name = "core." + strconv.Itoa(pid)
	}
	saved, err := SaveCoreDump(core, outputDir, name)
	if err != nil {
		return nil, err
	}
	return []string{saved}, nil
}

// CorePath returns where the platform is expected to write the core of pid.
func (l *Locator) CorePath(pid int, workingDir string) string {
	switch l.GOOS {
	case "linux":
		return l.linuxCorePath(pid, workingDir)
	case "darwin":
		return filepath.Join(l.CoresDir, "core."+strconv.Itoa(pid))
	case "solaris", "illumos", "aix", "hpux":
		return filepath.Join(workingDir, "core")
	default:
		return ""
	}
}

func (l *Locator) linuxCorePath(pid int, workingDir string) string {
	pattern := l.readSetting("core_pattern")
	usesPID := l.readSetting("core_uses_pid")

	core, ok := ExpectedLinuxCore(pattern, usesPID, pid, workingDir)
	if !ok {
		l.logger.Warn("unsupported_core_pattern", "pattern", pattern)
	}
	if core != "" {
		if _, err := os.Stat(core); err == nil {
			return core
		}
	}

	fallback := filepath.Join(l.TmpDir, "core."+strconv.Itoa(pid))
	if core == "" {
		l.logger.Warn("core_guess_failed", "fallback", fallback)
	}
	return fallback
}

func (l *Locator) readSetting(name string) string {
	data, err := os.ReadFile(filepath.Join(l.KernelDir, name))
	if err != nil {
		l.logger.Warn("kernel_setting_unreadable", "name", name, "error", err)
		return ""
	}
	return strings.TrimSpace(string(data))
}

// ExpectedLinuxCore computes the core path from the kernel core_pattern and
// core_uses_pid settings. It reports false for patterns using % specifiers
// other than a trailing core.%p.
func ExpectedLinuxCore(pattern, usesPID string, pid int, workingDir string) (string, bool) {
	if usesPID == "" {
		usesPID = "0"
	}

	prefix, suffix := "", pattern
	if m := corePatternRe.FindStringSubmatch(pattern); m != nil {
		prefix, suffix = m[1], m[2]
	}

	var core string
	switch {
	case (suffix == "core" && usesPID != "0") || suffix == "core.%p":
		core = prefix + "core." + strconv.Itoa(pid)
	case !strings.Contains(pattern, "%"):
		core = pattern
		if usesPID != "0" {
			core = pattern + "." + strconv.Itoa(pid)
		}
	default:
		return "", false
	}

	if core != "" && !strings.Contains(prefix, "/") {
		core = filepath.Join(workingDir, core)
	}
	return core, true
}

// saveMinidumps handles the Windows convention where every dump producer
// drops a .dmp into the working directory.
func (l *Locator) saveMinidumps(pid int, workingDir, outputDir string, optional, remove bool) ([]string, error) {
	dumps, err := filepath.Glob(filepath.Join(workingDir, "*.dmp"))
	if err != nil {
		return nil, err
	}
	if len(dumps) == 0 {
		if !optional {
			l.logger.Warn("core_not_found", "pid", pid, "dir", workingDir)
		}
		return nil, nil
	}

	if remove {
		for _, d := range dumps {
			if err := os.Remove(d); err != nil {
				l.logger.Warn("core_remove_failed", "path", d, "error", err)
			}
		}
		return nil, nil
	}

	saved := make([]string, 0, len(dumps))
	for _, d := range dumps {
		base := filepath.Base(d)
		ext := filepath.Ext(base)
		name := fmt.Sprintf("%s_pid%d%s", strings.TrimSuffix(base, ext), pid, ext)
		p, err := SaveCoreDump(d, outputDir, name)
		if err != nil {
			return saved, err
		}
		saved = append(saved, p)
	}
	return saved, nil
}

// SaveCoreDump moves core into outputDir under name and returns the new path.
func SaveCoreDump(core, outputDir, name string) (string, error) {
	oldPath := filepath.Clean(core)
	newPath := filepath.Clean(filepath.Join(outputDir, name))
	if oldPath == newPath {
		return newPath, nil
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create core dir: %w", err)
	}
	if err := moveFile(oldPath, newPath); err != nil {
		return "", fmt.Errorf("move core %s: %w", oldPath, err)
	}
	return newPath, nil
}

// moveFile renames, falling back to copy+remove across filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}
