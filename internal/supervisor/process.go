package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"al.essio.dev/pkg/shellescape"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/crash"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/logging"
)

// drainTimeout bounds how long the guardian waits for the output pump after
// the process exits. Grandchildren holding the pipe open would block it.
const drainTimeout = 5 * time.Second

// CoreCollector gathers crash artifacts after a process exits.
type CoreCollector interface {
	Capture(ctx context.Context, req crash.Request) (*crash.Artifact, error)
}

// Process is one managed OS process and the guardian goroutine that owns
// it. All methods are safe for concurrent use.
type Process struct {
	name      string
	command   []string // command[0] is resolved to an absolute path
	opts      Options
	logger    *slog.Logger
	collector CoreCollector
	callbacks Callbacks
	output    *logging.OutputHandler

	mu            sync.Mutex
	state         State
	cmd           *exec.Cmd
	pid           int // effective pid, the wrapped process under a dump monitor
	exitCode      int
	startTime     time.Time
	stopRequested bool
	exceptions    []error
	artifact      *crash.Artifact

	stopOnce sync.Once
	stopCh   chan struct{}
	exitOnce sync.Once
	exited   chan struct{} // closed once the OS process is gone
	done     chan struct{} // closed when the guardian returns
}

func newProcess(name string, command []string, opts Options, logger *slog.Logger, collector CoreCollector, callbacks Callbacks) *Process {
	plog := logger.With("process", name)
	return &Process{
		name:      name,
		command:   command,
		opts:      opts,
		logger:    plog,
		collector: collector,
		callbacks: callbacks,
		output:    logging.NewOutputHandler(name, plog, nil, !opts.Quiet),
		state:     StateCreated,
		stopCh:    make(chan struct{}),
		exited:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Name returns the registry name.
func (p *Process) Name() string { return p.name }

// Command returns the resolved launch command.
func (p *Process) Command() []string { return append([]string(nil), p.command...) }

// PID returns the effective pid, 0 before launch.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

// State returns the lifecycle state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// IsAlive reports whether the guardian is still running. It stays true
// while cores are being collected after the OS process exited.
func (p *Process) IsAlive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// IsRunning reports whether the OS process may still be running. It is
// true during the launch delay.
func (p *Process) IsRunning() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// Exited is closed once the OS process is gone.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Join waits for the guardian to finish.
func (p *Process) Join() { <-p.done }

// ExitCode returns the exit code, 128+n for a process killed by signal n.
// It is only meaningful after Exited is closed.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Artifact returns the crash artifact, nil when none was collected.
func (p *Process) Artifact() *crash.Artifact {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.artifact
}

// Uptime is the time since launch, or the total run time after exit.
func (p *Process) Uptime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startTime.IsZero() {
		return 0
	}
	return time.Since(p.startTime)
}

// RecentOutput returns up to n of the latest output lines.
func (p *Process) RecentOutput(n int) []string {
	return p.output.RecentLines(n)
}

// PopException returns the oldest queued guardian error, or nil.
func (p *Process) PopException() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.exceptions) == 0 {
		return nil
	}
	err := p.exceptions[0]
	p.exceptions = p.exceptions[1:]
	return err
}

func (p *Process) saveException(err error) {
	p.mu.Lock()
	p.exceptions = append(p.exceptions, err)
	p.mu.Unlock()
	p.logger.Error("process_exception", "error", err)
}

func (p *Process) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Process) markExited() {
	p.exitOnce.Do(func() {
		p.mu.Lock()
		p.state = StateExited
		p.mu.Unlock()
		close(p.exited)
	})
}

func (p *Process) dumpDir() string {
	return DumpDir(p.coreDir(), p.name)
}

func (p *Process) coreDir() string {
	if p.opts.CoreDir != "" {
		return p.opts.CoreDir
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// run is the guardian body. Failures are queued, never propagated.
func (p *Process) run(ctx context.Context) {
	defer close(p.done)
	defer p.markExited()

	p.logger.Debug("guardian_started")
	if err := p.runOnce(ctx); err != nil {
		p.saveException(err)
	}
	if p.opts.DumpMonitor != nil {
		if err := os.RemoveAll(p.dumpDir()); err != nil {
			p.logger.Warn("dump_dir_cleanup_failed", "error", err)
		}
	}
	p.logger.Debug("guardian_finished")
}

func (p *Process) runOnce(ctx context.Context) error {
	if p.opts.LaunchDelay > 0 {
		timer := time.NewTimer(p.opts.LaunchDelay)
		select {
		case <-timer.C:
		case <-p.stopCh:
			timer.Stop()
			p.logger.Info("launch_cancelled")
			return nil
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	args := p.command
	if p.opts.Shell {
		args = shellCommand(args)
	}
	if p.opts.DumpMonitor != nil {
		if err := os.MkdirAll(p.dumpDir(), 0o755); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrLaunchFailure, p.name, err)
		}
		args = p.opts.DumpMonitor.LaunchArgs(p.dumpDir(), args)
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = p.opts.Dir
	if len(p.opts.Env) > 0 {
		cmd.Env = p.opts.Env
	}
	setProcAttr(cmd)

	// Parent keeps the read ends; write ends are closed after Start so EOF
	// arrives when the process tree exits.
	outR, outW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("output pipe: %w", err)
	}
	defer outR.Close()
	cmd.Stdout = outW
	cmd.Stderr = outW

	var errR, errW *os.File
	if p.opts.Stderr != "" {
		errR, errW, err = os.Pipe()
		if err != nil {
			outW.Close()
			return fmt.Errorf("stderr pipe: %w", err)
		}
		defer errR.Close()
		cmd.Stderr = errW
	}

	p.mu.Lock()
	if p.stopRequested {
		p.mu.Unlock()
		outW.Close()
		if errW != nil {
			errW.Close()
		}
		p.logger.Info("launch_cancelled")
		return nil
	}
	p.state = StateStarting
	p.logger.Info("process_launching",
		"command", shellescape.QuoteCommand(args),
		"dir", p.opts.Dir,
	)
	err = cmd.Start()
	if err == nil {
		p.cmd = cmd
		p.pid = cmd.Process.Pid
		p.startTime = time.Now()
		p.state = StateRunning
	}
	p.mu.Unlock()

	outW.Close()
	if errW != nil {
		errW.Close()
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLaunchFailure, p.name, err)
	}

	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
		if kerr := killProcess(cmd.Process); kerr != nil {
			p.logger.Warn("kill_failed", "error", kerr)
		}
	}

	reader := bufio.NewReaderSize(outR, logging.MaxLineLength)
	if p.opts.DumpMonitor != nil {
		p.logger.Info("dump_monitor_started", "monitor_pid", cmd.Process.Pid)
		pid, err := readMonitorPID(reader, p.output.HandleLine)
		if err != nil {
			fail(err)
		} else {
			p.mu.Lock()
			p.pid = pid
			p.mu.Unlock()
		}
	}
	pid := p.PID()
	p.logger.Info("process_started", "pid", pid)

	var files []*os.File
	if firstErr == nil {
		stdout, err := openRedirect(expandPID(p.opts.stdoutTarget(p.name), pid))
		if err != nil {
			fail(err)
		} else {
			files = append(files, stdout)
			p.output.SetSink(stdout)
		}
	}

	var pumps sync.WaitGroup
	pumps.Add(1)
	go func() {
		defer pumps.Done()
		p.output.HandleReader(reader)
	}()

	if errR != nil {
		errOut := logging.NewOutputHandler(p.name+".stderr", p.logger, nil, !p.opts.Quiet)
		if firstErr == nil {
			stderr, err := openRedirect(expandPID(p.opts.Stderr, pid))
			if err != nil {
				fail(err)
			} else {
				files = append(files, stderr)
				errOut.SetSink(stderr)
			}
		}
		pumps.Add(1)
		go func() {
			defer pumps.Done()
			errOut.HandleReader(errR)
		}()
	}

	if p.callbacks.OnStart != nil {
		p.callbacks.OnStart(p.name, pid)
	}

	waitErr := cmd.Wait()
	exitCode := extractExitCode(waitErr)
	uptime := p.Uptime()

	p.mu.Lock()
	p.exitCode = exitCode
	p.mu.Unlock()
	p.markExited()

	p.drainOutput(&pumps, outR, errR)
	for _, f := range files {
		f.Close()
	}

	if sig, ok := exitSignal(waitErr); ok {
		p.logger.Info("process_exited", "pid", pid, "signal", sig.String(), "exit_code", exitCode, "uptime", uptime.String())
	} else {
		p.logger.Info("process_exited", "pid", pid, "exit_code", exitCode, "uptime", uptime.String())
	}

	if p.callbacks.OnExit != nil {
		p.callbacks.OnExit(p.name, exitCode, uptime)
	}

	p.collectCores(context.WithoutCancel(ctx), pid, exitCode)
	return firstErr
}

// drainOutput waits for the pumps, then closes the pipes so a stuck read
// returns.
func (p *Process) drainOutput(pumps *sync.WaitGroup, readers ...*os.File) {
	done := make(chan struct{})
	go func() {
		pumps.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.logger.Warn("output_drain_timeout",
			"timeout", drainTimeout.String(),
			"reason", "output pipe still open after process exit",
		)
		for _, r := range readers {
			if r != nil {
				r.Close()
			}
		}
		<-done
	}
	p.logger.Debug("output_drained", "lines_written", p.output.LinesWritten())
}

// collectCores looks for cores after exit. A clean exit makes the core
// optional and, unless cores are kept, removes it.
func (p *Process) collectCores(ctx context.Context, pid, exitCode int) {
	if p.collector == nil || pid == 0 {
		return
	}

	workingDir := p.opts.Dir
	if p.opts.DumpMonitor != nil {
		workingDir = p.dumpDir()
	}
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}

	name := "core." + p.name
	if p.opts.CoreNameByPID {
		name = ""
	}

	art, err := p.collector.Capture(ctx, crash.Request{
		PID:         pid,
		WorkingDir:  workingDir,
		OutputDir:   p.coreDir(),
		Name:        name,
		Binary:      p.command[0],
		Optional:    exitCode == 0,
		Delete:      exitCode == 0 && !p.opts.KeepCores,
		NoBacktrace: p.opts.NoBacktrace,
	})
	if err != nil {
		p.saveException(fmt.Errorf("collect core: %w", err))
		return
	}
	if art == nil {
		return
	}

	p.mu.Lock()
	p.artifact = art
	p.mu.Unlock()
	p.logger.Warn("core_collected", "cores", art.Cores, "report", art.Report)
}

// stop delivers the stop signal and escalates to a kill after the grace
// window. It is called by the registry, once per process.
func (p *Process) stop(opts StopOptions) {
	p.mu.Lock()
	p.stopRequested = true
	cmd := p.cmd
	pid := p.pid
	if p.state == StateRunning {
		p.state = StateStopping
	}
	p.mu.Unlock()
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.logger.Info("process_stop_requested",
		"signal", opts.Signal,
		"timeout", opts.gracePeriod().String(),
	)

	if cmd == nil || !p.IsRunning() {
		return
	}

	grace := opts.gracePeriod()

	var sig os.Signal
	if opts.Signal != "" {
		s, err := ParseSignal(opts.Signal)
		if err != nil {
			p.logger.Warn("invalid_stop_signal", "signal", opts.Signal, "error", err)
		} else {
			sig = s
		}
		if p.opts.DumpMonitor != nil {
			p.requestDump(pid)
		}
	}
	if sig == nil {
		sig = defaultSignal()
	}

	if deliverable(sig) {
		p.logger.Info("send_signal", "signal", sig.String())
		if err := signalProcess(cmd.Process, sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("send_signal_failed", "signal", sig.String(), "error", err)
		}
	} else {
		grace = 0
	}

	if p.waitExited(grace) {
		return
	}

	p.logger.Warn("force_killing_process",
		"pid", cmd.Process.Pid,
		"reason", "did not terminate gracefully",
	)
	if err := killProcess(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("kill_failed", "error", err)
	}
	<-p.exited
}

func (p *Process) waitExited(grace time.Duration) bool {
	if grace <= 0 {
		return !p.IsRunning()
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return false
	}
}

// requestDump has the monitor write a dump while it still watches pid.
func (p *Process) requestDump(pid int) {
	if pid == 0 {
		return
	}
	args := p.opts.DumpMonitor.DumpArgs(pid, p.name)
	p.logger.Info("dump_requested", "command", shellescape.QuoteCommand(args))

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = p.dumpDir()
	// procdump exits non-zero even when the dump succeeds.
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			p.logger.Warn("dump_failed", "error", err)
		}
	}
}

func openRedirect(name string) (*os.File, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("fail to open redirect file: %s: %w", name, err)
	}
	return f, nil
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}

func exitSignal(err error) (syscall.Signal, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return status.Signal(), true
		}
	}
	return 0, false
}
