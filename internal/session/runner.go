package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/crash"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/supervisor"
)

// Exit describes how a runner generation ended.
type Exit struct {
	Code     int
	Artifact *crash.Artifact
}

// Runner launches and terminates test-runner generations. At most one
// generation is live at a time.
type Runner interface {
	// Launch starts a generation with command, stopping and joining the
	// previous one first.
	Launch(ctx context.Context, command []string) error

	// Running reports whether the current generation is still up.
	Running() bool

	// PID is the current generation's pid, 0 when unknown.
	PID() int

	// Terminate stops the current generation with signal (empty for the
	// platform default) and waits until its crash artifact is collected.
	Terminate(signal string) Exit

	// Exception pops one error captured by the generation's guardian.
	Exception() error
}

// RegistryRunner runs the test runner through a supervisor.Registry under a
// single identity.
type RegistryRunner struct {
	registry    *supervisor.Registry
	name        string
	opts        supervisor.Options
	stopTimeout time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	proc *supervisor.Process
}

// NewRegistryRunner creates a runner registered as name. opts apply to every
// generation; stopTimeout is the grace window of Terminate.
func NewRegistryRunner(registry *supervisor.Registry, name string, opts supervisor.Options, stopTimeout time.Duration, logger *slog.Logger) *RegistryRunner {
	return &RegistryRunner{
		registry:    registry,
		name:        name,
		opts:        opts,
		stopTimeout: stopTimeout,
		logger:      logger,
	}
}

// Launch implements Runner.
func (r *RegistryRunner) Launch(ctx context.Context, command []string) error {
	r.mu.Lock()
	prev := r.proc
	r.mu.Unlock()
	if prev != nil {
		r.registry.Stop(r.name, supervisor.StopOptions{Timeout: r.stopTimeout})
		prev.Join()
	}

	p, err := r.registry.Start(ctx, r.name, command, r.opts)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.proc = p
	r.mu.Unlock()
	return nil
}

func (r *RegistryRunner) current() *supervisor.Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proc
}

// Running implements Runner.
func (r *RegistryRunner) Running() bool {
	p := r.current()
	return p != nil && p.IsRunning()
}

// PID implements Runner.
func (r *RegistryRunner) PID() int {
	if p := r.current(); p != nil {
		return p.PID()
	}
	return 0
}

// Terminate implements Runner.
func (r *RegistryRunner) Terminate(signal string) Exit {
	p := r.current()
	if p == nil {
		return Exit{}
	}
	r.registry.Stop(r.name, supervisor.StopOptions{Signal: signal, Timeout: r.stopTimeout})
	p.Join()
	return Exit{Code: p.ExitCode(), Artifact: p.Artifact()}
}

// Exception implements Runner.
func (r *RegistryRunner) Exception() error {
	if p := r.current(); p != nil {
		return p.PopException()
	}
	return nil
}

var _ Runner = (*RegistryRunner)(nil)
