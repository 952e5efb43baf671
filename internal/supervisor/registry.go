package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrNameConflict is returned by Start when the name is registered.
	ErrNameConflict = errors.New("duplicate process name")

	// ErrLaunchFailure is returned when the binary cannot be resolved or
	// spawned.
	ErrLaunchFailure = errors.New("launch failure")
)

// Callbacks contains optional callback functions for process events. They
// run on guardian goroutines.
type Callbacks struct {
	// OnStart is called when a process is spawned.
	OnStart func(name string, pid int)

	// OnExit is called when a process exits, before cores are collected.
	OnExit func(name string, exitCode int, uptime time.Duration)
}

// Registry is a name-keyed set of managed processes. A name is owned from
// Start until Stop removes it; the guardian may outlive the entry until it
// is joined.
type Registry struct {
	logger    *slog.Logger
	collector CoreCollector
	callbacks Callbacks

	mu     sync.Mutex
	procs  map[string]*Process
	order  []string
	joiner *joiner
}

// NewRegistry creates an empty registry. collector may be nil to skip core
// collection.
func NewRegistry(logger *slog.Logger, collector CoreCollector, callbacks Callbacks) *Registry {
	return &Registry{
		logger:    logger,
		collector: collector,
		callbacks: callbacks,
		procs:     make(map[string]*Process),
	}
}

// Start validates the command, registers it under name and spawns its
// guardian. ctx only cancels a pending launch delay; stopping the process
// goes through Stop.
func (r *Registry) Start(ctx context.Context, name string, command []string, opts Options) (*Process, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("%w: %s: app binary is not defined", ErrLaunchFailure, name)
	}

	bin, err := ResolveExecutable(command[0], opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailure, name, err)
	}
	resolved := append([]string{bin}, command[1:]...)

	r.mu.Lock()
	if _, exists := r.procs[name]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNameConflict, name)
	}
	p := newProcess(name, resolved, opts, r.logger, r.collector, r.callbacks)
	r.procs[name] = p
	r.order = append(r.order, name)
	r.mu.Unlock()

	go p.run(ctx)
	return p, nil
}

// Get returns the registered process, or nil.
func (r *Registry) Get(name string) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.procs[name]
}

// Names returns registered names in start order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered processes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// GetException pops the oldest queued guardian error of a registered
// process. It returns nil for unknown names or an empty queue.
func (r *Registry) GetException(name string) error {
	p := r.Get(name)
	if p == nil {
		return nil
	}
	return p.PopException()
}

// Stop removes name and terminates its process. Unknown or already removed
// names are a no-op, so a second Stop sends nothing.
func (r *Registry) Stop(name string, opts StopOptions) {
	p := r.remove(name)
	if p == nil {
		return
	}

	if p.IsRunning() {
		p.stop(opts)
	} else {
		r.logger.Info("process_terminated_already", "process", name)
	}

	if !opts.Async {
		p.Join()
		r.logger.Info("process_joined", "process", name)
		return
	}

	r.mu.Lock()
	if r.joiner == nil {
		r.joiner = newJoiner(r.logger)
	}
	j := r.joiner
	r.mu.Unlock()

	r.logger.Info("process_join_deferred", "process", name)
	j.append(p)
}

// StopAll stops every registered process synchronously in start order,
// then waits for pending asynchronous joins.
func (r *Registry) StopAll(reason string, opts StopOptions) {
	names := r.Names()
	if len(names) > 0 {
		r.logger.Info("stopping_all_processes", "reason", reason, "names", names)
	}

	opts.Async = false
	for _, name := range names {
		r.Stop(name, opts)
	}

	r.mu.Lock()
	j := r.joiner
	r.joiner = nil
	r.mu.Unlock()
	if j != nil {
		j.terminate()
	}
}

func (r *Registry) remove(name string) *Process {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.procs[name]
	if !ok {
		return nil
	}
	delete(r.procs, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return p
}
