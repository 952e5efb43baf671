// Package supervisor launches named background processes and owns each one
// through a guardian goroutine: output capture, signal-escalated shutdown
// and crash artifact collection on exit.
package supervisor

// State represents where a managed process is in its lifecycle.
type State int

const (
	// StateCreated is the initial state, including any launch delay.
	StateCreated State = iota

	// StateStarting indicates the OS process is being spawned.
	StateStarting

	// StateRunning indicates the OS process is alive.
	StateRunning

	// StateStopping indicates a stop was requested while running.
	StateStopping

	// StateExited indicates the OS process is gone (or never started).
	StateExited
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// IsActive returns true while the OS process may still be running.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// IsTerminal returns true once the process has exited.
func (s State) IsTerminal() bool {
	return s == StateExited
}
