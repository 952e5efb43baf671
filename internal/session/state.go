// Package session drives one supervised test-runner session: launch,
// status tracking, crash and timeout recovery, and result finalization.
package session

// State is the position of a session in its lifecycle.
type State int

const (
	StateNotStarted State = iota
	StateLaunching
	StateAwaitingInit
	StateRunning
	StateCrashed
	StateTimedOut
	StateRelaunching
	StateCompleted
	StateAborted
)

var stateNames = [...]string{
	StateNotStarted:   "NOT_STARTED",
	StateLaunching:    "LAUNCHING",
	StateAwaitingInit: "AWAITING_INIT",
	StateRunning:      "RUNNING",
	StateCrashed:      "CRASHED",
	StateTimedOut:     "TIMED_OUT",
	StateRelaunching:  "RELAUNCHING",
	StateCompleted:    "COMPLETED",
	StateAborted:      "ABORTED",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// IsTerminal reports whether the session is over.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateAborted
}
