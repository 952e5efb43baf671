// Package process builds the command lines used to launch the test runner.
package process

// CommandBuilder produces argv slices for a supervised process.
// The session only deals in argv; spawning belongs to the supervisor.
type CommandBuilder interface {
	// Name returns the registry identity of the process.
	Name() string

	// LaunchCommand returns the argv for a fresh launch.
	LaunchCommand() []string

	// ResumeCommand returns the argv for a relaunch that continues after
	// the given set and case id.
	ResumeCommand(set string, id int) []string
}
