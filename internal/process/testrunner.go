package process

import (
	"strconv"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// RunnerName is the registry identity of the test runner.
const RunnerName = "test-runner"

// LoopbackIP is where the status server listens.
const LoopbackIP = "127.0.0.1"

// TestRunnerConfig holds everything needed to build the runner command line.
type TestRunnerConfig struct {
	// Binary is the runner executable. It may carry leading arguments
	// separated by whitespace ("runner --quiet").
	Binary string

	// TestEnv is the environment XML file.
	TestEnv string

	// TestSuite is the suite XML file.
	TestSuite string

	// OutputPrefix is the path prefix of every result file.
	OutputPrefix string

	// Loop is how many times the runner repeats the suite.
	Loop int

	// ServerIP and Port locate the status server.
	ServerIP string
	Port     int

	// Fallback is the fallback file path; empty disables -fb.
	Fallback string
}

// DefaultTestRunnerConfig returns a config with the loopback server and a
// single loop.
func DefaultTestRunnerConfig(binary string) *TestRunnerConfig {
	return &TestRunnerConfig{
		Binary:    binary,
		TestEnv:   "env.xml",
		TestSuite: "suite.xml",
		Loop:      1,
		ServerIP:  LoopbackIP,
	}
}

// TestRunner implements CommandBuilder for the test runner.
type TestRunner struct {
	config *TestRunnerConfig
}

// NewTestRunner creates a builder over cfg. The builder reads cfg on every
// call, so a port assigned after listening is picked up.
func NewTestRunner(cfg *TestRunnerConfig) *TestRunner {
	return &TestRunner{config: cfg}
}

// Name returns RunnerName.
func (r *TestRunner) Name() string {
	return RunnerName
}

// Config returns the runner configuration.
func (r *TestRunner) Config() *TestRunnerConfig {
	return r.config
}

// SetPort records the port the status server ended up on.
func (r *TestRunner) SetPort(port int) {
	r.config.Port = port
}

// Executable returns the program part of Binary.
func (r *TestRunner) Executable() string {
	fields := strings.Fields(r.config.Binary)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// LaunchCommand returns
// runner -te env -ts suite -o prefix -n loop -serverip ip -sp port [-fb file].
func (r *TestRunner) LaunchCommand() []string {
	return r.buildArgs()
}

// ResumeCommand appends -rtn <set>-<id> to the launch command.
func (r *TestRunner) ResumeCommand(set string, id int) []string {
	return append(r.buildArgs(), "-rtn", set+"-"+strconv.Itoa(id))
}

func (r *TestRunner) buildArgs() []string {
	args := strings.Fields(r.config.Binary)

	loop := r.config.Loop
	if loop < 1 {
		loop = 1
	}
	ip := r.config.ServerIP
	if ip == "" {
		ip = LoopbackIP
	}

	args = append(args,
		"-te", r.config.TestEnv,
		"-ts", r.config.TestSuite,
		"-o", r.config.OutputPrefix,
		"-n", strconv.Itoa(loop),
		"-serverip", ip,
		"-sp", strconv.Itoa(r.config.Port),
	)

	if r.config.Fallback != "" {
		args = append(args, "-fb", r.config.Fallback)
	}
	return args
}

// CommandString returns the launch command quoted for a POSIX shell.
func (r *TestRunner) CommandString() string {
	return shellescape.QuoteCommand(r.buildArgs())
}
