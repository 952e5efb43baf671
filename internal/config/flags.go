package config

import (
	"time"

	"github.com/urfave/cli/v2"
)

// EnvVarPrefix prefixes the environment variable of every flag.
const EnvVarPrefix = "TESTRUN_MONITOR"

func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	ConfigFileFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		EnvVars: prefixEnvVar("CONFIG"),
		Usage:   "YAML session file; flags and the env XML override it",
	}
	RunnerFlag = &cli.StringFlag{
		Name:    "runner",
		Aliases: []string{"e"},
		EnvVars: prefixEnvVar("RUNNER"),
		Usage:   "Test runner executable, optionally followed by its own leading arguments",
	}
	TestEnvFlag = &cli.StringFlag{
		Name:    "test-env",
		Aliases: []string{"te"},
		Value:   "env.xml",
		EnvVars: prefixEnvVar("TEST_ENV"),
		Usage:   "Environment XML file (\".xml\" is appended when missing)",
	}
	TestSuiteFlag = &cli.StringFlag{
		Name:    "test-suite",
		Aliases: []string{"ts"},
		Value:   "suite.xml",
		EnvVars: prefixEnvVar("TEST_SUITE"),
		Usage:   "Suite XML file (\".xml\" is appended when missing)",
	}
	OutputPrefixFlag = &cli.StringFlag{
		Name:    "output-prefix",
		Aliases: []string{"o"},
		EnvVars: prefixEnvVar("OUTPUT_PREFIX"),
		Usage:   "Path prefix of every result file",
	}
	WorkingDirFlag = &cli.StringFlag{
		Name:    "wd",
		Value:   ".",
		EnvVars: prefixEnvVar("WD"),
		Usage:   "Working directory of the runner",
	}
	LoopFlag = &cli.IntFlag{
		Name:    "loop",
		Aliases: []string{"n"},
		Value:   1,
		EnvVars: prefixEnvVar("LOOP"),
		Usage:   "Number of times the runner repeats the suite",
	}
	MaxConsecutiveCrashesFlag = &cli.IntFlag{
		Name:    "max-consecutive-crashes",
		Value:   3,
		EnvVars: prefixEnvVar("MAX_CONSECUTIVE_CRASHES"),
		Usage:   "Abort after this many crashes in a row",
	}
	MaxCrashesFlag = &cli.IntFlag{
		Name:    "max-crashes",
		Value:   5,
		EnvVars: prefixEnvVar("MAX_CRASHES"),
		Usage:   "Abort after this many crashes in total (at most 5, 2 on darwin)",
	}
	InitTimeoutFlag = &cli.DurationFlag{
		Name:    "timeout-before-initialized",
		Value:   120 * time.Second,
		EnvVars: prefixEnvVar("TIMEOUT_BEFORE_INITIALIZED"),
		Usage:   "How long the runner may take to connect its status channel",
	}
	CaseTimeoutFlag = &cli.DurationFlag{
		Name:    "timeout",
		Value:   5 * time.Minute,
		EnvVars: prefixEnvVar("TIMEOUT"),
		Usage:   "Maximum time without a case event before the runner is considered hung",
	}
	MaxConsecutiveTimeoutFlag = &cli.IntFlag{
		Name:    "max-consecutive-timeout",
		Value:   5,
		EnvVars: prefixEnvVar("MAX_CONSECUTIVE_TIMEOUT"),
		Usage:   "Abort after this many timeouts in a row",
	}
	MaxAccumulatedTimeoutFlag = &cli.IntFlag{
		Name:    "max-accumulated-timeout",
		Value:   20,
		EnvVars: prefixEnvVar("MAX_ACCUMULATED_TIMEOUT"),
		Usage:   "Abort after this many timeouts in total",
	}
	MaxConsecutiveFailureFlag = &cli.IntFlag{
		Name:    "max-consecutive-failure",
		Value:   50,
		EnvVars: prefixEnvVar("MAX_CONSECUTIVE_FAILURE"),
		Usage:   "Abort after this many failed cases in a row",
	}
	PortFlag = &cli.IntFlag{
		Name:    "port",
		Value:   0,
		EnvVars: prefixEnvVar("PORT"),
		Usage:   "Status server port; 0 lets the kernel pick one",
	}
	MaxPortScanFlag = &cli.IntFlag{
		Name:    "max-port-scan",
		Value:   500,
		EnvVars: prefixEnvVar("MAX_PORT_SCAN"),
		Usage:   "Ports to try upward from --port when it is taken",
	}
	ProcdumpFlag = &cli.StringFlag{
		Name:    "procdump",
		EnvVars: prefixEnvVar("PROCDUMP"),
		Usage:   "Dump monitor command wrapping the runner (windows only)",
	}
	NoBacktraceFlag = &cli.BoolFlag{
		Name:    "no-bt",
		EnvVars: prefixEnvVar("NO_BT"),
		Usage:   "Do not run a debugger over collected cores",
	}
	FailNoRunFlag = &cli.BoolFlag{
		Name:    "fail-norun",
		Value:   true,
		EnvVars: prefixEnvVar("FAIL_NORUN"),
		Usage:   "Record a failure when no test case ran",
	}
	QuickAbortFlag = &cli.BoolFlag{
		Name:    "quick-abort",
		Value:   true,
		EnvVars: prefixEnvVar("QUICK_ABORT"),
		Usage:   "Abort when the first case of the session crashes or times out",
	}
	FallbackFlag = &cli.BoolFlag{
		Name:    "fallback",
		EnvVars: prefixEnvVar("FALLBACK"),
		Usage:   "Create fallback.dat for the runner to remove on a clean exit",
	}
	StopTimeoutFlag = &cli.DurationFlag{
		Name:    "stop-timeout",
		Value:   30 * time.Second,
		EnvVars: prefixEnvVar("STOP_TIMEOUT"),
		Usage:   "Grace period between the stop signal and SIGKILL for the runner",
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics",
		EnvVars: prefixEnvVar("METRICS"),
		Usage:   "Prometheus listen address (e.g. 0.0.0.0:17091); empty disables it",
	}
	LogFormatFlag = &cli.StringFlag{
		Name:    "log-format",
		Value:   "json",
		EnvVars: prefixEnvVar("LOG_FORMAT"),
		Usage:   "Log format: json or text",
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Value:   "info",
		EnvVars: prefixEnvVar("LOG_LEVEL"),
		Usage:   "Log level: debug, info, warn or error",
	}
	VerboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		EnvVars: prefixEnvVar("VERBOSE"),
		Usage:   "Debug logging with source locations",
	}
	TUIFlag = &cli.BoolFlag{
		Name:    "tui",
		EnvVars: prefixEnvVar("TUI"),
		Usage:   "Show the live session dashboard",
	}
	PrintCmdFlag = &cli.BoolFlag{
		Name:  "print-cmd",
		Usage: "Print the runner launch command and exit",
	}
	SkipPreflightFlag = &cli.BoolFlag{
		Name:    "skip-preflight",
		EnvVars: prefixEnvVar("SKIP_PREFLIGHT"),
		Usage:   "Skip the environment checks before launching",
	}
)

// Flags is the flag set of the run command.
var Flags = []cli.Flag{
	ConfigFileFlag,
	RunnerFlag,
	TestEnvFlag,
	TestSuiteFlag,
	OutputPrefixFlag,
	WorkingDirFlag,
	LoopFlag,
	MaxConsecutiveCrashesFlag,
	MaxCrashesFlag,
	InitTimeoutFlag,
	CaseTimeoutFlag,
	MaxConsecutiveTimeoutFlag,
	MaxAccumulatedTimeoutFlag,
	MaxConsecutiveFailureFlag,
	PortFlag,
	MaxPortScanFlag,
	ProcdumpFlag,
	NoBacktraceFlag,
	FailNoRunFlag,
	QuickAbortFlag,
	FallbackFlag,
	StopTimeoutFlag,
	MetricsAddrFlag,
	LogFormatFlag,
	LogLevelFlag,
	VerboseFlag,
	TUIFlag,
	PrintCmdFlag,
	SkipPreflightFlag,
}

// ApplyFlags copies every flag the user set (on the command line or through
// its environment variable) into cfg. Unset flags leave cfg untouched so a
// YAML file keeps its values.
func ApplyFlags(c *cli.Context, cfg *Config) {
	setString := func(f *cli.StringFlag, dst *string) {
		if c.IsSet(f.Name) {
			*dst = c.String(f.Name)
		}
	}
	setInt := func(f *cli.IntFlag, dst *int) {
		if c.IsSet(f.Name) {
			*dst = c.Int(f.Name)
		}
	}
	setBool := func(f *cli.BoolFlag, dst *bool) {
		if c.IsSet(f.Name) {
			*dst = c.Bool(f.Name)
		}
	}
	setDuration := func(f *cli.DurationFlag, dst *time.Duration) {
		if c.IsSet(f.Name) {
			*dst = c.Duration(f.Name)
		}
	}

	setString(RunnerFlag, &cfg.Runner)
	setString(TestEnvFlag, &cfg.TestEnv)
	setString(TestSuiteFlag, &cfg.TestSuite)
	setString(OutputPrefixFlag, &cfg.OutputPrefix)
	setString(WorkingDirFlag, &cfg.WorkingDir)
	setInt(LoopFlag, &cfg.Loop)

	setInt(MaxConsecutiveCrashesFlag, &cfg.MaxConsecutiveCrashes)
	setInt(MaxCrashesFlag, &cfg.MaxCrashes)
	setDuration(InitTimeoutFlag, &cfg.InitTimeout)
	setDuration(CaseTimeoutFlag, &cfg.CaseTimeout)
	setInt(MaxConsecutiveTimeoutFlag, &cfg.MaxConsecutiveTimeout)
	setInt(MaxAccumulatedTimeoutFlag, &cfg.MaxAccumulatedTimeout)
	setInt(MaxConsecutiveFailureFlag, &cfg.MaxConsecutiveFailure)
	setBool(QuickAbortFlag, &cfg.QuickAbort)
	setBool(FailNoRunFlag, &cfg.FailNoRun)

	setInt(PortFlag, &cfg.Port)
	setInt(MaxPortScanFlag, &cfg.MaxPortScan)

	setString(ProcdumpFlag, &cfg.Procdump)
	setBool(NoBacktraceFlag, &cfg.NoBacktrace)
	setBool(FallbackFlag, &cfg.Fallback)
	setDuration(StopTimeoutFlag, &cfg.StopTimeout)

	setString(MetricsAddrFlag, &cfg.MetricsAddr)
	setString(LogFormatFlag, &cfg.LogFormat)
	setString(LogLevelFlag, &cfg.LogLevel)
	setBool(VerboseFlag, &cfg.Verbose)
	setBool(TUIFlag, &cfg.TUI)
	setBool(PrintCmdFlag, &cfg.PrintCmd)
	setBool(SkipPreflightFlag, &cfg.SkipPreflight)
}
