// Package main provides the go-testrunner-monitor CLI entry point.
//
// go-testrunner-monitor launches a test runner, follows its progress over a
// local status protocol, recovers from crashes and timeouts, and writes
// structured result logs.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"al.essio.dev/pkg/shellescape"
	"github.com/urfave/cli/v2"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/config"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/logging"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/orchestrator"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/session"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-testrunner-monitor
var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1 // tests failed or the session aborted
	exitRuntime = 2 // the session could not run
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout)

	code := exitOK
	app.ExitErrHandler = func(_ *cli.Context, err error) {
		if err == nil {
			return
		}
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			if msg := exitErr.Error(); msg != "" {
				fmt.Fprintln(stderr, msg)
			}
			return
		}
		code = exitRuntime
		fmt.Fprintln(stderr, "Error:", err)
	}

	if err := app.Run(args); err != nil && code == exitOK {
		// Flag parsing errors bypass ExitErrHandler.
		fmt.Fprintln(stderr, "Error:", err)
		code = exitRuntime
	}
	return code
}

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:    "go-testrunner-monitor",
		Usage:   "Supervise a test runner session and report its results",
		Version: version,
		Writer:  stdout,
		Flags:   config.Flags,
		Action:  func(c *cli.Context) error { return runSession(c, stdout) },
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Run a test session (default)",
				Flags:  config.Flags,
				Action: func(c *cli.Context) error { return runSession(c, stdout) },
			},
			preflightCommand(stdout),
			backtraceCommand(stdout),
			coreCommand(stdout),
			statusCommand(stdout),
		},
	}
}

// runSession is the run command.
func runSession(c *cli.Context, stdout io.Writer) error {
	cfg, err := config.Load(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Configuration error: %v", err), exitRuntime)
	}

	if cfg.PrintCmd {
		printRunnerCommand(stdout, cfg)
		return nil
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUI {
		logger = logging.Discard()
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	logger.Info("starting",
		"version", version,
		"runner", cfg.Runner,
		"test_env", cfg.TestEnv,
		"test_suite", cfg.TestSuite,
		"output_prefix", cfg.OutputPrefix,
		"config_file", cfg.ConfigFile,
	)
	if !cfg.TUI {
		printBanner(stdout, cfg)
	}

	orch := orchestrator.New(cfg, logger)
	orch.SetOutput(stdout)
	res, err := orch.Run(c.Context)
	switch {
	case errors.Is(err, session.ErrNotInitialized):
		return cli.Exit(err.Error(), exitFailed)
	case err != nil:
		logger.Error("session_failed", "error", err)
		return cli.Exit(err.Error(), exitRuntime)
	case res.Aborted:
		return cli.Exit("session aborted: "+res.Reason, exitFailed)
	case res.Summary.Failed > 0:
		return cli.Exit(fmt.Sprintf("%d test cases did not pass", res.Summary.Failed), exitFailed)
	}
	return nil
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                     go-testrunner-monitor                         ║")
	fmt.Fprintln(w, "║     Test Runner Supervision with Crash and Timeout Recovery       ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Runner:      %s\n", cfg.Runner)
	fmt.Fprintf(w, "  Suite:       %s (env %s)\n", cfg.TestSuite, cfg.TestEnv)
	fmt.Fprintf(w, "  Output:      %s\n", cfg.ResolvedOutputPrefix())
	fmt.Fprintf(w, "  Timeouts:    init %s, case %s\n", cfg.InitTimeout, cfg.CaseTimeout)
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	if len(cfg.Helpers) > 0 {
		fmt.Fprintf(w, "  Helpers:     %d\n", len(cfg.Helpers))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to abort.")
	fmt.Fprintln(w)
}

// printRunnerCommand prints the runner command that would be launched.
func printRunnerCommand(w io.Writer, cfg *config.Config) {
	sess := session.New(cfg, session.Options{Logger: logging.Discard()})

	fmt.Fprintln(w, "# Runner command for the first generation (the status port is assigned at launch):")
	fmt.Fprintln(w)
	fmt.Fprintln(w, shellescape.QuoteCommand(sess.Command()))
}
