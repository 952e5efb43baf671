package main

import (
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/config"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/crash"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/logging"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/metrics"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/preflight"
)

// preflightCommand runs the environment checks alone.
func preflightCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "preflight",
		Usage: "Check the runner, inputs and crash capture setup without running",
		Flags: config.Flags,
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c)
			if err != nil {
				return cli.Exit(fmt.Sprintf("Configuration error: %v", err), exitRuntime)
			}
			result := preflight.RunAll(cfg)
			preflight.PrintResults(stdout, result)
			if !result.Passed {
				return cli.Exit("preflight checks failed", exitFailed)
			}
			return nil
		},
	}
}

// backtraceCommand prints the backtrace of a core with the platform
// debugger.
func backtraceCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "backtrace",
		Usage:     "Print every thread's backtrace recorded in a core file",
		ArgsUsage: "<binary> <core>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("usage: backtrace <binary> <core>", exitRuntime)
			}
			binary, core := c.Args().Get(0), c.Args().Get(1)
			if _, err := os.Stat(core); err != nil {
				return cli.Exit(err.Error(), exitRuntime)
			}

			bt, err := crash.NewDebugger().Backtrace(c.Context, binary, core)
			if err != nil {
				return cli.Exit(fmt.Sprintf("backtrace failed: %v", err), exitRuntime)
			}
			if bt == "" {
				return cli.Exit("no backtrace support on this platform", exitFailed)
			}
			fmt.Fprintln(stdout, bt)
			return nil
		},
	}
}

var (
	pidFlag = &cli.IntFlag{
		Name:     "pid",
		Usage:    "Process id the core belongs to",
		Required: true,
	}
	coreBinaryFlag = &cli.StringFlag{
		Name:  "binary",
		Usage: "Executable the core belongs to, for the backtrace",
	}
	coreWorkingDirFlag = &cli.StringFlag{
		Name:  "wd",
		Value: ".",
		Usage: "Working directory of the crashed process",
	}
	coreOutputFlag = &cli.StringFlag{
		Name:  "output-dir",
		Value: ".",
		Usage: "Directory the core is moved to",
	}
	coreNameFlag = &cli.StringFlag{
		Name:  "name",
		Usage: "Saved core name (core.<pid> when empty)",
	}
	coreDeleteFlag = &cli.BoolFlag{
		Name:  "delete",
		Usage: "Delete the core instead of keeping it",
	}
)

// coreCommand locates, saves and reports the core of a crashed process.
func coreCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "core",
		Usage: "Locate and save the core a crashed process left behind",
		Flags: []cli.Flag{
			pidFlag,
			coreBinaryFlag,
			coreWorkingDirFlag,
			coreOutputFlag,
			coreNameFlag,
			coreDeleteFlag,
			config.NoBacktraceFlag,
		},
		Action: func(c *cli.Context) error {
			logger := logging.NewLogger("text", "info", false)
			req := crash.Request{
				PID:         c.Int(pidFlag.Name),
				WorkingDir:  c.String(coreWorkingDirFlag.Name),
				OutputDir:   c.String(coreOutputFlag.Name),
				Name:        c.String(coreNameFlag.Name),
				Binary:      c.String(coreBinaryFlag.Name),
				Delete:      c.Bool(coreDeleteFlag.Name),
				NoBacktrace: c.Bool(config.NoBacktraceFlag.Name) || c.String(coreBinaryFlag.Name) == "",
			}

			artifact, err := crash.NewCapturer(logger).Capture(c.Context, req)
			if err != nil {
				return cli.Exit(err.Error(), exitRuntime)
			}
			if artifact == nil {
				return cli.Exit(fmt.Sprintf("no core found for pid %d", req.PID), exitFailed)
			}
			if artifact.Report != "" {
				fmt.Fprintln(stdout, artifact.Report)
			}
			for _, core := range artifact.Cores {
				fmt.Fprintln(stdout, core)
			}
			return nil
		},
	}
}

var (
	statusAddrFlag = &cli.StringFlag{
		Name:     "addr",
		EnvVars:  []string{config.EnvVarPrefix + "_METRICS"},
		Usage:    "Metrics address of a running monitor (host:port or URL)",
		Required: true,
	}
	statusTimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Value: 5 * time.Second,
		Usage: "Scrape timeout",
	}
)

// statusCommand scrapes the metrics endpoint of a running monitor.
func statusCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the progress of a running monitor through its metrics endpoint",
		Flags: []cli.Flag{statusAddrFlag, statusTimeoutFlag},
		Action: func(c *cli.Context) error {
			scraper := metrics.NewScraper(c.String(statusAddrFlag.Name), c.Duration(statusTimeoutFlag.Name))
			view, err := scraper.View(c.Context)
			if err != nil {
				return cli.Exit(fmt.Sprintf("scrape %s: %v", scraper.URL(), err), exitRuntime)
			}
			printSessionView(stdout, view)
			return nil
		},
	}
}

func printSessionView(w io.Writer, v metrics.SessionView) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(fmt.Sprintf("Session %s", v.RunID))
	t.AppendRows([]table.Row{
		{"Suite", v.Suite},
		{"State", v.State},
		{"Runner launches", v.Generation},
		{"Active channels", v.ActiveChannels},
		{"Crashes", v.Crashes},
		{"Timeouts", v.Timeouts},
		{"Managed processes", v.Processes},
		{"Aborted", v.Aborted},
	})

	statuses := make([]string, 0, len(v.Cases))
	for s := range v.Cases {
		statuses = append(statuses, s)
	}
	slices.Sort(statuses)
	if len(statuses) > 0 {
		t.AppendSeparator()
		for _, s := range statuses {
			t.AppendRow(table.Row{s, v.Cases[s]})
		}
	}
	t.SetStyle(table.StyleLight)
	t.Render()
}
