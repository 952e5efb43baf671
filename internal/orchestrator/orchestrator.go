// Package orchestrator wires a test session together: preflight, metrics,
// helper processes, the runner, the optional dashboard and the exit summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"al.essio.dev/pkg/shellescape"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/config"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/crash"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/metrics"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/preflight"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/process"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/session"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/stats"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/supervisor"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/tui"
)

// ErrPreflight is returned by Run when a required preflight check failed.
var ErrPreflight = errors.New("preflight checks failed (use --skip-preflight to override)")

// shutdownTimeout bounds the metrics server shutdown.
const shutdownTimeout = 10 * time.Second

// Orchestrator coordinates all components of one test session.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	out    io.Writer

	runID         string
	registry      *supervisor.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
}

// New creates a new Orchestrator with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) *Orchestrator {
	runID := uuid.NewString()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		RunID:       runID,
		Suite:       cfg.TestSuite,
		Environment: cfg.TestEnv,
	}, registry)

	o := &Orchestrator{
		config:  cfg,
		logger:  logger,
		out:     os.Stdout,
		runID:   runID,
		metrics: collector,
	}
	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, logger)
	}

	o.registry = supervisor.NewRegistry(logger, crash.NewCapturer(logger), supervisor.Callbacks{
		OnStart: collector.ProcessStarted,
		OnExit:  collector.ProcessExited,
	})
	return o
}

// SetOutput redirects the preflight report and the exit summary.
func (o *Orchestrator) SetOutput(w io.Writer) {
	o.out = w
}

// Run executes the session. It blocks until the session completes, aborts
// or ctx is cancelled. The error is set for failures to run at all; an
// aborted session is reported through the result.
func (o *Orchestrator) Run(ctx context.Context) (session.Result, error) {
	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.config)
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return session.Result{}, ErrPreflight
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return session.Result{}, fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer o.shutdownMetrics()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := o.startHelpers(ctx); err != nil {
		o.stopHelpers()
		return session.Result{}, err
	}
	defer o.stopHelpers()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	runner := session.NewRegistryRunner(o.registry, process.RunnerName,
		session.RunnerOptions(o.config), o.config.StopTimeout, o.logger)
	sess := session.New(o.config, session.Options{
		Runner:    runner,
		Collector: o.metrics,
		Signals:   sigCh,
		RunID:     o.runID,
		Logger:    o.logger,
	})

	o.logger.Info("session_starting",
		"run_id", o.runID,
		"command", sess.Command(),
		"helpers", len(o.config.Helpers),
		"metrics_addr", o.config.MetricsAddr,
	)

	var dashboardDone chan struct{}
	var program *tea.Program
	if o.config.TUI {
		program, dashboardDone = o.startDashboard(sess, cancel)
	}

	res, err := sess.Run(ctx)

	if program != nil {
		tui.SendQuit(program)
		<-dashboardDone
	}

	o.printExitSummary(res)
	return res, err
}

// RunID returns the identifier of the session.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Registry returns the process registry for external access.
func (o *Orchestrator) Registry() *supervisor.Registry {
	return o.registry
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// startHelpers launches the configured helper processes in order.
func (o *Orchestrator) startHelpers(ctx context.Context) error {
	for _, h := range o.config.Helpers {
		opts := supervisor.Options{
			Dir:         h.Dir,
			Env:         h.Env,
			Shell:       h.Shell,
			Stdout:      h.Stdout,
			Stderr:      h.Stderr,
			CoreDir:     o.config.OutputDir(),
			KeepCores:   h.KeepCores,
			NoBacktrace: o.config.NoBacktrace,
			LaunchDelay: h.LaunchDelay,
		}
		if opts.Dir == "" {
			opts.Dir = o.config.WorkingDir
		}
		if opts.Stdout == "" {
			opts.Stdout = filepath.Join(o.config.OutputDir(), h.Name+"_stdout.txt")
		}

		if _, err := o.registry.Start(ctx, h.Name, h.Command, opts); err != nil {
			return fmt.Errorf("helper %s: %w", h.Name, err)
		}
		o.logger.Info("helper_started", "name", h.Name, "command", h.Command)
	}
	return nil
}

// stopHelpers stops helpers in reverse start order with their own stop
// settings, then anything left in the registry.
func (o *Orchestrator) stopHelpers() {
	for _, h := range slices.Backward(o.config.Helpers) {
		if o.registry.Get(h.Name) == nil {
			continue
		}
		o.registry.Stop(h.Name, supervisor.StopOptions{Signal: h.StopSignal, Timeout: h.StopTimeout})
	}
	o.registry.StopAll("session finished", supervisor.StopOptions{Timeout: o.config.StopTimeout})
}

// startDashboard runs the TUI until SendQuit. ctrl+c in the dashboard
// cancels the session.
func (o *Orchestrator) startDashboard(sess *session.Session, cancel context.CancelFunc) (*tea.Program, chan struct{}) {
	model := tui.New(tui.Config{
		Source: sess,
		Limits: tui.Limits{
			MaxConsecutiveCrashes: o.config.MaxConsecutiveCrashes,
			MaxCrashes:            o.config.MaxCrashes,
			MaxConsecutiveTimeout: o.config.MaxConsecutiveTimeout,
			MaxAccumulatedTimeout: o.config.MaxAccumulatedTimeout,
			MaxConsecutiveFailure: o.config.MaxConsecutiveFailure,
		},
		Command:     shellescape.QuoteCommand(sess.Command()),
		MetricsAddr: o.config.MetricsAddr,
		OnInterrupt: cancel,
	})

	program := tea.NewProgram(model, tea.WithAltScreen())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := program.Run(); err != nil {
			o.logger.Warn("dashboard_failed", "error", err)
		}
	}()
	return program, done
}

func (o *Orchestrator) shutdownMetrics() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.metricsServer.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

// printExitSummary prints the session summary and process lifecycle.
func (o *Orchestrator) printExitSummary(res session.Result) {
	if res.Summary.RunID == "" {
		return
	}
	fmt.Fprint(o.out, stats.FormatSessionSummary(res.Summary))

	lifecycle := o.metrics.GenerateSummary()
	if len(lifecycle.ExitCodes) > 0 {
		fmt.Fprintln(o.out, "Process Exits:")
		codes := make([]int, 0, len(lifecycle.ExitCodes))
		for code := range lifecycle.ExitCodes {
			codes = append(codes, code)
		}
		slices.Sort(codes)
		for _, code := range codes {
			fmt.Fprintf(o.out, "  %4d %-16s %d\n", code, exitCodeLabel(code), lifecycle.ExitCodes[code])
		}
		fmt.Fprintf(o.out, "  Total starts: %d\n", lifecycle.TotalStarts)
	}
	if o.metricsServer != nil {
		fmt.Fprintf(o.out, "Metrics endpoint was: http://%s/metrics\n", o.metricsServer.Addr())
	}
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 134:
		return "(SIGABRT)"
	case 137:
		return "(SIGKILL)"
	case 139:
		return "(SIGSEGV)"
	case 143:
		return "(SIGTERM)"
	default:
		return "(" + metrics.ExitCategory(code) + ")"
	}
}
