package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/google/uuid"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/config"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/metrics"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/process"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/protocol"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/results"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/stats"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/supervisor"
)

// ErrNotInitialized is returned by Run when the runner died before the
// status channel connected.
var ErrNotInitialized = errors.New("runner exited before initialization")

const (
	// checkInterval is the time slice of liveness and timeout checks.
	checkInterval = time.Second

	// drainTimeout bounds the wait for runner connections to close.
	drainTimeout = 5 * time.Second

	// keptAlerts is how many recent alerts a snapshot carries.
	keptAlerts = 20

	unknownSet = "Unknown"
)

// Options are the collaborators of a session.
type Options struct {
	// Runner launches runner generations. Required.
	Runner Runner

	// Collector receives session metrics. Optional.
	Collector *metrics.Collector

	// Signals aborts the session when a signal arrives. Optional.
	Signals <-chan os.Signal

	// RunID identifies the session in reports. Generated when empty.
	RunID string

	Logger *slog.Logger
}

// Result is the outcome of Run.
type Result struct {
	Aborted    bool
	Reason     string
	Completed  bool
	Generation int
	Totals     Counts
	Crashes    int
	Timeouts   int

	// Summary is what was written to the JSON summary file.
	Summary stats.SessionSummary
}

// Session supervises one test-runner session. Everything below the
// snapshot pointer is owned by the goroutine calling Run.
type Session struct {
	cfg       *config.Config
	runner    Runner
	builder   *process.TestRunner
	collector *metrics.Collector
	signals   <-chan os.Signal
	logger    *slog.Logger
	runID     string
	fallback  string

	tick         time.Duration
	drainTimeout time.Duration

	snap atomic.Pointer[Snapshot]

	state      State
	server     *protocol.Server
	dispatcher *protocol.Dispatcher
	logs       *results.Set
	err        error

	inited    bool
	started   bool
	completed bool
	aborted   bool
	reason    string

	generation int
	suite      string
	currentSet string
	haveSet    bool
	currentID  int
	setCounts  Counts
	totals     Counts
	sets       []stats.SetTotals

	crashes             int
	consecutiveCrashes  int
	timeouts            int
	consecutiveTimeouts int
	consecutiveFailures int

	startedAt    time.Time
	lastCaseTime time.Time
	caseStart    time.Time
	durations    *stats.CaseDurations
	cores        []string
	alerts       []string
}

// New creates a session over a validated config.
func New(cfg *config.Config, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	fallback := cfg.FallbackPath()
	if fallback != "" {
		if abs, err := filepath.Abs(fallback); err == nil {
			fallback = abs
		}
	}

	builder := process.NewTestRunner(&process.TestRunnerConfig{
		Binary:       cfg.Runner,
		TestEnv:      cfg.TestEnv,
		TestSuite:    cfg.TestSuite,
		OutputPrefix: cfg.OutputPrefix,
		Loop:         cfg.Loop,
		ServerIP:     process.LoopbackIP,
		Fallback:     fallback,
	})

	return &Session{
		cfg:          cfg,
		runner:       opts.Runner,
		builder:      builder,
		collector:    opts.Collector,
		signals:      opts.Signals,
		logger:       logger.With("run_id", runID),
		runID:        runID,
		fallback:     fallback,
		tick:         checkInterval,
		drainTimeout: drainTimeout,
		currentID:    1,
		durations:    stats.NewCaseDurations(),
	}
}

// RunnerOptions returns the supervisor options every runner generation is
// launched with: output and cores go to the output directory, the stdout
// file is named after the pid.
func RunnerOptions(cfg *config.Config) supervisor.Options {
	outDir := cfg.OutputDir()
	if abs, err := filepath.Abs(outDir); err == nil {
		outDir = abs
	}
	opts := supervisor.Options{
		Dir:           cfg.WorkingDir,
		Stdout:        filepath.Join(outDir, "runner-stdout-"+supervisor.PIDPlaceholder+".txt"),
		CoreDir:       outDir,
		CoreNameByPID: true,
		NoBacktrace:   cfg.NoBacktrace,
	}
	if fields := strings.Fields(cfg.Procdump); len(fields) > 0 {
		opts.DumpMonitor = supervisor.NewDumpMonitor(fields[0], strings.Join(fields[1:], " "), "")
	}
	return opts
}

// RunID returns the session identifier.
func (s *Session) RunID() string { return s.runID }

// Command returns the first-generation launch command. The port is only
// known once Run has bound the status server.
func (s *Session) Command() []string { return s.builder.LaunchCommand() }

// Snapshot returns the latest published state. It is safe to call from any
// goroutine.
func (s *Session) Snapshot() Snapshot {
	if p := s.snap.Load(); p != nil {
		return *p
	}
	return Snapshot{RunID: s.runID, State: StateNotStarted, Now: time.Now(), CaseTimeout: s.cfg.CaseTimeout}
}

// Run executes the session until it completes or aborts. Aborts are
// reported in the Result; the error is reserved for sessions that could not
// be carried out at all.
func (s *Session) Run(ctx context.Context) (Result, error) {
	if s.runner == nil {
		return Result{}, errors.New("session: no runner")
	}
	s.startedAt = time.Now()
	s.lastCaseTime = s.startedAt

	logs, err := results.Open(s.cfg.ResolvedOutputPrefix(), s.runID, results.Hooks{
		OnSuite:         s.onSuite,
		OnStatus:        s.onStatusLine,
		OnStatusConnect: s.markInited,
	}, s.logger)
	if err != nil {
		return Result{}, fmt.Errorf("open result logs: %w", err)
	}
	s.logs = logs

	server, err := protocol.Listen(s.cfg.Port, s.cfg.MaxPortScan, s.logger)
	if err != nil {
		s.logs.Close()
		return Result{}, fmt.Errorf("start status server: %w", err)
	}
	s.server = server
	go server.Serve()
	s.builder.SetPort(server.Port())
	s.dispatcher = protocol.NewDispatcher(logs, s.onUnknownChannel, s.logger)
	s.dispatcher.OnTruncated = s.onTruncatedLine

	s.alert(slog.LevelInfo, "Launching test runner monitor: "+s.builder.CommandString())
	s.createFallback()

	s.setState(StateLaunching)
	if err := s.launch(ctx, s.builder.LaunchCommand()); err != nil {
		s.err = err
		s.abort("fail to launch the runner")
	} else {
		s.loop(ctx)
	}

	res := s.finalize()
	s.cleanup()
	return res, s.err
}

// loop multiplexes protocol events, the check tick, signals and
// cancellation until the session completes or aborts.
func (s *Session) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	events := s.server.Events()
	for !s.aborted && !s.completed {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.dispatcher.Dispatch(ev)
			continue
		case <-ticker.C:
			s.check(ctx)
		case sig := <-s.signals:
			s.abort(fmt.Sprintf("signal caught (%s)", sig))
		case <-ctx.Done():
			s.abort("context cancelled")
		}
		// Snapshots follow the time slice, not every line.
		s.publish()
	}
}

// check runs once per time slice: liveness, initialization and case
// timeouts.
func (s *Session) check(ctx context.Context) {
	s.pump()
	s.drainExceptions()
	if s.aborted || s.completed {
		return
	}
	active := s.dispatcher.Active()
	if s.collector != nil {
		s.collector.SetActiveChannels(active)
	}
	running := s.runner.Running()

	if s.inited && active == 0 && !running && s.isCrash() {
		s.onCrash(ctx)
		return
	}
	if s.completed {
		return
	}

	if !s.inited {
		if !running {
			s.err = ErrNotInitialized
			s.abort("runner dies before initialization")
			return
		}
		if time.Since(s.lastCaseTime) >= s.cfg.InitTimeout {
			s.reportExit(s.runner.Terminate("SIGABRT"))
			s.abort(fmt.Sprintf("it takes too long for the runner to initialize (%d seconds)",
				int(s.cfg.InitTimeout.Seconds())))
		}
		return
	}

	if running && time.Since(s.lastCaseTime) >= s.cfg.CaseTimeout {
		s.onTimeout(ctx)
	}
}

// pump dispatches the events already queued, so a check sees every line the
// runner wrote before it exited.
func (s *Session) pump() {
	for {
		select {
		case ev := <-s.server.Events():
			s.dispatcher.Dispatch(ev)
		default:
			return
		}
	}
}

// launch starts a generation. The generation counter moves here and
// nowhere else.
func (s *Session) launch(ctx context.Context, command []string) error {
	s.inited = false
	s.started = false
	s.generation++
	s.lastCaseTime = time.Now()
	s.caseStart = time.Time{}

	s.logger.Info("runner_launching",
		"generation", s.generation,
		"command", shellescape.QuoteCommand(command),
	)
	if s.collector != nil {
		s.collector.SetGeneration(s.generation)
	}
	if err := s.runner.Launch(ctx, command); err != nil {
		return fmt.Errorf("launch runner: %w", err)
	}
	s.setState(StateAwaitingInit)
	return nil
}

// markInited records that the runner is up. The status channel connecting
// and an INIT line both count.
func (s *Session) markInited() {
	if s.inited {
		return
	}
	s.inited = true
	s.logger.Info("runner_initialized", "generation", s.generation, "pid", s.runner.PID())
	if !s.aborted && !s.completed {
		s.setState(StateRunning)
	}
}

func (s *Session) onSuite(name string) {
	s.suite = strings.TrimSpace(name)
	s.logger.Info("suite_announced", "suite", s.suite)
}

func (s *Session) onUnknownChannel(name string) {
	s.alert(slog.LevelWarn, fmt.Sprintf("unknown channel: %s", name))
}

func (s *Session) onTruncatedLine(channel string) {
	s.alert(slog.LevelWarn, fmt.Sprintf("line on %s truncated to %d bytes", channel, protocol.MaxLineSize))
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.logger.Debug("session_state", "from", s.state.String(), "to", st.String())
	s.state = st
	if s.collector != nil {
		s.collector.SetState(st.String())
	}
}

// alert records an important event everywhere: the structured log, the
// console log, and for warnings the verbose log too.
func (s *Session) alert(level slog.Level, msg string) {
	s.logger.Log(context.Background(), level, "alert", "message", msg)
	if s.logs != nil {
		s.logs.Console().WriteLine(msg)
		if level >= slog.LevelWarn {
			s.logs.Verbose().WriteLine(msg)
		}
	}
	if s.collector != nil {
		s.collector.RecordAlert()
	}

	line := strings.TrimSpace(msg)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	s.alerts = append(s.alerts, line)
	if len(s.alerts) > keptAlerts {
		s.alerts = s.alerts[len(s.alerts)-keptAlerts:]
	}
}

func (s *Session) drainExceptions() {
	for err := s.runner.Exception(); err != nil; err = s.runner.Exception() {
		s.logger.Warn("runner_exception", "error", err)
	}
}

// publish stores a fresh snapshot for observers.
func (s *Session) publish() {
	now := time.Now()
	snap := &Snapshot{
		RunID:               s.runID,
		Suite:               s.suite,
		State:               s.state,
		StartedAt:           s.startedAt,
		Now:                 now,
		Generation:          s.generation,
		PID:                 s.runner.PID(),
		CurrentSet:          s.currentSet,
		CurrentID:           s.currentID,
		CasesStarted:        s.started,
		SetCounts:           s.setCounts,
		Totals:              s.totals,
		Crashes:             s.crashes,
		ConsecutiveCrashes:  s.consecutiveCrashes,
		Timeouts:            s.timeouts,
		ConsecutiveTimeouts: s.consecutiveTimeouts,
		ConsecutiveFailures: s.consecutiveFailures,
		SinceLastCase:       now.Sub(s.lastCaseTime),
		CaseTimeout:         s.cfg.CaseTimeout,
		Durations:           s.durations.Snapshot(),
		Aborted:             s.aborted,
		Reason:              s.reason,
		Alerts:              append([]string(nil), s.alerts...),
	}
	if s.server != nil {
		snap.Port = s.server.Port()
		snap.LinesRead = s.server.LinesRead()
	}
	if s.dispatcher != nil {
		snap.ActiveChannels = s.dispatcher.Active()
	}
	s.snap.Store(snap)
}
