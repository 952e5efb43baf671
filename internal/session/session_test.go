package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/config"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/logging"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/metrics"
	"github.com/randomizedcoder/go-testrunner-monitor/internal/stats"
)

// =============================================================================
// Fake runner
// =============================================================================

// script plays one runner generation. Returning from it is the runner
// exiting; ctx is cancelled when the session terminates the generation.
type script func(ctx context.Context, g *fakeGen)

// fakeRunner implements Runner with in-process scripts that talk to the
// status server over real sockets.
type fakeRunner struct {
	t       *testing.T
	scripts []script

	mu       sync.Mutex
	launches [][]string
	signals  []string
	cancel   context.CancelFunc
	done     chan struct{}
}

func newFakeRunner(t *testing.T, scripts ...script) *fakeRunner {
	return &fakeRunner{t: t, scripts: scripts}
}

func (f *fakeRunner) Launch(_ context.Context, command []string) error {
	f.mu.Lock()
	gen := len(f.launches)
	f.launches = append(f.launches, slices.Clone(command))
	sc := f.scripts[min(gen, len(f.scripts)-1)]
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	f.cancel, f.done = cancel, done
	f.mu.Unlock()

	g := &fakeGen{t: f.t, command: command, port: argValue(command, "-sp")}
	go func() {
		defer close(done)
		defer g.closeAll()
		sc(ctx, g)
	}()
	return nil
}

func (f *fakeRunner) Running() bool {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (f *fakeRunner) PID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return 1000 + len(f.launches)
}

func (f *fakeRunner) Terminate(signal string) Exit {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	if done != nil {
		f.signals = append(f.signals, signal)
	}
	f.mu.Unlock()
	if done == nil {
		return Exit{}
	}
	cancel()
	<-done
	return Exit{Code: 134}
}

func (f *fakeRunner) Exception() error { return nil }

func (f *fakeRunner) Launches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.launches)
}

func (f *fakeRunner) Signals() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.signals)
}

// fakeGen is one running generation.
type fakeGen struct {
	t       *testing.T
	command []string
	port    string
	conns   []net.Conn
}

func (g *fakeGen) dial(channel string) net.Conn {
	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", g.port))
	if err != nil {
		g.t.Errorf("dial %s: %v", channel, err)
		return nil
	}
	g.conns = append(g.conns, c)
	g.send(c, channel)
	return c
}

func (g *fakeGen) send(c net.Conn, lines ...string) {
	if c == nil {
		return
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(c, "%s\n", l); err != nil {
			g.t.Errorf("send %q: %v", l, err)
			return
		}
	}
}

func (g *fakeGen) closeAll() {
	for _, c := range g.conns {
		c.Close()
	}
}

func argValue(command []string, flag string) string {
	for i := 0; i+1 < len(command); i++ {
		if command[i] == flag {
			return command[i+1]
		}
	}
	return ""
}

// settle gives the server time to read what was sent before the fake
// runner exits.
const settle = 100 * time.Millisecond

// exits sends lines on the status channel, then exits.
func exits(lines ...string) script {
	return func(_ context.Context, g *fakeGen) {
		g.send(g.dial("ServerStatusLog"), lines...)
		time.Sleep(settle)
	}
}

// hangs sends lines on the status channel and waits to be terminated.
func hangs(lines ...string) script {
	return func(ctx context.Context, g *fakeGen) {
		g.send(g.dial("ServerStatusLog"), lines...)
		<-ctx.Done()
	}
}

// =============================================================================
// Helpers
// =============================================================================

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Runner = "fake-runner"
	cfg.WorkingDir = dir
	cfg.OutputPrefix = filepath.Join(dir, "out")
	cfg.InitTimeout = 3 * time.Second
	cfg.CaseTimeout = 10 * time.Second
	return cfg
}

func newTestSession(t *testing.T, cfg *config.Config, runner Runner, opts ...func(*Options)) *Session {
	t.Helper()
	o := Options{Runner: runner, RunID: "R-test", Logger: logging.Discard()}
	for _, fn := range opts {
		fn(&o)
	}
	s := New(cfg, o)
	s.tick = 20 * time.Millisecond
	s.drainTimeout = time.Second
	return s
}

func runSession(t *testing.T, s *Session) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return s.Run(ctx)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func checkSetTotals(t *testing.T, res Result) {
	t.Helper()
	sum := 0
	for _, set := range res.Summary.Sets {
		sum += set.Counts[StatusTotal]
	}
	if sum != res.Totals.Total() {
		t.Errorf("sum of set totals = %d, session total = %d", sum, res.Totals.Total())
	}
}

// =============================================================================
// Completed sessions
// =============================================================================

func TestRun_Completed(t *testing.T) {
	cfg := testConfig(t)
	runner := newFakeRunner(t, exits(
		"START",
		"SET CHANGE:S1",
		"CASE:S1-1",
		"STATUS:SUCCEED(S1-1)",
		"CASE:S1-2",
		"STATUS:FAILED(S1-2)",
		"SET CHANGE:S2",
		"CASE:S2-1",
		"STATUS:EXCLUDED(S2-1)",
		"COMPLETE",
	))
	s := newTestSession(t, cfg, runner)

	res, err := runSession(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Aborted || !res.Completed {
		t.Fatalf("Result = %+v, want completed", res)
	}
	if res.Generation != 1 {
		t.Errorf("Generation = %d, want 1", res.Generation)
	}

	want := map[string]int{
		StatusSucceed:   1,
		StatusFailed:    1,
		StatusSuspended: 1,
		StatusTotal:     3,
	}
	for status, n := range want {
		if got := res.Totals.Get(status); got != n {
			t.Errorf("Totals[%s] = %d, want %d", status, got, n)
		}
	}
	checkSetTotals(t, res)

	csv := readFile(t, cfg.OutputPrefix+"__set_summary.csv")
	lines := strings.Split(strings.TrimSpace(csv), "\n")
	wantLines := []string{
		"Test Set,SUCCEED,FAILED,SUSPENDED,NOT_FOUND,RESULT_IGNORED,FAILED_STARTUP,CLEANUP_FAILED,CRASHED,TIMEOUT,TOTAL",
		"S1,1,1,0,0,0,0,0,0,0,2",
		"S2,0,0,1,0,0,0,0,0,0,1",
		"SUITE SUMMARY,1,1,1,0,0,0,0,0,0,3",
	}
	if !slices.Equal(lines, wantLines) {
		t.Errorf("set summary =\n%s\nwant\n%s", strings.Join(lines, "\n"), strings.Join(wantLines, "\n"))
	}

	summary, err := stats.ReadSummaryJSON(cfg.SummaryPath())
	if err != nil {
		t.Fatalf("ReadSummaryJSON() error = %v", err)
	}
	if summary.RunID != "R-test" || summary.Totals[StatusTotal] != 3 || !summary.Completed {
		t.Errorf("summary = %+v", summary)
	}
	if summary.CaseDurations.Count != 3 {
		t.Errorf("timed cases = %d, want 3", summary.CaseDurations.Count)
	}

	snap := s.Snapshot()
	if snap.State != StateCompleted {
		t.Errorf("snapshot state = %v, want COMPLETED", snap.State)
	}
}

func TestRun_NoTestRun(t *testing.T) {
	tests := []struct {
		name      string
		failNoRun bool
		wantTotal int
	}{
		{"fail_norun", true, 1},
		{"allow_norun", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.FailNoRun = tt.failNoRun
			s := newTestSession(t, cfg, newFakeRunner(t, exits("INIT", "COMPLETE")))

			res, err := runSession(t, s)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Aborted {
				t.Fatalf("aborted: %s", res.Reason)
			}
			if res.Totals.Total() != tt.wantTotal || res.Totals.Get(StatusFailed) != tt.wantTotal {
				t.Errorf("Totals = %v, want %d FAILED", res.Totals.Map(), tt.wantTotal)
			}
			checkSetTotals(t, res)

			if tt.failNoRun {
				xml := readFile(t, cfg.OutputPrefix+"__summary.xml")
				if !strings.Contains(xml, "No test has actually run") {
					t.Errorf("summary.xml lacks the no-run case:\n%s", xml)
				}
			}
		})
	}
}

func TestRun_FallbackRemovedMeansCompleted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fallback = true
	runner := newFakeRunner(t, func(_ context.Context, g *fakeGen) {
		g.send(g.dial("ServerStatusLog"), "SET CHANGE:S1", "CASE:S1-1", "STATUS:SUCCEED(S1-1)")
		if err := os.Remove(argValue(g.command, "-fb")); err != nil {
			g.t.Errorf("remove fallback: %v", err)
		}
		time.Sleep(settle)
	})
	s := newTestSession(t, cfg, runner)

	res, err := runSession(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Aborted || !res.Completed || res.Crashes != 0 {
		t.Errorf("Result = %+v, want completed without crash", res)
	}
	if len(runner.Launches()) != 1 {
		t.Errorf("launches = %d, want 1", len(runner.Launches()))
	}
}

// =============================================================================
// Crashes
// =============================================================================

func TestRun_CrashAbortsAtConsecutiveLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConsecutiveCrashes = 1
	runner := newFakeRunner(t, exits("SET CHANGE:S1", "CASE:S1-1"))
	s := newTestSession(t, cfg, runner)

	res, err := runSession(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Aborted || res.Reason != "too many consecutive crashes" {
		t.Fatalf("Result = %+v, want abort on consecutive crashes", res)
	}
	if res.Totals.Get(StatusCrashed) != 1 || res.Totals.Get(StatusFailed) != 1 || res.Totals.Total() != 2 {
		t.Errorf("Totals = %v", res.Totals.Map())
	}
	checkSetTotals(t, res)

	xml := readFile(t, cfg.OutputPrefix+"__summary.xml")
	if n := strings.Count(xml, "<testcase "); n != 2 {
		t.Errorf("testcases = %d, want 2:\n%s", n, xml)
	}
	for _, want := range []string{`name="S1-1"`, "Test crashed.", "SESSION ABORT: too many consecutive crashes"} {
		if !strings.Contains(xml, want) {
			t.Errorf("summary.xml lacks %q", want)
		}
	}

	status := readFile(t, cfg.OutputPrefix+"__status.log")
	if !strings.Contains(status, "STATUS:CRASHED(S1-1)\n"+relaunchMarker) {
		t.Errorf("status log lacks the crash marker:\n%s", status)
	}
}

func TestRun_CrashRelaunchesWithResume(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConsecutiveCrashes = 2
	cfg.QuickAbort = false
	runner := newFakeRunner(t,
		exits("SET CHANGE:S1", "CASE:S1-1"),
		exits("CASE:S1-2"),
	)
	s := newTestSession(t, cfg, runner)

	res, err := runSession(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Reason != "too many consecutive crashes" {
		t.Fatalf("Reason = %q", res.Reason)
	}
	if res.Generation != 2 || res.Crashes != 2 {
		t.Errorf("Generation = %d, Crashes = %d, want 2 and 2", res.Generation, res.Crashes)
	}

	launches := runner.Launches()
	if len(launches) != 2 {
		t.Fatalf("launches = %d, want 2", len(launches))
	}
	if got := argValue(launches[0], "-rtn"); got != "" {
		t.Errorf("first launch has -rtn %q", got)
	}
	if got := argValue(launches[1], "-rtn"); got != "S1-1" {
		t.Errorf("relaunch -rtn = %q, want S1-1", got)
	}
}

func TestRun_QuickAbortOnFirstCrash(t *testing.T) {
	cfg := testConfig(t)
	runner := newFakeRunner(t, exits("SET CHANGE:S1", "CASE:S1-1"))
	s := newTestSession(t, cfg, runner)

	res, _ := runSession(t, s)
	if res.Reason != "crash on the 1st test case" {
		t.Errorf("Reason = %q, want quick abort", res.Reason)
	}
}

// =============================================================================
// Timeouts
// =============================================================================

func TestRun_TimeoutRelaunches(t *testing.T) {
	cfg := testConfig(t)
	cfg.CaseTimeout = 600 * time.Millisecond // 0.01 minutes
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{RunID: "R-test"}, reg)

	runner := newFakeRunner(t,
		hangs("SET CHANGE:S1", "CASE:S1-1", "STATUS:SUCCEED(S1-1)", "CASE:S1-2"),
		exits("CASE:S1-3", "STATUS:SUCCEED(S1-3)", "COMPLETE"),
	)
	s := newTestSession(t, cfg, runner, func(o *Options) { o.Collector = collector })

	start := time.Now()
	res, err := runSession(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 600*time.Millisecond {
		t.Errorf("session took %v, timeout fired early", elapsed)
	}
	if res.Aborted {
		t.Fatalf("aborted: %s", res.Reason)
	}
	if res.Generation != 2 || res.Timeouts != 1 {
		t.Errorf("Generation = %d, Timeouts = %d, want 2 and 1", res.Generation, res.Timeouts)
	}
	if res.Totals.Get(StatusTimeout) != 1 || res.Totals.Get(StatusSucceed) != 2 {
		t.Errorf("Totals = %v", res.Totals.Map())
	}
	checkSetTotals(t, res)

	if got := argValue(runner.Launches()[1], "-rtn"); got != "S1-2" {
		t.Errorf("relaunch -rtn = %q, want S1-2", got)
	}
	if !slices.Contains(runner.Signals(), "SIGABRT") {
		t.Errorf("signals = %v, want SIGABRT", runner.Signals())
	}

	xml := readFile(t, cfg.OutputPrefix+"__summary.xml")
	if !strings.Contains(xml, "Timed out. Current setting is 0.01 minutes.") {
		t.Errorf("summary.xml lacks the timeout case:\n%s", xml)
	}
}

func TestRun_QuickAbortOnFirstTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.CaseTimeout = 300 * time.Millisecond
	runner := newFakeRunner(t, hangs("SET CHANGE:S1", "CASE:S1-1"))
	s := newTestSession(t, cfg, runner)

	res, err := runSession(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Aborted || res.Reason != "timeout on the 1st test case" {
		t.Fatalf("Result = %+v, want quick abort", res)
	}
	if res.Timeouts != 1 || res.Generation != 1 {
		t.Errorf("Timeouts = %d, Generation = %d", res.Timeouts, res.Generation)
	}
}

// =============================================================================
// Initialization
// =============================================================================

func TestRun_RunnerDiesBeforeInit(t *testing.T) {
	cfg := testConfig(t)
	runner := newFakeRunner(t, func(context.Context, *fakeGen) {})
	s := newTestSession(t, cfg, runner)

	res, err := runSession(t, s)
	if !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Run() error = %v, want ErrNotInitialized", err)
	}
	if !res.Aborted || res.Reason != "runner dies before initialization" {
		t.Errorf("Result = %+v", res)
	}

	csv := readFile(t, cfg.OutputPrefix+"__summary.csv")
	if !strings.HasPrefix(csv, "Result,IsIgnorable") {
		t.Errorf("summary.csv is not repaired:\n%s", csv)
	}
}

func TestRun_InitTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.InitTimeout = 200 * time.Millisecond
	runner := newFakeRunner(t, func(ctx context.Context, _ *fakeGen) { <-ctx.Done() })
	s := newTestSession(t, cfg, runner)

	res, err := runSession(t, s)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.Aborted || !strings.HasPrefix(res.Reason, "it takes too long for the runner to initialize") {
		t.Errorf("Result = %+v", res)
	}
	if sigs := runner.Signals(); len(sigs) == 0 || sigs[0] != "SIGABRT" {
		t.Errorf("signals = %v, want SIGABRT first", sigs)
	}
}

// =============================================================================
// External aborts
// =============================================================================

func TestRun_ExternalAbort(t *testing.T) {
	tests := []struct {
		name       string
		trigger    func(cancel context.CancelFunc, sigs chan os.Signal)
		wantReason string
	}{
		{
			name:       "signal",
			trigger:    func(_ context.CancelFunc, sigs chan os.Signal) { sigs <- os.Interrupt },
			wantReason: "signal caught (interrupt)",
		},
		{
			name:       "context",
			trigger:    func(cancel context.CancelFunc, _ chan os.Signal) { cancel() },
			wantReason: "context cancelled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			sigs := make(chan os.Signal, 1)
			runner := newFakeRunner(t, hangs("SET CHANGE:S1", "CASE:S1-1", "STATUS:SUCCEED(S1-1)"))
			s := newTestSession(t, cfg, runner, func(o *Options) { o.Signals = sigs })

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				time.Sleep(300 * time.Millisecond)
				tt.trigger(cancel, sigs)
			}()

			res, err := s.Run(ctx)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if !res.Aborted || res.Reason != tt.wantReason {
				t.Errorf("Result = %+v, want reason %q", res, tt.wantReason)
			}
			if res.Totals.Get(StatusSucceed) != 1 || res.Totals.Get(StatusFailed) != 1 {
				t.Errorf("Totals = %v", res.Totals.Map())
			}
			if runner.Running() {
				t.Error("runner still running after abort")
			}
		})
	}
}
