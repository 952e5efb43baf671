// Package metrics provides Prometheus metrics for go-testrunner-monitor.
//
// Every metric is owned by a Collector instance so a session, or a test,
// can register into its own registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "testrun_monitor"

// Collector manages the Prometheus metrics of one session.
type Collector struct {
	// --- Session overview ---
	info           *prometheus.GaugeVec
	state          *prometheus.GaugeVec
	generation     prometheus.Gauge
	aborted        prometheus.Gauge
	activeChannels prometheus.Gauge

	// --- Test progress ---
	casesTotal    *prometheus.CounterVec
	caseDuration  prometheus.Histogram
	crashesTotal  prometheus.Counter
	timeoutsTotal prometheus.Counter
	statusLines   prometheus.Counter
	unknownTotal  prometheus.Counter
	coreDumps     prometheus.Counter

	// --- Managed processes ---
	processes     prometheus.Gauge
	processStarts *prometheus.CounterVec
	processExits  *prometheus.CounterVec
	processUptime prometheus.Histogram

	mu           sync.Mutex
	currentState string
	running      map[string]struct{}
	totalStarts  int64
	exitCodes    map[int]int64
}

// CollectorConfig holds the labels of the info metric.
type CollectorConfig struct {
	RunID       string
	Suite       string
	Environment string
}

// NewCollector creates a collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "info",
			Help:      "Information about the test session (value always 1)",
		}, []string{"run_id", "suite", "environment"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise",
		}, []string{"state"}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "runner_generation",
			Help:      "Number of runner launches in this session",
		}),
		aborted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "session_aborted",
			Help:      "1 once the session has aborted",
		}),
		activeChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "active_channels",
			Help:      "Status protocol connections bound to a known channel",
		}),
		casesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cases_total",
			Help:      "Test cases by reported or synthesized status",
		}, []string{"status"}),
		caseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "case_duration_seconds",
			Help:      "Time between consecutive case events",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms .. ~5.5min
		}),
		crashesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runner_crashes_total",
			Help:      "Runner crashes detected",
		}),
		timeoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "case_timeouts_total",
			Help:      "Cases that exceeded the case timeout",
		}),
		statusLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "status_lines_total",
			Help:      "Lines received on the status channel",
		}),
		unknownTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "protocol_alerts_total",
			Help:      "Unknown status lines, unknown channels and out-of-order cases",
		}),
		coreDumps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "core_dumps_total",
			Help:      "Core dumps collected and compressed",
		}),
		processes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "managed_processes",
			Help:      "Supervised processes currently running",
		}),
		processStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "process_starts_total",
			Help:      "Supervised process launches",
		}, []string{"name"}),
		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "process_exits_total",
			Help:      "Supervised process exits by category",
		}, []string{"name", "category"}),
		processUptime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "process_uptime_seconds",
			Help:      "Lifetime of supervised processes",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		running:   make(map[string]struct{}),
		exitCodes: make(map[int]int64),
	}

	registry.MustRegister(
		c.info, c.state, c.generation, c.aborted, c.activeChannels,
		c.casesTotal, c.caseDuration, c.crashesTotal, c.timeoutsTotal,
		c.statusLines, c.unknownTotal, c.coreDumps,
		c.processes, c.processStarts, c.processExits, c.processUptime,
	)

	c.info.WithLabelValues(cfg.RunID, cfg.Suite, cfg.Environment).Set(1)
	return c
}

// =============================================================================
// Session events
// =============================================================================

// SetState marks state as current and clears the previous one.
func (c *Collector) SetState(state string) {
	c.mu.Lock()
	prev := c.currentState
	c.currentState = state
	c.mu.Unlock()

	if prev != "" && prev != state {
		c.state.WithLabelValues(prev).Set(0)
	}
	c.state.WithLabelValues(state).Set(1)
}

// SetGeneration records the runner generation.
func (c *Collector) SetGeneration(n int) {
	c.generation.Set(float64(n))
}

// SetAborted flags the session as aborted.
func (c *Collector) SetAborted() {
	c.aborted.Set(1)
}

// SetActiveChannels records the number of bound status connections.
func (c *Collector) SetActiveChannels(n int) {
	c.activeChannels.Set(float64(n))
}

// RecordCase counts a case outcome. A positive d is observed as its duration.
func (c *Collector) RecordCase(status string, d time.Duration) {
	c.casesTotal.WithLabelValues(status).Inc()
	if d > 0 {
		c.caseDuration.Observe(d.Seconds())
	}
}

// RecordCrash counts a runner crash.
func (c *Collector) RecordCrash() {
	c.crashesTotal.Inc()
}

// RecordTimeout counts a case timeout.
func (c *Collector) RecordTimeout() {
	c.timeoutsTotal.Inc()
}

// RecordStatusLine counts one status channel line.
func (c *Collector) RecordStatusLine() {
	c.statusLines.Inc()
}

// RecordAlert counts a protocol alert.
func (c *Collector) RecordAlert() {
	c.unknownTotal.Inc()
}

// RecordCoreDumps counts collected cores.
func (c *Collector) RecordCoreDumps(n int) {
	if n > 0 {
		c.coreDumps.Add(float64(n))
	}
}

// =============================================================================
// Process events
// =============================================================================

// ProcessStarted records a supervised process launch.
func (c *Collector) ProcessStarted(name string, pid int) {
	c.processStarts.WithLabelValues(name).Inc()

	c.mu.Lock()
	c.running[name] = struct{}{}
	c.totalStarts++
	n := len(c.running)
	c.mu.Unlock()

	c.processes.Set(float64(n))
}

// ProcessExited records a supervised process exit.
func (c *Collector) ProcessExited(name string, exitCode int, uptime time.Duration) {
	c.processExits.WithLabelValues(name, ExitCategory(exitCode)).Inc()
	c.processUptime.Observe(uptime.Seconds())

	c.mu.Lock()
	delete(c.running, name)
	c.exitCodes[exitCode]++
	n := len(c.running)
	c.mu.Unlock()

	c.processes.Set(float64(n))
}

// ExitCategory buckets an exit code into success, signal or error.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds process lifecycle totals for the exit summary.
type Summary struct {
	TotalStarts int64
	ExitCodes   map[int]int64
}

// GenerateSummary returns a copy of the lifecycle totals.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		TotalStarts: c.totalStarts,
		ExitCodes:   make(map[int]int64, len(c.exitCodes)),
	}
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = count
	}
	return s
}
