// Package config provides configuration management for go-testrunner-monitor.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Crash ceilings. Each darwin core is several hundred megabytes.
const (
	MaxCrashesCeiling       = 5
	MaxCrashesCeilingDarwin = 2
)

// FallbackFileName is created in the output directory when the fallback
// handshake is enabled. The runner removes it on a clean exit.
const FallbackFileName = "fallback.dat"

// Config holds all configuration options for a test session.
type Config struct {
	// Session
	Runner       string `yaml:"runner"`
	TestEnv      string `yaml:"test_env"`
	TestSuite    string `yaml:"test_suite"`
	OutputPrefix string `yaml:"output_prefix"`
	WorkingDir   string `yaml:"wd"`
	Loop         int    `yaml:"loop"`

	// Crash and timeout policy
	MaxConsecutiveCrashes int           `yaml:"max_consecutive_crashes"`
	MaxCrashes            int           `yaml:"max_crashes"`
	InitTimeout           time.Duration `yaml:"timeout_before_initialized"`
	CaseTimeout           time.Duration `yaml:"timeout"`
	MaxConsecutiveTimeout int           `yaml:"max_consecutive_timeout"`
	MaxAccumulatedTimeout int           `yaml:"max_accumulated_timeout"`
	MaxConsecutiveFailure int           `yaml:"max_consecutive_failure"`
	QuickAbort            bool          `yaml:"quick_abort"`
	FailNoRun             bool          `yaml:"fail_norun"`

	// Status server
	Port        int `yaml:"port"`
	MaxPortScan int `yaml:"max_port_scan"`

	// Crash capture
	NoBacktrace bool          `yaml:"no_bt"`
	Procdump    string        `yaml:"procdump"` // windows only
	Fallback    bool          `yaml:"fallback"`
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// Helpers are started before the runner and stopped after it.
	Helpers []HelperConfig `yaml:"helpers"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"` // empty = disabled
	LogFormat   string `yaml:"log_format"`   // json, text
	LogLevel    string `yaml:"log_level"`
	Verbose     bool   `yaml:"verbose"`
	TUI         bool   `yaml:"tui"`

	// Diagnostic modes
	PrintCmd      bool `yaml:"-"`
	SkipPreflight bool `yaml:"skip_preflight"`

	// ConfigFile is the YAML file the config was loaded from, if any.
	ConfigFile string `yaml:"-"`
}

// HelperConfig describes a background process supervised next to the runner.
type HelperConfig struct {
	Name        string        `yaml:"name"`
	Command     []string      `yaml:"command"`
	Shell       bool          `yaml:"shell"`
	Dir         string        `yaml:"dir"`
	Env         []string      `yaml:"env"`
	Stdout      string        `yaml:"stdout"`
	Stderr      string        `yaml:"stderr"`
	LaunchDelay time.Duration `yaml:"launch_delay"`
	StopSignal  string        `yaml:"stop_signal"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	KeepCores   bool          `yaml:"keep_cores"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Session
		TestEnv:    "env.xml",
		TestSuite:  "suite.xml",
		WorkingDir: ".",
		Loop:       1,

		// Crash and timeout policy
		MaxConsecutiveCrashes: 3,
		MaxCrashes:            5,
		InitTimeout:           120 * time.Second,
		CaseTimeout:           5 * time.Minute,
		MaxConsecutiveTimeout: 5,
		MaxAccumulatedTimeout: 20,
		MaxConsecutiveFailure: 50,
		QuickAbort:            true,
		FailNoRun:             true,

		// Status server
		Port:        0, // kernel-assigned
		MaxPortScan: 500,

		// Crash capture
		StopTimeout: 30 * time.Second,

		// Observability
		LogFormat: "json",
		LogLevel:  "info",
	}
}

// ApplyLimits clamps MaxCrashes to the platform ceiling.
func (c *Config) ApplyLimits() {
	applyLimits(c, runtime.GOOS)
}

func applyLimits(c *Config, goos string) {
	if c.MaxCrashes > MaxCrashesCeiling {
		c.MaxCrashes = MaxCrashesCeiling
	}
	if goos == "darwin" && c.MaxCrashes > MaxCrashesCeilingDarwin {
		c.MaxCrashes = MaxCrashesCeilingDarwin
	}
	if goos != "windows" {
		c.Procdump = ""
	}
}

// ResolvedOutputPrefix returns OutputPrefix anchored at WorkingDir.
func (c *Config) ResolvedOutputPrefix() string {
	if filepath.IsAbs(c.OutputPrefix) || c.WorkingDir == "" || c.WorkingDir == "." {
		return filepath.Clean(c.OutputPrefix)
	}
	return filepath.Join(c.WorkingDir, c.OutputPrefix)
}

// OutputDir is the directory result files, runner output and cores land in.
// A prefix naming an existing directory is used as is; otherwise its parent.
func (c *Config) OutputDir() string {
	p := c.ResolvedOutputPrefix()
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return p
	}
	dir := filepath.Dir(p)
	if dir == "" {
		return "."
	}
	return dir
}

// FallbackPath returns the fallback file path, or "" when disabled.
func (c *Config) FallbackPath() string {
	if !c.Fallback {
		return ""
	}
	return filepath.Join(c.OutputDir(), FallbackFileName)
}

// SummaryPath returns the JSON session summary path.
func (c *Config) SummaryPath() string {
	return c.ResolvedOutputPrefix() + "_summary.json"
}

// TimeoutMinutes returns CaseTimeout in minutes, the unit used in reports.
func (c *Config) TimeoutMinutes() float64 {
	return c.CaseTimeout.Minutes()
}
