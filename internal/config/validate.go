package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// reservedHelperName is the registry identity owned by the runner.
const reservedHelperName = "test-runner"

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error

	required := []struct {
		field string
		value string
	}{
		{"runner", cfg.Runner},
		{"test_env", cfg.TestEnv},
		{"test_suite", cfg.TestSuite},
		{"output_prefix", cfg.OutputPrefix},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			errs = append(errs, ValidationError{Field: r.field, Message: "is required"})
		}
	}

	positive := []struct {
		field string
		value int
	}{
		{"loop", cfg.Loop},
		{"max_consecutive_crashes", cfg.MaxConsecutiveCrashes},
		{"max_crashes", cfg.MaxCrashes},
		{"max_consecutive_timeout", cfg.MaxConsecutiveTimeout},
		{"max_accumulated_timeout", cfg.MaxAccumulatedTimeout},
		{"max_consecutive_failure", cfg.MaxConsecutiveFailure},
		{"max_port_scan", cfg.MaxPortScan},
	}
	for _, p := range positive {
		if p.value < 1 {
			errs = append(errs, ValidationError{Field: p.field, Message: "must be at least 1"})
		}
	}

	if cfg.InitTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "timeout_before_initialized", Message: "must be positive"})
	}
	if cfg.CaseTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "timeout", Message: "must be positive"})
	}
	if cfg.StopTimeout < 0 {
		errs = append(errs, ValidationError{Field: "stop_timeout", Message: "must not be negative"})
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "port",
			Message: fmt.Sprintf("must be between 0 and 65535 (got %d)", cfg.Port),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if cfg.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{Field: "metrics_addr", Message: err.Error()})
		}
	}

	errs = append(errs, validateHelpers(cfg.Helpers)...)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateHelpers(helpers []HelperConfig) []error {
	var errs []error
	seen := make(map[string]bool, len(helpers))

	for i, h := range helpers {
		field := fmt.Sprintf("helpers[%d]", i)
		switch {
		case h.Name == "":
			errs = append(errs, ValidationError{Field: field + ".name", Message: "is required"})
		case h.Name == reservedHelperName:
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("%q is reserved for the runner", h.Name)})
		case seen[h.Name]:
			errs = append(errs, ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate name %q", h.Name)})
		}
		seen[h.Name] = true

		if len(h.Command) == 0 {
			errs = append(errs, ValidationError{Field: field + ".command", Message: "is required"})
		}
		if h.LaunchDelay < 0 {
			errs = append(errs, ValidationError{Field: field + ".launch_delay", Message: "must not be negative"})
		}
	}
	return errs
}
