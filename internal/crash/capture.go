package crash

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Request describes one post-mortem collection.
type Request struct {
	PID        int
	WorkingDir string // where the platform drops the core
	OutputDir  string // where cores are kept
	Name       string // final core name, core.<pid> when empty
	Binary     string // executable the core belongs to

	// Optional suppresses the missing-core warning, used after clean exits.
	Optional bool

	// Delete removes the core instead of keeping it.
	Delete bool

	NoBacktrace bool
}

// Artifact is what a collection produced.
type Artifact struct {
	Cores  []string // compressed core paths
	Report string   // Core-dump lines and backtraces, ready to log
}

// Capturer runs the locate, backtrace and compress steps.
type Capturer struct {
	Locator  *Locator
	Debugger *Debugger
	logger   *slog.Logger
}

// NewCapturer returns a Capturer for the running platform.
func NewCapturer(logger *slog.Logger) *Capturer {
	return &Capturer{
		Locator:  NewLocator(logger),
		Debugger: NewDebugger(),
		logger:   logger,
	}
}

// Capture collects the core of req.PID. It returns nil when there is nothing
// to report. Backtrace and compression failures end up in the report text
// rather than in the error.
func (c *Capturer) Capture(ctx context.Context, req Request) (*Artifact, error) {
	cores, err := c.Locator.FindAndSave(req.PID, req.WorkingDir, req.OutputDir, req.Name, req.Optional, req.Delete)
	if err != nil {
		return nil, err
	}
	if len(cores) == 0 {
		return nil, nil
	}

	wantBacktrace := !req.NoBacktrace && c.Locator.GOOS != "windows"

	art := &Artifact{Cores: make([]string, 0, len(cores))}
	var report strings.Builder
	for _, core := range cores {
		fmt.Fprintf(&report, "Core-dump: %s\n", core)

		if wantBacktrace {
			bt, err := c.Debugger.Backtrace(ctx, req.Binary, core)
			report.WriteString(bt)
			if err != nil {
				fmt.Fprintf(&report, "exception at getting back trace: %v\n", err)
			}
		}

		gz, err := Compress(core)
		if err != nil {
			fmt.Fprintf(&report, "==== fail to compress: %v\n", err)
			art.Cores = append(art.Cores, core)
			continue
		}
		art.Cores = append(art.Cores, gz)
	}
	art.Report = report.String()

	c.logger.Info("core_captured",
		"pid", req.PID,
		"cores", art.Cores,
	)
	return art, nil
}
