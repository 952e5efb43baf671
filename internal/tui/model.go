package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-testrunner-monitor/internal/session"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// SnapshotMsg pushes a snapshot without waiting for the next tick.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// SnapshotSource provides the latest session snapshot.
type SnapshotSource interface {
	Snapshot() session.Snapshot
}

// Limits are the abort thresholds shown next to their counters.
type Limits struct {
	MaxConsecutiveCrashes int
	MaxCrashes            int
	MaxConsecutiveTimeout int
	MaxAccumulatedTimeout int
	MaxConsecutiveFailure int
}

// Config holds TUI configuration.
type Config struct {
	Source      SnapshotSource
	Limits      Limits
	Command     string
	MetricsAddr string

	// OnInterrupt is called on ctrl+c, which the terminal no longer turns
	// into SIGINT while the dashboard owns it.
	OnInterrupt func()
}

// Model represents the TUI state.
type Model struct {
	source      SnapshotSource
	limits      Limits
	command     string
	metricsAddr string
	onInterrupt func()

	snap       session.Snapshot
	lastUpdate time.Time
	showAlerts bool

	width  int
	height int

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		source:      cfg.Source,
		limits:      cfg.Limits,
		command:     cfg.Command,
		metricsAddr: cfg.MetricsAddr,
		onInterrupt: cfg.OnInterrupt,
		lastUpdate:  time.Now(),
		showAlerts:  true,
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.onInterrupt != nil {
				m.onInterrupt()
			}
			m.quitting = true
			return m, tea.Quit
		case "q", "esc":
			m.quitting = true
			return m, tea.Quit
		case "a":
			m.showAlerts = !m.showAlerts
			return m, nil
		case "r":
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.source != nil {
			m.snap = m.source.Snapshot()
		}
		m.lastUpdate = time.Now()
		return m, tickCmd()

	case SnapshotMsg:
		m.snap = msg.Snapshot
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Snapshot returns the snapshot on display.
func (m Model) Snapshot() session.Snapshot {
	return m.snap
}

// PassRate returns succeeded cases over cases that ran (0.0 to 1.0).
func (m Model) PassRate() float64 {
	ran := m.snap.Totals.Ran()
	if ran == 0 {
		return 0
	}
	return float64(m.snap.Totals.Get(session.StatusSucceed)) / float64(ran)
}

// CaseProgress returns how much of the case timeout the current case used.
func (m Model) CaseProgress() float64 {
	if m.snap.CaseTimeout <= 0 {
		return 0
	}
	p := float64(m.snap.SinceLastCase) / float64(m.snap.CaseTimeout)
	return min(p, 1)
}

// Position returns the current set-id, or "-" before the first set. A
// launched runner that has not reported any case yet is marked as waiting.
func (m Model) Position() string {
	pos := "-"
	if m.snap.CurrentSet != "" {
		pos = fmt.Sprintf("%s-%d", m.snap.CurrentSet, m.snap.CurrentID)
	}
	if m.snap.Generation > 0 && !m.snap.CasesStarted && !m.snap.State.IsTerminal() {
		pos += " (waiting for runner)"
	}
	return pos
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendSnapshot pushes a snapshot to the TUI.
func SendSnapshot(p *tea.Program, snap session.Snapshot) {
	if p != nil {
		p.Send(SnapshotMsg{Snapshot: snap})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
