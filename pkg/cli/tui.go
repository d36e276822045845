package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/localserve/devsup/pkg/models"
)

// TopCmd starts the interactive TUI mode (like 'top')
func (a *App) TopCmd() error {
	model := newTopModel(a)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type viewMode int

const (
	viewModeTable viewMode = iota
	viewModeLogs
	viewModeHelp
)

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// topModel represents the TUI state.
type topModel struct {
	app        *App
	snaps      []models.ServiceSnapshot
	width      int
	height     int
	lastUpdate time.Time

	selected   int
	mode       viewMode
	status     string
	followLogs bool

	logView viewport.Model
	spin    spinner.Model
}

func newTopModel(app *App) topModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	m := topModel{
		app:        app,
		lastUpdate: time.Now(),
		mode:       viewModeTable,
		followLogs: true,
		logView:    viewport.New(80, 20),
		spin:       sp,
	}
	m.refresh()
	return m
}

func (m *topModel) refresh() {
	sups := m.app.registry.List()
	snaps := make([]models.ServiceSnapshot, 0, len(sups))
	for _, sup := range sups {
		snaps = append(snaps, sup.Snapshot())
	}
	m.snaps = snaps
	m.lastUpdate = time.Now()
	if m.selected >= len(snaps) && len(snaps) > 0 {
		m.selected = len(snaps) - 1
	}
}

func (m *topModel) selectedSnap() *models.ServiceSnapshot {
	if m.selected < 0 || m.selected >= len(m.snaps) {
		return nil
	}
	return &m.snaps[m.selected]
}

func (m topModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), m.spin.Tick)
}

func (m topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.logView.Width = msg.Width
		m.logView.Height = msg.Height - 6
		return m, nil

	case tickMsg:
		m.refresh()
		if m.mode == viewModeLogs {
			if snap := m.selectedSnap(); snap != nil {
				m.logView.SetContent(snap.VisibleLog)
				if m.followLogs {
					m.logView.GotoBottom()
				}
			}
		}
		return m, tickCmd()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m topModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "?":
		if m.mode == viewModeTable {
			m.mode = viewModeHelp
		}
		return m, nil
	case "esc", "b":
		if m.mode != viewModeTable {
			m.mode = viewModeTable
		}
		return m, nil
	case "up", "k":
		if m.mode == viewModeTable && m.selected > 0 {
			m.selected--
		}
		return m, nil
	case "down", "j":
		if m.mode == viewModeTable && m.selected < len(m.snaps)-1 {
			m.selected++
		}
		return m, nil
	case "f":
		if m.mode == viewModeLogs {
			m.followLogs = !m.followLogs
		}
		return m, nil
	case "enter", "l":
		if m.mode == viewModeTable {
			if snap := m.selectedSnap(); snap != nil {
				m.mode = viewModeLogs
				m.logView.SetContent(snap.VisibleLog)
				m.logView.GotoBottom()
			}
		}
		return m, nil
	case "s":
		m.status = m.withSelected("start requested", func(name string) {
			m.app.registry.Get(name).Start()
		})
		return m, nil
	case "x":
		m.status = m.withSelected("stop requested", func(name string) {
			m.app.registry.Get(name).Stop()
		})
		return m, nil
	case "r":
		m.status = m.withSelected("restart requested", func(name string) {
			m.app.registry.Get(name).Restart()
		})
		return m, nil
	case "K":
		m.status = m.withSelected("kill-conflict requested", func(name string) {
			m.app.registry.Get(name).KillConflict()
		})
		return m, nil
	case "c":
		for _, sup := range m.app.registry.List() {
			if sup.Definition().HasLivenessSignal() {
				sup.CheckStatus()
			}
		}
		m.status = "status check running"
		return m, nil
	}

	if m.mode == viewModeLogs {
		var cmd tea.Cmd
		m.logView, cmd = m.logView.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *topModel) withSelected(verb string, fn func(name string)) string {
	snap := m.selectedSnap()
	if snap == nil {
		return "no service selected"
	}
	if m.app.registry.Get(snap.Name) == nil {
		return fmt.Sprintf("service %q vanished", snap.Name)
	}
	fn(snap.Name)
	return fmt.Sprintf("%s: %s", snap.Name, verb)
}

func (m topModel) View() string {
	width := m.width
	if width <= 0 {
		width = 120
	}

	var b strings.Builder
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	b.WriteString("\n")
	switch m.mode {
	case viewModeLogs:
		name := "-"
		if snap := m.selectedSnap(); snap != nil {
			name = snap.Name
		}
		b.WriteString(headerStyle.Render(fmt.Sprintf("Logs: %s (b back, f follow:%t)", name, m.followLogs)))
		b.WriteString("\n\n")
		b.WriteString(m.logView.View())
	case viewModeHelp:
		b.WriteString(headerStyle.Render("devsup - help"))
		b.WriteString("\n\n")
		b.WriteString(m.renderHelp(width))
	default:
		b.WriteString(headerStyle.Render("devsup - service supervisor (q quit, ? help)"))
		b.WriteString("\n\n")
		b.WriteString(m.renderTable(width))
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(fitLine(m.status, width)))
	}
	b.WriteString("\n")
	footer := fmt.Sprintf("Last updated: %s | Services: %d | s start x stop r restart K kill-conflict c check Enter logs",
		m.lastUpdate.Format("15:04:05"), len(m.snaps))
	b.WriteString(dimStyle.Italic(true).Render(fitLine(footer, width)))
	b.WriteString("\n")
	return b.String()
}

func (m topModel) renderTable(width int) string {
	if len(m.snaps) == 0 {
		return fitLine("(no services registered; devsup add <name> <cwd> \"<cmd>\" [port])", width)
	}

	nameW, phaseW, pidW, flagW := 18, 18, 8, 22
	sep := 2
	var lines []string
	header := fixedCell("Name", nameW) + strings.Repeat(" ", sep) +
		fixedCell("Phase", phaseW) + strings.Repeat(" ", sep) +
		fixedCell("PID", pidW) + strings.Repeat(" ", sep) +
		fixedCell("Flags", flagW) + strings.Repeat(" ", sep) +
		"Errors"
	lines = append(lines, fitLine(header, width))
	lines = append(lines, fitLine(strings.Repeat("─", min(width, 80)), width))

	for i, snap := range m.snaps {
		phase := string(snap.Phase)
		if snap.Phase == models.PhaseStarting {
			phase = m.spin.View() + phase
		}
		if snap.IsExternallyManaged {
			phase += " (ext)"
		}
		pid := "-"
		if snap.PID > 0 {
			pid = fmt.Sprintf("%d", snap.PID)
		}
		flags := "-"
		if snap.HasPortConflict {
			flags = fmt.Sprintf("port conflict: %d", snap.ConflictPID)
		}
		row := fixedCell(snap.Name, nameW) + strings.Repeat(" ", sep) +
			fixedCell(phase, phaseW) + strings.Repeat(" ", sep) +
			fixedCell(pid, pidW) + strings.Repeat(" ", sep) +
			fixedCell(flags, flagW) + strings.Repeat(" ", sep) +
			fmt.Sprintf("%d/%d", len(snap.Errors), len(snap.Warnings))
		line := fitLine(row, width)
		if i == m.selected {
			line = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("15")).Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m topModel) renderHelp(width int) string {
	help := []string{
		"up/down, j/k  select service",
		"enter, l      view logs (f toggles follow, b back)",
		"s             start selected service",
		"x             stop selected service",
		"r             restart selected service",
		"K             kill conflicting process and restart",
		"c             reconcile status for all services",
		"q             quit",
	}
	out := make([]string, 0, len(help))
	for _, line := range help {
		out = append(out, fitLine(line, width))
	}
	return strings.Join(out, "\n")
}

func fixedCell(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) > width {
		return runewidth.Truncate(s, width, "")
	}
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}

func fitLine(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}
