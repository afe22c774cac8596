// Package dashboard renders a live view of the running pipelines onto a
// terminal using Bubble Tea, for operators who'd rather watch a table than
// tail the styled logger. It only reads from the stats collector and the
// pipeline service's per-core managers; it never touches the data plane.
package dashboard

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/thushan/oxide/internal/app/services"
	"github.com/thushan/oxide/internal/core/domain"
	"github.com/thushan/oxide/internal/core/ports"
)

const refreshInterval = 500 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	tableStyle = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

// Source is the subset of the running application the dashboard reads from.
// Satisfied by *services.PipelineService and *services.StatsService via the
// ServiceRegistry so this package never depends on internal/app.
type Source interface {
	Snapshot() ports.StatsSnapshot
	CoreStats() []CoreStat
}

// CoreStat is one pipeline's connection occupancy, sampled each tick.
type CoreStat struct {
	Core     int
	Active   int
	Capacity int
}

type tickMsg time.Time

// Model is the Bubble Tea program driving the dashboard. It holds no engine
// state of its own; every field is repopulated from Source on each tick.
type Model struct {
	source    Source
	coreTable table.Model
	snapshot  ports.StatsSnapshot
	quitting  bool
}

func New(source Source) Model {
	columns := []table.Column{
		{Title: "Core", Width: 6},
		{Title: "Active", Width: 10},
		{Title: "Capacity", Width: 10},
		{Title: "Load", Width: 8},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(8))
	return Model{source: source, coreTable: t}
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	case tickMsg:
		m.snapshot = m.source.Snapshot()
		m.coreTable.SetRows(rowsFor(m.source.CoreStats()))
		return m, tick()
	}
	return m, nil
}

func rowsFor(stats []CoreStat) []table.Row {
	rows := make([]table.Row, 0, len(stats))
	for _, s := range stats {
		load := 0
		if s.Capacity > 0 {
			load = s.Active * 100 / s.Capacity
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", s.Core),
			fmt.Sprintf("%d", s.Active),
			fmt.Sprintf("%d", s.Capacity),
			fmt.Sprintf("%d%%", load),
		})
	}
	return rows
}

func (m Model) View() string {
	if m.quitting {
		return "oxidetop stopped\n"
	}

	header := titleStyle.Render("oxide — delayed TCP proxy dashboard")
	counters := fmt.Sprintf(
		"client segments: %d   server segments: %d   tx: %d",
		m.snapshot.TCPCounterClient, m.snapshot.TCPCounterServer, m.snapshot.TXCounter,
	)
	latency := fmt.Sprintf(
		"setup p50/p95/p99: %dus / %dus / %dus (n=%d)",
		m.snapshot.SetupLatencyP50Us, m.snapshot.SetupLatencyP95Us, m.snapshot.SetupLatencyP99Us, m.snapshot.SetupSamples,
	)
	hold := fmt.Sprintf(
		"hold p50/p95/p99: %dms / %dms / %dms (n=%d)",
		m.snapshot.HoldTimeP50Ms, m.snapshot.HoldTimeP95Ms, m.snapshot.HoldTimeP99Ms, m.snapshot.HoldSamples,
	)

	return fmt.Sprintf(
		"%s\n\n%s\n%s\n%s\n\n%s\n\n%s\n\n%s\n",
		header,
		counters, latency, hold,
		tableStyle.Render(m.coreTable.View()),
		releaseCauseLine(m.snapshot.ReleasesByCause),
		dimStyle.Render("q to quit"),
	)
}

func releaseCauseLine(causes map[domain.ReleaseCause]uint64) string {
	if len(causes) == 0 {
		return dimStyle.Render("releases: none yet")
	}
	line := "releases: "
	for _, cause := range []domain.ReleaseCause{
		domain.CauseTimeout, domain.CauseClientFin, domain.CauseServerFin,
		domain.CauseClientRst, domain.CauseServerRst, domain.CauseProxyAbort, domain.CauseMaxLifetime,
	} {
		if n, ok := causes[cause]; ok {
			line += fmt.Sprintf("%s=%d ", cause, n)
		}
	}
	return line
}

// registrySource adapts the running application's service registry to
// Source without the dashboard package depending on internal/app.
type registrySource struct {
	stats     *services.StatsService
	pipelines *services.PipelineService
}

// NewFromRegistry builds a Source backed by the stats and pipelines
// services registered in a running application.
func NewFromRegistry(stats *services.StatsService, pipelines *services.PipelineService) Source {
	return &registrySource{stats: stats, pipelines: pipelines}
}

func (r *registrySource) Snapshot() ports.StatsSnapshot {
	return r.stats.GetCollector().Snapshot()
}

func (r *registrySource) CoreStats() []CoreStat {
	mgrs := r.pipelines.Cores()
	stats := make([]CoreStat, len(mgrs))
	for i, mgr := range mgrs {
		stats[i] = CoreStat{Core: i, Active: mgr.Active(), Capacity: mgr.Capacity()}
	}
	return stats
}
