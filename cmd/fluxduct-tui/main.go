package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/arsdragonfly/fluxduct/pkg/client"
	"github.com/arsdragonfly/fluxduct/pkg/graph"
)

// Config
const (
	pollRate       = time.Second
	maxDebug       = 200
	viewportHeight = 12
)

// Styles
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	statusStyle = lipgloss.NewStyle().Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			Width(100)

	paneStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1).
			Width(100)

	nodeStyle = lipgloss.NewStyle().Bold(true)
	inStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))  // Blue
	outStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214")) // Orange
	linkStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))  // Purple
)

type tickMsg time.Time

type dataMsg struct {
	health client.Health
	state  graph.State
	err    error
}

type model struct {
	api      *client.Client
	spinner  spinner.Model
	viewport viewport.Model
	health   client.Health
	state    graph.State
	err      error
	ready    bool
}

func newViewport(width int) viewport.Model {
	vp := viewport.New(width, viewportHeight)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)
	return vp
}

func initialModel(api *client.Client) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return model{
		api:      api,
		spinner:  s,
		viewport: newViewport(100),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		fetchData(m.api),
		tick(),
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tickMsg:
		cmds = append(cmds, fetchData(m.api), tick())

	case dataMsg:
		m.err = msg.err
		if msg.err == nil {
			m.health = msg.health
			m.state = msg.state
			m.viewport.SetContent(debugLog(m.state.DebugMessages))
			m.viewport.GotoBottom()
		}
		m.ready = true

	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	return m, tea.Batch(cmds...)
}

func debugLog(msgs []string) string {
	if len(msgs) > maxDebug {
		msgs = msgs[len(msgs)-maxDebug:]
	}
	return strings.Join(msgs, "\n")
}

// topology renders each live node with its live ports, followed by the live
// links between ports.
func topology(st graph.State) string {
	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().Bold(true).Underline(true).Render("Graph") + "\n\n")

	nodes := st.LiveNodes()
	if len(nodes) == 0 {
		sb.WriteString(subtleStyle.Render("No live nodes."))
		return sb.String()
	}

	for _, n := range nodes {
		fmt.Fprintf(&sb, "%s %s\n", nodeStyle.Render(n.Name), subtleStyle.Render(fmt.Sprintf("id=%d serial=%d", n.ID, n.Serial)))
		for _, p := range st.PortsOf(n.Serial) {
			style, arrow := outStyle, "→"
			if p.Direction == graph.DirectionIn {
				style, arrow = inStyle, "←"
			}
			fmt.Fprintf(&sb, "  %s %s %s\n", style.Render(arrow), p.Name, subtleStyle.Render(fmt.Sprintf("id=%d", p.ID)))
		}
	}

	links := 0
	for _, l := range st.Links {
		if !l.Exists {
			continue
		}
		if links == 0 {
			sb.WriteString("\n")
		}
		links++
		fmt.Fprintf(&sb, "%s %d → %d %s\n", linkStyle.Render("link"), l.OutputPortSerial, l.InputPortSerial, subtleStyle.Render(fmt.Sprintf("id=%d", l.ID)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (m model) View() string {
	if !m.ready {
		return fmt.Sprintf("\n%s Connecting to %s...", m.spinner.View(), "fluxductd")
	}

	topPane := paneStyle.Render(topology(m.state))
	header := headerStyle.Render(fmt.Sprintf("%s Debug Messages", m.spinner.View()))

	var status string
	switch {
	case m.err != nil:
		status = errorStyle.Render(fmt.Sprintf("Offline: %v", m.err))
	case !m.health.Alive:
		status = errorStyle.Render(fmt.Sprintf("Stopped • revision %d", m.health.Revision))
	default:
		live := m.state.Stats[graph.KindNode].Live
		status = okStyle.Render(fmt.Sprintf("Live (%s) • revision %d • %d nodes", m.health.Transport, m.health.Revision, live))
	}
	footer := subtleStyle.Render(fmt.Sprintf("\n%s\nPress q to quit", statusStyle.Render(status)))

	return lipgloss.JoinVertical(lipgloss.Left, topPane, header, m.viewport.View(), footer)
}

// Commands

func fetchData(api *client.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		health, err := api.Health(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		st, err := api.GetGraph(ctx)
		if err != nil {
			return dataMsg{err: err}
		}
		return dataMsg{health: health, state: st}
	}
}

func tick() tea.Cmd {
	return tea.Tick(pollRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func main() {
	apiURL := flag.String("api", client.DefaultEndpoint, "Base URL of the fluxductd API")
	flag.Parse()

	p := tea.NewProgram(initialModel(client.NewClient(*apiURL)), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
