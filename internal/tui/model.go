package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"neuralcraft/internal/client"
)

// GamePort is the TUI-facing subset of the API client.
type GamePort interface {
	Inventory(ctx context.Context, userID string) ([]client.Item, error)
	Combine(ctx context.Context, userID string, first, second int64) (client.CombineResult, error)
	Leaderboard(ctx context.Context) ([]client.Rank, error)
}

type inventoryMsg struct {
	items []client.Item
	err   error
}

type combineMsg struct {
	result client.CombineResult
	err    error
}

type leaderboardMsg struct {
	ranks []client.Rank
	err   error
}

// Model is the Bubble Tea model for the terminal client.
type Model struct {
	ctx       context.Context
	port      GamePort
	userID    string
	input     textinput.Model
	viewport  viewport.Model
	items     []client.Item
	visible   []client.Item
	picked    []client.Item
	board     []client.Rank
	showBoard bool
	busy      bool
	status    string
	cursor    int
	ready     bool
}

// New creates a TUI model for userID.
func New(ctx context.Context, port GamePort, userID string) Model {
	ti := textinput.New()
	ti.Prompt = "filter> "
	ti.Placeholder = "type to filter, enter to pick, tab for leaderboard"
	ti.Focus()
	ti.CharLimit = 40
	vp := viewport.New(0, 0)
	return Model{ctx: ctx, port: port, userID: userID, input: ti, viewport: vp, status: "Loading inventory..."}
}

// Init starts the cursor blink and the first inventory load.
func (m Model) Init() tea.Cmd { return tea.Batch(textinput.Blink, m.loadInventory()) }

func (m Model) loadInventory() tea.Cmd {
	return func() tea.Msg {
		items, err := m.port.Inventory(m.ctx, m.userID)
		return inventoryMsg{items: items, err: err}
	}
}

func (m Model) loadLeaderboard() tea.Cmd {
	return func() tea.Msg {
		ranks, err := m.port.Leaderboard(m.ctx)
		return leaderboardMsg{ranks: ranks, err: err}
	}
}

func (m Model) combine(first, second client.Item) tea.Cmd {
	return func() tea.Msg {
		res, err := m.port.Combine(m.ctx, m.userID, first.ID, second.ID)
		return combineMsg{result: res, err: err}
	}
}

// Update handles key, window and API events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, lh := listBoxStyle.GetFrameSize()
		_, ih := inputBoxStyle.GetFrameSize()
		reserved := 2 + 1 + ih + 1 // header + picks, status, spacer
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, msg.Height-reserved-lh)
		m.refresh()
		return m, nil
	case inventoryMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			return m, nil
		}
		m.items = msg.items
		m.applyFilter()
		if m.status == "Loading inventory..." {
			m.status = fmt.Sprintf("%d elements", len(m.items))
		}
		m.refresh()
		return m, nil
	case combineMsg:
		m.busy = false
		m.picked = nil
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.refresh()
			return m, nil
		}
		m.status = msg.result.Message
		if msg.result.ElementName != "" {
			m.status += ": " + msg.result.ElementName
		}
		m.refresh()
		return m, m.loadInventory()
	case leaderboardMsg:
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
		} else {
			m.board = msg.ranks
		}
		m.refresh()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "tab":
			m.showBoard = !m.showBoard
			m.refresh()
			if m.showBoard {
				return m, m.loadLeaderboard()
			}
			return m, nil
		case "esc":
			m.picked = nil
			m.refresh()
			return m, nil
		case "down":
			if len(m.visible) > 0 {
				m.cursor = (m.cursor + 1) % len(m.visible)
				m.refresh()
			}
			return m, nil
		case "up":
			if len(m.visible) > 0 {
				m.cursor = (m.cursor - 1 + len(m.visible)) % len(m.visible)
				m.refresh()
			}
			return m, nil
		case "enter":
			return m.pick()
		}
	}
	var cmd tea.Cmd
	before := m.input.Value()
	m.input, cmd = m.input.Update(msg)
	if m.input.Value() != before {
		m.applyFilter()
		m.refresh()
	}
	return m, cmd
}

func (m Model) pick() (tea.Model, tea.Cmd) {
	if m.busy || m.showBoard || len(m.visible) == 0 {
		return m, nil
	}
	m.picked = append(m.picked, m.visible[m.cursor])
	if len(m.picked) < 2 {
		m.status = "Picked " + m.picked[0].Name + ", pick one more"
		m.refresh()
		return m, nil
	}
	m.busy = true
	m.status = fmt.Sprintf("Combining %s + %s...", m.picked[0].Name, m.picked[1].Name)
	m.input.SetValue("")
	m.applyFilter()
	m.refresh()
	return m, m.combine(m.picked[0], m.picked[1])
}

func (m *Model) applyFilter() {
	q := strings.ToLower(strings.TrimSpace(m.input.Value()))
	m.visible = nil
	for _, it := range m.items {
		if q == "" || strings.Contains(strings.ToLower(it.Name), q) {
			m.visible = append(m.visible, it)
		}
	}
	if m.cursor >= len(m.visible) {
		m.cursor = 0
	}
}

func (m *Model) refresh() {
	if m.showBoard {
		m.viewport.SetContent(renderLeaderboard(m.board))
		return
	}
	m.viewport.SetContent(m.renderInventory())
}

// View renders the layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("NeuralCraft")
	picks := make([]string, 0, len(m.picked))
	for _, p := range m.picked {
		picks = append(picks, p.Name)
	}
	picked := dimStyle.Render("picked: " + strings.Join(picks, " + "))
	input := inputBoxStyle.Render(m.input.View())
	status := statusStyle.Render(m.status)
	list := listBoxStyle.Render(m.viewport.View())
	return header + "\n" + picked + "\n" + list + "\n" + input + "\n" + status
}

func (m Model) renderInventory() string {
	if len(m.visible) == 0 {
		if len(m.items) == 0 {
			return "Inventory is empty."
		}
		return "No element matches the filter."
	}
	q := strings.TrimSpace(m.input.Value())
	var b strings.Builder
	for i, it := range m.visible {
		marker := "  "
		if i == m.cursor {
			marker = "> "
		}
		b.WriteString(marker + highlightMatch(it.Name, q))
		if it.Image == nil {
			b.WriteString(dimStyle.Render("  (no icon)"))
		}
		if i < len(m.visible)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func renderLeaderboard(ranks []client.Rank) string {
	if len(ranks) == 0 {
		return "No discoveries yet."
	}
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Top discoverers") + "\n")
	for i, r := range ranks {
		fmt.Fprintf(&b, "%2d. %-24s %d\n", i+1, r.Username, r.Score)
	}
	return strings.TrimRight(b.String(), "\n")
}

var (
	listBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// highlightMatch emphasizes the first case-insensitive occurrence of query.
func highlightMatch(name, query string) string {
	if query == "" {
		return name
	}
	i := strings.Index(strings.ToLower(name), strings.ToLower(query))
	if i < 0 || len(strings.ToLower(name)) != len(name) {
		return name
	}
	j := i + len(query)
	return name[:i] + highlightStyle.Render(name[i:j]) + name[j:]
}
