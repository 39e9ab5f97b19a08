// Package watch implements the "mipsld watch" live GOT/symbol inspector, a
// bubbletea TUI that plays the same role for this linker that the teacher's
// internal/ui/colorize plays for its disassembly trace: giving a human a
// readable view of what's happening to a loaded image, styled with
// lipgloss instead of a syntax-colorized instruction stream.
package watch

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zboralski/mipsld/internal/dll"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	resolvedFg  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	pendingFg   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	eventFg     = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
)

// ResolveEvent is sent into the TUI each time a GOT slot is patched, either
// by a NOW-mode eager resolve at load time or by the lazy trampoline firing
// during execution (internal/dll.ResolveLazy).
type ResolveEvent struct {
	Slot uint32
	Name string
	Addr uint32
	Lazy bool
}

// Model is the bubbletea model for "mipsld watch". It holds one table row
// per GOT slot of a descriptor plus a running log of resolve events
// reported from outside (internal/mipsemu, or the loader itself).
type Model struct {
	desc   *dll.Descriptor
	table  table.Model
	events []ResolveEvent
	width  int
	height int
}

// NewModel builds a watch Model over d. Every row starts as a pending
// 0x00000000 placeholder; the GOT's current values are not read. Update
// fills in a row as each ResolveEvent message arrives.
func NewModel(d *dll.Descriptor) Model {
	columns := []table.Column{
		{Title: "Slot", Width: 6},
		{Title: "Value", Width: 12},
		{Title: "State", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(gotRows(d)),
		table.WithFocused(false),
	)
	t.SetStyles(table.Styles{
		Header: headerStyle,
		Cell:   lipgloss.NewStyle(),
	})

	return Model{desc: d, table: t}
}

func gotRows(d *dll.Descriptor) []table.Row {
	n := d.GotLength()
	rows := make([]table.Row, 0, n)
	for i := uint32(0); i < n; i++ {
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i),
			"0x00000000",
			"pending",
		})
	}
	return rows
}

// Init satisfies tea.Model.
func (m Model) Init() tea.Cmd { return nil }

// Update satisfies tea.Model. It handles window resizes, quit keys, and
// ResolveEvent messages pushed in from outside the TUI loop (typically by
// whatever is driving internal/mipsemu).
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetWidth(msg.Width)
		m.table.SetHeight(msg.Height - len(m.events) - 4)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case ResolveEvent:
		m.events = append(m.events, msg)
		m.applyResolve(msg)
		return m, nil
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *Model) applyResolve(ev ResolveEvent) {
	rows := m.table.Rows()
	if int(ev.Slot) >= len(rows) {
		return
	}
	state := "resolved"
	if ev.Lazy {
		state = "resolved (lazy)"
	}
	rows[ev.Slot] = table.Row{
		fmt.Sprintf("%d", ev.Slot),
		fmt.Sprintf("0x%08x", ev.Addr),
		state,
	}
	m.table.SetRows(rows)
}

// View satisfies tea.Model.
func (m Model) View() string {
	var b string
	b += headerStyle.Render(fmt.Sprintf("mipsld watch — session %s", m.desc.SessionID)) + "\n\n"
	b += m.table.View() + "\n\n"

	if len(m.events) == 0 {
		b += pendingFg.Render("no resolve events yet") + "\n"
	} else {
		for i := len(m.events) - 1; i >= 0 && i >= len(m.events)-8; i-- {
			ev := m.events[i]
			kind := "eager"
			if ev.Lazy {
				kind = "lazy"
			}
			b += eventFg.Render(fmt.Sprintf("[%s] slot %d -> %s @ 0x%08x", kind, ev.Slot, ev.Name, ev.Addr)) + "\n"
		}
	}

	b += "\n" + footerStyle.Render("q to quit")
	return b
}

// Runner abstracts tea.Program so tests can drive Model without a real
// terminal.
type Runner interface {
	Send(msg tea.Msg)
	Run() (tea.Model, error)
}

// Run starts the TUI for d on the current terminal, blocking until the user
// quits. events, if non-nil, is drained in a goroutine and forwarded into
// the program as ResolveEvent messages — the bridge internal/mipsemu or
// internal/dll wiring uses to report resolver activity live.
func Run(d *dll.Descriptor, events <-chan ResolveEvent) error {
	p := tea.NewProgram(NewModel(d))
	if events != nil {
		go func() {
			for ev := range events {
				p.Send(ev)
			}
		}()
	}
	_, err := p.Run()
	return err
}
