package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wippyai/isolator"
	"github.com/wippyai/isolator/errors"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	methodStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type entry struct {
	t typeInfo
	m methodInfo
}

type explorerModel struct {
	err      error
	bridge   *isolator.Bridge
	assembly string
	result   string
	entries  []entry
	inputs   []textinput.Model
	selected int
	focusIdx int
	handle   bool
	loaded   bool
	state    modelState
}

type modelState int

const (
	stateSelectMethod modelState = iota
	stateInputArgs
	stateShowResult
)

func newExplorerModel(b *isolator.Bridge, assembly string) *explorerModel {
	return &explorerModel{
		bridge:   b,
		assembly: assembly,
		state:    stateSelectMethod,
	}
}

type loadedMsg struct {
	err     error
	entries []entry
}

type callResultMsg struct {
	err    error
	result string
}

func (m *explorerModel) Init() tea.Cmd {
	return m.loadAssembly
}

func (m *explorerModel) loadAssembly() tea.Msg {
	types, err := describe(m.bridge, m.assembly)
	if err != nil {
		return loadedMsg{err: err}
	}
	var entries []entry
	for _, t := range types {
		for _, mi := range t.methods {
			if mi.generic || mi.name == ".ctor" {
				continue
			}
			entries = append(entries, entry{t: t, m: mi})
		}
	}
	return loadedMsg{entries: entries}
}

func (m *explorerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.state != stateInputArgs || msg.String() == "ctrl+c" {
				return m, tea.Quit
			}

		case "up", "k":
			if m.state == stateSelectMethod && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectMethod && m.selected < len(m.entries)-1 {
				m.selected++
			}

		case "h":
			if m.state == stateSelectMethod {
				m.handle = !m.handle
			}

		case "enter":
			switch m.state {
			case stateSelectMethod:
				if len(m.entries) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callMethod
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callMethod

			case stateShowResult:
				m.state = stateSelectMethod
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateInputArgs:
				m.state = stateSelectMethod
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectMethod
				m.result = ""
				m.err = nil
			}
		}

	case loadedMsg:
		m.loaded = true
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.entries = msg.entries

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *explorerModel) prepareInputs() {
	e := m.entries[m.selected]
	m.inputs = make([]textinput.Model, len(e.m.params))
	for i, p := range e.m.params {
		ti := textinput.New()
		ti.Placeholder = p
		ti.Prompt = fmt.Sprintf("arg%d: ", i)
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *explorerModel) callMethod() tea.Msg {
	e := m.entries[m.selected]
	values := make([]string, len(m.inputs))
	for i, input := range m.inputs {
		values[i] = input.Value()
	}
	args, err := convertArgs(values, e.m)
	if err != nil {
		return callResultMsg{err: err}
	}

	result, err := call(m.bridge, m.assembly, e.t, e.m, args, m.handle)
	if err != nil {
		return callResultMsg{err: err}
	}
	if n, err := m.bridge.RunPending(); err != nil {
		return callResultMsg{result: result, err: err}
	} else if n > 0 {
		result += fmt.Sprintf("\n(%d callback run(s))", n)
	}
	return callResultMsg{result: result}
}

func (m *explorerModel) View() string {
	if m.err != nil && m.state != stateShowResult {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	if !m.loaded {
		return "Loading assembly..."
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("Isolator"))
	b.WriteString(" ")
	b.WriteString(m.assembly)
	if m.handle {
		b.WriteString(" ")
		b.WriteString(typeStyle.Render("[handle]"))
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectMethod:
		if len(m.entries) == 0 {
			b.WriteString("The assembly has no callable methods.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a method to call:\n\n")
		for i, e := range m.entries {
			line := formatEntry(e)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • h toggle handle • q quit"))

	case stateInputArgs:
		e := m.entries[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", methodStyle.Render(e.t.fullName()+"."+e.m.name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(e.m.params[i]))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		e := m.entries[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", methodStyle.Render(e.t.fullName()+"."+e.m.name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func formatEntry(e entry) string {
	var params []string
	for _, p := range e.m.params {
		params = append(params, typeStyle.Render(p))
	}
	prefix := ""
	if e.m.static {
		prefix = "static "
	}
	return prefix + typeStyle.Render(e.t.fullName()) + "." + methodStyle.Render(e.m.name) + "(" + strings.Join(params, ", ") + ")"
}

func runInteractive(b *isolator.Bridge, assembly string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.InvalidInput(errors.PhaseConfig, "interactive mode needs a terminal")
	}
	p := tea.NewProgram(newExplorerModel(b, assembly), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
