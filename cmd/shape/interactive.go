package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-shaper/ir"
	"github.com/wippyai/wasm-shaper/passes"
	"github.com/wippyai/wasm-shaper/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type browserState int

const (
	stateSelectFunc browserState = iota
	stateViewIR
)

type browserModel struct {
	err      error
	filename string
	module   *ir.Module
	funcs    []ir.Func
	selected int
	state    browserState
	view     viewport.Model
	width    int
	height   int
}

type moduleLoadedMsg struct {
	err    error
	module *ir.Module
}

func newBrowserModel(filename string) *browserModel {
	return &browserModel{
		filename: filename,
		state:    stateSelectFunc,
		view:     viewport.New(80, 24),
	}
}

func (m *browserModel) Init() tea.Cmd {
	return m.loadModule
}

func (m *browserModel) loadModule() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return moduleLoadedMsg{err: err}
	}
	mod, err := wasm.Decode(data, wasm.FrontendOptions{DebugNames: true})
	if err != nil {
		return moduleLoadedMsg{err: err}
	}
	if err := mod.ExpandAllFuncs(); err != nil {
		return moduleLoadedMsg{err: err}
	}
	return moduleLoadedMsg{module: mod}
}

func (m *browserModel) refreshFuncs() {
	m.funcs = m.funcs[:0]
	for fi := range m.module.Funcs.Len() {
		m.funcs = append(m.funcs, ir.Func(fi))
	}
	if m.selected >= len(m.funcs) {
		m.selected = 0
	}
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.view.Width = msg.Width
		m.view.Height = msg.Height - 4

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelectFunc && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelectFunc && m.selected < len(m.funcs)-1 {
				m.selected++
			}

		case "enter":
			if m.state == stateSelectFunc && m.module != nil && len(m.funcs) > 0 {
				m.showIR()
				m.state = stateViewIR
			}

		case "o":
			// Optimize the selected function and redisplay.
			if m.module != nil && len(m.funcs) > 0 {
				decl := m.module.Funcs.At(m.funcs[m.selected])
				if decl.Kind == ir.FuncDeclBody {
					passes.Optimize(decl.Body, passes.DefaultOptOptions())
					if m.state == stateViewIR {
						m.showIR()
					}
				}
			}

		case "s":
			// Convert the selected function to max-SSA and redisplay.
			if m.module != nil && len(m.funcs) > 0 {
				decl := m.module.Funcs.At(m.funcs[m.selected])
				if decl.Kind == ir.FuncDeclBody {
					passes.MaxSSA(decl.Body, nil)
					if m.state == stateViewIR {
						m.showIR()
					}
				}
			}

		case "esc":
			if m.state == stateViewIR {
				m.state = stateSelectFunc
			}
		}

	case moduleLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.module = msg.module
		m.refreshFuncs()
	}

	if m.state == stateViewIR {
		var cmd tea.Cmd
		m.view, cmd = m.view.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *browserModel) showIR() {
	fn := m.funcs[m.selected]
	decl := m.module.Funcs.At(fn)
	switch decl.Kind {
	case ir.FuncDeclBody:
		m.view.SetContent(decl.Body.Display("", m.module))
	case ir.FuncDeclImport:
		m.view.SetContent(fmt.Sprintf("%s: import %q\n", fn, decl.Name))
	default:
		m.view.SetContent(fmt.Sprintf("%s: no IR body\n", fn))
	}
	m.view.GotoTop()
}

func (m *browserModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}
	if m.module == nil {
		return "Loading module..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("IR Browser"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectFunc:
		for i, fn := range m.funcs {
			line := m.formatFunc(fn)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter view IR • o optimize • s maxssa • q quit"))

	case stateViewIR:
		b.WriteString(m.view.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ scroll • o optimize • s maxssa • esc back • q quit"))
	}
	return b.String()
}

func (m *browserModel) formatFunc(fn ir.Func) string {
	decl := m.module.Funcs.At(fn)
	name := decl.Name
	if name == "" {
		name = fn.String()
	}
	kind := ""
	switch decl.Kind {
	case ir.FuncDeclImport:
		kind = "import"
	case ir.FuncDeclBody:
		kind = fmt.Sprintf("%d blocks", decl.Body.Blocks.Len())
	case ir.FuncDeclLazy:
		kind = "lazy"
	case ir.FuncDeclCompiled:
		kind = "compiled"
	}
	sig := m.module.Signatures.At(decl.Signature())
	var params, rets []string
	for _, t := range sig.Params {
		params = append(params, t.String())
	}
	for _, t := range sig.Returns {
		rets = append(rets, t.String())
	}
	return funcStyle.Render(name) +
		"(" + typeStyle.Render(strings.Join(params, ", ")) + ")" +
		" -> " + typeStyle.Render(strings.Join(rets, ", ")) +
		"  " + helpStyle.Render(kind)
}

func runInteractive(filename string) error {
	p := tea.NewProgram(newBrowserModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
