package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/coredevice/host"
	"github.com/wippyai/coredevice/payload"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	sourceStyle = lipgloss.NewStyle().
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

func newConsoleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "console [dir]",
		Short: "Pick and run programs interactively",
		Long: `Console lists the bundled demos and any .wasm files in dir, runs the
selected program on one long-lived device and shows each outcome.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return stderrors.New("console needs a terminal; use run instead")
			}
			progs := demoPrograms()
			if len(args) == 1 {
				files, err := filePrograms(args[0])
				if err != nil {
					return err
				}
				progs = append(progs, files...)
			}

			ctx := cmd.Context()
			d, closeDevice, err := a.newDevice(ctx)
			if err != nil {
				return err
			}
			defer closeDevice()

			m := newConsoleModel(progs, func(image []byte) (*host.Outcome, error) {
				return d.Run(ctx, image)
			})
			m.cache = d.Session().Cache
			m.attrs = d.Session().Services().Attributes()
			_, err = tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
}

// program is one runnable entry in the console list.
type program struct {
	load   func() ([]byte, error)
	name   string
	source string
}

func demoPrograms() []program {
	var progs []program
	for _, name := range payload.DemoNames() {
		progs = append(progs, program{
			name:   name,
			source: "demo",
			load: func() ([]byte, error) {
				image, _ := payload.Demo(name)
				return image, nil
			},
		})
	}
	return progs
}

func filePrograms(dir string) ([]program, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.wasm"))
	if err != nil {
		return nil, err
	}
	slices.Sort(paths)
	progs := make([]program, 0, len(paths))
	for _, path := range paths {
		progs = append(progs, fileProgram(path))
	}
	return progs, nil
}

func fileProgram(path string) program {
	return program{
		name:   filepath.Base(path),
		source: path,
		load:   func() ([]byte, error) { return os.ReadFile(path) },
	}
}

type consoleState int

const (
	stateSelect consoleState = iota
	stateOpen
	stateRunning
	stateResult
)

type consoleModel struct {
	err      error
	run      func(image []byte) (*host.Outcome, error)
	cache    func() *host.Cache
	attrs    *host.Attributes
	outcome  *host.Outcome
	programs []program
	input    textinput.Model
	selected int
	runs     int
	state    consoleState
}

type outcomeMsg struct {
	err     error
	outcome *host.Outcome
}

func newConsoleModel(progs []program, run func([]byte) (*host.Outcome, error)) *consoleModel {
	ti := textinput.New()
	ti.Placeholder = "path/to/program.wasm"
	ti.Prompt = "open: "
	ti.Width = 50
	return &consoleModel{programs: progs, run: run, input: ti, state: stateSelect}
}

func (m *consoleModel) Init() tea.Cmd { return nil }

func (m *consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.state == stateOpen {
			return m.updateOpen(msg)
		}
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.state == stateSelect && m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.state == stateSelect && m.selected < len(m.programs)-1 {
				m.selected++
			}

		case "o":
			if m.state == stateSelect {
				m.state = stateOpen
				m.input.SetValue("")
				return m, m.input.Focus()
			}

		case "enter":
			switch m.state {
			case stateSelect:
				if len(m.programs) == 0 {
					return m, nil
				}
				m.state = stateRunning
				return m, m.runSelected(m.programs[m.selected])
			case stateResult:
				m.reset()
			}

		case "esc":
			if m.state == stateResult {
				m.reset()
			}
		}

	case outcomeMsg:
		m.outcome = msg.outcome
		m.err = msg.err
		m.state = stateResult
		m.runs++
	}
	return m, nil
}

func (m *consoleModel) updateOpen(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.input.Blur()
		m.state = stateSelect
		return m, nil
	case "enter":
		path := strings.TrimSpace(m.input.Value())
		m.input.Blur()
		m.state = stateSelect
		if path == "" {
			return m, nil
		}
		m.programs = append(m.programs, fileProgram(path))
		m.selected = len(m.programs) - 1
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *consoleModel) reset() {
	m.state = stateSelect
	m.outcome = nil
	m.err = nil
}

func (m *consoleModel) runSelected(p program) tea.Cmd {
	return func() tea.Msg {
		image, err := p.load()
		if err != nil {
			return outcomeMsg{err: err}
		}
		out, err := m.run(image)
		return outcomeMsg{outcome: out, err: err}
	}
}

func (m *consoleModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Core Device"))
	fmt.Fprintf(&b, " %d runs\n\n", m.runs)

	switch m.state {
	case stateSelect, stateOpen:
		b.WriteString("Select a program to run:\n\n")
		for i, p := range m.programs {
			line := nameStyle.Render(p.name) + " " + sourceStyle.Render(p.source)
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + p.name + " " + p.source))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		if m.state == stateOpen {
			b.WriteString(m.input.View())
			b.WriteString("\n\n")
			b.WriteString(helpStyle.Render("enter add • esc back"))
		} else {
			b.WriteString(helpStyle.Render("↑/↓ select • enter run • o open file • q quit"))
		}

	case stateRunning:
		fmt.Fprintf(&b, "Running %s...\n", nameStyle.Render(m.programs[m.selected].name))

	case stateResult:
		fmt.Fprintf(&b, "Outcome of %s:\n\n", nameStyle.Render(m.programs[m.selected].name))
		m.viewOutcome(&b)
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}

func (m *consoleModel) viewOutcome(b *strings.Builder) {
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
		return
	}
	out := m.outcome
	style := resultStyle
	if out.Kind != host.Finished {
		style = errorStyle
	}
	b.WriteString(style.Render(out.String()))
	fmt.Fprintf(b, "\n%s now=%d\n", out.Duration, out.Now)
	for i, addr := range out.Backtrace {
		fmt.Fprintf(b, "  #%d 0x%08x\n", i, addr)
	}
	if len(out.Log) > 0 {
		b.WriteString("\nlog:\n")
		for _, line := range out.Log {
			b.WriteString("  " + line + "\n")
		}
	}
	if m.attrs != nil {
		snap := m.attrs.Snapshot()
		if len(snap) > 0 {
			b.WriteString("\nattributes:\n")
			for _, obj := range m.attrs.Objects() {
				names := make([]string, 0, len(snap[obj]))
				for name := range snap[obj] {
					names = append(names, name)
				}
				slices.Sort(names)
				for _, name := range names {
					fmt.Fprintf(b, "  %v.%s = %v\n", obj, name, snap[obj][name])
				}
			}
		}
	}
	if m.cache != nil {
		if keys := m.cache().Keys(); len(keys) > 0 {
			fmt.Fprintf(b, "\ncache: %s\n", sourceStyle.Render(strings.Join(keys, ", ")))
		}
	}
}
