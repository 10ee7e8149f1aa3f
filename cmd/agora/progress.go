package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/agora/internal/models"
)

var errInterrupted = errors.New("interrupted")

var (
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	statusStyles = map[models.TaskStatus]lipgloss.Style{
		models.TaskStatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true),
		models.TaskStatusFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true),
	}
)

// waitModel shows a spinner until the wrapped call returns.
type waitModel struct {
	spinner spinner.Model
	label   string
	start   time.Time
	done    bool
	err     error
}

type waitDoneMsg struct{ err error }

func newWaitModel(label string) waitModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return waitModel{spinner: s, label: label, start: time.Now()}
}

func (m waitModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m waitModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case waitDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = true
			m.err = errInterrupted
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m waitModel) View() string {
	if m.done {
		return ""
	}
	elapsed := time.Since(m.start).Round(time.Second)
	return fmt.Sprintf("%s %s %s\n", m.spinner.View(), m.label, mutedStyle.Render(elapsed.String()))
}

// withSpinner runs fn, animating a spinner when stdout is a terminal.
func withSpinner(label string, fn func() error) error {
	if !isTerminal(os.Stdout) {
		return fn()
	}

	p := tea.NewProgram(newWaitModel(label))
	go func() {
		p.Send(waitDoneMsg{err: fn()})
	}()
	final, err := p.Run()
	if err != nil {
		return err
	}
	return final.(waitModel).err
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func renderStatus(s models.TaskStatus) string {
	if !isTerminal(os.Stdout) {
		return string(s)
	}
	if style, ok := statusStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}
