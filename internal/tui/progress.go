// Package tui provides terminal UI components.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const progressBarWidth = 40

var labelStyle = lipgloss.NewStyle().Bold(true)

// program is the subset of tea.Program the progress wrapper needs.
// Stubbed in tests.
type program interface {
	Run() (tea.Model, error)
	Send(msg tea.Msg)
	Quit()
}

var newProgram = func(m tea.Model, opts ...tea.ProgramOption) program {
	return tea.NewProgram(m, opts...)
}

type progressMsg struct {
	done  int
	total int
}

type finishMsg struct{}

type scanModel struct {
	label string
	bar   progress.Model
	done  int
	total int
}

func newScanModel(label string) scanModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = progressBarWidth
	return scanModel{label: label, bar: bar}
}

func (m scanModel) Init() tea.Cmd {
	return nil
}

func (m scanModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		return m, nil

	case progressMsg:
		m.done = msg.done
		m.total = msg.total
		percent := 0.0
		if m.total > 0 {
			percent = float64(m.done) / float64(m.total)
		}
		return m, m.bar.SetPercent(percent)

	case progress.FrameMsg:
		bar, cmd := m.bar.Update(msg)
		m.bar = bar.(progress.Model)
		return m, cmd

	case finishMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m scanModel) View() string {
	return fmt.Sprintf("%s %s %d/%d\n",
		labelStyle.Render(m.label), m.bar.View(), m.done, m.total)
}

// ScanProgress renders a progress bar for a long-running scan. Update is safe
// to call from multiple goroutines.
type ScanProgress struct {
	program  program
	finished chan struct{}
}

// NewScanProgress creates and starts a progress display with the given label.
func NewScanProgress(label string) *ScanProgress {
	p := &ScanProgress{
		program:  newProgram(newScanModel(label)),
		finished: make(chan struct{}),
	}
	go func() {
		defer close(p.finished)
		if _, err := p.program.Run(); err != nil {
			// A broken progress display must not fail the scan.
			return
		}
	}()
	return p
}

// Update advances the bar to done of total.
func (p *ScanProgress) Update(done, total int) {
	p.program.Send(progressMsg{done: done, total: total})
}

// Stop finishes the display and waits for it to shut down.
func (p *ScanProgress) Stop() {
	p.program.Send(finishMsg{})
	p.program.Quit()
	<-p.finished
}
