package cli

import (
	"fmt"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/domain"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/bytesize"
)

// ProgressDisplay renders pipeline progress as a spinner line that updates in
// place. Events arrive on a channel so the reporting goroutine never blocks
// on terminal writes.
type ProgressDisplay struct {
	mu         sync.Mutex
	program    *tea.Program
	updateChan chan domain.Progress
	done       chan struct{}
	finished   chan struct{}
}

type publishModel struct {
	spinner    spinner.Model
	stage      domain.Stage
	percentage float64
	bytes      int64
	total      int64
	message    string
	done       bool
}

type progressMsg struct {
	progress domain.Progress
}

type doneMsg struct{}

// NewProgressDisplay creates an idle display; call Start before reporting.
func NewProgressDisplay() *ProgressDisplay {
	return &ProgressDisplay{
		updateChan: make(chan domain.Progress, 16),
		done:       make(chan struct{}),
		finished:   make(chan struct{}),
	}
}

// Start launches the terminal UI.
func (pd *ProgressDisplay) Start() {
	pd.mu.Lock()
	defer pd.mu.Unlock()

	model := &publishModel{
		spinner: spinner.New(
			spinner.WithSpinner(spinner.MiniDot),
			spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
		),
	}
	pd.program = tea.NewProgram(model)

	go func() {
		defer close(pd.finished)
		if _, err := pd.program.Run(); err != nil {
			fmt.Printf("Error running progress display: %v\n", err)
		}
	}()

	go pd.handleUpdates()
}

func (pd *ProgressDisplay) handleUpdates() {
	for {
		select {
		case progress := <-pd.updateChan:
			pd.program.Send(progressMsg{progress: progress})
		case <-pd.done:
			pd.program.Send(doneMsg{})
			return
		}
	}
}

// Report is a domain.ProgressFunc. Events are dropped rather than blocking
// when the terminal cannot keep up.
func (pd *ProgressDisplay) Report(p domain.Progress) {
	select {
	case pd.updateChan <- p:
	default:
	}
}

// Stop shuts the display down and waits for the terminal line to be released.
func (pd *ProgressDisplay) Stop() {
	close(pd.done)
	<-pd.finished
}

func (m *publishModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *publishModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case progressMsg:
		m.stage = msg.progress.Stage
		m.percentage = msg.progress.Percentage
		m.bytes = msg.progress.BytesUploaded
		m.total = msg.progress.TotalBytes
		m.message = msg.progress.Message
		return m, nil
	case doneMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *publishModel) View() string {
	if m.done {
		return ""
	}
	if m.stage == domain.StageUploading && m.total > 0 {
		return fmt.Sprintf("\r%s %s... %s/%s (%.0f%%)",
			m.spinner.View(), m.stage,
			bytesize.Format(m.bytes), bytesize.Format(m.total),
			m.percentage)
	}
	label := m.message
	if label == "" {
		label = string(m.stage)
	}
	return fmt.Sprintf("\r%s %s (%.0f%%)", m.spinner.View(), label, m.percentage)
}
