package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MegaGrindStone/ask-stream/internal/models"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Asker is the ask lifecycle the terminal front end drives.
type Asker interface {
	Submit(ctx context.Context, question string) models.Result
	Cancel()
	ToggleInput()
	State() models.RequestState
}

// StateMsg carries a lifecycle snapshot into the program.
type StateMsg models.RequestState

// ResultMsg is sent when a submission has resolved.
type ResultMsg models.Result

// Model is the Bubble Tea model rendering the ask lifecycle.
//
// Update never calls into the Asker directly: every call runs as a tea.Cmd, because the Asker
// delivers snapshots back into the program while holding its own lock.
type Model struct {
	asker Asker

	state  models.RequestState
	input  []rune
	result *models.Result

	// Set when a question was given up front; the program quits after answering it.
	question string

	width    int
	quitting bool
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	answerStyle   = lipgloss.NewStyle().PaddingLeft(2)
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusStyle   = lipgloss.NewStyle().Faint(true)
)

// New creates a model driving asker. When question is not empty it is submitted on start and
// the program quits once it has been answered.
func New(asker Asker, question string) Model {
	return Model{
		asker:    asker,
		state:    asker.State(),
		question: strings.TrimSpace(question),
	}
}

// Init submits the up-front question, if any.
func (m Model) Init() tea.Cmd {
	if m.question == "" {
		return nil
	}
	return submitCmd(m.asker, m.question)
}

// Update handles key presses, snapshots and results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case StateMsg:
		m.state = models.RequestState(msg)
		return m, nil

	case ResultMsg:
		res := models.Result(msg)
		m.result = &res
		if m.question != "" {
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Sequence(cancelCmd(m.asker), tea.Quit)

	case tea.KeyEsc:
		return m, cancelCmd(m.asker)

	case tea.KeyCtrlT:
		return m, toggleCmd(m.asker)

	case tea.KeyEnter:
		if !m.state.InputVisible {
			return m, nil
		}
		question := string(m.input)
		m.input = nil
		m.result = nil
		return m, submitCmd(m.asker, question)

	case tea.KeyBackspace:
		if m.state.InputVisible && len(m.input) > 0 {
			m.input = m.input[:len(m.input)-1]
		}
		return m, nil

	case tea.KeySpace:
		if m.state.InputVisible {
			m.input = append(m.input, ' ')
		}
		return m, nil

	case tea.KeyRunes:
		if m.state.InputVisible {
			m.input = append(m.input, msg.Runes...)
		}
		return m, nil
	}

	return m, nil
}

// View renders the current snapshot.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("ask"))
	b.WriteString("\n\n")

	if m.state.Question != "" {
		b.WriteString(questionStyle.Render("> " + m.state.Question))
		b.WriteString("\n\n")
	}

	if m.state.ResponseText != "" {
		style := answerStyle
		if m.width > 4 {
			style = style.Width(m.width - 2)
		}
		b.WriteString(style.Render(m.state.ResponseText))
		b.WriteString("\n\n")
	}

	if m.state.ErrorMessage != "" {
		b.WriteString(errorStyle.Render(m.state.ErrorMessage))
		b.WriteString("\n\n")
	} else if m.result != nil && !m.result.Success && m.result.Error != "" {
		b.WriteString(errorStyle.Render(m.result.Error))
		b.WriteString("\n\n")
	}

	if m.state.InputVisible && !m.quitting && m.question == "" {
		b.WriteString(promptStyle.Render("? ") + string(m.input) + "█")
		b.WriteString("\n\n")
	}

	b.WriteString(statusStyle.Render(m.status()))
	b.WriteString("\n")

	return b.String()
}

func (m Model) status() string {
	var phase string
	switch m.state.Phase {
	case models.PhaseLoading:
		phase = "thinking..."
	case models.PhaseStreaming:
		phase = fmt.Sprintf("streaming (%d chars)", len([]rune(m.state.ResponseText)))
	case models.PhaseCancelled:
		phase = "cancelled"
	case models.PhaseFailed:
		phase = "failed"
	case models.PhaseCompleted:
		phase = "done"
	default:
		phase = "ready"
	}
	return phase + " • enter ask • esc cancel • ctrl+t toggle input • ctrl+c quit"
}

func submitCmd(asker Asker, question string) tea.Cmd {
	return func() tea.Msg {
		return ResultMsg(asker.Submit(context.Background(), question))
	}
}

func cancelCmd(asker Asker) tea.Cmd {
	return func() tea.Msg {
		asker.Cancel()
		return nil
	}
}

func toggleCmd(asker Asker) tea.Cmd {
	return func() tea.Msg {
		asker.ToggleInput()
		return nil
	}
}

// ProgramSink delivers snapshots into a running Bubble Tea program. OnUpdate never waits for the
// program: it keeps only the latest snapshot and a forwarding goroutine hands it to the program
// when the event loop is ready. Intermediate snapshots may be skipped; the latest never is.
type ProgramSink struct {
	program *tea.Program

	mu      sync.Mutex
	latest  models.RequestState
	pending bool

	wake    chan struct{}
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
}

// NewProgramSink creates a sink sending to p and starts forwarding.
func NewProgramSink(p *tea.Program) *ProgramSink {
	s := &ProgramSink{
		program: p,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.forward()
	return s
}

// OnUpdate records state as the snapshot to deliver next.
func (s *ProgramSink) OnUpdate(state models.RequestState) {
	s.mu.Lock()
	s.latest = state
	s.pending = true
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *ProgramSink) forward() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		s.mu.Lock()
		state, ok := s.latest, s.pending
		s.pending = false
		s.mu.Unlock()

		if ok {
			s.program.Send(StateMsg(state))
		}
	}
}

// Alive reports whether the program is still accepting messages.
func (s *ProgramSink) Alive() bool {
	return !s.stopped.Load()
}

// Stop marks the program as finished and ends forwarding; later snapshots are dropped.
func (s *ProgramSink) Stop() {
	s.stopped.Store(true)
	s.once.Do(func() { close(s.done) })
}
