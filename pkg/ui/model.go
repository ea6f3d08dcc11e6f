// Package ui is the terminal chat window.
package ui

import (
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-go-golems/eshop-chat/pkg/chat"
	"github.com/go-go-golems/eshop-chat/pkg/stream"
	"github.com/pkg/errors"
)

const (
	title       = "E-shop assistant"
	placeholder = "Ask about products…"
	help        = "enter send • ctrl+r retry • ctrl+y copy reply • pgup/pgdn scroll • ctrl+c quit"
)

// Controller is the part of stream.Controller the window drives.
type Controller interface {
	SetInput(text string) error
	SubmitInput() error
	Retry() (bool, error)
	Snapshot() stream.State
}

var _ Controller = (*stream.Controller)(nil)

type statusMsg string

type errMsg struct {
	err error
}

type Model struct {
	ctrl Controller
	copy func(string) error

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	state  stream.State
	status string
	err    error
	width  int
}

type Option func(*Model)

// WithClipboard replaces the system clipboard writer.
func WithClipboard(f func(string) error) Option {
	return func(m *Model) {
		m.copy = f
	}
}

func NewModel(ctrl Controller, opts ...Option) Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.Prompt = "› "
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	m := Model{
		ctrl:     ctrl,
		copy:     clipboard.WriteAll,
		input:    in,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		state:    ctrl.Snapshot(),
	}
	for _, o := range opts {
		o(&m)
	}
	m.refresh()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := m.input.Value()
			if chat.Normalize(text) == "" {
				return m, nil
			}
			m.input.Reset()
			m.err = nil
			return m, submit(m.ctrl, text)
		case tea.KeyCtrlR:
			m.err = nil
			return m, retry(m.ctrl)
		case tea.KeyCtrlY:
			return m, m.copyLastReply()
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case UpdateMsg:
		m.state = msg.State
		m.refresh()
		switch msg.Kind {
		case stream.UpdateSubmitted, stream.UpdateRetried, stream.UpdateChunk:
			m.viewport.GotoBottom()
		}
		if msg.Kind == stream.UpdateSubmitted || msg.Kind == stream.UpdateRetried {
			cmds = append(cmds, m.spinner.Tick)
		}
		return m, tea.Batch(cmds...)

	case statusMsg:
		m.status = string(msg)
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil

	case spinner.TickMsg:
		if !m.state.Loading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.state.Error != "" {
		b.WriteString(errorStyle.Render(m.state.Error))
		b.WriteString(" ")
		b.WriteString(helpStyle.Render("(ctrl+r to retry)"))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.input.View())
	b.WriteString("\n")
	footer := help
	if m.status != "" {
		footer = m.status
	}
	b.WriteString(helpStyle.Render(footer))
	return b.String()
}

// State returns the last state the window rendered.
func (m Model) State() stream.State {
	return m.state
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.input.Width = width - 4
	// header, banner, input, help
	h := height - 4
	if h < 3 {
		h = 3
	}
	m.viewport.Width = width
	m.viewport.Height = h
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderMessages())
}

func (m Model) renderMessages() string {
	if len(m.state.Messages) == 0 {
		return statusStyle.Render("Ask me anything about our products.")
	}
	var b strings.Builder
	last := len(m.state.Messages) - 1
	for i, msg := range m.state.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		switch msg.Role {
		case chat.RoleUser:
			b.WriteString(userStyle.Render("You"))
		default:
			b.WriteString(assistantStyle.Render("Assistant"))
		}
		b.WriteString("\n")
		content := msg.Content
		if i == last && msg.IsAssistant() && m.state.Loading && content == "" {
			content = m.spinner.View() + " " + statusStyle.Render("thinking…")
		}
		if m.width > 0 {
			content = lipgloss.NewStyle().Width(m.width).Render(content)
		}
		b.WriteString(content)
	}
	return b.String()
}

func (m Model) copyLastReply() tea.Cmd {
	reply, ok := m.state.LastAssistant()
	if !ok || reply.Content == "" {
		return func() tea.Msg { return statusMsg("nothing to copy") }
	}
	write := m.copy
	return func() tea.Msg {
		if err := write(reply.Content); err != nil {
			return errMsg{err: errors.Wrap(err, "copying to clipboard")}
		}
		return statusMsg("reply copied to clipboard")
	}
}

// submit hands the typed text to the controller's input buffer and sends
// it. Both calls run in one command so no other buffer write can interleave.
func submit(ctrl Controller, text string) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.SetInput(text); err != nil {
			return errMsg{err: err}
		}
		if err := ctrl.SubmitInput(); err != nil {
			return errMsg{err: err}
		}
		return nil
	}
}

func retry(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		started, err := ctrl.Retry()
		if err != nil {
			return errMsg{err: err}
		}
		if !started {
			return statusMsg("nothing to retry")
		}
		return nil
	}
}
