// Package tui provides the Bubble Tea interactive chat interface.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ember-chat/ember/internal/client"
	"github.com/ember-chat/ember/internal/domain"
	"github.com/ember-chat/ember/internal/timeline"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	toolStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	toolOutputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Background(lipgloss.Color("236")).
			Padding(0, 1)

	inputBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62")).
				Padding(0, 1)
)

// Messages pumped into the program from client callbacks.
type (
	timelineUpdateMsg timeline.Update
	statusChangeMsg   struct{ old, new client.State }
	clientErrorMsg    struct{ err error }
	serverEventMsg    domain.Event
)

// Model is the chat TUI. It renders the client's timeline and feeds user
// input back through the client's command methods.
type Model struct {
	client  *client.Client
	agentID string

	state     client.State
	streaming bool
	quitting  bool
	lastErr   error

	// A pending interaction redirects the next input line.
	pendingQuestion *domain.AskUserQuestionData
	pendingPlan     *domain.PlanApprovalData

	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	ready    bool
	width    int
	height   int
}

func NewModel(c *client.Client, agentID string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ti := textarea.New()
	ti.Placeholder = "Message the agent... (Enter to send)"
	ti.CharLimit = 4000
	ti.SetWidth(80)
	ti.SetHeight(3)
	ti.Focus()

	return Model{
		client:  c,
		agentID: agentID,
		state:   c.State(),
		spinner: s,
		input:   ti,
	}
}

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.SetWidth(msg.Width - 4)
		vpHeight := msg.Height - 8
		if vpHeight < 5 {
			vpHeight = 5
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.refreshTimeline()
		return m, nil

	case timelineUpdateMsg:
		m.streaming = msg.Kind == timeline.UNewEntry && msg.Entry.IsStreaming ||
			msg.Kind == timeline.UAppend
		m.refreshTimeline()
		return m, nil

	case statusChangeMsg:
		m.state = msg.new
		return m, nil

	case clientErrorMsg:
		m.lastErr = msg.err
		return m, nil

	case serverEventMsg:
		return m.handleServerEvent(domain.Event(msg)), nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) handleServerEvent(e domain.Event) Model {
	switch d := e.Data.(type) {
	case domain.AskUserQuestionData:
		m.pendingQuestion = &d
	case domain.PlanApprovalData:
		m.pendingPlan = &d
	case domain.DoneData:
		m.streaming = false
	case domain.ErrorData:
		m.streaming = false
	}
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		if m.streaming {
			_ = m.client.Interrupt()
			m.streaming = false
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case "esc":
		m.quitting = true
		return m, tea.Quit

	case "ctrl+n":
		m.client.NewConversation()
		m.pendingQuestion = nil
		m.pendingPlan = nil
		m.lastErr = nil
		m.refreshTimeline()
		return m, nil

	case "ctrl+r":
		go func() { _ = m.client.ForceReconnect(context.Background()) }()
		return m, nil

	case "enter":
		return m.submitInput()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	m.input.Reset()

	switch {
	case m.pendingQuestion != nil:
		q := m.pendingQuestion
		m.pendingQuestion = nil
		_ = m.client.SendAnswer(q.QuestionID, []string{text})

	case m.pendingPlan != nil:
		p := m.pendingPlan
		m.pendingPlan = nil
		approved := strings.EqualFold(text, "y") || strings.EqualFold(text, "yes")
		feedback := ""
		if !approved {
			feedback = text
		}
		_ = m.client.SendPlanApproval(p.PlanID, approved, feedback)

	default:
		m.streaming = true
		_ = m.client.SendMessage(text)
	}
	return m, nil
}

func (m *Model) refreshTimeline() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTimeline())
	m.viewport.GotoBottom()
}

func (m *Model) renderTimeline() string {
	var b strings.Builder
	for _, e := range m.client.Timeline().Snapshot() {
		b.WriteString(renderEntry(e))
	}
	return b.String()
}

func renderEntry(e timeline.Entry) string {
	switch e.Kind {
	case timeline.EntryUser:
		return userStyle.Render("You: ") + e.Content + "\n\n"
	case timeline.EntryAssistant:
		text := assistantStyle.Render(e.Content)
		if e.IsStreaming {
			text += assistantStyle.Render(" ▌")
		}
		return text + "\n\n"
	case timeline.EntryToolUse:
		return toolStyle.Render("▶ "+e.ToolName) + "\n"
	case timeline.EntryToolResult:
		mark := "✓"
		style := toolOutputStyle
		if e.IsError {
			mark = "✗"
			style = errorStyle
		}
		return style.Render("  "+mark+" "+firstLine(e.Content)) + "\n\n"
	case timeline.EntrySystem:
		if e.Level == timeline.LevelError {
			return errorStyle.Render("! "+e.Content) + "\n\n"
		}
		return toolOutputStyle.Render(e.Content) + "\n\n"
	default:
		return ""
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return fmt.Sprintf("\n  %s Connecting...", m.spinner.View())
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("ember") + "  " +
		toolOutputStyle.Render(m.agentID) + "\n")
	b.WriteString(m.viewport.View() + "\n")

	if m.pendingQuestion != nil && len(m.pendingQuestion.Questions) > 0 {
		q := m.pendingQuestion.Questions[0]
		prompt := q.Question
		if len(q.Options) > 0 {
			prompt += " [" + strings.Join(q.Options, "/") + "]"
		}
		b.WriteString(promptStyle.Render("? "+prompt) + "\n")
	}
	if m.pendingPlan != nil {
		b.WriteString(promptStyle.Render("Plan: "+m.pendingPlan.Title+"  approve? [y/n]") + "\n")
	}

	b.WriteString(inputBorderStyle.Render(m.input.View()) + "\n")
	b.WriteString(m.statusLine())
	return b.String()
}

func (m Model) statusLine() string {
	status := m.state.String()
	if m.streaming {
		status += " " + m.spinner.View()
	}
	if tc := m.client.Timeline().TurnCount(); tc > 0 {
		status += fmt.Sprintf(" · %d turns", tc)
	}
	if cost := m.client.Timeline().TotalCostUSD(); cost != nil {
		status += fmt.Sprintf(" · $%.4f", *cost)
	}
	if m.lastErr != nil {
		status += " · " + errorStyle.Render(firstLine(m.lastErr.Error()))
	}
	return statusStyle.Render(status)
}

// Run starts the TUI and wires the client's callbacks into the program's
// message loop. It blocks until the user quits.
func Run(c *client.Client, agentID string) error {
	model := NewModel(c, agentID)
	p := tea.NewProgram(model, tea.WithAltScreen())

	unsubStatus := c.OnStatusChange(func(old, new client.State) {
		p.Send(statusChangeMsg{old: old, new: new})
	})
	defer unsubStatus()

	unsubErr := c.OnError(func(err error) {
		p.Send(clientErrorMsg{err: err})
	})
	defer unsubErr()

	unsubEvent := c.OnEvent(func(e domain.Event) {
		p.Send(serverEventMsg(e))
	})
	defer unsubEvent()

	sub := c.Timeline().Subscribe(256)
	defer sub.Close()
	go func() {
		for u := range sub.C {
			p.Send(timelineUpdateMsg(u))
		}
	}()

	_, err := p.Run()
	return err
}
