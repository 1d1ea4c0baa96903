// internal/tui/model.go
// Package tui is the interactive chat view bound to a session controller.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ineffable/internal/attach"
	"ineffable/internal/commands"
	"ineffable/internal/export"
	"ineffable/internal/render"
	"ineffable/internal/session"
)

const requestTimeout = 30 * time.Second

// Deps are the collaborators the chat view drives
type Deps struct {
	Controller *session.Controller
	Directory  session.Directory
	Titles     TitleSource
	Server     string
	ExportDir  string
	Color      bool
}

// TitleSource delivers refreshed session titles
type TitleSource interface {
	OnTitle(fn func(sessionID, title string))
}

// Messages delivered from outside the update loop
type (
	changedMsg struct{}
	titleMsg   struct{ sessionID, title string }
	openedMsg  struct{ info session.Info }
	listMsg    struct{ sessions []session.Info }
	noticeMsg  string
	errMsg     struct{ err error }
)

type Model struct {
	deps     Deps
	inbound  chan tea.Msg
	renderer *render.Renderer
	styles   render.Styles

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	startID string
	title   string
	notices []string
	pending []attach.Attachment
	width   int
	height  int
	ready   bool
	quit    bool
}

// New builds the model and subscribes to controller changes
func New(deps Deps) *Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.CharLimit = 8000
	input.Placeholder = "Message, or /help"
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Points

	vp := viewport.New(0, 0)
	vp.MouseWheelEnabled = true

	m := &Model{
		deps:     deps,
		inbound:  make(chan tea.Msg, 64),
		renderer: render.New(80, deps.Color),
		styles:   render.NewStyles(deps.Color),
		viewport: vp,
		input:    input,
		spinner:  sp,
	}
	deps.Controller.OnChange(func() { m.post(changedMsg{}) })
	if deps.Titles != nil {
		deps.Titles.OnTitle(func(sessionID, title string) {
			m.post(titleMsg{sessionID: sessionID, title: title})
		})
	}
	return m
}

// post queues a message without blocking. Change notices coalesce since the
// view always redraws from the latest snapshot.
func (m *Model) post(msg tea.Msg) {
	select {
	case m.inbound <- msg:
	default:
	}
}

func waitInbound(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		return <-ch
	}
}

// Open returns a command that switches the controller to a session
func (m *Model) Open(id string) tea.Cmd {
	ctrl, dir := m.deps.Controller, m.deps.Directory
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		info := session.Info{ID: id}
		if dir != nil {
			if got, err := dir.GetSession(ctx, id); err == nil {
				info = got
			}
		}
		ctrl.Open(ctx, id)
		return openedMsg{info: info}
	}
}

func (m *Model) create(title string) tea.Cmd {
	dir := m.deps.Directory
	if dir == nil {
		return notice("no session directory for this backend")
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		info, err := dir.CreateSession(ctx, title)
		if err != nil {
			return errMsg{fmt.Errorf("create session: %w", err)}
		}
		m.deps.Controller.Open(ctx, info.ID)
		return openedMsg{info: info}
	}
}

func (m *Model) list() tea.Cmd {
	dir := m.deps.Directory
	if dir == nil {
		return notice("no session directory for this backend")
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		sessions, err := dir.ListSessions(ctx)
		if err != nil {
			return errMsg{fmt.Errorf("list sessions: %w", err)}
		}
		return listMsg{sessions: sessions}
	}
}

func (m *Model) export(dir string) tea.Cmd {
	if dir == "" {
		dir = m.deps.ExportDir
	}
	if dir == "" {
		dir = "."
	}
	meta := export.Meta{
		ID:        m.deps.Controller.SessionID(),
		Title:     m.title,
		Server:    m.deps.Server,
		CreatedAt: time.Now(),
	}
	turns := m.deps.Controller.Snapshot()
	return func() tea.Msg {
		if meta.ID == "" {
			return errMsg{session.ErrNoSession}
		}
		path, err := export.Write(meta, turns, dir)
		if err != nil {
			return errMsg{err}
		}
		return noticeMsg("exported to " + path)
	}
}

func notice(text string) tea.Cmd {
	return func() tea.Msg { return noticeMsg(text) }
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, waitInbound(m.inbound), textinput.Blink}
	if m.startID != "" {
		cmds = append(cmds, m.Open(m.startID))
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.renderer = render.New(msg.Width, m.deps.Color)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(1, msg.Height-3)
		m.input.Width = max(10, msg.Width-4)
		m.ready = true
		m.refresh(true)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.deps.Controller.Sending() {
				m.deps.Controller.Cancel()
				return m, nil
			}
			m.quit = true
			return m, tea.Quit
		case "esc":
			m.deps.Controller.Cancel()
			return m, nil
		case "enter":
			text := m.input.Value()
			m.input.Reset()
			return m, m.handleInput(text)
		case "pgup", "pgdown", "ctrl+u", "ctrl+d":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case changedMsg:
		m.refresh(false)
		return m, waitInbound(m.inbound)

	case titleMsg:
		if msg.sessionID == m.deps.Controller.SessionID() && msg.title != "" {
			m.title = msg.title
		}
		return m, waitInbound(m.inbound)

	case openedMsg:
		m.title = msg.info.Title
		m.notices = nil
		m.refresh(true)
		return m, nil

	case listMsg:
		m.addNotice(formatSessions(msg.sessions))
		return m, nil

	case noticeMsg:
		m.addNotice(string(msg))
		return m, nil

	case errMsg:
		m.addNotice("error: " + msg.err.Error())
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// handleInput runs a slash command or submits a prompt
func (m *Model) handleInput(text string) tea.Cmd {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	cmd := commands.Parse(text)
	if cmd == nil {
		if err := m.deps.Controller.Submit(attach.Compose(text, m.pending)); err != nil {
			switch {
			case errors.Is(err, session.ErrNoSession):
				m.addNotice("no active session: use /new or /session <id>")
			case errors.Is(err, session.ErrLoading):
				m.addNotice("still loading the session, try again in a moment")
				m.input.SetValue(text)
			default:
				m.addNotice("error: " + err.Error())
			}
			return nil
		}
		m.pending = nil
		return nil
	}

	switch c := cmd.(type) {
	case commands.Help:
		m.addNotice(commands.HelpText())
	case commands.Cancel:
		m.deps.Controller.Cancel()
	case commands.SwitchSession:
		return m.Open(c.ID)
	case commands.NewSession:
		return m.create(c.Title)
	case commands.ListSessions:
		return m.list()
	case commands.Clear:
		m.deps.Controller.Clear()
		m.title = ""
		m.notices = nil
		m.refresh(true)
	case commands.Export:
		return m.export(c.Dir)
	case commands.Attach:
		m.attach(c.Path)
	case commands.Quit:
		m.deps.Controller.Cancel()
		m.quit = true
		return tea.Quit
	case commands.ParseError:
		m.addNotice(c.Message)
	}
	return nil
}

// attach queues a path for the next prompt, or drops the queue
func (m *Model) attach(path string) {
	if path == "" {
		m.pending = nil
		m.addNotice("attachments cleared")
		return
	}
	a, err := attach.Load(path)
	if err != nil {
		m.addNotice("error: " + err.Error())
		return
	}
	m.pending = append(m.pending, a)
	m.addNotice("attached " + attach.Names(m.pending))
}

func (m *Model) addNotice(text string) {
	m.notices = append(m.notices, text)
	m.refresh(true)
}

// refresh redraws the transcript, following the bottom when asked or when
// the view was already there
func (m *Model) refresh(follow bool) {
	if !m.ready {
		return
	}
	follow = follow || m.viewport.AtBottom()

	var sb strings.Builder
	sb.WriteString(m.renderer.Turns(m.deps.Controller.Snapshot()))
	for _, n := range m.notices {
		sb.WriteString("\n")
		sb.WriteString(m.styles.System.Render(n))
		sb.WriteString("\n")
	}
	m.viewport.SetContent(sb.String())
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) header() string {
	id := m.deps.Controller.SessionID()
	if id == "" {
		return m.styles.Title.Render("ineffable") + " " + m.styles.Dim.Render("no session")
	}
	title := m.title
	if title == "" {
		title = "Untitled"
	}
	line := m.styles.Title.Render(title) + " " + m.styles.Dim.Render(id)
	if m.deps.Server != "" {
		line += " " + m.styles.Dim.Render("@ "+m.deps.Server)
	}
	return render.Truncate(line, max(m.width, 20))
}

func (m *Model) status() string {
	if m.deps.Controller.Sending() {
		return m.spinner.View() + " " + m.styles.Dim.Render("responding (esc to cancel)")
	}
	if n := len(m.pending); n > 0 {
		return m.styles.Dim.Render(fmt.Sprintf("ready · %d attached", n))
	}
	return m.styles.Dim.Render("ready")
}

func (m *Model) View() string {
	if m.quit {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.viewport.View(),
		m.status(),
		m.input.View(),
	)
}

func formatSessions(sessions []session.Info) string {
	if len(sessions) == 0 {
		return "no sessions"
	}
	var sb strings.Builder
	sb.WriteString("sessions:")
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = "(untitled)"
		}
		sb.WriteString(fmt.Sprintf("\n  %s  %s", s.ID, title))
	}
	return sb.String()
}

// Run starts the chat view and blocks until it exits. A non-empty sessionID
// is opened on start.
func Run(deps Deps, sessionID string, opts ...tea.ProgramOption) error {
	m := New(deps)
	m.startID = sessionID
	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithMouseCellMotion()}, opts...)
	p := tea.NewProgram(m, opts...)
	_, err := p.Run()
	deps.Controller.Cancel()
	return err
}
