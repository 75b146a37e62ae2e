package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxTranscriptLines = 500

type chatLineMsg struct {
	username string
	content  string
}

type systemLineMsg struct {
	text string
}

type rosterMsg struct {
	users []string
}

// ChatUI runs the interactive room view: transcript, roster bar, and input.
// Its Chat/System/Roster methods feed events into the running program, which
// makes it pluggable as the session's notifier.
type ChatUI struct {
	program *tea.Program
	model   *chatModel
}

// NewChatUI builds the chat view for one room. Set the send and quit hooks
// with SetHandlers before Run.
func NewChatUI(room, self string) *ChatUI {
	input := textinput.New()
	input.Placeholder = "Type a message and press Enter"
	input.Prompt = "> "
	input.CharLimit = 512
	input.Focus()

	model := &chatModel{
		room:  room,
		self:  self,
		input: input,
		width: 80,
	}

	return &ChatUI{
		program: tea.NewProgram(model),
		model:   model,
	}
}

// SetHandlers wires the chat-send and quit callbacks.
func (u *ChatUI) SetHandlers(onSend func(string), onQuit func()) {
	u.model.send = onSend
	u.model.quit = onQuit
}

// Run blocks until the user quits the room view.
func (u *ChatUI) Run() error {
	_, err := u.program.Run()
	return err
}

// Chat implements the session notifier.
func (u *ChatUI) Chat(username, content string) {
	u.program.Send(chatLineMsg{username: username, content: content})
}

// System implements the session notifier.
func (u *ChatUI) System(text string) {
	u.program.Send(systemLineMsg{text: text})
}

// Roster implements the session notifier.
func (u *ChatUI) Roster(users []string) {
	u.program.Send(rosterMsg{users: users})
}

type chatModel struct {
	room   string
	self   string
	input  textinput.Model
	lines  []string
	roster []string
	width  int
	height int
	send   func(string)
	quit   func()
}

func (m *chatModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if m.quit != nil {
				m.quit()
			}
			return m, tea.Quit

		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text != "" && m.send != nil {
				m.send(text)
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case chatLineMsg:
		style := UsernameStyle
		if msg.username == m.self {
			style = SelfStyle
		}
		m.appendLine(fmt.Sprintf("%s %s: %s",
			MutedStyle.Render(time.Now().Format("15:04")),
			style.Render(msg.username),
			msg.content,
		))
		return m, nil

	case systemLineMsg:
		m.appendLine(SystemStyle.Render("· " + msg.text))
		return m, nil

	case rosterMsg:
		m.roster = msg.users
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *chatModel) View() string {
	title := TitleStyle.Render("distork") + MutedStyle.Render(" · room ") + TitleStyle.Render(m.room)

	rosterText := "alone in the room"
	if len(m.roster) > 0 {
		rosterText = fmt.Sprintf("%d online: %s", len(m.roster)+1, strings.Join(m.roster, ", "))
	}
	rosterBar := RosterBarStyle.Render(rosterText)

	visible := m.visibleLines()
	transcript := strings.Join(visible, "\n")

	help := MutedStyle.Render("enter: send · esc: leave room")

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		rosterBar,
		transcript,
		m.input.View(),
		help,
	)
}

func (m *chatModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxTranscriptLines {
		m.lines = m.lines[len(m.lines)-maxTranscriptLines:]
	}
}

// visibleLines keeps the transcript within the terminal height, leaving room
// for the title, roster bar, input, and help line.
func (m *chatModel) visibleLines() []string {
	if m.height == 0 {
		return m.lines
	}
	max := m.height - 4
	if max < 1 {
		max = 1
	}
	if len(m.lines) <= max {
		return m.lines
	}
	return m.lines[len(m.lines)-max:]
}
