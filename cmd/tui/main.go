// Command tui is an enriched terminal client built on internal/client.
//
// Screens
// -------
//   stateLobby – username + room name fields, list of open chatrooms,
//                join an existing room or create a new one
//   stateChat  – full-screen chat with a scrollable message viewport
//
// Concurrency
// -----------
//   internal/client already runs its own read loop goroutine; this
//   program only bridges two of its outputs into Bubbletea commands:
//   Chats() for unsolicited broadcasts, and a short poll of
//   LastResponse() for the synchronous LIST/CREATE/JOIN replies a
//   lobby action is waiting on.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"chat/internal/certs"
	"chat/internal/client"
	"chat/internal/config"
	"chat/internal/protocol"
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	purple = lipgloss.Color("99")
	cyan   = lipgloss.Color("86")
	green  = lipgloss.Color("82")
	red    = lipgloss.Color("196")
	yellow = lipgloss.Color("220")
	gray   = lipgloss.Color("241")
	white  = lipgloss.Color("255")
	orange = lipgloss.Color("214")
	blue   = lipgloss.Color("75")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Background(purple).
			Foreground(white).
			Padding(0, 1)

	footerBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder(), true, false, false, false).
				BorderForeground(gray).
				Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(purple).
			Padding(0, 2)

	labelStyle        = lipgloss.NewStyle().Foreground(gray).Width(10)
	focusedLabelStyle = lipgloss.NewStyle().Foreground(cyan).Width(10)
	hintStyle         = lipgloss.NewStyle().Foreground(gray).Italic(true)

	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	sysStyle     = lipgloss.NewStyle().Foreground(yellow).Italic(true)
	tsStyle      = lipgloss.NewStyle().Foreground(gray)
	myNameStyle  = lipgloss.NewStyle().Bold(true).Foreground(orange)
	peerStyle    = lipgloss.NewStyle().Bold(true).Foreground(blue)
)

// ---------------------------------------------------------------------------
// Bubbletea message types
// ---------------------------------------------------------------------------

type responseMsg protocol.Response
type chatMsg protocol.Response
type disconnectedMsg struct{}

// ---------------------------------------------------------------------------
// Application state
// ---------------------------------------------------------------------------

type appState int

const (
	stateLobby appState = iota
	stateChat
)

type model struct {
	c *client.Client

	state appState
	me    string

	// Lobby
	lobbyFields [2]textinput.Model // [0]=username [1]=room name
	lobbyFocus  int
	rooms       []protocol.ChatroomSummary
	statusMsg   string
	pending     protocol.QueryKind // which reply the lobby is waiting for, if any

	// Chat
	ready     bool
	viewport  viewport.Model
	chatInput textinput.Model
	chatLines []string
	roomName  string

	width, height int
}

func newModel(c *client.Client) model {
	uf := textinput.New()
	uf.Placeholder = "username"
	uf.Focus()
	uf.CharLimit = 32
	uf.Width = 32

	rf := textinput.New()
	rf.Placeholder = "room name"
	rf.CharLimit = 48
	rf.Width = 32

	ci := textinput.New()
	ci.Placeholder = "Type a message…"
	ci.CharLimit = 500

	return model{
		c:           c,
		state:       stateLobby,
		lobbyFields: [2]textinput.Model{uf, rf},
		chatInput:   ci,
	}
}

// ---------------------------------------------------------------------------
// Tea interface – Init
// ---------------------------------------------------------------------------

func (m model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, listRooms(m.c), waitForChat(m.c))
}

// ---------------------------------------------------------------------------
// Tea interface – Update
// ---------------------------------------------------------------------------

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if !m.ready {
			m.viewport = viewport.New(msg.Width, m.vpHeight())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = m.vpHeight()
		}
		m.chatInput.Width = msg.Width - 4
		return m, nil

	case chatMsg:
		var att protocol.ChatMessageAttachment
		if json.Unmarshal(msg.Attachment, &att) == nil {
			ts := tsStyle.Render("[" + time.UnixMilli(msg.Timestamp).Local().Format("15:04:05") + "]")
			m.appendChat(ts + " " + peerStyle.Render("peer") + ": " + att.Message)
		}
		return m, waitForChat(m.c)

	case responseMsg:
		return m.handleResponse(protocol.Response(msg))

	case disconnectedMsg:
		m.statusMsg = "disconnected from server"
		return m, tea.Quit

	case tea.KeyMsg:
		switch m.state {
		case stateLobby:
			return m.handleLobbyKey(msg)
		case stateChat:
			return m.handleChatKey(msg)
		}
	}
	return m, nil
}

func (m model) vpHeight() int {
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

// ---------------------------------------------------------------------------
// Key handlers
// ---------------------------------------------------------------------------

func (m model) handleLobbyKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		return m, tea.Quit

	case tea.KeyTab, tea.KeyShiftTab:
		m.lobbyFocus = (m.lobbyFocus + 1) % 2
		for i := range m.lobbyFields {
			if i == m.lobbyFocus {
				m.lobbyFields[i].Focus()
			} else {
				m.lobbyFields[i].Blur()
			}
		}
		return m, textinput.Blink

	case tea.KeyF5:
		m.statusMsg = "refreshing rooms…"
		return m, listRooms(m.c)

	case tea.KeyCtrlN:
		return m.submitLobby(protocol.CreateChatroom)

	case tea.KeyEnter:
		return m.submitLobby(protocol.JoinChatroom)
	}

	var cmd tea.Cmd
	m.lobbyFields[m.lobbyFocus], cmd = m.lobbyFields[m.lobbyFocus].Update(msg)
	return m, cmd
}

func (m model) submitLobby(query protocol.QueryKind) (model, tea.Cmd) {
	username := strings.TrimSpace(m.lobbyFields[0].Value())
	room := strings.TrimSpace(m.lobbyFields[1].Value())
	if username == "" {
		m.statusMsg = errorStyle.Render("username is required")
		return m, nil
	}
	if room == "" {
		m.statusMsg = errorStyle.Render("room name is required")
		return m, nil
	}
	m.me = username

	var att []byte
	var err error
	if query == protocol.CreateChatroom {
		att, err = json.Marshal(protocol.NewCreateAttachment(username, room))
	} else {
		id, parseErr := strconv.ParseUint(room, 10, 64)
		if parseErr != nil {
			m.statusMsg = errorStyle.Render("join requires a numeric room id; use Ctrl+N to create one by name")
			return m, nil
		}
		att, err = json.Marshal(protocol.NewJoinAttachment(username, id))
	}
	if err != nil {
		m.statusMsg = errorStyle.Render(err.Error())
		return m, nil
	}

	if sendErr := m.c.Send(protocol.Request{Query: query, Attachment: att}); sendErr != nil {
		m.statusMsg = errorStyle.Render(sendErr.Error())
		return m, nil
	}
	m.pending = query
	m.roomName = room
	m.statusMsg = hintStyle.Render("waiting for server…")
	return m, waitForResponse(m.c, query)
}

func (m model) handleChatKey(msg tea.KeyMsg) (model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyCtrlQ:
		m.c.Send(protocol.Request{Query: protocol.LeaveChatroom})
		return m, tea.Quit

	case tea.KeyEnter:
		content := strings.TrimSpace(m.chatInput.Value())
		if content != "" {
			att, err := json.Marshal(protocol.ChatMessageAttachment{Message: content})
			if err == nil {
				m.c.Send(protocol.Request{Query: protocol.ChatMessage, Attachment: att})
				ts := tsStyle.Render("[" + time.Now().Local().Format("15:04:05") + "]")
				m.appendChat(ts + " " + myNameStyle.Render(m.me) + ": " + content)
			}
			m.chatInput.Reset()
		}
		return m, nil

	case tea.KeyPgUp:
		m.viewport.HalfViewUp()
		return m, nil

	case tea.KeyPgDown:
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.chatInput, cmd = m.chatInput.Update(msg)
	return m, cmd
}

// handleResponse resolves the lobby action a model is waiting on.
func (m model) handleResponse(resp protocol.Response) (model, tea.Cmd) {
	switch resp.Query {
	case protocol.ListChatroom:
		if resp.Status == 200 {
			var reply protocol.ListReply
			if json.Unmarshal(resp.Attachment, &reply) == nil {
				m.rooms = reply.Chatrooms
			}
		}
		return m, nil

	case protocol.CreateChatroom, protocol.JoinChatroom:
		if m.pending != resp.Query {
			return m, nil
		}
		m.pending = protocol.Undefined
		if resp.Status != 200 {
			msg := resp.Error
			if msg == "" {
				msg = fmt.Sprintf("request failed with status %d", resp.Status)
			}
			m.statusMsg = errorStyle.Render(msg)
			return m, nil
		}
		m.state = stateChat
		m.chatInput.Focus()
		m.appendChat(sysStyle.Render("⚡ joined " + m.roomName))
		return m, nil
	}
	return m, nil
}

// appendChat adds a rendered line and scrolls the viewport to the bottom.
func (m *model) appendChat(line string) {
	m.chatLines = append(m.chatLines, line)
	m.viewport.SetContent(strings.Join(m.chatLines, "\n"))
	m.viewport.GotoBottom()
}

// ---------------------------------------------------------------------------
// Tea interface – View
// ---------------------------------------------------------------------------

func (m model) View() string {
	switch m.state {
	case stateLobby:
		return m.viewLobby()
	case stateChat:
		return m.viewChat()
	}
	return ""
}

func (m model) viewLobby() string {
	if m.width == 0 {
		return "\n  Connecting to server…"
	}

	title := titleStyle.Render("  Lobby  ")

	renderField := func(label string, f textinput.Model, focused bool) string {
		var lbl string
		if focused {
			lbl = focusedLabelStyle.Render(label)
		} else {
			lbl = labelStyle.Render(label)
		}
		return lbl + "  " + f.View()
	}

	var roomLines []string
	if len(m.rooms) == 0 {
		roomLines = append(roomLines, hintStyle.Render("  (no rooms yet — Ctrl+N to create one)"))
	} else {
		for _, r := range m.rooms {
			roomLines = append(roomLines, fmt.Sprintf("  %3d  %-24s  %d/%d",
				r.ID, r.Name, r.Users, 256))
		}
	}

	form := lipgloss.JoinVertical(lipgloss.Left,
		title,
		"",
		renderField("Username", m.lobbyFields[0], m.lobbyFocus == 0),
		renderField("Room", m.lobbyFields[1], m.lobbyFocus == 1),
		"",
		hintStyle.Render("Tab: switch field   Enter: join by id   Ctrl+N: create   F5: refresh   Ctrl+C: quit"),
		"",
		strings.Join(roomLines, "\n"),
		"",
		m.statusMsg,
	)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, form)
}

func (m model) viewChat() string {
	if !m.ready {
		return "\n  Connecting…"
	}

	hdr := headerStyle.
		Width(m.width).
		Render(fmt.Sprintf(" %s  ·  %s  ·  PgUp/Dn: Scroll  Ctrl+C: Quit", m.roomName, m.me))

	footer := footerBorderStyle.
		Width(m.width - 2).
		Render(m.chatInput.View())

	return lipgloss.JoinVertical(lipgloss.Left, hdr, m.viewport.View(), footer)
}

// ---------------------------------------------------------------------------
// Bridging internal/client into tea.Cmd
// ---------------------------------------------------------------------------

// waitForChat blocks until the next unsolicited CHAT_MESSAGE broadcast
// arrives, or reports disconnection once Chats is drained after Close.
func waitForChat(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		resp, ok := <-c.Chats()
		if !ok {
			return disconnectedMsg{}
		}
		return chatMsg(resp)
	}
}

// waitForResponse polls LastResponse until it observes a reply to query,
// or gives up after five seconds. internal/client exposes only the most
// recent response rather than a per-request future, so a lobby action
// that wants to know how the server answered has to wait for it this way.
func waitForResponse(c *client.Client, query protocol.QueryKind) tea.Cmd {
	return func() tea.Msg {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			resp := c.LastResponse()
			if resp.Query == query {
				return responseMsg(resp)
			}
			time.Sleep(20 * time.Millisecond)
		}
		return responseMsg(protocol.Response{Query: query, Status: 408, Error: "timed out waiting for a response"})
	}
}

func listRooms(c *client.Client) tea.Cmd {
	if err := c.Send(protocol.Request{Query: protocol.ListChatroom}); err != nil {
		return nil
	}
	return waitForResponse(c, protocol.ListChatroom)
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	host := flag.String("host", "localhost", "server host")
	port := flag.Int("port", config.DefaultPort, "server port")
	flag.Parse()

	addr := net.JoinHostPort(*host, strconv.Itoa(*port))

	c, err := client.Dial(addr, certs.ClientTrustingAnyServer())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	p := tea.NewProgram(
		newModel(c),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
