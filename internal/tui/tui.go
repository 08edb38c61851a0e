// Package tui renders the live event stream of a broker session in the
// terminal: a scrollable list of classified events with a glamour-rendered
// detail view for the selected payload.
package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/term"

	"github.com/codefionn/botschafter"
)

const (
	errorDisplayDuration   = 5 * time.Second
	noteDisplayDuration    = 3 * time.Second
	resizeViewportDebounce = 75 * time.Millisecond
	minContentWidth        = 40
	maxRetainedRows        = 2000
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginLeft(2)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			MarginLeft(2)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			MarginLeft(2)

	noteStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			MarginLeft(2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginLeft(2)

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	sendTagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	receiveTagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	otherTagStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	peerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	actionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170"))

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("230")).
				Background(lipgloss.Color("236"))
)

// EventMsg carries one classified event into the model. The Feed builds it on
// the dispatcher goroutine so the model only ever sees plain values.
type EventMsg struct {
	ReceivedAt time.Time
	Type       botschafter.EventType
	Action     botschafter.ActionType
	Peer       int64
	HasPeer    bool
	Preview    string
	Text       string
	Payload    string
}

// StateMsg reports a session lifecycle change.
type StateMsg struct {
	State string
}

// ErrMsg surfaces an error in the footer for a few seconds.
type ErrMsg error

type viewportRefreshMsg struct {
	token int
}

// Model is the bubbletea model for the event viewer.
type Model struct {
	viewport viewport.Model
	spinner  spinner.Model

	rows     []eventRow
	selected int
	follow   bool
	dropped  int

	sent      int
	received  int
	unmatched int

	sessionState string

	detailOpen bool

	renderer        *glamour.TermRenderer
	renderWrapWidth int

	ready         bool
	width         int
	height        int
	contentWidth  int
	spinnerActive bool

	err              error
	errVisibleUntil  time.Time
	note             string
	noteVisibleUntil time.Time

	viewportRefreshToken int
}

// New creates an event viewer model. The session state shown in the header
// starts at "idle" until the first StateMsg arrives.
func New() *Model {
	vp := viewport.New(80, 20)
	vp.SetContent("")

	renderer, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
		glamour.WithPreservedNewLines(),
	)

	sp := spinner.New(
		spinner.WithSpinner(spinner.Line),
		spinner.WithStyle(statusStyle.MarginLeft(0)),
	)

	m := &Model{
		viewport:        vp,
		spinner:         sp,
		follow:          true,
		selected:        -1,
		sessionState:    "idle",
		renderer:        renderer,
		renderWrapWidth: 80,
		spinnerActive:   true,
	}

	if width, height, ok := detectTerminalSize(); ok {
		m.applyWindowSize(width, height)
	}

	return m
}

func detectTerminalSize() (int, int, bool) {
	candidates := []*os.File{os.Stdout, os.Stdin, os.Stderr}
	for _, f := range candidates {
		if f == nil {
			continue
		}
		fd := int(f.Fd())
		if !term.IsTerminal(fd) {
			continue
		}
		if width, height, err := term.GetSize(fd); err == nil && width > 0 && height > 0 {
			return width, height, true
		}
	}
	return 0, 0, false
}

func (m *Model) Init() tea.Cmd {
	initialWindowSize := func() tea.Msg {
		fd := int(os.Stdout.Fd())
		if !term.IsTerminal(fd) {
			return nil
		}
		if width, height, err := term.GetSize(fd); err == nil && width > 0 && height > 0 {
			return tea.WindowSizeMsg{Width: width, Height: height}
		}
		return nil
	}

	return tea.Batch(m.spinner.Tick, initialWindowSize)
}

func (m *Model) applyWindowSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}

	m.width = width
	m.height = height

	available := width
	if available < minContentWidth {
		available = minContentWidth
	}
	m.contentWidth = available

	// Title, status and a blank line above the viewport, blank plus footer
	// below it.
	vpHeight := height - 5
	if vpHeight < 1 {
		vpHeight = 1
	}
	if !m.ready {
		m.viewport = viewport.New(available, vpHeight)
		m.ready = true
	} else {
		m.viewport.Width = available
		m.viewport.Height = vpHeight
	}

	wrapWidth := available - 4
	if wrapWidth < 20 {
		wrapWidth = available
	}
	if wrapWidth != m.renderWrapWidth || m.renderer == nil {
		if renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(wrapWidth),
			glamour.WithPreservedNewLines(),
		); err == nil {
			m.renderer = renderer
			m.renderWrapWidth = wrapWidth
		}
	}
}

func (m *Model) scheduleViewportRefresh() tea.Cmd {
	m.viewportRefreshToken++
	token := m.viewportRefreshToken
	return tea.Tick(resizeViewportDebounce, func(time.Time) tea.Msg {
		return viewportRefreshMsg{token: token}
	})
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.applyWindowSize(msg.Width, msg.Height)
		cmds = append(cmds, m.scheduleViewportRefresh())

	case viewportRefreshMsg:
		if msg.token == m.viewportRefreshToken {
			m.refreshContent()
		}

	case tea.KeyMsg:
		model, cmd := m.handleKey(msg)
		return model, cmd

	case EventMsg:
		m.appendRow(msg)
		if !m.detailOpen {
			m.refreshContent()
		}

	case StateMsg:
		m.sessionState = msg.State
		shouldSpin := spinnerStates[msg.State]
		var extra tea.Cmd
		if shouldSpin && !m.spinnerActive {
			m.spinnerActive = true
			extra = m.spinner.Tick
		} else if !shouldSpin && m.spinnerActive {
			m.spinnerActive = false
		}
		cmds = append(cmds, extra)

	case ErrMsg:
		m.err = msg
		m.errVisibleUntil = time.Now().Add(errorDisplayDuration)

	case ClipboardCopyMsg:
		if msg.Success {
			m.note = fmt.Sprintf("copied: %s", msg.Content)
			m.noteVisibleUntil = time.Now().Add(noteDisplayDuration)
		} else {
			m.err = fmt.Errorf("%s", msg.Error)
			m.errVisibleUntil = time.Now().Add(errorDisplayDuration)
		}

	case spinner.TickMsg:
		if m.spinnerActive {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// spinnerStates names the lifecycle states during which the header spinner
// keeps turning.
var spinnerStates = map[string]bool{
	"idle":            true,
	"spawning":        true,
	"authorizing":     true,
	"pool-connecting": true,
	"disconnecting":   true,
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" || key == "q" {
		return m, tea.Quit
	}

	if m.detailOpen {
		switch key {
		case "esc", "enter":
			m.detailOpen = false
			m.refreshContent()
		case "j", "down":
			m.viewport.ScrollDown(1)
		case "k", "up":
			m.viewport.ScrollUp(1)
		case "g":
			m.viewport.GotoTop()
		case "G":
			m.viewport.GotoBottom()
		case ShortcutCopyPayload:
			if row, ok := m.selectedRow(); ok {
				return m, copyToClipboard(row.payload)
			}
		}
		return m, nil
	}

	switch key {
	case "j", "down":
		m.moveSelection(1)
	case "k", "up":
		m.moveSelection(-1)
	case "g":
		if len(m.rows) > 0 {
			m.selected = 0
			m.follow = false
			m.refreshContent()
		}
	case "G":
		if len(m.rows) > 0 {
			m.selected = len(m.rows) - 1
			m.follow = true
			m.refreshContent()
		}
	case "enter":
		if _, ok := m.selectedRow(); ok {
			m.detailOpen = true
			m.openDetail()
		}
	case ShortcutCopyPayload:
		if row, ok := m.selectedRow(); ok {
			return m, copyToClipboard(row.payload)
		}
	}

	return m, nil
}

func (m *Model) moveSelection(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.selected += delta
	if m.selected < 0 {
		m.selected = 0
	}
	if m.selected >= len(m.rows) {
		m.selected = len(m.rows) - 1
	}
	m.follow = m.selected == len(m.rows)-1
	m.refreshContent()
}

func (m *Model) selectedRow() (eventRow, bool) {
	if m.selected < 0 || m.selected >= len(m.rows) {
		return eventRow{}, false
	}
	return m.rows[m.selected], true
}

func (m *Model) appendRow(msg EventMsg) {
	m.rows = append(m.rows, newEventRow(msg))

	switch msg.Type {
	case botschafter.EventSendMessage:
		m.sent++
	case botschafter.EventReceiveMessage:
		m.received++
	default:
		m.unmatched++
	}

	// Drop the oldest rows once the buffer gets large; the journal keeps the
	// full history.
	if len(m.rows) > maxRetainedRows {
		over := len(m.rows) - maxRetainedRows
		m.rows = m.rows[over:]
		m.dropped += over
		m.selected -= over
		if m.selected < 0 {
			m.selected = 0
		}
	}

	if m.follow || m.selected < 0 {
		m.selected = len(m.rows) - 1
	}
}

// refreshContent rebuilds the viewport from the row list and keeps the
// selected row visible.
func (m *Model) refreshContent() {
	if m.detailOpen {
		return
	}

	if len(m.rows) == 0 {
		m.viewport.SetContent(statusStyle.Render("No events yet."))
		return
	}

	lines := make([]string, 0, len(m.rows))
	for i := range m.rows {
		lines = append(lines, m.renderRow(i))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))

	// One line per row, so the selected index is also its line offset.
	if m.selected >= 0 {
		top := m.viewport.YOffset
		bottom := top + m.viewport.Height - 1
		if m.selected < top {
			m.viewport.SetYOffset(m.selected)
		} else if m.selected > bottom {
			m.viewport.SetYOffset(m.selected - m.viewport.Height + 1)
		}
	}
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) openDetail() {
	row, ok := m.selectedRow()
	if !ok {
		m.detailOpen = false
		return
	}

	doc := row.detailMarkdown()

	// Plain wrap when the markdown renderer is unavailable.
	rendered := wordwrap.String(doc, m.renderWrapWidth)
	if m.renderer != nil {
		if out, err := m.renderer.Render(doc); err == nil {
			rendered = strings.TrimRight(out, "\n")
		}
	}

	m.viewport.SetContent(rendered)
	m.viewport.GotoTop()
}

func (m *Model) View() string {
	if !m.ready {
		return "\n  Initializing..."
	}

	var sb strings.Builder

	sb.WriteString(titleStyle.Render("botschafter - daemon event stream"))
	sb.WriteString("\n")
	sb.WriteString(m.renderStatusLine())
	sb.WriteString("\n\n")

	sb.WriteString(m.viewport.View())
	sb.WriteString("\n\n")

	sb.WriteString(m.renderFooter())

	return sb.String()
}

func (m *Model) renderStatusLine() string {
	var state string
	if m.spinnerActive {
		state = fmt.Sprintf("%s %s", m.spinner.View(), m.sessionState)
	} else {
		state = m.sessionState
	}

	counts := fmt.Sprintf("%d events (%d sent, %d received, %d other)",
		len(m.rows)+m.dropped, m.sent, m.received, m.unmatched)

	return statusStyle.Render(fmt.Sprintf("State: %s | %s", state, counts))
}

func (m *Model) renderFooter() string {
	if m.err != nil && !m.errVisibleUntil.IsZero() && time.Now().After(m.errVisibleUntil) {
		m.err = nil
		m.errVisibleUntil = time.Time{}
	}
	if m.note != "" && !m.noteVisibleUntil.IsZero() && time.Now().After(m.noteVisibleUntil) {
		m.note = ""
		m.noteVisibleUntil = time.Time{}
	}

	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}
	if m.note != "" {
		return noteStyle.Render(m.note)
	}

	if m.detailOpen {
		return footerStyle.Render("esc back | j/k scroll | y yank payload | q quit")
	}
	return footerStyle.Render("j/k move | enter detail | y yank payload | g/G first/last | q quit")
}
