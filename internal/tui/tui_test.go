package tui

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codefionn/botschafter"
)

func newTestModel(t *testing.T) *Model {
	t.Helper()
	m := New()
	m.applyWindowSize(100, 30)
	m.refreshContent()
	return m
}

func receiveMsg(peer int64, text string) EventMsg {
	payload, _ := json.MarshalIndent(map[string]interface{}{
		"event": "message",
		"from":  map[string]interface{}{"peer_id": peer},
		"text":  text,
	}, "", "  ")
	return EventMsg{
		ReceivedAt: time.Date(2025, 11, 4, 9, 30, 0, 0, time.UTC),
		Type:       botschafter.EventReceiveMessage,
		Peer:       peer,
		HasPeer:    true,
		Preview:    text,
		Text:       text,
		Payload:    string(payload),
	}
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEscape}
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func TestAppendFollowsNewEvents(t *testing.T) {
	m := newTestModel(t)

	for i := int64(1); i <= 3; i++ {
		m.Update(receiveMsg(i, "hello"))
	}

	if m.selected != 2 {
		t.Fatalf("expected selection to follow to last row, got %d", m.selected)
	}
	if !m.follow {
		t.Fatal("expected follow mode to stay on")
	}
	if m.received != 3 || m.sent != 0 || m.unmatched != 0 {
		t.Fatalf("unexpected counters: sent=%d received=%d other=%d", m.sent, m.received, m.unmatched)
	}
}

func TestMoveSelectionStopsFollow(t *testing.T) {
	m := newTestModel(t)
	for i := int64(1); i <= 3; i++ {
		m.Update(receiveMsg(i, "hello"))
	}

	m.Update(keyMsg("k"))
	if m.selected != 1 {
		t.Fatalf("expected selection 1 after k, got %d", m.selected)
	}
	if m.follow {
		t.Fatal("expected follow mode off after moving up")
	}

	m.Update(receiveMsg(4, "later"))
	if m.selected != 1 {
		t.Fatalf("expected selection pinned at 1, got %d", m.selected)
	}

	m.Update(keyMsg("G"))
	if m.selected != 3 || !m.follow {
		t.Fatalf("expected G to jump to last row and re-enable follow, got selected=%d follow=%v", m.selected, m.follow)
	}

	m.Update(keyMsg("g"))
	if m.selected != 0 || m.follow {
		t.Fatalf("expected g to jump to first row without follow, got selected=%d follow=%v", m.selected, m.follow)
	}
}

func TestSelectionBoundsClamped(t *testing.T) {
	m := newTestModel(t)
	m.Update(receiveMsg(1, "only"))

	m.Update(keyMsg("k"))
	m.Update(keyMsg("k"))
	if m.selected != 0 {
		t.Fatalf("expected selection clamped at 0, got %d", m.selected)
	}

	m.Update(keyMsg("j"))
	m.Update(keyMsg("j"))
	if m.selected != 0 {
		t.Fatalf("expected selection clamped at last row, got %d", m.selected)
	}
}

func TestDetailViewShowsClassification(t *testing.T) {
	m := newTestModel(t)
	m.Update(receiveMsg(9, "hello there"))

	m.Update(keyMsg("enter"))
	if !m.detailOpen {
		t.Fatal("expected detail view to open")
	}
	view := m.View()
	if !strings.Contains(view, "RECEIVE_MESSAGE") {
		t.Fatalf("expected detail view to name the event type, got:\n%s", view)
	}

	m.Update(keyMsg("esc"))
	if m.detailOpen {
		t.Fatal("expected esc to close the detail view")
	}
}

func TestEnterWithoutRowsDoesNothing(t *testing.T) {
	m := newTestModel(t)
	m.Update(keyMsg("enter"))
	if m.detailOpen {
		t.Fatal("expected no detail view without rows")
	}
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m := newTestModel(t)
		_, cmd := m.Update(keyMsg(key))
		if cmd == nil {
			t.Fatalf("expected quit command for %q", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected QuitMsg for %q, got %T", key, cmd())
		}
	}
}

func TestStateMsgControlsSpinner(t *testing.T) {
	m := newTestModel(t)
	if !m.spinnerActive {
		t.Fatal("expected spinner active while idle")
	}

	m.Update(StateMsg{State: "ready"})
	if m.sessionState != "ready" {
		t.Fatalf("expected state ready, got %q", m.sessionState)
	}
	if m.spinnerActive {
		t.Fatal("expected spinner stopped once ready")
	}

	m.Update(StateMsg{State: "disconnecting"})
	if !m.spinnerActive {
		t.Fatal("expected spinner during disconnect")
	}

	m.Update(StateMsg{State: "closed"})
	if m.spinnerActive {
		t.Fatal("expected spinner stopped once closed")
	}
}

func TestStatusLineCountsAllEvents(t *testing.T) {
	m := newTestModel(t)
	m.Update(receiveMsg(9, "in"))

	sent := receiveMsg(7, "out")
	sent.Type = botschafter.EventSendMessage
	m.Update(sent)

	other := EventMsg{ReceivedAt: time.Now(), Type: botschafter.EventUndefined, Preview: "updates_state", Payload: "{}"}
	m.Update(other)

	status := m.renderStatusLine()
	if !strings.Contains(status, "3 events (1 sent, 1 received, 1 other)") {
		t.Fatalf("unexpected status line: %q", status)
	}
}

func TestRowCapDropsOldest(t *testing.T) {
	m := newTestModel(t)
	for i := 0; i < maxRetainedRows+5; i++ {
		m.appendRow(receiveMsg(int64(i), "x"))
	}

	if len(m.rows) != maxRetainedRows {
		t.Fatalf("expected row buffer capped at %d, got %d", maxRetainedRows, len(m.rows))
	}
	if m.dropped != 5 {
		t.Fatalf("expected 5 dropped rows, got %d", m.dropped)
	}
	if m.selected != len(m.rows)-1 {
		t.Fatalf("expected selection at last row, got %d", m.selected)
	}
	if !strings.Contains(m.renderStatusLine(), "2005 events") {
		t.Fatalf("expected total count to include dropped rows, got %q", m.renderStatusLine())
	}
}

func TestErrMsgExpires(t *testing.T) {
	m := newTestModel(t)
	m.Update(keyMsg("x")) // unknown keys are ignored

	m.err = nil
	m.Update(ErrMsg(errFake))
	if m.err == nil {
		t.Fatal("expected error recorded")
	}
	footer := m.renderFooter()
	if !strings.Contains(footer, "broken pipe") {
		t.Fatalf("expected error in footer, got %q", footer)
	}

	m.errVisibleUntil = time.Now().Add(-time.Second)
	m.renderFooter()
	if m.err != nil {
		t.Fatal("expected error cleared after display window")
	}
}

var errFake = errFakeType{}

type errFakeType struct{}

func (errFakeType) Error() string { return "broken pipe" }

func TestRenderRowMarksSelection(t *testing.T) {
	m := newTestModel(t)
	m.Update(receiveMsg(9, "first"))
	m.Update(receiveMsg(9, "second"))

	selected := m.renderRow(1)
	if !strings.Contains(selected, ">") {
		t.Fatalf("expected selection marker, got %q", selected)
	}
	unselected := m.renderRow(0)
	if strings.Contains(unselected, ">") {
		t.Fatalf("expected no selection marker, got %q", unselected)
	}
	if !strings.Contains(unselected, "peer 9") {
		t.Fatalf("expected peer column, got %q", unselected)
	}
}

func TestRenderRowShowsAction(t *testing.T) {
	m := newTestModel(t)
	msg := receiveMsg(9, "")
	msg.Action = botschafter.ActionChatAddUser
	msg.Preview = "chat update"
	m.Update(msg)

	row := m.renderRow(0)
	if !strings.Contains(row, "chat_add_user") {
		t.Fatalf("expected action tag in row, got %q", row)
	}
}

func TestClipRunes(t *testing.T) {
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 8, "this is…"},
		{"grüße aus köln", 7, "grüße …"},
		{"x", 0, "x"},
	}
	for _, tc := range cases {
		if got := clipRunes(tc.in, tc.max); got != tc.want {
			t.Errorf("clipRunes(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}
