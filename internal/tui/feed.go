package tui

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/codefionn/botschafter"
	"github.com/codefionn/botschafter/internal/htmltext"
)

const previewRunes = 200

// Feed forwards classified session events into a running event viewer. It
// implements botschafter.Observer, so the conversion to a plain EventMsg
// happens on the dispatcher goroutine and the model never touches shared
// payload maps. Events observed before Attach are dropped.
type Feed struct {
	mu      sync.Mutex
	program *tea.Program
}

// NewFeed creates an unattached feed.
func NewFeed() *Feed {
	return &Feed{}
}

// Attach connects the feed to a running program.
func (f *Feed) Attach(p *tea.Program) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.program = p
}

func (f *Feed) send(msg tea.Msg) {
	f.mu.Lock()
	p := f.program
	f.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// ObserveEvent converts the event and hands it to the model.
func (f *Feed) ObserveEvent(evt *botschafter.Event) {
	f.send(buildEventMsg(evt, time.Now()))
}

// NotifyState reports a session lifecycle change to the model.
func (f *Feed) NotifyState(state string) {
	f.send(StateMsg{State: state})
}

// NotifyError surfaces an error in the viewer footer.
func (f *Feed) NotifyError(err error) {
	if err == nil {
		return
	}
	f.send(ErrMsg(err))
}

func buildEventMsg(evt *botschafter.Event, receivedAt time.Time) EventMsg {
	msg := EventMsg{
		ReceivedAt: receivedAt,
		Type:       evt.Type,
		Action:     evt.Action,
		Payload:    prettyPayload(evt.Payload),
	}

	if peer, ok := evt.SenderPeerID(); ok {
		msg.Peer = peer
		msg.HasPeer = true
	}

	if text, ok := evt.Payload["text"].(string); ok && text != "" {
		msg.Preview = htmltext.Preview(text, previewRunes)
		if md, converted := htmltext.MarkdownIfHTML(text); converted {
			msg.Text = md
		} else {
			msg.Text = text
		}
	} else if name, ok := evt.Payload["event"].(string); ok {
		msg.Preview = name
	}

	return msg
}

func prettyPayload(payload map[string]interface{}) string {
	pretty, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(pretty))
}
