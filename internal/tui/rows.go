package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/codefionn/botschafter"
)

// eventRow is one rendered line in the event list plus the material for its
// detail view.
type eventRow struct {
	receivedAt time.Time
	evtType    botschafter.EventType
	action     botschafter.ActionType
	peer       int64
	hasPeer    bool
	preview    string
	text       string
	payload    string
}

func newEventRow(msg EventMsg) eventRow {
	return eventRow{
		receivedAt: msg.ReceivedAt,
		evtType:    msg.Type,
		action:     msg.Action,
		peer:       msg.Peer,
		hasPeer:    msg.HasPeer,
		preview:    msg.Preview,
		text:       msg.Text,
		payload:    msg.Payload,
	}
}

func typeLabel(t botschafter.EventType) string {
	switch t {
	case botschafter.EventSendMessage:
		return "send"
	case botschafter.EventReceiveMessage:
		return "recv"
	default:
		return "other"
	}
}

func typeTagStyle(t botschafter.EventType) func(string) string {
	switch t {
	case botschafter.EventSendMessage:
		return sendTagStyle.Render
	case botschafter.EventReceiveMessage:
		return receiveTagStyle.Render
	default:
		return otherTagStyle.Render
	}
}

func (r eventRow) peerLabel() string {
	if !r.hasPeer {
		return ""
	}
	return fmt.Sprintf("peer %d", r.peer)
}

// clipRunes cuts a preview (already a single collapsed line) to at most max
// terminal cells, marking the cut with an ellipsis.
func clipRunes(s string, max int) string {
	runes := []rune(s)
	if max <= 0 || len(runes) <= max {
		return s
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

// renderRow produces the list line for row i. The selected row is styled as
// one block so the background covers the full line; other rows get per-column
// colors.
func (m *Model) renderRow(i int) string {
	row := m.rows[i]

	ts := row.receivedAt.Format("15:04:05")
	tag := fmt.Sprintf("%-5s", typeLabel(row.evtType))
	peer := fmt.Sprintf("%-12s", row.peerLabel())

	extra := ""
	if row.action != botschafter.ActionNone {
		extra = strings.ToLower(row.action.String()) + " "
	}

	used := 2 + len(ts) + 1 + len(tag) + 1 + len(peer) + 1 + len(extra)
	remaining := m.contentWidth - used
	preview := ""
	if remaining > 10 {
		preview = clipRunes(row.preview, remaining)
	}

	if i == m.selected {
		line := fmt.Sprintf("> %s %s %s %s%s", ts, tag, peer, extra, preview)
		return selectedRowStyle.Render(line)
	}

	var sb strings.Builder
	sb.WriteString("  ")
	sb.WriteString(timeStyle.Render(ts))
	sb.WriteString(" ")
	sb.WriteString(typeTagStyle(row.evtType)(tag))
	sb.WriteString(" ")
	sb.WriteString(peerStyle.Render(peer))
	sb.WriteString(" ")
	if extra != "" {
		sb.WriteString(actionStyle.Render(extra))
	}
	sb.WriteString(preview)
	return sb.String()
}

// detailMarkdown builds the markdown document the detail view renders: the
// classification header, the message text when there is one, and the raw
// payload as a fenced JSON block.
func (r eventRow) detailMarkdown() string {
	var sb strings.Builder

	sb.WriteString("# ")
	sb.WriteString(r.evtType.String())
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Received: %s", r.receivedAt.Format(time.RFC3339)))
	if r.hasPeer {
		sb.WriteString(fmt.Sprintf(" | From: peer %d", r.peer))
	}
	if r.action != botschafter.ActionNone {
		sb.WriteString(fmt.Sprintf(" | Action: %s", r.action.String()))
	}
	sb.WriteString("\n")

	if r.text != "" {
		sb.WriteString("\n")
		sb.WriteString(r.text)
		sb.WriteString("\n")
	}

	sb.WriteString("\n```json\n")
	sb.WriteString(r.payload)
	sb.WriteString("\n```\n")

	return sb.String()
}
