package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.design/x/clipboard"
)

// ShortcutCopyPayload yanks the selected event's payload to the clipboard.
const ShortcutCopyPayload = "y"

// ClipboardCopyMsg is sent when content is copied to clipboard
type ClipboardCopyMsg struct {
	Content string
	Success bool
	Error   string
}

// copyToClipboard copies content to system clipboard
func copyToClipboard(content string) tea.Cmd {
	return func() tea.Msg {
		err := clipboard.Init()
		if err != nil {
			return ClipboardCopyMsg{
				Success: false,
				Error:   fmt.Sprintf("Failed to initialize clipboard: %v", err),
			}
		}

		clipboard.Write(clipboard.FmtText, []byte(content))

		return ClipboardCopyMsg{
			Content: truncateForDisplay(content, 50),
			Success: true,
		}
	}
}

// truncateForDisplay truncates content for display in status messages
func truncateForDisplay(s string, maxLen int) string {
	lines := strings.Split(s, "\n")
	firstLine := lines[0]
	if len(firstLine) > maxLen {
		return firstLine[:maxLen] + "..."
	}
	return firstLine
}

// RenderHelp renders the keyboard shortcuts help
func RenderHelp() string {
	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("170"))

	keyStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("86")).
		Bold(true)

	descStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	sb.WriteString(headerStyle.Render("Event Viewer Keyboard Shortcuts"))
	sb.WriteString("\n\n")

	shortcuts := []struct {
		key  string
		desc string
	}{
		{"j / down", "Select next event"},
		{"k / up", "Select previous event"},
		{"g", "Select first event"},
		{"G", "Select last event and follow new ones"},
		{"enter", "Open the selected event's detail view"},
		{"y", "Copy the selected payload to clipboard"},
		{"esc", "Close the detail view"},
		{"q / ctrl+c", "Quit"},
	}

	for _, sc := range shortcuts {
		sb.WriteString(keyStyle.Render(fmt.Sprintf("  %-12s", sc.key)))
		sb.WriteString(descStyle.Render(sc.desc))
		sb.WriteString("\n")
	}

	return sb.String()
}
