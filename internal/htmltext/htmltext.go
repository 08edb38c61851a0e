// Package htmltext converts HTML message bodies into something readable.
// Messenger daemons deliver formatted messages and link previews as HTML
// fragments; the TUI wants markdown it can render, log lines and list rows
// want plain text.
package htmltext

import (
	"bytes"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"

	"github.com/codefionn/botschafter/internal/logger"
)

// HTML tag pattern for detection
var htmlTagPattern = regexp.MustCompile(`<([a-zA-Z][a-zA-Z0-9]*)\b[^>]*>`)

// Threshold for considering text as HTML (number of HTML tags)
const htmlTagThreshold = 3

// MarkdownIfHTML detects whether the input is HTML and converts it to
// markdown if so. Returns the converted text and whether a conversion was
// performed.
func MarkdownIfHTML(input string) (string, bool) {
	if !IsHTML(input) {
		return input, false
	}

	cleaned, err := stripNonContent(input)
	if err != nil {
		logger.Warn("failed to preprocess HTML: %v, using original", err)
		cleaned = input
	}

	markdown, err := htmltomarkdown.ConvertString(cleaned)
	if err != nil {
		logger.Warn("failed to convert HTML to markdown: %v", err)
		return input, false
	}

	return cleanMarkdown(markdown), true
}

// PlainText flattens a message body to plain text: HTML is reduced to its
// text nodes, whitespace is collapsed. Non-HTML input only gets the
// whitespace treatment.
func PlainText(input string) string {
	if !IsHTML(input) {
		return collapseWhitespace(input)
	}

	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return collapseWhitespace(input)
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && nonContentTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return collapseWhitespace(sb.String())
}

// Preview returns a single-line plain-text preview of at most max runes.
func Preview(input string, max int) string {
	text := PlainText(input)
	runes := []rune(text)
	if max <= 0 || len(runes) <= max {
		return text
	}
	if max <= 1 {
		return string(runes[:max])
	}
	return string(runes[:max-1]) + "…"
}

// IsHTML detects whether the input text is likely HTML.
func IsHTML(input string) bool {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "<!DOCTYPE") ||
		strings.HasPrefix(trimmed, "<!doctype") ||
		strings.HasPrefix(trimmed, "<html") ||
		strings.HasPrefix(trimmed, "<HTML") {
		return true
	}

	matches := htmlTagPattern.FindAllString(input, -1)
	tagCount := len(matches)

	if tagCount == 0 {
		return false
	}
	if tagCount >= htmlTagThreshold {
		return true
	}

	// Fewer tags still count when they are structural
	lowerInput := strings.ToLower(input)
	hasStructure := strings.Contains(lowerInput, "<body") ||
		strings.Contains(lowerInput, "<div") ||
		strings.Contains(lowerInput, "<table") ||
		strings.Contains(lowerInput, "<ul>") ||
		strings.Contains(lowerInput, "<ol>") ||
		strings.Contains(lowerInput, "<blockquote") ||
		strings.Contains(lowerInput, "<h1") ||
		strings.Contains(lowerInput, "<h2")

	return tagCount >= 2 && hasStructure
}

// nonContentTags are elements whose contents never belong in a message body.
var nonContentTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"meta":     true,
	"link":     true,
	"head":     true,
	"iframe":   true,
	"svg":      true,
}

// stripNonContent removes non-content elements from an HTML fragment and
// renders it back to a string.
func stripNonContent(input string) (string, error) {
	doc, err := html.Parse(strings.NewReader(input))
	if err != nil {
		return input, err
	}

	removeNonContentNodes(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return input, err
	}
	return buf.String(), nil
}

// removeNonContentNodes recursively removes unwanted elements from the tree.
func removeNonContentNodes(n *html.Node) {
	child := n.FirstChild
	for child != nil {
		next := child.NextSibling
		removeNonContentNodes(child)
		child = next
	}

	if n.Type == html.ElementNode && nonContentTags[n.Data] && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// cleanMarkdown performs post-processing cleanup on converted markdown.
func cleanMarkdown(markdown string) string {
	multipleNewlines := regexp.MustCompile(`\n{3,}`)
	markdown = multipleNewlines.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
