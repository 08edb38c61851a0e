package htmltext

import (
	"strings"
	"testing"
)

func TestIsHTML(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{
			name:     "DOCTYPE HTML",
			input:    "<!DOCTYPE html><html><body>Test</body></html>",
			expected: true,
		},
		{
			name:     "formatted message",
			input:    "<div><p>Hello</p><p>World</p></div>",
			expected: true,
		},
		{
			name:     "plain text message",
			input:    "This is just plain text without any HTML",
			expected: false,
		},
		{
			name:     "code snippet in backticks",
			input:    "Here's some code: `<div>test</div>`",
			expected: false,
		},
		{
			name:     "single link",
			input:    "Check out <a href='test.com'>this link</a>",
			expected: false, // Below threshold
		},
		{
			name:     "quoted reply",
			input:    "<blockquote>original</blockquote><p>my answer</p>",
			expected: true,
		},
		{
			name:     "email-style angle brackets",
			input:    "Contact me at <user@example.com>",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsHTML(tt.input)
			if result != tt.expected {
				t.Errorf("IsHTML() = %v, want %v for input: %s", result, tt.expected, tt.input)
			}
		})
	}
}

func TestMarkdownIfHTML(t *testing.T) {
	tests := []struct {
		name            string
		input           string
		expectConverted bool
		checkOutput     func(string) bool
	}{
		{
			name:            "converts formatted message",
			input:           "<h1>Title</h1><p>Paragraph text</p><p>More</p>",
			expectConverted: true,
			checkOutput: func(output string) bool {
				return strings.Contains(output, "# Title") && strings.Contains(output, "Paragraph text")
			},
		},
		{
			name:            "plain text passes through",
			input:           "just a normal message",
			expectConverted: false,
			checkOutput: func(output string) bool {
				return output == "just a normal message"
			},
		},
		{
			name:            "script contents are dropped",
			input:           "<div><script>alert(1)</script><p>visible</p><p>text</p></div>",
			expectConverted: true,
			checkOutput: func(output string) bool {
				return !strings.Contains(output, "alert") && strings.Contains(output, "visible")
			},
		},
		{
			name:            "bold and links survive",
			input:           "<p><strong>urgent</strong></p><p><a href=\"https://example.com\">docs</a></p><p>end</p>",
			expectConverted: true,
			checkOutput: func(output string) bool {
				return strings.Contains(output, "**urgent**") && strings.Contains(output, "https://example.com")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, converted := MarkdownIfHTML(tt.input)
			if converted != tt.expectConverted {
				t.Errorf("MarkdownIfHTML() converted = %v, want %v", converted, tt.expectConverted)
			}
			if !tt.checkOutput(output) {
				t.Errorf("unexpected output: %q", output)
			}
		})
	}
}

func TestPlainText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "html reduced to text",
			input:    "<div><p>Hello</p><p>World</p></div>",
			expected: "Hello World",
		},
		{
			name:     "script dropped",
			input:    "<div><script>x=1</script><p>keep</p><p>this</p></div>",
			expected: "keep this",
		},
		{
			name:     "plain text whitespace collapsed",
			input:    "  two\n\nlines  ",
			expected: "two lines",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PlainText(tt.input); got != tt.expected {
				t.Errorf("PlainText() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		max      int
		expected string
	}{
		{
			name:     "short text unchanged",
			input:    "hello",
			max:      10,
			expected: "hello",
		},
		{
			name:     "long text truncated with ellipsis",
			input:    "hello world",
			max:      8,
			expected: "hello w…",
		},
		{
			name:     "zero max means no limit",
			input:    "hello world",
			max:      0,
			expected: "hello world",
		},
		{
			name:     "multibyte runes counted as one",
			input:    "grüße aus münchen",
			max:      6,
			expected: "grüße…",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Preview(tt.input, tt.max); got != tt.expected {
				t.Errorf("Preview() = %q, want %q", got, tt.expected)
			}
		})
	}
}
