package extraction

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/geniusreads/conceptd/internal/db"
)

const (
	defaultMaxContextTokens = 12000
	truncationMarker        = "\n\n[Transcript truncated...]"
)

// BuildTranscript renders highlighted excerpts followed by the conversation
// as plain text for the model. Output is capped at roughly maxTokens tokens
// (4 characters per token).
func BuildTranscript(messages []db.Message, excerpts []db.Excerpt, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = defaultMaxContextTokens
	}

	var parts []string
	if len(excerpts) > 0 {
		parts = append(parts, "=== HIGHLIGHTED TEXT CONTEXTS ===")
		for _, e := range excerpts {
			title := e.DocumentTitle
			if title == "" {
				title = "Unknown Document"
			}
			parts = append(parts, fmt.Sprintf("From '%s' (page %d): %s", title, e.PageNumber, strings.TrimSpace(e.SelectedText)))
		}
		parts = append(parts, "")
	}
	if len(messages) > 0 {
		parts = append(parts, "=== CONVERSATION MESSAGES ===")
		for _, m := range messages {
			parts = append(parts, fmt.Sprintf("[%s]: %s", strings.ToUpper(string(m.Role)), strings.TrimSpace(m.Content)))
		}
	}

	transcript := strings.Join(parts, "\n")
	maxChars := maxTokens * 4
	if len(transcript) > maxChars {
		transcript = truncateUTF8(transcript, maxChars) + truncationMarker
	}
	return transcript
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
