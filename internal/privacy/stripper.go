// Package privacy strips private and re-injected context blocks from session text.
package privacy

import (
	"regexp"
	"strings"
)

// Context block markers. The index builder wraps its reports in them so that a
// report pasted back into a session is never re-ingested as session content.
const (
	ContextOpenTag  = "<session-context>"
	ContextCloseTag = "</session-context>"
)

var (
	// privateTagRegex matches <private>...</private> tags
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// contextTagRegex matches <session-context>...</session-context> tags
	contextTagRegex = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(ContextOpenTag) + `.*?` + regexp.QuoteMeta(ContextCloseTag))
)

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// StripContextTags removes all <session-context>...</session-context> content from text.
func StripContextTags(text string) string {
	return contextTagRegex.ReplaceAllString(text, "")
}

// StripAllTags removes both private and context tags.
func StripAllTags(text string) string {
	text = StripPrivateTags(text)
	text = StripContextTags(text)
	return text
}

// IsEntirelyPrivate checks if the text is entirely within <private> tags.
func IsEntirelyPrivate(text string) bool {
	stripped := StripPrivateTags(text)
	return strings.TrimSpace(stripped) == ""
}

// Clean performs full privacy cleaning on text.
// Every title and summary passes through it before keyword extraction.
func Clean(text string) string {
	text = StripAllTags(text)
	return strings.TrimSpace(text)
}

// WrapContext encloses body in session-context markers.
func WrapContext(body string) string {
	return ContextOpenTag + "\n" + strings.TrimRight(body, "\n") + "\n" + ContextCloseTag
}
