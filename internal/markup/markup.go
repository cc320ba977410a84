// Package markup prepares request text for the synthesis engine, which only
// parses input enclosed in a <speak> root element.
package markup

import "strings"

const (
	rootOpen  = "<speak>"
	rootClose = "</speak>"
)

// Normalize trims surrounding whitespace and wraps the text in the root
// element unless it already starts with the opening tag. Normalize is
// idempotent.
func Normalize(text string) string {
	trimmed := strings.TrimSpace(text)
	if IsWrapped(trimmed) {
		return trimmed
	}

	return rootOpen + trimmed + rootClose
}

// IsWrapped reports whether text, ignoring surrounding whitespace, begins
// with the root element's opening tag.
func IsWrapped(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), rootOpen)
}
