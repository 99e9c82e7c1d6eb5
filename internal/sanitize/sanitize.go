// Package sanitize cleans scraped article text before it reaches prompts or
// embeddings.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// tagRegex matches HTML/XML tags left over from scraping.
	tagRegex = regexp.MustCompile(`(?s)<[^>]*>`)

	// scriptRegex drops script and style blocks wholesale, tags and content.
	scriptRegex = regexp.MustCompile(`(?si)<(script|style)[^>]*>.*?</(script|style)>`)

	// whitespaceRegex collapses runs of whitespace to a single space.
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// StripMarkup removes script/style blocks and all remaining markup tags.
func StripMarkup(text string) string {
	text = scriptRegex.ReplaceAllString(text, " ")
	return tagRegex.ReplaceAllString(text, " ")
}

// CollapseWhitespace replaces whitespace runs with single spaces.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(text, " "))
}

// IsEmpty reports whether the text carries no content after cleaning.
func IsEmpty(text string) bool {
	return CollapseWhitespace(StripMarkup(text)) == ""
}

// Clean performs full cleaning on scraped text. Use before any prompt or
// embedding input.
func Clean(text string) string {
	return CollapseWhitespace(StripMarkup(text))
}
