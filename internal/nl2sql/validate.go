package nl2sql

import (
	"regexp"
	"strings"
)

var sqlLeadPattern = regexp.MustCompile(`(?i)^\(?\s*(select|with)\b`)

// LooksLikeSQL reports whether text is plausibly a single read query. It
// must start with SELECT or WITH and hold no second statement; a trailing
// semicolon is allowed.
func LooksLikeSQL(text string) bool {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimRight(trimmed, "; \t\r\n")
	if trimmed == "" || !sqlLeadPattern.MatchString(trimmed) {
		return false
	}
	if strings.Contains(trimmed, ";") {
		return false
	}
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(strings.TrimLeft(upper, "( "), "WITH") {
		return strings.Contains(upper, "SELECT")
	}
	return true
}
