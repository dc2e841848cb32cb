package identity

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var lower = cases.Lower(language.Und)

// NormalizeUsername trims and case-folds a username for uniqueness checks.
// Unicode-correct case folding (rather than strings.ToLower) matters once
// usernames can contain non-ASCII letters.
func NormalizeUsername(s string) string {
	return lower.String(strings.TrimSpace(s))
}

// NormalizeEmail trims and case-folds an email address.
func NormalizeEmail(s string) string {
	return lower.String(strings.TrimSpace(s))
}
