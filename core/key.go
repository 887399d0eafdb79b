package core

import (
	"strings"
	"unicode"
)

// NormalizeKey folds an identifier into its canonical key: lower case,
// trimmed, with internal whitespace runs collapsed to a single space.
// "  Customer\tName " and "customer name" produce the same key.
func NormalizeKey(identifier string) string {
	var b strings.Builder
	b.Grow(len(identifier))
	space := false
	for _, r := range strings.TrimSpace(identifier) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
