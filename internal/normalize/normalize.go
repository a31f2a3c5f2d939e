// Package normalize canonicalizes user-supplied identifiers at the edges.
package normalize

import "strings"

// Email returns a normalized form of an email address suitable for storage
// and comparisons: surrounding whitespace trimmed, lower-cased.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
