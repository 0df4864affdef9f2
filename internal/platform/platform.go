// Package platform holds one adapter per chat platform. An adapter owns the
// platform's webhook authentication scheme, envelope normalization, and send
// API, and maps send failures onto the domain delivery taxonomy.
package platform

import (
	"unicode/utf8"
)

// clampText truncates text to the platform's documented maximum, backing off
// to a rune boundary so a multi-byte character is never split.
func clampText(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
