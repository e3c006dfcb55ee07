package geocoding

import (
	"regexp"
	"strings"
)

var (
	spaceRe  = regexp.MustCompile(`\s+`)
	suffixRe = regexp.MustCompile(`(?i)\s+(?:INTERNATIONAL DISTRIBUTION CENTER|DISTRIBUTION CENTER|DO|DC|MC)$`)
)

// Normalize collapses whitespace and strips trailing distribution-center
// tokens until none is left, so Normalize(Normalize(s)) == Normalize(s).
func Normalize(raw string) string {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(raw, " "))
	for {
		next := strings.TrimSpace(suffixRe.ReplaceAllString(s, ""))
		if next == s {
			return s
		}
		s = next
	}
}
