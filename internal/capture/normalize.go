package capture

import (
	"regexp"
	"strings"
)

// whitespaceRegex matches one or more whitespace characters
var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses internal whitespace to single
// spaces. Used for enum-like inputs (source names, metadata keys).
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// NormalizeMetadata returns a copy of m with normalized keys. Entries whose key
// normalizes to empty are dropped; later duplicates win.
func NormalizeMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		key := Normalize(k)
		if key == "" {
			continue
		}
		out[key] = v
	}
	return out
}
