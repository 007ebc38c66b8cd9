package utils

import (
	"strings"
)

// SplitList splits a comma/semicolon/newline separated setting into cleaned,
// de-duplicated entries.
func SplitList(raw string) []string {
	out := []string{}
	seen := map[string]bool{}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
