// Package strings provides string slice normalization helpers.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates, blanks, and surrounding whitespace from a
// slice, preserving first-seen order. Comparison is case-insensitive, which
// keeps UUID lists from carrying the same id twice in different casings; the
// original casing of the first occurrence is kept.
func DedupeAndTrim(values []string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}
