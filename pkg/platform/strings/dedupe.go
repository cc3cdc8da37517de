// Package strings provides string slice utilities shared by the record
// packages.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is like DedupeAndTrim but also lowercases each element.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

// Missing returns the trimmed, deduplicated candidates that are not in
// existing, in candidate order.
//
// Example:
//
//	Missing([]string{"a", " c ", "b", "c"}, []string{"a", "b"})
//	// Returns: []string{"c"}
func Missing(candidates, existing []string) []string {
	have := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		have[e] = struct{}{}
	}
	var out []string
	for _, c := range DedupeAndTrim(candidates) {
		if _, ok := have[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}

	return result
}
