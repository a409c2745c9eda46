// Package strings provides string list helpers for request parsing.
package strings

import (
	"strings"
)

// SplitList splits a separated query value such as "a, b,,A" into its
// distinct lowercase members, in first-seen order.
func SplitList(raw, sep string) []string {
	if raw == "" {
		return nil
	}
	return dedupe(strings.Split(raw, sep), func(v string) string {
		return strings.ToLower(strings.TrimSpace(v))
	})
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		v = normalize(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}
