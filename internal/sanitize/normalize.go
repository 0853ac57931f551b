// Package sanitize turns raw model drafts into user-visible output. It
// enforces per-layer content policy and guarantees that no question or
// reframe is shown twice within a session.
package sanitize

import (
	"strings"
)

// Normalize lowercases s, collapses whitespace runs and trims it. It is the
// only comparison key used for duplicate checks.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// IsDuplicate reports whether s is non-empty and normalizes to the same
// string as any entry of history.
func IsDuplicate(s string, history []string) bool {
	n := Normalize(s)
	if n == "" {
		return false
	}
	for _, h := range history {
		if Normalize(h) == n {
			return true
		}
	}
	return false
}

// firstSentence returns s up to and including its first sentence terminator.
func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '?', '!':
			if i == len(s)-1 || s[i+1] == ' ' || s[i+1] == '\n' {
				return s[:i+1]
			}
		}
	}
	return s
}

func containsAny(normalized string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
