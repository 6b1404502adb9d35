// Package labels canonicalizes classifier label strings and holds the
// configured blocking and safe label policy.
package labels

import "strings"

// Normalize trims surrounding whitespace and lowercases a label.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Set is an immutable ordered set of blocking labels plus an optional safe label.
type Set struct {
	blocking []string
	index    map[string]struct{}
	safe     string
}

// NewSet normalizes and deduplicates the given labels. Empty entries are dropped.
func NewSet(blocking []string, safe string) Set {
	s := Set{index: make(map[string]struct{}, len(blocking)), safe: Normalize(safe)}
	for _, raw := range blocking {
		label := Normalize(raw)
		if label == "" {
			continue
		}
		if _, ok := s.index[label]; ok {
			continue
		}
		s.index[label] = struct{}{}
		s.blocking = append(s.blocking, label)
	}
	return s
}

// IsBlocking reports whether the normalized label is a blocking label.
func (s Set) IsBlocking(label string) bool {
	if label == "" {
		return false
	}
	_, ok := s.index[label]
	return ok
}

// IsSafe reports whether the normalized label is the configured safe label.
func (s Set) IsSafe(label string) bool {
	return s.safe != "" && label == s.safe
}

// Safe returns the configured safe label, or "" when none is set.
func (s Set) Safe() string {
	return s.safe
}

// Blocking returns a copy of the blocking labels in configuration order.
func (s Set) Blocking() []string {
	out := make([]string, len(s.blocking))
	copy(out, s.blocking)
	return out
}
