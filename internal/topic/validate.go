package topic

import (
	"strings"

	"github.com/cauce-ai/cauce-hub/internal/domain"
)

func isPatternChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '*':
		return true
	}
	return false
}

// ValidatePattern checks a subscription pattern: non-empty, no empty
// segments, any ** must be the last segment, and every segment's characters
// are drawn from [A-Za-z0-9_*-] (the only meta-segments being the exact
// strings "*" and "**").
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return domain.ErrInvalidTopicPattern
	}
	segments := strings.Split(pattern, ".")
	for i, seg := range segments {
		if seg == "" {
			return domain.ErrInvalidTopicPattern
		}
		if seg == "**" {
			if i != len(segments)-1 {
				return domain.ErrInvalidTopicPattern
			}
			continue
		}
		for _, r := range seg {
			if !isPatternChar(r) {
				return domain.ErrInvalidTopicPattern
			}
		}
	}
	return nil
}

// Matches reports whether topic satisfies pattern, using the same segment
// semantics as the trie (useful for one-off checks without building a trie).
func Matches(pattern, topic string) bool {
	pSegs := strings.Split(pattern, ".")
	tSegs := strings.Split(topic, ".")
	var rec func(pi, ti int) bool
	rec = func(pi, ti int) bool {
		if pi == len(pSegs) {
			return ti == len(tSegs)
		}
		seg := pSegs[pi]
		if seg == "**" {
			return ti <= len(tSegs)
		}
		if ti == len(tSegs) {
			return false
		}
		if seg == "*" || seg == tSegs[ti] {
			return rec(pi+1, ti+1)
		}
		return false
	}
	return rec(0, 0)
}
