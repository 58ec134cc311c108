package catalog

import "strings"

// Match checks if an event type name matches a subscription pattern.
//
// Supported patterns:
//
//	"issue.created"  → exact match
//	"issue.*"        → matches issue.created, issue.closed, etc. (single segment wildcard)
//	"*"              → matches everything
func Match(pattern, eventType string) bool {
	if pattern == "*" {
		return true
	}

	if pattern == eventType {
		return true
	}

	patternParts := strings.Split(pattern, ".")
	eventParts := strings.Split(eventType, ".")

	if len(patternParts) != len(eventParts) {
		return false
	}

	for i, pp := range patternParts {
		if pp == "*" {
			continue
		}
		if pp != eventParts[i] {
			return false
		}
	}

	return true
}

// MatchAny reports whether any of the given patterns matches the event type.
func MatchAny(patterns []string, eventType string) bool {
	for _, p := range patterns {
		if Match(p, eventType) {
			return true
		}
	}
	return false
}
