package procs

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
)

// MatchMode selects how a process name is compared against the pattern.
type MatchMode string

const (
	// MatchSubstring matches when the name contains the pattern exactly.
	MatchSubstring MatchMode = "substring"
	// MatchInsensitive matches a substring ignoring case.
	MatchInsensitive MatchMode = "isubstring"
	// MatchFuzzy matches when the pattern's characters appear in order.
	MatchFuzzy MatchMode = "fuzzy"
)

// ParseMatchMode validates a mode name. Empty selects MatchInsensitive.
func ParseMatchMode(s string) (MatchMode, error) {
	switch m := MatchMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MatchInsensitive, nil
	case MatchSubstring, MatchInsensitive, MatchFuzzy:
		return m, nil
	default:
		return "", fmt.Errorf("unknown match mode %q", s)
	}
}

// Matcher decides whether a process name belongs to the monitored set.
type Matcher struct {
	Pattern string
	Mode    MatchMode
}

// NewMatcher returns a matcher for pattern using mode.
func NewMatcher(pattern string, mode MatchMode) Matcher {
	if mode == "" {
		mode = MatchInsensitive
	}
	return Matcher{Pattern: pattern, Mode: mode}
}

// Match reports whether name matches.
func (m Matcher) Match(name string) bool {
	switch m.Mode {
	case MatchSubstring:
		return strings.Contains(name, m.Pattern)
	case MatchFuzzy:
		if m.Pattern == "" {
			return true
		}
		return len(fuzzy.Find(m.Pattern, []string{name})) > 0
	default:
		return strings.Contains(strings.ToLower(name), strings.ToLower(m.Pattern))
	}
}

func (m Matcher) String() string {
	return fmt.Sprintf("%s(%q)", m.Mode, m.Pattern)
}
