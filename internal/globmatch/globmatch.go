// Package globmatch compiles glob patterns used for public-route exemptions
// and policy resource matching. Grammar: "*" matches any run of characters
// except the path separator '/'; "**" matches any run of characters
// including '/'; "?" matches exactly one character that is not '/'.
package globmatch

import (
	"regexp"
	"strings"
	"sync"
)

// Matcher matches a string against one compiled pattern or a set of them.
type Matcher struct {
	patterns []string
	res      []*regexp.Regexp
	mu       sync.RWMutex
}

// Compile builds a Matcher from one or more glob patterns. An empty pattern
// list compiles successfully and matches nothing.
func Compile(patterns ...string) *Matcher {
	m := &Matcher{}
	for _, p := range patterns {
		m.patterns = append(m.patterns, p)
		m.res = append(m.res, compileOne(p))
	}
	return m
}

// Match reports whether s matches any pattern in the set (OR semantics).
func (m *Matcher) Match(s string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, re := range m.res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Patterns returns the original pattern strings, in compile order.
func (m *Matcher) Patterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Match is a convenience one-shot form: compile pattern then test s.
func Match(pattern, s string) bool {
	return compileOne(pattern).MatchString(s)
}

// MatchAny is a convenience one-shot form over a pattern slice.
func MatchAny(patterns []string, s string) bool {
	for _, p := range patterns {
		if Match(p, s) {
			return true
		}
	}
	return false
}

// compileOne translates one glob pattern into an anchored regexp.
//
// "**" is handled as a distinct token before "*" so the single-star
// replacement never eats the double-star's second character.
func compileOne(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")

	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch {
		case runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '*':
			sb.WriteString(".*")
			i++
		case runes[i] == '*':
			sb.WriteString("[^/]*")
		case runes[i] == '?':
			sb.WriteString("[^/]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(runes[i])))
		}
	}
	sb.WriteString("$")

	// Compilation failure here means a regexp metacharacter escaped our
	// quoting, which would be a bug in this function, not bad user input
	// (every rune is either a glob token or goes through QuoteMeta).
	return regexp.MustCompile(sb.String())
}
