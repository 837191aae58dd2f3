package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/wharfd/wharfd/internal/globmatch"
)

// subjectsMatch reports whether any entry in matches applies to subject. An
// empty list means "no restriction" (always matches).
func subjectsMatch(matches []SubjectMatch, subject Subject) bool {
	if len(matches) == 0 {
		return true
	}
	for _, m := range matches {
		if subjectMatchOne(m, subject) {
			return true
		}
	}
	return false
}

func subjectMatchOne(m SubjectMatch, subject Subject) bool {
	if m.ID != nil && *m.ID != subject.ID {
		return false
	}
	if m.Role != nil && !roleMatches(*m.Role, subject.Roles) {
		return false
	}
	if m.Group != nil && !contains(subject.Groups, *m.Group) {
		return false
	}
	if m.Claim != nil && !claimMatches(*m.Claim, subject.Claims) {
		return false
	}
	return true
}

func roleMatches(pattern string, roles []string) bool {
	if pattern == "*" {
		return true
	}
	return contains(roles, pattern)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func claimMatches(m ClaimMatch, claims map[string]any) bool {
	actual, ok := claims[m.Key]
	switch m.Operator {
	case ClaimEq:
		return ok && fmt.Sprint(actual) == fmt.Sprint(m.Value)
	case ClaimNe:
		return !ok || fmt.Sprint(actual) != fmt.Sprint(m.Value)
	case ClaimGt, ClaimLt:
		if !ok {
			return false
		}
		a, aok := toFloat(actual)
		b, bok := toFloat(m.Value)
		if !aok || !bok {
			return false
		}
		if m.Operator == ClaimGt {
			return a > b
		}
		return a < b
	case ClaimContains:
		if !ok {
			return false
		}
		return strings.Contains(fmt.Sprint(actual), fmt.Sprint(m.Value))
	case ClaimRegex:
		if !ok {
			return false
		}
		re, err := regexp.Compile(fmt.Sprint(m.Value))
		if err != nil {
			return false
		}
		return re.MatchString(fmt.Sprint(actual))
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func resourcesMatch(matches []ResourceMatch, resource Resource) bool {
	if len(matches) == 0 {
		return true
	}
	for _, m := range matches {
		if resourceMatchOne(m, resource) {
			return true
		}
	}
	return false
}

func resourceMatchOne(m ResourceMatch, resource Resource) bool {
	if m.Path != nil && *m.Path != "*" && !globmatch.Match(*m.Path, resource.Path) {
		return false
	}
	if m.App != nil && *m.App != "*" && !globmatch.Match(*m.App, resource.App) {
		return false
	}
	if m.Type != nil && *m.Type != resource.Type {
		return false
	}
	return true
}

func actionsMatch(matches []ActionMatch, action Action) bool {
	if len(matches) == 0 {
		return true
	}
	for _, m := range matches {
		if actionMatchOne(m, action) {
			return true
		}
	}
	return false
}

func actionMatchOne(m ActionMatch, action Action) bool {
	if m.Method != nil && *m.Method != "*" && !strings.EqualFold(*m.Method, action.Method) {
		return false
	}
	if m.Operation != nil && *m.Operation != action.Operation {
		return false
	}
	return true
}

func conditionHolds(c Condition, ctx Context) bool {
	if c.Time != nil && !timeConditionHolds(*c.Time, ctx) {
		return false
	}
	if c.IP != nil && !ipConditionHolds(*c.IP, ctx.IP) {
		return false
	}
	if c.Custom != nil {
		return customConditionHolds(*c.Custom, ctx)
	}
	return true
}

func timeConditionHolds(tc TimeCondition, ctx Context) bool {
	if ctx.Now == nil {
		return true
	}
	hour, minute, weekday := ctx.Now()
	minutesNow := hour*60 + minute

	if tc.After != nil {
		m, err := parseHHMM(*tc.After)
		if err != nil || minutesNow < m {
			return false
		}
	}
	if tc.Before != nil {
		m, err := parseHHMM(*tc.Before)
		if err != nil || minutesNow >= m {
			return false
		}
	}
	if len(tc.DayOfWeek) > 0 {
		found := false
		for _, d := range tc.DayOfWeek {
			if d == weekday {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("policy: invalid HH:MM value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

func ipConditionHolds(ic IPCondition, ip string) bool {
	if len(ic.Blocklist) > 0 && contains(ic.Blocklist, ip) {
		return false
	}
	if len(ic.Allowlist) > 0 && !contains(ic.Allowlist, ip) {
		return false
	}
	return true
}

// customConditionHolds is the extension point noted in spec §4.4 step 4:
// it always returns true, whatever the condition's name and args.
func customConditionHolds(cc CustomCondition, ctx Context) bool {
	return true
}
