// Package policy implements the policy decision point described in spec
// §4.4: a pure evaluator over a prioritized, combined set of
// attribute-based access-control policies, plus the in-memory/file-backed
// store (PAP) that holds them.
package policy

import "sort"

// Effect is the outcome a matched policy (or the engine's default) yields.
type Effect string

const (
	EffectPermit Effect = "permit"
	EffectDeny   Effect = "deny"
)

// CombiningAlgorithm selects how multiple matched policies resolve to one
// decision.
type CombiningAlgorithm string

const (
	FirstApplicable CombiningAlgorithm = "first-applicable"
	DenyOverrides   CombiningAlgorithm = "deny-overrides"
	PermitOverrides CombiningAlgorithm = "permit-overrides"
)

// ClaimOperator is the comparator a ClaimMatch applies to a subject's claim
// value.
type ClaimOperator string

const (
	ClaimEq       ClaimOperator = "eq"
	ClaimNe       ClaimOperator = "ne"
	ClaimGt       ClaimOperator = "gt"
	ClaimLt       ClaimOperator = "lt"
	ClaimContains ClaimOperator = "contains"
	ClaimRegex    ClaimOperator = "regex"
)

// ClaimMatch tests one subject claim.
type ClaimMatch struct {
	Key      string        `json:"key"`
	Operator ClaimOperator `json:"operator"`
	Value    any           `json:"value"`
}

// SubjectMatch matches a request subject. All set fields must hold; Role
// supports "*" wildcard against any of the subject's roles.
type SubjectMatch struct {
	ID    *string     `json:"id,omitempty"`
	Role  *string     `json:"role,omitempty"`
	Group *string     `json:"group,omitempty"`
	Claim *ClaimMatch `json:"claim,omitempty"`
}

// ResourceMatch matches the targeted resource. Path and App use glob
// semantics, except that a bare "*" matches any value (including paths
// containing '/'); Type is an equality check.
type ResourceMatch struct {
	Path *string `json:"path,omitempty"`
	App  *string `json:"app,omitempty"`
	Type *string `json:"type,omitempty"`
}

// ActionMatch matches the attempted action. Method is case-insensitive and
// supports "*" wildcard; Operation is an equality check.
type ActionMatch struct {
	Method    *string `json:"method,omitempty"`
	Operation *string `json:"operation,omitempty"`
}

// TimeCondition restricts a policy to a time-of-day window and/or set of
// weekdays (0 = Sunday), evaluated against the Context's clock.
type TimeCondition struct {
	After     *string `json:"after,omitempty"`  // "HH:MM"
	Before    *string `json:"before,omitempty"`
	DayOfWeek []int   `json:"dayOfWeek,omitempty"`
}

// IPCondition restricts a policy to an allowlist/blocklist of exact client
// IPs. CIDR matching is a documented future extension, unimplemented here.
type IPCondition struct {
	Allowlist []string `json:"allowlist,omitempty"`
	Blocklist []string `json:"blocklist,omitempty"`
}

// CustomCondition is a named extension point. Evaluate treats every custom
// condition as holding; this package exposes no hook for plugging in custom
// logic.
type CustomCondition struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Condition is one AND-ed term of a policy's condition list. Exactly one of
// Time, IP, Custom should be set.
type Condition struct {
	Time   *TimeCondition   `json:"time,omitempty"`
	IP     *IPCondition     `json:"ip,omitempty"`
	Custom *CustomCondition `json:"custom,omitempty"`
}

// Policy is one ABAC rule. Subjects/Resources/Actions being empty means "no
// restriction" on that dimension (matches anything).
type Policy struct {
	ID         string          `json:"id"`
	Effect     Effect          `json:"effect"`
	Priority   int             `json:"priority"`
	Subjects   []SubjectMatch  `json:"subjects"`
	Resources  []ResourceMatch `json:"resources"`
	Actions    []ActionMatch   `json:"actions"`
	Conditions []Condition     `json:"conditions,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// Subject is the caller attempting the request.
type Subject struct {
	ID     string         `json:"id"`
	Roles  []string       `json:"roles"`
	Groups []string       `json:"groups"`
	Claims map[string]any `json:"claims,omitempty"`
}

// Resource is the target of the request.
type Resource struct {
	Path string `json:"path"`
	App  string `json:"app,omitempty"`
	Type string `json:"type,omitempty"`
}

// Action is the attempted operation.
type Action struct {
	Method    string `json:"method"`
	Operation string `json:"operation,omitempty"`
}

// Context is the full input to Evaluate.
type Context struct {
	Subject  Subject  `json:"subject"`
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
	IP       string   `json:"ip,omitempty"`
	Now      func() (hour, minute, weekday int)
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Effect        Effect  `json:"effect"`
	Reason        string  `json:"reason,omitempty"`
	MatchedPolicy *string `json:"matchedPolicy,omitempty"`
}

// Evaluate is the pure PDP function: given a request context, a policy set,
// a combining algorithm, and the default effect applied when nothing
// matches, it returns the decision. Policies are considered in descending
// priority order.
func Evaluate(ctx Context, policies []Policy, algorithm CombiningAlgorithm, defaultEffect Effect) Decision {
	sorted := make([]Policy, len(policies))
	copy(sorted, policies)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	var matched []Policy
	for _, p := range sorted {
		if policyApplies(ctx, p) {
			matched = append(matched, p)
		}
	}

	switch algorithm {
	case FirstApplicable:
		if len(matched) > 0 {
			p := matched[0]
			return decisionFor(p)
		}
	case DenyOverrides:
		for _, p := range matched {
			if p.Effect == EffectDeny {
				return decisionFor(p)
			}
		}
		for _, p := range matched {
			if p.Effect == EffectPermit {
				return decisionFor(p)
			}
		}
	case PermitOverrides:
		for _, p := range matched {
			if p.Effect == EffectPermit {
				return decisionFor(p)
			}
		}
		for _, p := range matched {
			if p.Effect == EffectDeny {
				return decisionFor(p)
			}
		}
	}

	return Decision{Effect: defaultEffect, Reason: "No applicable policy"}
}

func decisionFor(p Policy) Decision {
	id := p.ID
	reason := p.Reason
	if reason == "" {
		reason = string(p.Effect) + " by policy " + p.ID
	}
	return Decision{Effect: p.Effect, Reason: reason, MatchedPolicy: &id}
}

// policyApplies reports whether p matches ctx's subject/resource/action and
// every one of its conditions holds.
func policyApplies(ctx Context, p Policy) bool {
	if !subjectsMatch(p.Subjects, ctx.Subject) {
		return false
	}
	if !resourcesMatch(p.Resources, ctx.Resource) {
		return false
	}
	if !actionsMatch(p.Actions, ctx.Action) {
		return false
	}
	for _, c := range p.Conditions {
		if !conditionHolds(c, ctx) {
			return false
		}
	}
	return true
}
