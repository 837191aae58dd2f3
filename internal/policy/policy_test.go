package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDenyOverridesDeniesWhenAnyPolicyDenies(t *testing.T) {
	permit := Policy{
		ID:        "P",
		Effect:    EffectPermit,
		Subjects:  []SubjectMatch{{Role: strPtr("admin")}},
		Resources: []ResourceMatch{{Path: strPtr("/api/test")}},
		Actions:   []ActionMatch{{Method: strPtr("GET")}},
	}
	deny := Policy{
		ID:        "D",
		Effect:    EffectDeny,
		Subjects:  nil,
		Resources: []ResourceMatch{{Path: strPtr("*")}},
		Actions:   []ActionMatch{{Method: strPtr("*")}},
	}

	ctx := Context{
		Subject:  Subject{Roles: []string{"user"}},
		Resource: Resource{Path: "/api/test"},
		Action:   Action{Method: "GET"},
	}

	d := Evaluate(ctx, []Policy{permit, deny}, DenyOverrides, EffectDeny)
	require.NotNil(t, d.MatchedPolicy)
	assert.Equal(t, EffectDeny, d.Effect)
	assert.Equal(t, "D", *d.MatchedPolicy)
}

func TestPermitOverridesPermitsForMatchingAdmin(t *testing.T) {
	permit := Policy{
		ID:        "P",
		Effect:    EffectPermit,
		Subjects:  []SubjectMatch{{Role: strPtr("admin")}},
		Resources: []ResourceMatch{{Path: strPtr("/api/test")}},
		Actions:   []ActionMatch{{Method: strPtr("GET")}},
	}
	deny := Policy{
		ID:        "D",
		Effect:    EffectDeny,
		Resources: []ResourceMatch{{Path: strPtr("*")}},
		Actions:   []ActionMatch{{Method: strPtr("*")}},
	}

	ctx := Context{
		Subject:  Subject{Roles: []string{"admin"}},
		Resource: Resource{Path: "/api/test"},
		Action:   Action{Method: "GET"},
	}

	d := Evaluate(ctx, []Policy{permit, deny}, PermitOverrides, EffectDeny)
	require.NotNil(t, d.MatchedPolicy)
	assert.Equal(t, EffectPermit, d.Effect)
	assert.Equal(t, "P", *d.MatchedPolicy)
}

func TestFirstApplicableRespectsDescendingPriority(t *testing.T) {
	low := Policy{ID: "low", Effect: EffectDeny, Priority: 1}
	high := Policy{ID: "high", Effect: EffectPermit, Priority: 10}

	ctx := Context{Resource: Resource{Path: "/x"}, Action: Action{Method: "GET"}}
	d := Evaluate(ctx, []Policy{low, high}, FirstApplicable, EffectDeny)
	require.NotNil(t, d.MatchedPolicy)
	assert.Equal(t, "high", *d.MatchedPolicy)
}

func TestNoApplicablePolicyReturnsDefault(t *testing.T) {
	p := Policy{
		ID:       "only",
		Effect:   EffectPermit,
		Subjects: []SubjectMatch{{ID: strPtr("nobody")}},
	}
	ctx := Context{Subject: Subject{ID: "someone"}, Resource: Resource{Path: "/x"}, Action: Action{Method: "GET"}}
	d := Evaluate(ctx, []Policy{p}, DenyOverrides, EffectDeny)
	assert.Nil(t, d.MatchedPolicy)
	assert.Equal(t, EffectDeny, d.Effect)
	assert.Equal(t, "No applicable policy", d.Reason)
}

func TestTimeConditionGatesOnClock(t *testing.T) {
	p := Policy{
		ID:         "business-hours",
		Effect:     EffectPermit,
		Conditions: []Condition{{Time: &TimeCondition{After: strPtr("09:00")}}},
	}

	at10 := Context{
		Resource: Resource{Path: "/x"},
		Action:   Action{Method: "GET"},
		Now:      func() (int, int, int) { return 10, 0, 3 },
	}
	d := Evaluate(at10, []Policy{p}, DenyOverrides, EffectDeny)
	assert.Equal(t, EffectPermit, d.Effect)

	at8 := Context{
		Resource: Resource{Path: "/x"},
		Action:   Action{Method: "GET"},
		Now:      func() (int, int, int) { return 8, 0, 3 },
	}
	d2 := Evaluate(at8, []Policy{p}, DenyOverrides, EffectDeny)
	assert.Equal(t, EffectDeny, d2.Effect)
	assert.Equal(t, "No applicable policy", d2.Reason)
}

func TestStoreUpsertGetDelete(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Upsert(Policy{ID: "a", Effect: EffectPermit}))
	p, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, EffectPermit, p.Effect)

	require.NoError(t, s.Delete("a"))
	_, ok = s.Get("a")
	assert.False(t, ok)
}

func TestStoreSeedSkipsWhenNotEmptyAndOnlyIfEmpty(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Upsert(Policy{ID: "existing"}))

	err := s.Seed(SeedConfig{
		Policies:    []Policy{{ID: "bundled"}},
		OnlyIfEmpty: true,
		CurrentEnv:  "development",
	})
	require.NoError(t, err)
	assert.Len(t, s.List(), 1)
	_, ok := s.Get("existing")
	assert.True(t, ok)
}

func TestStoreSeedGatedByEnvironment(t *testing.T) {
	s := NewStore()
	err := s.Seed(SeedConfig{
		Policies:     []Policy{{ID: "bundled"}},
		Environments: []string{"development"},
		CurrentEnv:   "production",
	})
	require.NoError(t, err)
	assert.True(t, s.Empty())
}
