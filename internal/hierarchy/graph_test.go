package hierarchy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorize_DefaultGraph(t *testing.T) {
	g := Default()

	tests := []struct {
		name    string
		caller  string
		target  string
		allowed bool
	}{
		{"paul to test runner", "Paul", "Joshua (Test Runner)", true},
		{"caller is case-insensitive", "PAUL", "joshua (test runner)", true},
		{"base name satisfies role-suffixed entry", "Paul", "Joshua", true},
		{"conflicting role is rejected", "Paul", "Joshua (Deployer)", false},
		{"planner to paul", "planner-paul", "paul", true},
		{"planner to ultrabrain is rejected", "planner-paul", "ultrabrain", false},
		{"prefixed name does not match", "planner-paul", "Paul-Junior", false},
		{"prefix of allowed name does not match", "planner-paul", "pau", false},
		{"allowed name inside longer name does not match", "worker-paul", "explore-deep", false},
		{"empty target is rejected", "Paul", "  ", false},
		{"whitespace is collapsed", "Paul", "  git-master ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Authorize(tt.caller, tt.target)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.True(t, d.Restricted)
		})
	}
}

func TestAuthorize_UnknownCaller(t *testing.T) {
	g := Default()
	d := g.Authorize("freelancer", "ultrabrain")
	assert.True(t, d.Allowed)
	assert.False(t, d.Restricted)

	strict := Default(WithStrict(true))
	d = strict.Authorize("freelancer", "ultrabrain")
	assert.False(t, d.Allowed)
	assert.True(t, d.Restricted)
}

func TestAuthorize_CallerWithRoleSuffix(t *testing.T) {
	g := Default()
	d := g.Authorize("Paul (Orchestrator)", "explore")
	assert.True(t, d.Allowed)
}

func TestAuthorize_ExactMatchPreferred(t *testing.T) {
	g := New(map[string][]string{
		"lead": {"Joshua", "Joshua (Test Runner)"},
	})
	d := g.Authorize("lead", "joshua (test runner)")
	require.True(t, d.Allowed)
	assert.Equal(t, "Joshua (Test Runner)", d.Matched)
}

func TestCheck_ViolationCarriesAllowedList(t *testing.T) {
	g := Default()
	err := g.Check("planner-paul", "ultrabrain")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))

	var v *ViolationError
	require.True(t, errors.As(err, &v))
	assert.Equal(t, "planner-paul", v.Caller)
	assert.Equal(t, "ultrabrain", v.Target)
	assert.Equal(t, DefaultEdges()[AgentPlannerPaul], v.AllowedTargets)
	assert.Contains(t, err.Error(), "Allowed targets: Paul, Solomon (Spec Writer)")
}

func TestCheck_Allowed(t *testing.T) {
	assert.NoError(t, Default().Check("Paul", "Joshua (Test Runner)"))
}

func TestNew_DeduplicatesTargets(t *testing.T) {
	g := New(map[string][]string{"Lead": {"explore", "Explore", "", "librarian"}})
	targets, ok := g.AllowedTargets("lead")
	require.True(t, ok)
	assert.Equal(t, []string{"explore", "librarian"}, targets)
	assert.Equal(t, []string{"lead"}, g.Callers())
}

func TestSameIdentity(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"paul", "Paul", true},
		{"paul", "paul-junior", false},
		{"Joshua (Test Runner)", "joshua", true},
		{"Joshua (Test Runner)", "Joshua (test  runner)", true},
		{"Joshua (Test Runner)", "Joshua (Reviewer)", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, SameIdentity(tt.a, tt.b))
		})
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "timothy", BaseName("Timothy (Implementation Reviewer)"))
	assert.Equal(t, "explore", BaseName(" Explore "))
}
