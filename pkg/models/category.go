package models

import "strings"

// Category classifies a delegation for admission limits and completion gates.
type Category string

const (
	// CategoryGeneral is the default for delegations without a declared category.
	CategoryGeneral Category = "general"
	// CategoryExplore covers read-only research and codebase exploration.
	CategoryExplore Category = "explore"
	// CategoryImplementation covers code-writing work.
	CategoryImplementation Category = "implementation"
	// CategoryPlanReview covers review of an implementation plan.
	CategoryPlanReview Category = "plan-review"
	// CategorySpecReview covers review of a specification.
	CategorySpecReview Category = "spec-review"
	// CategoryTesting covers test execution and verification runs.
	CategoryTesting Category = "testing"
)

// Valid returns true if the category is a known value.
func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryExplore, CategoryImplementation,
		CategoryPlanReview, CategorySpecReview, CategoryTesting:
		return true
	default:
		return false
	}
}

// RequiresApproval reports whether completing work of this category is gated
// on a recent verifier approval.
func (c Category) RequiresApproval() bool {
	switch c {
	case CategoryImplementation, CategoryPlanReview, CategorySpecReview:
		return true
	default:
		return false
	}
}

// ParseCategory maps free-form input to a Category, falling back to general.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	switch c {
	case "impl", "implement", "code":
		return CategoryImplementation
	case "plan", "plan_review", "planreview":
		return CategoryPlanReview
	case "spec", "spec_review", "specreview":
		return CategorySpecReview
	case "test", "tests":
		return CategoryTesting
	}
	if c.Valid() {
		return c
	}
	return CategoryGeneral
}
