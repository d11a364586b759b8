package models

import "testing"

func TestCategory_RequiresApproval(t *testing.T) {
	tests := []struct {
		category Category
		want     bool
	}{
		{CategoryImplementation, true},
		{CategoryPlanReview, true},
		{CategorySpecReview, true},
		{CategoryExplore, false},
		{CategoryGeneral, false},
		{CategoryTesting, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			if got := tt.category.RequiresApproval(); got != tt.want {
				t.Errorf("Category(%q).RequiresApproval() = %v, want %v", tt.category, got, tt.want)
			}
		})
	}
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"implementation", CategoryImplementation},
		{" Impl ", CategoryImplementation},
		{"plan", CategoryPlanReview},
		{"spec-review", CategorySpecReview},
		{"tests", CategoryTesting},
		{"explore", CategoryExplore},
		{"", CategoryGeneral},
		{"visual-engineering", CategoryGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseCategory(tt.in); got != tt.want {
				t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
