package protect

import (
	"errors"
	"testing"
)

func TestGuardCheck(t *testing.T) {
	g := New(WithPatterns("infra/**"), WithFileTypes("tfstate"))

	tests := []struct {
		path      string
		protected bool
	}{
		{".conductor/approvals.json", true},
		{".conductor/state.db", true},
		{".git/config", true},
		{"./.git/HEAD", true},
		{"services/api/.env", true},
		{".env.production", true},
		{"certs/server.PEM", true},
		{"infra/main.tf", true},
		{"terraform.tfstate", true},
		{"src/auth/login.go", false},
		{"docs/plans/feature.md", false},
		{"environment.go", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := g.Check(tt.path)
			if got := err != nil; got != tt.protected {
				t.Fatalf("Check(%q) protected = %v, want %v (err: %v)", tt.path, got, tt.protected, err)
			}
			if tt.protected {
				var denied *DeniedError
				if !errors.As(err, &denied) || !errors.Is(err, ErrProtected) {
					t.Errorf("expected *DeniedError wrapping ErrProtected, got %T", err)
				}
			}
		})
	}
}

func TestNilGuard(t *testing.T) {
	var g *Guard
	if err := g.Check(".conductor/approvals.json"); err != nil {
		t.Errorf("nil guard should protect nothing, got %v", err)
	}
}
