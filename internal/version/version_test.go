package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	old := Commit
	defer func() { Commit = old }()

	Commit = "0123456789abcdef"
	got := Get()
	if !strings.HasPrefix(got, "0.1.0") {
		t.Errorf("expected release prefix, got %q", got)
	}
	if !strings.HasSuffix(got, "+0123456") {
		t.Errorf("expected short commit suffix, got %q", got)
	}
}
