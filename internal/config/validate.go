package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Validate checks structural constraints that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("convergence.poll_interval", c.Convergence.PollInterval, positiveDuration),
		criterio.Run("convergence.stable_polls", c.Convergence.StablePolls, atLeast(1)),
		criterio.Run("convergence.min_stability", c.Convergence.MinStability, nonNegativeDuration),
		criterio.Run("convergence.no_output_timeout", c.Convergence.NoOutputTimeout, positiveDuration),
		criterio.Run("convergence.max_wait", c.Convergence.MaxWait, positiveDuration),
		c.validateWindows(),
		criterio.Run("locks.stale_after", c.Locks.StaleAfter, positiveDuration),
		criterio.Run("locks.sweep_interval", c.Locks.SweepInterval, positiveDuration),
		criterio.Run("locks.plan_globs", c.Locks.PlanGlobs, validGlobs),
		criterio.Run("clarification.max_rounds", c.Clarification.MaxRounds, atLeast(1)),
		criterio.Run("clarification.stale_after", c.Clarification.StaleAfter, positiveDuration),
		criterio.Run("approvals.ledger_path", c.Approvals.LedgerPath, notEmpty),
		criterio.Run("approvals.max_entries", c.Approvals.MaxEntries, atLeast(1)),
		criterio.Run("approvals.freshness", c.Approvals.Freshness, positiveDuration),
		criterio.Run("approvals.requirements", c.Approvals.Requirements, knownCategories),
		criterio.Run("concurrency.categories", c.Concurrency.Categories, knownCategoryKeys),
		criterio.Run("protect.patterns", c.Protect.Patterns, validGlobs),
		criterio.Run("state.db_path", c.State.DBPath, notEmpty),
		criterio.Run("log.level", c.Log.Level, logLevel),
	)
}

func (c *Config) validateWindows() error {
	if c.Convergence.MaxWait > 0 && c.Convergence.MinStability >= c.Convergence.MaxWait {
		return criterio.NewFieldErrors("convergence.min_stability",
			fmt.Errorf("must be shorter than max_wait (%s)", c.Convergence.MaxWait))
	}
	return nil
}

func positiveDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("must be positive, got %s", d)
	}
	return nil
}

func nonNegativeDuration(d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("must not be negative, got %s", d)
	}
	return nil
}

func atLeast(min int) func(int) error {
	return func(n int) error {
		if n < min {
			return fmt.Errorf("must be at least %d, got %d", min, n)
		}
		return nil
	}
}

func notEmpty(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("cannot be empty")
	}
	return nil
}

func validGlobs(globs []string) error {
	for _, g := range globs {
		if !doublestar.ValidatePattern(filepath.ToSlash(g)) {
			return fmt.Errorf("invalid glob %q", g)
		}
	}
	return nil
}

func knownCategories(m map[string]string) error {
	return knownCategoryKeysOf(keys(m))
}

func knownCategoryKeys(m map[string]int) error {
	return knownCategoryKeysOf(keys(m))
}

func knownCategoryKeysOf(ks []string) error {
	for _, k := range ks {
		if models.ParseCategory(k) == models.CategoryGeneral && !strings.EqualFold(k, string(models.CategoryGeneral)) {
			return fmt.Errorf("unknown category %q", k)
		}
	}
	return nil
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func logLevel(s string) error {
	if s == "" {
		return nil
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(s)); err != nil {
		return fmt.Errorf("unknown level %q", s)
	}
	return nil
}
