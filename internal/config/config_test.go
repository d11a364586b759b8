package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 3, cfg.Concurrency.Limit)
	assert.Equal(t, 500*time.Millisecond, cfg.Convergence.PollInterval)
	assert.Equal(t, 3, cfg.Convergence.StablePolls)
	assert.Equal(t, 10*time.Second, cfg.Convergence.MinStability)
	assert.Equal(t, 60*time.Second, cfg.Convergence.NoOutputTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Convergence.MaxWait)
	assert.Equal(t, 30*time.Minute, cfg.Locks.StaleAfter)
	assert.Equal(t, 3, cfg.Clarification.MaxRounds)
	assert.Equal(t, ".conductor/approvals.json", cfg.Approvals.LedgerPath)
	assert.Equal(t, 100, cfg.Approvals.MaxEntries)
	assert.Equal(t, 10*time.Minute, cfg.Approvals.Freshness)
	assert.True(t, cfg.Approvals.StaleCheck)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
concurrency:
  limit: 5
  categories:
    implementation: 2
convergence:
  poll_interval: 250ms
  max_wait: 10m
approvals:
  freshness: 15m
  requirements:
    implementation: Timothy (Implementation Reviewer)
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Concurrency.Limit)
	assert.Equal(t, map[models.Category]int{models.CategoryImplementation: 2}, cfg.CategoryLimits())
	assert.Equal(t, 250*time.Millisecond, cfg.Convergence.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Convergence.MaxWait)
	assert.Equal(t, 10*time.Second, cfg.Convergence.MinStability, "unset keys keep defaults")
	assert.Equal(t, 15*time.Minute, cfg.Approvals.Freshness)
	assert.Equal(t, "Timothy (Implementation Reviewer)", cfg.Approvals.Requirements["implementation"])
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFromPathMissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("concurrency:\n  limit: 5\n"), 0644))
	t.Setenv("CONDUCTOR_CONCURRENCY_LIMIT", "7")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Concurrency.Limit)
}

func TestFindProjectConfigWalksUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	want := filepath.Join(root, ProjectFileName)
	require.NoError(t, os.WriteFile(want, []byte("log:\n  level: warn\n"), 0644))

	assert.Equal(t, want, findProjectConfigFrom(nested))
}

func TestNewViperMergesProjectConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	project := filepath.Join(t.TempDir(), ProjectFileName)
	require.NoError(t, os.WriteFile(project, []byte("clarification:\n  max_rounds: 5\n"), 0644))

	v, err := newViper(project)
	require.NoError(t, err)
	cfg, err := decode(v)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Clarification.MaxRounds)
	assert.Equal(t, 3, cfg.Concurrency.Limit)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero poll interval", func(c *Config) { c.Convergence.PollInterval = 0 }, "convergence.poll_interval"},
		{"no stable polls", func(c *Config) { c.Convergence.StablePolls = 0 }, "convergence.stable_polls"},
		{"stability beyond ceiling", func(c *Config) { c.Convergence.MinStability = 10 * time.Minute }, "convergence.min_stability"},
		{"bad glob", func(c *Config) { c.Locks.PlanGlobs = []string{"plans/[a"} }, "locks.plan_globs"},
		{"bad protect glob", func(c *Config) { c.Protect.Patterns = []string{"secrets/[x"} }, "protect.patterns"},
		{"zero rounds", func(c *Config) { c.Clarification.MaxRounds = 0 }, "clarification.max_rounds"},
		{"empty ledger path", func(c *Config) { c.Approvals.LedgerPath = " " }, "approvals.ledger_path"},
		{"unknown requirement category", func(c *Config) { c.Approvals.Requirements = map[string]string{"deploy": "x"} }, "approvals.requirements"},
		{"unknown limit category", func(c *Config) { c.Concurrency.Categories = map[string]int{"deploy": 1} }, "concurrency.categories"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestResolve(t *testing.T) {
	assert.Equal(t, filepath.Join("/ws", ".conductor/state.db"), Resolve("/ws", ".conductor/state.db"))
	assert.Equal(t, "/abs/state.db", Resolve("/ws", "/abs/state.db"))
}
