// Package config handles configuration loading for conductor.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// ProjectFileName is the per-project override file searched for from the
// working directory upward.
const ProjectFileName = ".conductor.yaml"

// EnvPrefix prefixes environment overrides, e.g. CONDUCTOR_CONCURRENCY_LIMIT.
const EnvPrefix = "CONDUCTOR"

// Config holds all configuration for conductor.
type Config struct {
	Anthropic     AnthropicConfig     `mapstructure:"anthropic"`
	Concurrency   ConcurrencyConfig   `mapstructure:"concurrency"`
	Convergence   ConvergenceConfig   `mapstructure:"convergence"`
	Locks         LocksConfig         `mapstructure:"locks"`
	Clarification ClarificationConfig `mapstructure:"clarification"`
	Approvals     ApprovalsConfig     `mapstructure:"approvals"`
	Protect       ProtectConfig       `mapstructure:"protect"`
	State         StateConfig         `mapstructure:"state"`
	Log           LogConfig           `mapstructure:"log"`
}

// AnthropicConfig holds model runtime settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Bedrock    bool   `mapstructure:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// ConcurrencyConfig bounds in-flight delegations per parent session.
type ConcurrencyConfig struct {
	// Limit <= 0 disables the check.
	Limit int `mapstructure:"limit"`
	// Categories caps individual categories independently of Limit.
	Categories map[string]int `mapstructure:"categories"`
}

// ConvergenceConfig tunes the completion detector.
type ConvergenceConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StablePolls     int           `mapstructure:"stable_polls"`
	MinStability    time.Duration `mapstructure:"min_stability"`
	NoOutputTimeout time.Duration `mapstructure:"no_output_timeout"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
	// BackgroundMaxWait is the ceiling for watched background tasks.
	BackgroundMaxWait time.Duration `mapstructure:"background_max_wait"`
}

// LocksConfig tunes the file lock registry.
type LocksConfig struct {
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	PlanGlobs     []string      `mapstructure:"plan_globs"`
}

// ClarificationConfig tunes the clarification round trip.
type ClarificationConfig struct {
	MaxRounds  int           `mapstructure:"max_rounds"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// ApprovalsConfig tunes the approval ledger and completion gate.
type ApprovalsConfig struct {
	LedgerPath string        `mapstructure:"ledger_path"`
	MaxEntries int           `mapstructure:"max_entries"`
	Freshness  time.Duration `mapstructure:"freshness"`
	StaleCheck bool          `mapstructure:"stale_check"`
	// Requirements overrides the verifier required per category. An empty
	// value removes the requirement.
	Requirements map[string]string `mapstructure:"requirements"`
}

// ProtectConfig adds to the paths subagents may never write. The built-in
// list (.conductor/**, .git/**, .env files, key material) always applies.
type ProtectConfig struct {
	Patterns  []string `mapstructure:"patterns"`
	FileTypes []string `mapstructure:"file_types"`
}

// StateConfig locates the task database.
type StateConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	// File mirrors log output to .conductor/logs/conductor.log.
	File bool `mapstructure:"file"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, CONDUCTOR_*)
// 2. Project config (.conductor.yaml in current directory or parent)
// 3. User config (~/.config/conductor/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v, err := newViper(findProjectConfig())
	if err != nil {
		return nil, err
	}
	return decode(v)
}

// LoadFromPath loads configuration from a specific file on top of the
// defaults, with environment overrides applied.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	bindEnv(v)
	return decode(v)
}

// Viper returns the merged settings, for "conductor config <key>".
func Viper() (*viper.Viper, error) {
	return newViper(findProjectConfig())
}

func newViper(projectConfig string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return v, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("anthropic.api_key", "CONDUCTOR_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.bedrock", false)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("concurrency.limit", d.Concurrency.Limit)
	v.SetDefault("concurrency.categories", map[string]int{})

	v.SetDefault("convergence.poll_interval", d.Convergence.PollInterval)
	v.SetDefault("convergence.stable_polls", d.Convergence.StablePolls)
	v.SetDefault("convergence.min_stability", d.Convergence.MinStability)
	v.SetDefault("convergence.no_output_timeout", d.Convergence.NoOutputTimeout)
	v.SetDefault("convergence.max_wait", d.Convergence.MaxWait)
	v.SetDefault("convergence.background_max_wait", d.Convergence.BackgroundMaxWait)

	v.SetDefault("locks.stale_after", d.Locks.StaleAfter)
	v.SetDefault("locks.sweep_interval", d.Locks.SweepInterval)
	v.SetDefault("locks.plan_globs", d.Locks.PlanGlobs)

	v.SetDefault("clarification.max_rounds", d.Clarification.MaxRounds)
	v.SetDefault("clarification.stale_after", d.Clarification.StaleAfter)

	v.SetDefault("approvals.ledger_path", d.Approvals.LedgerPath)
	v.SetDefault("approvals.max_entries", d.Approvals.MaxEntries)
	v.SetDefault("approvals.freshness", d.Approvals.Freshness)
	v.SetDefault("approvals.stale_check", d.Approvals.StaleCheck)
	v.SetDefault("approvals.requirements", map[string]string{})

	v.SetDefault("protect.patterns", []string{})
	v.SetDefault("protect.file_types", []string{})

	v.SetDefault("state.db_path", d.State.DBPath)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
}

// getUserConfigDir returns the XDG config directory for conductor.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "conductor")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "conductor")
	}
	return filepath.Join(home, ".config", "conductor")
}

// findProjectConfig searches for .conductor.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findProjectConfigFrom(cwd)
}

func findProjectConfigFrom(dir string) string {
	for {
		configPath := filepath.Join(dir, ProjectFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5-20250929",
			AWSRegion: "us-east-1",
		},
		Concurrency: ConcurrencyConfig{
			Limit:      3,
			Categories: map[string]int{},
		},
		Convergence: ConvergenceConfig{
			PollInterval:      500 * time.Millisecond,
			StablePolls:       3,
			MinStability:      10 * time.Second,
			NoOutputTimeout:   60 * time.Second,
			MaxWait:           5 * time.Minute,
			BackgroundMaxWait: 30 * time.Minute,
		},
		Locks: LocksConfig{
			StaleAfter:    30 * time.Minute,
			SweepInterval: time.Minute,
			PlanGlobs: []string{
				".conductor/plans/**",
				".paul/plans/**",
				".sisyphus/plans/**",
				"docs/plans/**",
			},
		},
		Clarification: ClarificationConfig{
			MaxRounds:  3,
			StaleAfter: 30 * time.Minute,
		},
		Approvals: ApprovalsConfig{
			LedgerPath:   ".conductor/approvals.json",
			MaxEntries:   100,
			Freshness:    10 * time.Minute,
			StaleCheck:   true,
			Requirements: map[string]string{},
		},
		State: StateConfig{
			DBPath: ".conductor/state.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// CategoryLimits returns the per-category limits keyed by parsed category.
func (c *Config) CategoryLimits() map[models.Category]int {
	out := make(map[models.Category]int, len(c.Concurrency.Categories))
	for k, n := range c.Concurrency.Categories {
		out[models.ParseCategory(k)] = n
	}
	return out
}

// Resolve returns p joined onto root unless it is already absolute.
func Resolve(root, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
