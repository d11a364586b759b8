package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/logging"
)

var (
	configPath   string
	logLevel     string
	workspaceDir string
)

// runtimeEnv is the state shared by subcommands after PersistentPreRunE.
type runtimeEnv struct {
	cfg     *config.Config
	root    string
	log     zerolog.Logger
	logFile *os.File
}

var env runtimeEnv

var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Delegation orchestration and safety layer",
	Long: `Conductor sits between an orchestrating agent and the subagents it
delegates to. Every delegation passes through, in order:

- the hierarchy check (may this caller delegate to that agent?)
- file locks (does another running task write the same files?)
- the concurrency limit (how many tasks may this session run at once?)

Sync tasks are waited on until their output converges. Verifier verdicts are
recorded in the approval ledger, which gates marking work complete.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if env.logFile != nil {
			env.logFile.Close()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .conductor.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "C", "", "Workspace root (default: current directory)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(delegateCmd)
	rootCmd.AddCommand(authzCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	root := workspaceDir
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	opts := logging.Options{Level: level, Out: cmd.ErrOrStderr()}
	var logFile *os.File
	if cfg.Log.File {
		if logFile, err = logging.OpenFile(root); err != nil {
			return err
		}
		opts.Extra = logFile
	}
	log, err := logging.New(opts)
	if err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return err
	}

	env = runtimeEnv{cfg: cfg, root: root, log: log, logFile: logFile}
	return nil
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
