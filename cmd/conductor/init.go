package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/config"
	"github.com/ShayCichocki/conductor/internal/state"
)

var initForce bool

const projectTemplate = `# conductor project settings. Values here override ~/.config/conductor/config.yaml.
concurrency:
  limit: 3
  # categories:
  #   implementation: 2

convergence:
  max_wait: 5m
  no_output_timeout: 60s

approvals:
  freshness: 10m
  stale_check: true

log:
  level: info
  file: false
`

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a conductor workspace",
	Long: `Initialize a directory for use with conductor.

Creates the .conductor directory with the task database, and writes a
starter .conductor.yaml unless one exists.

Examples:
  conductor init              # Initialize current directory
  conductor init ./myproject  # Initialize specific directory
  conductor init --force      # Overwrite an existing .conductor.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing .conductor.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	target := env.root
	if len(args) > 0 {
		target = args[0]
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}
	out := cmd.OutOrStdout()

	db, err := state.OpenWorkspace(abs)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s task database at %s\n", color.GreenString("✓"), db.Path())
	db.Close()

	cfgPath := filepath.Join(abs, config.ProjectFileName)
	if _, err := os.Stat(cfgPath); err == nil && !initForce {
		fmt.Fprintf(out, "%s %s already exists (use --force to overwrite)\n", color.YellowString("•"), cfgPath)
		return nil
	}
	if err := os.WriteFile(cfgPath, []byte(projectTemplate), 0644); err != nil {
		return fmt.Errorf("write %s: %w", config.ProjectFileName, err)
	}
	fmt.Fprintf(out, "%s wrote %s\n", color.GreenString("✓"), cfgPath)
	return nil
}
