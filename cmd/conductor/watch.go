package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/internal/tui"
)

var (
	watchRefresh time.Duration
	watchParent  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of delegations and approvals",
	Long: `Open a terminal dashboard over the workspace task database and
approval ledger. It observes any conductor process using the same workspace.

Keys: tab or 1-3 switch panels, r refreshes, q quits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openState(env.cfg, env.root)
		if err != nil {
			return err
		}
		defer db.Close()

		ledger, err := openLedger(env.cfg, env.root)
		if err != nil {
			return err
		}

		src := tui.NewStoreSource(db, ledger, state.TaskFilter{ParentSessionID: watchParent})
		d := tui.NewDashboard(src, tui.WithRefresh(watchRefresh))
		if _, err := tea.NewProgram(d, tea.WithAltScreen()).Run(); err != nil {
			return fmt.Errorf("run dashboard: %w", err)
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchRefresh, "refresh", time.Second, "Refresh interval")
	watchCmd.Flags().StringVar(&watchParent, "parent", "", "Only tasks delegated by this session")
}
