package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/approval"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	approvalsLimit int
	checkCategory  string
	checkTaskID    string
	checkPlan      string
	checkText      string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and update the approval ledger",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded verdicts, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger(env.cfg, env.root)
		if err != nil {
			return err
		}
		records := ledger.Records()
		if len(records) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No approvals recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "WHEN\tAPPROVER\tTASK\tSTATUS")
		shown := 0
		for i := len(records) - 1; i >= 0 && (approvalsLimit <= 0 || shown < approvalsLimit); i-- {
			r := records[i]
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Timestamp.Local().Format(time.DateTime), r.Approver, r.TaskID, colorVerdict(r.Status))
			shown++
		}
		return w.Flush()
	},
}

var approvalsRecordCmd = &cobra.Command{
	Use:   "record <task-id> <approver> <approved|rejected>",
	Short: "Append a verdict to the ledger",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := approval.ParseStatus(args[2])
		if err != nil {
			return err
		}
		ledger, err := openLedger(env.cfg, env.root)
		if err != nil {
			return err
		}
		rec := ledger.Record(args[0], args[1], status)
		fmt.Fprintf(cmd.OutOrStdout(), "recorded %s from %s for %s at %s\n",
			colorVerdict(rec.Status), rec.Approver, rec.TaskID, rec.Timestamp.Format(time.RFC3339))
		return nil
	},
}

var approvalsCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a task of a category may be marked complete",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ledger, err := openLedger(env.cfg, env.root)
		if err != nil {
			return err
		}
		gate := newGate(env.cfg, env.root, ledger)
		category := models.ParseCategory(checkCategory)

		err = gate.CheckCompletion(approval.CompletionRequest{
			TaskID:   checkTaskID,
			Category: category,
			PlanPath: checkPlan,
			Text:     checkText,
		})
		out := cmd.OutOrStdout()
		switch {
		case err == nil:
			if approver, ok := gate.Requirement(category); ok {
				fmt.Fprintf(out, "%s fresh approval from %s\n", color.GreenString("ok:"), approver)
			} else {
				fmt.Fprintf(out, "%s %s tasks need no approval\n", color.GreenString("ok:"), category)
			}
			return nil
		case errors.Is(err, approval.ErrStale):
			fmt.Fprintf(out, "%s %v\n", color.YellowString("stale:"), err)
		default:
			fmt.Fprintf(out, "%s %v\n", color.RedString("blocked:"), err)
		}
		return err
	},
}

func colorVerdict(s approval.Status) string {
	if s == approval.StatusApproved {
		return color.GreenString(string(s))
	}
	return color.RedString(string(s))
}

func init() {
	approvalsListCmd.Flags().IntVarP(&approvalsLimit, "limit", "n", 20, "Maximum records to show (0 for all)")

	f := approvalsCheckCmd.Flags()
	f.StringVar(&checkCategory, "category", string(models.CategoryImplementation), "Task category")
	f.StringVar(&checkTaskID, "task", "", "Task ID, for logging")
	f.StringVar(&checkPlan, "plan", "", "Plan file the work implements")
	f.StringVar(&checkText, "text", "", "Completion message to search for a plan reference")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsRecordCmd)
	approvalsCmd.AddCommand(approvalsCheckCmd)
}
