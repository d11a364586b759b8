package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/state"
	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	tasksParent string
	tasksStatus string
	tasksLimit  int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks [task-id]",
	Short: "List recorded delegations, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTasks,
}

func init() {
	tasksCmd.Flags().StringVar(&tasksParent, "parent", "", "Only tasks delegated by this session")
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "Only tasks in this status (queued, running, completed, error)")
	tasksCmd.Flags().IntVarP(&tasksLimit, "limit", "n", 20, "Maximum tasks to show (0 for all)")
}

func runTasks(cmd *cobra.Command, args []string) error {
	db, err := openState(env.cfg, env.root)
	if err != nil {
		return err
	}
	defer db.Close()

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		t, err := db.GetTask(args[0])
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("task %s not found", args[0])
		}
		if err != nil {
			return err
		}
		printTask(out, t)
		return nil
	}

	tasks, err := db.ListTasks(state.TaskFilter{
		ParentSessionID: tasksParent,
		Status:          models.TaskStatus(tasksStatus),
		Limit:           tasksLimit,
	})
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No delegations recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tCATEGORY\tSTATUS\tSTARTED\tFILES")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.TargetAgent, t.Category, colorStatus(t.Status),
			t.StartedAt.Local().Format(time.DateTime), strings.Join(t.Files, ","))
	}
	return w.Flush()
}

func printTask(w io.Writer, t *models.DelegatedTask) {
	fmt.Fprintf(w, "ID:          %s\n", t.ID)
	fmt.Fprintf(w, "Status:      %s\n", colorStatus(t.Status))
	fmt.Fprintf(w, "Caller:      %s\n", t.Caller)
	fmt.Fprintf(w, "Agent:       %s\n", t.TargetAgent)
	fmt.Fprintf(w, "Category:    %s\n", t.Category)
	fmt.Fprintf(w, "Parent:      %s\n", t.ParentSessionID)
	fmt.Fprintf(w, "Session:     %s\n", t.ChildSessionID)
	fmt.Fprintf(w, "Background:  %t\n", t.IsBackground)
	fmt.Fprintf(w, "Started:     %s\n", t.StartedAt.Local().Format(time.DateTime))
	if t.CompletedAt != nil {
		fmt.Fprintf(w, "Completed:   %s (%s)\n", t.CompletedAt.Local().Format(time.DateTime),
			t.CompletedAt.Sub(t.StartedAt).Truncate(time.Second))
	}
	if len(t.Files) > 0 {
		fmt.Fprintf(w, "Files:       %s\n", strings.Join(t.Files, ", "))
	}
	if t.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", t.Description)
	}
	if t.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", color.RedString(t.Error))
	}
	if t.Output != "" {
		fmt.Fprintf(w, "\n%s\n", t.Output)
	}
}

var statusColors = map[models.TaskStatus]func(string, ...interface{}) string{
	models.TaskStatusQueued:    color.WhiteString,
	models.TaskStatusRunning:   color.CyanString,
	models.TaskStatusCompleted: color.GreenString,
	models.TaskStatusError:     color.RedString,
}

func colorStatus(s models.TaskStatus) string {
	if f, ok := statusColors[s]; ok {
		return f(string(s))
	}
	return string(s)
}
