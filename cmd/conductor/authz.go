package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/hierarchy"
)

var authzCmd = &cobra.Command{
	Use:   "authz",
	Short: "Inspect the delegation hierarchy",
}

var authzCheckCmd = &cobra.Command{
	Use:   "check <caller> <target>",
	Short: "Check whether caller may delegate to target",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		g := hierarchy.Default()
		d := g.Authorize(args[0], args[1])
		out := cmd.OutOrStdout()
		switch {
		case !d.Restricted:
			fmt.Fprintf(out, "%s %q has no entry in the hierarchy and is unrestricted\n", color.GreenString("allowed:"), args[0])
			return nil
		case d.Allowed:
			fmt.Fprintf(out, "%s %q may delegate to %q (matched %q)\n", color.GreenString("allowed:"), args[0], args[1], d.Matched)
			return nil
		}
		err := g.Check(args[0], args[1])
		fmt.Fprintf(out, "%s %v\n", color.RedString("denied:"), err)
		var v *hierarchy.ViolationError
		if errors.As(err, &v) {
			return fmt.Errorf("delegation from %q to %q denied", v.Caller, v.Target)
		}
		return err
	},
}

var authzListCmd = &cobra.Command{
	Use:   "list [caller]",
	Short: "List the allowed targets for every caller, or one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g := hierarchy.Default()
		out := cmd.OutOrStdout()

		callers := g.Callers()
		if len(args) == 1 {
			callers = args[:1]
		}
		for _, caller := range callers {
			targets, ok := g.AllowedTargets(caller)
			if !ok {
				fmt.Fprintf(out, "%s: unrestricted (no entry)\n", caller)
				continue
			}
			fmt.Fprintf(out, "%s\n  %s\n", color.New(color.Bold).Sprint(caller), strings.Join(targets, "\n  "))
		}
		return nil
	},
}

func init() {
	authzCmd.AddCommand(authzCheckCmd)
	authzCmd.AddCommand(authzListCmd)
}
