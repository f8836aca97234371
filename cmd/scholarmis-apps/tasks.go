package main

import (
	"fmt"
	"text/tabwriter"

	"scholarmis-apps/core/auth"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and run periodic tasks",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered task functions and stored periodic tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "registered:")
		for _, name := range rt.Tasks.Names() {
			fmt.Fprintln(out, "  "+name)
		}
		items, err := rt.Stores.Tasks.List(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "periodic:")
		tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
		for _, item := range items {
			schedule := "-"
			switch {
			case item.Crontab != nil:
				schedule = item.Crontab.Spec()
			case item.Interval != nil:
				schedule = fmt.Sprintf("every %ds", item.Interval.Every)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\tenabled=%t\truns=%d\n", item.Name, item.Task, schedule, item.Enabled, item.TotalRunCount)
		}
		return tw.Flush()
	},
}

var tasksRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a periodic task or registered task once",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()
		result, err := rt.Beat.RunNow(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result)
		return nil
	},
}

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token <token>",
	Short: "Print the bcrypt hash of an API token for auth.tokens[].hash",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashToken(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd, tasksRunCmd)
	rootCmd.AddCommand(tasksCmd, hashTokenCmd)
}
