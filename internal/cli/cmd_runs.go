// Package cli implements the concord command-line interface.
package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newRunsCmd creates the runs command
func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List reconciliation passes",
		Long: `List recent reconciliation passes with their counts and duration.

Each 'concord sync' appends one run to the audit log; runs are never
mutated after completion.

Examples:
  concord runs                 # List recent runs
  concord runs --limit 50      # Show more history
  concord runs show 12         # Show one run with its errors`,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListSyncRuns(limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("No reconciliation passes recorded yet.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "RUN\tSTARTED\tPROJECTS\tFAILED\tISSUES\tDURATION")
			for _, run := range runs {
				duration := "-"
				if run.CompletedAt != nil {
					duration = (time.Duration(run.DurationMs) * time.Millisecond).String()
				}
				_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\n",
					run.ID, formatRelativeTime(run.StartedAt),
					run.ProjectsProcessed, run.ProjectsFailed, run.IssuesSynced, duration)
			}
			_ = w.Flush()
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of runs to show")
	cmd.AddCommand(newRunsShowCmd())
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one reconciliation pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := store.GetSyncRun(id)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			if run == nil {
				return fmt.Errorf("run %d not found", id)
			}

			fmt.Printf("Run %d\n", run.ID)
			fmt.Printf("  Started:   %s\n", run.StartedAt.Format(time.RFC3339))
			if run.CompletedAt != nil {
				fmt.Printf("  Completed: %s (%s)\n",
					run.CompletedAt.Format(time.RFC3339),
					(time.Duration(run.DurationMs) * time.Millisecond).String())
			} else {
				fmt.Println("  Completed: still running or aborted")
			}
			fmt.Printf("  Projects:  %d processed, %d failed\n", run.ProjectsProcessed, run.ProjectsFailed)
			fmt.Printf("  Issues:    %d synced\n", run.IssuesSynced)
			if len(run.Errors) > 0 {
				fmt.Println("  Errors:")
				for _, e := range run.Errors {
					fmt.Printf("    - %s\n", e)
				}
			}
			return nil
		},
	}
}
