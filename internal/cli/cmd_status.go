// Package cli implements the concord command-line interface.
package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/concord/internal/db"
)

// newStatusCmd creates the status command
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show tracked projects",
		Long: `Display every tracked project with its issue count and sync freshness.

Examples:
  concord status               # List all projects
  concord status --drift       # Also count unresolved drift per system`,
		RunE: func(cmd *cobra.Command, args []string) error {
			showDrift, _ := cmd.Flags().GetBool("drift")

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			projects, err := store.GetAllProjects()
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			if len(projects) == 0 {
				fmt.Println("No projects tracked yet. Run 'concord sync' first.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "PROJECT\tISSUES\tSTATUS\tCHECKED\tSYNCED")
			for _, p := range projects {
				checked := "-"
				if p.LastCheckedAt != nil {
					checked = formatRelativeTime(*p.LastCheckedAt)
				}
				synced := "-"
				if p.LastSyncAt != nil {
					synced = formatRelativeTime(*p.LastSyncAt)
				}
				_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
					p.Identifier, p.IssueCount, p.Status, checked, synced)
			}
			_ = w.Flush()

			if showDrift {
				return printDrift(store)
			}
			return nil
		},
	}
	cmd.Flags().Bool("drift", false, "Also count unresolved content drift")
	return cmd
}

func printDrift(store *db.Store) error {
	for _, system := range []string{db.SystemKanban, db.SystemBeads} {
		issues, err := store.GetIssuesWithContentMismatch(system)
		if err != nil {
			return fmt.Errorf("drift query %s: %w", system, err)
		}
		if len(issues) == 0 {
			continue
		}
		fmt.Printf("\nDrift in %s (%d):\n", system, len(issues))
		for _, i := range issues {
			fmt.Printf("  %s (%s)\n", i.Identifier, i.ProjectIdentifier)
		}
	}
	return nil
}
