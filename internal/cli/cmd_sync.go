// Package cli implements the concord command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newSyncCmd creates the sync command
func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass",
		Long: `Run one reconciliation pass over all due projects.

A pass pulls the upstream tracker state into the local store, soft-deletes
records the upstream no longer lists, mirrors missing records into the
configured downstream systems, and reports content drift.

Examples:
  concord sync                 # Sync all due projects
  concord sync -v              # With debug logging`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng, src, err := buildEngine(cfg, store, logger)
			if err != nil {
				return err
			}

			// Fail fast on bad credentials instead of partway into a pass.
			if err := src.CheckAuth(cmd.Context()); err != nil {
				return fmt.Errorf("source auth: %w", err)
			}

			report, err := eng.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			fmt.Printf("Run %d: %d projects synced, %d failed, %d issues, %d records created, %d updated\n",
				report.RunID, report.ProjectsProcessed, report.ProjectsFailed,
				report.IssuesSynced, report.RecordsCreated, report.RecordsUpdated)
			if report.DriftDetected > 0 {
				fmt.Printf("Drift detected on %d issues (see log)\n", report.DriftDetected)
			}
			for _, e := range report.Errors {
				fmt.Printf("  error: %s\n", e)
			}
			return nil
		},
	}
	return cmd
}
