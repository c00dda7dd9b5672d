// Package cli implements the concord command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/files"
)

// newFilesCmd creates the files command
func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files <project>",
		Short: "Mirror a project's files into the memory store",
		Long: `Scan the project's filesystem path and mirror changed files into its
memory-store folder.

Unchanged files (by content digest) are skipped, changed files replace
their remote copy, and files that disappeared locally are removed. The
project needs a filesystem path and a provisioned memory folder.

Examples:
  concord files ACME
  concord files ACME --path /srv/acme    # Override the stored path`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier := args[0]
			pathOverride, _ := cmd.Flags().GetString("path")

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

			project, err := store.GetProject(identifier)
			if err != nil {
				return err
			}
			if project == nil {
				return fmt.Errorf("project %s not found", identifier)
			}

			root := project.FilesystemPath
			if pathOverride != "" {
				root = pathOverride
				if err := store.UpsertProject(&db.ProjectUpdate{
					Identifier:     identifier,
					FilesystemPath: &pathOverride,
				}); err != nil {
					return err
				}
			}
			if root == "" {
				return fmt.Errorf("project %s has no filesystem path (use --path)", identifier)
			}
			if project.MemoryFolderID == "" {
				return fmt.Errorf("project %s has no memory folder; run 'concord provision' first", identifier)
			}

			mem, err := newMemoryClient(cfg, logger)
			if err != nil {
				return err
			}
			if mem == nil {
				return fmt.Errorf("files: memory store is not configured (set memory.base_url)")
			}

			tracker := files.NewTracker(store, mem, logger, cfg.Sync.FileIgnores)
			res, err := tracker.SyncProjectFiles(cmd.Context(), identifier, project.MemoryFolderID, root)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %d uploaded, %d replaced, %d unchanged, %d removed\n",
				identifier, res.Uploaded, res.Replaced, res.Skipped, res.Removed)
			if res.Warnings > 0 {
				fmt.Printf("  warnings: %d\n", res.Warnings)
			}
			return nil
		},
	}
	cmd.Flags().String("path", "", "Filesystem path to mirror (stored on the project)")
	return cmd
}
