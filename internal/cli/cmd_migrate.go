// Package cli implements the concord command-line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/concord/internal/migrate"
)

// newMigrateCmd creates the migrate command
func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <snapshot.json>",
		Short: "Import a legacy flat-file state snapshot",
		Long: `Import the JSON state file earlier releases kept on disk into the
store. The import runs exactly once: it refuses a store that already
holds data, and renames the snapshot to *.bak on success.

Examples:
  concord migrate ~/.concord/state.json`,
		Args: cobra.ExactArgs(1),
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

			res, err := migrate.New(store, logger).ImportSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d projects; snapshot moved to %s\n", res.Projects, res.BackupPath)
			return nil
		},
	}
}
