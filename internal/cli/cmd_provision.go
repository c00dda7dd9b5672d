// Package cli implements the concord command-line interface.
package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/memory"
	"github.com/randalmurphal/concord/internal/provision"
)

// newProvisionCmd creates the provision command
func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision memory-store agents for all projects",
		Long: `Ensure every tracked project has an agent and a folder in the memory
store, attaching the requested capabilities.

Work proceeds in bounded-concurrency batches with a durable checkpoint
after each batch. Re-running with the same --run-id resumes: items that
already succeeded are skipped, failed items are retried.

Examples:
  concord provision                          # Provision all projects
  concord provision --run-id nightly-0612    # Resumable run
  concord provision cleanup nightly-0612     # Report what a rollback would touch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run-id")
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			capabilities, _ := cmd.Flags().GetStringSlice("capability")

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

			mem, err := newMemoryClient(cfg, logger)
			if err != nil {
				return err
			}
			if mem == nil {
				return fmt.Errorf("provision: memory store is not configured (set memory.base_url)")
			}

			projects, err := store.GetAllProjects()
			if err != nil {
				return fmt.Errorf("list projects: %w", err)
			}
			var items []provision.Item
			for _, p := range projects {
				if p.Status == db.ProjectArchived {
					continue
				}
				name := p.Name
				if name == "" {
					name = p.Identifier
				}
				items = append(items, provision.Item{Identifier: p.Identifier, Name: name})
			}
			if len(items) == 0 {
				fmt.Println("No projects to provision.")
				return nil
			}

			if concurrency <= 0 {
				concurrency = cfg.Provision.MaxConcurrency
			}
			orch := provision.New(store, provisionFunc(store, mem, capabilities), logger, provision.Options{
				MaxConcurrency: concurrency,
				ItemTimeout:    cfg.Provision.ItemTimeout,
				Cleanup:        cleanupFunc(store, mem),
			})

			start := time.Now()
			res, err := orch.Run(cmd.Context(), runID, items)
			if res != nil {
				fmt.Printf("Run %s: %d succeeded (%d skipped), %d failed in %s\n",
					res.RunID, res.Succeeded, res.Skipped, res.Failed,
					time.Since(start).Round(time.Millisecond))
				for _, f := range res.Failures {
					fmt.Printf("  failed %s: %s\n", f.Identifier, f.Err)
				}
			}
			return err
		},
	}
	cmd.Flags().String("run-id", "", "Run identifier for resuming (generated when empty)")
	cmd.Flags().Int("concurrency", 0, "Batch size (defaults to provision.max_concurrency)")
	cmd.Flags().StringSlice("capability", nil, "Capability to attach to each agent (repeatable)")
	cmd.AddCommand(newProvisionCleanupCmd())
	return cmd
}

// provisionFunc builds the per-item work: ensure the agent and its folder
// exist, attach capabilities, and record the external ids on the project.
func provisionFunc(store *db.Store, mem *memory.Client, capabilities []string) provision.Func {
	return func(ctx context.Context, item provision.Item) (string, error) {
		agent, err := mem.EnsureAgent(ctx, item.Name)
		if err != nil {
			return "", fmt.Errorf("ensure agent: %w", err)
		}

		folder, err := mem.EnsureFolder(ctx, agent.ID, item.Identifier)
		if err != nil {
			return "", fmt.Errorf("ensure folder: %w", err)
		}

		if len(capabilities) > 0 {
			if err := mem.AttachCapabilities(ctx, agent.ID, capabilities); err != nil {
				return "", fmt.Errorf("attach capabilities: %w", err)
			}
		}

		if err := store.UpsertProject(&db.ProjectUpdate{
			Identifier:     item.Identifier,
			AgentID:        &agent.ID,
			MemoryFolderID: &folder.ID,
		}); err != nil {
			return "", err
		}
		return agent.ID, nil
	}
}

// cleanupFunc removes the agent a failed item left behind, so a retry
// starts from a clean slate. Agents recorded on the project by an earlier
// successful run are kept: those predate the failed attempt.
func cleanupFunc(store *db.Store, mem *memory.Client) provision.CleanupFunc {
	return func(ctx context.Context, item provision.Item) error {
		p, err := store.GetProject(item.Identifier)
		if err != nil {
			return err
		}
		if p != nil && p.AgentID != "" {
			return nil
		}

		agent, found, err := mem.FindAgent(ctx, item.Name)
		if err != nil || !found {
			return err
		}
		return mem.CleanupAgent(ctx, agent.ID, item.Name)
	}
}

func newProvisionCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup <run-id>",
		Short: "Report what cleaning up a provisioning run would remove",
		Long: `List the agents a provisioning run created or adopted, without
deleting anything. Cleanup is report-only: removal of shared agents is
an operator decision.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			orch := provision.New(store, nil, newLogger(), provision.Options{})
			entries, err := orch.CleanupReport(args[0])
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("Nothing to clean up for this run.")
				return nil
			}
			fmt.Printf("Run %s provisioned %d agents:\n", args[0], len(entries))
			for _, e := range entries {
				fmt.Printf("  %s -> %s\n", e.Identifier, e.ExternalID)
			}
			return nil
		},
	}
}
