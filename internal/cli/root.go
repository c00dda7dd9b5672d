// Package cli implements the concord command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "concord",
	Short: "Three-way issue tracker synchronization",
	Long: `concord keeps an upstream issue tracker, a kanban tool, and a local
beads workspace in agreement without overwriting anyone's edits.

It pulls the upstream state into a local store, mirrors missing records
into the downstream systems with an embedded back-reference, and flags
content drift instead of resolving it silently.

Quick start:
  concord sync                Run one reconciliation pass
  concord status              Show tracked projects
  concord runs                Show recent reconciliation passes
  concord migrate state.json  Import a legacy flat-file snapshot`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initViper)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .concord/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "log as JSON")

	// Add subcommands
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newProvisionCmd())
	rootCmd.AddCommand(newFilesCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// initViper reads in config file and ENV variables if set.
func initViper() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in .concord directory
		viper.AddConfigPath(".concord")
		viper.AddConfigPath("$HOME/.concord")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("CONCORD")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
