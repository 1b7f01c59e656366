package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "stratus",
		Short: "Stratus - Service Lifecycle Orchestration Engine",
		Long: `Stratus orchestrates the full lifecycle of cloud service deployments:
deploy, modify, destroy, purge, migrate, port and recreate, with an
auditable order ledger, asynchronous IaC executor callbacks and direct
runtime power-state management of provisioned compute.

Features:
  - Deployment state machine backed by a transactional order ledger
  - Asynchronous Terraform/OpenTofu executor integration via webhooks
  - Composite workflows with strict halt-on-failure sequencing
  - Per-cloud power-state plugins (Huawei Cloud, OpenStack)
  - Long-poll deployment status notifications`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

func newVersionCommand(version, commit, buildDate string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stratus %s\ncommit: %s\nbuilt:  %s\n", version, commit, buildDate)
		},
	}
}
