// Package commands implements ClawTalkGateway's CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd builds the root command with every subcommand registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "clawtalk-gateway",
		Short: "ClawTalkGateway - Slack-to-OpenClaw routing gateway",
		Long: `ClawTalkGateway sits between Slack and an OpenClaw host, routing
events to Talks with write ownership and otherwise forwarding to the
host's own managed agents.

Examples:
  clawtalk-gateway serve
  clawtalk-gateway reconcile
  clawtalk-gateway doctor
  clawtalk-gateway keyring set`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newReconcileCmd(),
		newDoctorCmd(),
		newKeyringCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	return rootCmd
}
