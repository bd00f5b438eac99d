package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	keyringService = "clawtalk-gateway"
	keyringUser    = "slack_signing_secret"
)

func newKeyringCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keyring",
		Short: "Manage the OS-keyring-backed Slack signing secret",
		Long: `Store or delete the Slack signing secret in the OS keyring,
the lowest-priority tier of SecretResolver's candidate chain.`,
	}
	cmd.AddCommand(newKeyringSetCmd(), newKeyringDeleteCmd())
	return cmd
}

func newKeyringSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Prompt for and store the Slack signing secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Print("Slack signing secret: ")
			secretBytes, err := term.ReadPassword(0)
			fmt.Println()
			if err != nil {
				return fmt.Errorf("reading secret: %w", err)
			}
			secret := string(secretBytes)
			if secret == "" {
				return fmt.Errorf("empty secret, nothing stored")
			}
			if err := keyring.Set(keyringService, keyringUser, secret); err != nil {
				return fmt.Errorf("storing secret in keyring: %w", err)
			}
			fmt.Println("stored in OS keyring.")
			return nil
		},
	}
}

func newKeyringDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored Slack signing secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := keyring.Delete(keyringService, keyringUser); err != nil {
				return fmt.Errorf("deleting secret from keyring: %w", err)
			}
			fmt.Println("deleted from OS keyring.")
			return nil
		},
	}
}
