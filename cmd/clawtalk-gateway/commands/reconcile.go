package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/config"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/reconciler"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Materialize Talk Slack bindings into the host config",
		Long: `Run RoutingReconciler once: write every Talk's Slack write bindings
into the host's config file as managed agent bindings, without starting
the daemon.`,
		RunE: runReconcile,
	}
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	store := talkstore.New(cfg.DataDir, logger)
	if err := store.Load(); err != nil {
		return fmt.Errorf("loading talk store: %w", err)
	}

	baseSecret := os.Getenv("GATEWAY_SLACK_SIGNING_SECRET")
	if baseSecret == "" {
		baseSecret = os.Getenv("SLACK_SIGNING_SECRET")
	}

	recon := reconciler.New(store, cfg.HostConfigPath, cfg.DefaultModel, baseSecret, logger)
	if err := recon.Reconcile(); err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}
	fmt.Println("reconciled host config:", cfg.HostConfigPath)
	return nil
}
