package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/affinity"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/config"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/dispatcher"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/gateway"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/ingress"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/llmhost"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/reconciler"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/routing"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/scheduler"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/slacksender"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/slackproxy"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

const eventDispatchCleanupInterval = 5 * time.Minute

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway daemon",
		Long: `Start ClawTalkGateway as a long-running daemon: the Slack webhook
front door, the job scheduler, the event dispatcher, and the host hook
endpoints.`,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "override the gateway listen address")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	store := talkstore.New(cfg.DataDir, logger)
	if err := store.Load(); err != nil {
		logger.Error("failed to load talk store", "error", err)
		os.Exit(1)
	}

	aff := affinity.New(store, cfg.AffinityStoreConfig(), logger)

	botTokens := map[string]string{}
	for accountID := range cfg.SlackAccounts {
		if v := os.Getenv("SLACK_BOT_TOKEN_" + accountID); v != "" {
			botTokens[accountID] = v
		}
	}
	sender := slacksender.New(botTokens)

	llm := llmhost.New(fmt.Sprintf("http://127.0.0.1:%d", cfg.HostHTTPPort))
	executor := scheduler.NewExecutor(store, aff, llm, sender, logger)

	sched := scheduler.New(store, executor, logger)
	disp := dispatcher.New(store, executor, time.Duration(cfg.EventDebounceMs)*time.Millisecond, logger)

	perAccountSecrets := make(map[string]string, len(cfg.SlackAccounts))
	webhooks := make(map[string]string, len(cfg.SlackAccounts))
	for accountID, acct := range cfg.SlackAccounts {
		if acct.SigningSecret != "" {
			perAccountSecrets[accountID] = acct.SigningSecret
		}
		if acct.WebhookURL != "" {
			webhooks[accountID] = acct.WebhookURL
		}
	}
	baseSecret := os.Getenv("GATEWAY_SLACK_SIGNING_SECRET")
	if baseSecret == "" {
		baseSecret = os.Getenv("SLACK_SIGNING_SECRET")
	}
	resolver := slackproxy.SecretResolver{
		PerAccount: perAccountSecrets,
		BaseSecret: baseSecret,
		EnvNames:   slackproxy.DefaultEnvNames,
	}

	ig := ingress.New(store, routing.NewDedupTable(0), logger)
	proxy := slackproxy.New(resolver, ig, &staticForwarder{webhooks: webhooks, defaultPort: cfg.HostHTTPPort}, logger)

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.HostHTTPPort)
	}
	gw := gateway.New(store, proxy, ig, disp, gateway.Config{Address: addr}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recon := reconciler.New(store, cfg.HostConfigPath, cfg.DefaultModel, baseSecret, logger)
	if err := recon.Reconcile(); err != nil {
		logger.Warn("startup reconciliation failed", "error", err)
	}

	if err := gw.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}
	sched.Start(ctx)
	go disp.StartCleanupLoop(ctx, eventDispatchCleanupInterval)

	logger.Info("clawtalk-gateway running. press ctrl+c to stop.", "addr", addr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")
	done := make(chan struct{})
	go func() {
		sched.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = gw.Stop(shutdownCtx)
		shutdownCancel()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}
	return nil
}

// staticForwarder resolves a host webhook URL per spec.md §4.4's priority:
// per-account config override, else the loopback default derived from
// OPENCLAW_HTTP_PORT.
type staticForwarder struct {
	webhooks    map[string]string
	defaultPort int
}

func (f *staticForwarder) WebhookURL(accountID string) string {
	if url, ok := f.webhooks[accountID]; ok && url != "" {
		return url
	}
	port := f.defaultPort
	if port == 0 {
		port = 3000
	}
	return fmt.Sprintf("http://127.0.0.1:%d/slack/events", port)
}
