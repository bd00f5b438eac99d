package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/config"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/doctor"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/hostconfig"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/scheduler"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report Slack binding ownership conflicts",
		Long: `Run OwnershipDoctor: detect host-config Slack bindings assigned to a
non-ClawTalk-managed agent that collide with a Talk's own write binding.
Detection only — no file is modified.`,
		RunE: runDoctor,
	}
}

func runDoctor(cmd *cobra.Command, _ []string) error {
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

	hostCfg, err := hostconfig.Load(cfg.HostConfigPath)
	if err != nil {
		return fmt.Errorf("loading host config: %w", err)
	}

	talks := store.List()
	agentIDs := make([]string, 0, len(talks)+1)
	agentIDs = append(agentIDs, "clawtalk")
	for _, t := range talks {
		agentIDs = append(agentIDs, scheduler.ManagedAgentID(t.ID))
	}

	conflicts := doctor.Detect(talks, hostCfg, agentIDs)
	if len(conflicts) == 0 {
		fmt.Println("no ownership conflicts found")
		return nil
	}

	fmt.Printf("found %d ownership conflict(s):\n", len(conflicts))
	for _, c := range conflicts {
		fmt.Printf("  talk=%s scope=%s account=%s  <-->  agent=%s scope=%s account=%s\n",
			c.TalkID, c.TalkScope, c.TalkAccountID, c.OpenClawAgentID, c.OpenClawScope, c.OpenClawAccountID)
	}
	return nil
}
