// Package reconciler implements RoutingReconciler: the startup (and
// explicit-trigger) pass that materializes every Talk's Slack write
// bindings into the host's config file as managed agent bindings.
package reconciler

import (
	"log/slog"
	"strings"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/hostconfig"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/scheduler"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

const managedAgentPrefix = "ct-"
const legacyAgentID = "clawtalk"

// Reconciler runs spec.md §4.10's algorithm.
type Reconciler struct {
	store              *talkstore.Store
	configPath         string
	defaultModel       string
	fallbackSecret     string
	logger             *slog.Logger
}

// New constructs a Reconciler that reads/writes the host config at
// configPath. fallbackSecret is the base/env signing secret propagated to
// HTTP-mode accounts that don't already have one (spec.md §4.10 step 7).
func New(store *talkstore.Store, configPath, defaultModel, fallbackSecret string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:          store,
		configPath:     configPath,
		defaultModel:   defaultModel,
		fallbackSecret: fallbackSecret,
		logger:         logger.With("component", "reconciler"),
	}
}

// parsePeer splits a canonicalized scope ("channel:c123", "user:u456") into
// its kind and id, uppercasing the id per spec.md §4.10 step 1.
func parsePeer(scope string) (kind, id string, ok bool) {
	parts := strings.SplitN(scope, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	kind = strings.ToLower(parts[0])
	if kind != "channel" && kind != "user" {
		return "", "", false
	}
	return kind, strings.ToUpper(parts[1]), true
}

func isManagedAgentID(id string) bool {
	return strings.HasPrefix(id, managedAgentPrefix) || id == legacyAgentID
}

// Reconcile runs the full algorithm once, writing the host config file if
// the resulting form differs from what's on disk.
func (r *Reconciler) Reconcile() error {
	cfg, err := hostconfig.Load(r.configPath)
	if err != nil {
		return err
	}

	var desiredBindings []hostconfig.Binding
	desiredAgents := make(map[string]hostconfig.Agent)
	requireMention := make(map[string]map[string]bool) // accountId -> channelId -> requireMention

	for _, talk := range r.store.List() {
		for _, binding := range talk.PlatformBindings {
			if binding.Platform != "slack" || (binding.Permission != talkstore.PermissionWrite && binding.Permission != talkstore.PermissionReadWrite) {
				continue
			}
			kind, peerID, ok := parsePeer(binding.Scope)
			if !ok {
				continue
			}

			agentID := scheduler.ManagedAgentID(talk.ID)
			desiredBindings = append(desiredBindings, hostconfig.Binding{
				AgentID: agentID,
				Match: hostconfig.Match{
					Channel:   "slack",
					AccountID: binding.AccountID,
					Peer:      hostconfig.Peer{Kind: kind, ID: peerID},
				},
			})

			name := talk.TopicTitle
			if name == "" {
				name = "ClawTalk " + agentID
			}
			model := talk.Model
			if model == "" {
				model = r.defaultModel
			}
			desiredAgents[agentID] = hostconfig.Agent{
				ID:      agentID,
				Name:    name,
				Model:   model,
				Sandbox: hostconfig.SandboxConfig{Mode: "off"},
			}

			mention := false
			for _, beh := range talk.PlatformBehaviors {
				if beh.PlatformBindingID == binding.ID {
					mention = beh.ResponseMode == talkstore.ResponseModeMentions
					break
				}
			}
			if _, ok := requireMention[binding.AccountID]; !ok {
				requireMention[binding.AccountID] = make(map[string]bool)
			}
			requireMention[binding.AccountID][strings.ToLower(peerID)] = mention
		}
	}

	desiredKeys := make(map[string]bool, len(desiredBindings))
	for _, b := range desiredBindings {
		desiredKeys[bindingKey(b)] = true
	}

	var retained []hostconfig.Binding
	for _, existing := range cfg.Bindings {
		if existing.Match.Channel != "slack" {
			retained = append(retained, existing)
			continue
		}
		if desiredKeys[bindingKey(existing)] {
			continue
		}
		if isManagedAgentID(existing.AgentID) {
			continue
		}
		retained = append(retained, existing)
	}
	cfg.Bindings = append(append([]hostconfig.Binding(nil), desiredBindings...), retained...)

	mergedAgents := make([]hostconfig.Agent, 0, len(cfg.Agents.List))
	seen := make(map[string]bool)
	for _, a := range cfg.Agents.List {
		if desired, ok := desiredAgents[a.ID]; ok {
			mergedAgents = append(mergedAgents, desired)
			seen[a.ID] = true
			continue
		}
		mergedAgents = append(mergedAgents, a)
		seen[a.ID] = true
	}
	for id, a := range desiredAgents {
		if !seen[id] {
			mergedAgents = append(mergedAgents, a)
		}
	}
	cfg.Agents.List = mergedAgents

	if cfg.Channels.Slack.Accounts == nil {
		cfg.Channels.Slack.Accounts = map[string]hostconfig.SlackAccountConfig{}
	}
	for accountID, channels := range requireMention {
		acct, ok := cfg.Channels.Slack.Accounts[accountID]
		if !ok {
			acct = hostconfig.SlackAccountConfig{}
		}
		if acct.Channels == nil {
			acct.Channels = make(map[string]hostconfig.SlackChannelConfig)
		}
		for channelID, mention := range channels {
			acct.Channels[channelID] = hostconfig.SlackChannelConfig{RequireMention: mention}
		}
		cfg.Channels.Slack.Accounts[accountID] = acct
	}

	// Step 7: propagate a fallback signing secret to HTTP-mode accounts that
	// don't carry their own, never to socket-mode accounts.
	if r.fallbackSecret != "" {
		for accountID, acct := range cfg.Channels.Slack.Accounts {
			if acct.Mode == "socket" {
				continue
			}
			if acct.SigningSecret == "" {
				acct.SigningSecret = r.fallbackSecret
				cfg.Channels.Slack.Accounts[accountID] = acct
			}
		}
	}

	if err := hostconfig.Save(r.configPath, cfg); err != nil {
		r.logger.Error("failed to write host config", "path", r.configPath, "error", err)
		return err
	}
	r.logger.Info("reconciled host config", "bindings", len(desiredBindings), "agents", len(desiredAgents))
	return nil
}

func bindingKey(b hostconfig.Binding) string {
	return strings.ToLower(b.Match.AccountID) + "|" + strings.ToLower(b.Match.Peer.Kind) + "|" + strings.ToLower(b.Match.Peer.ID)
}
