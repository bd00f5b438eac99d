// Package doctor implements OwnershipDoctor: a read-only detector of
// conflicts between Talk-owned Slack bindings and bindings the host config
// already assigns to some other, non-ClawTalk-managed agent.
package doctor

import (
	"strings"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/hostconfig"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

// Conflict is one detected ownership collision (spec.md §4.11).
type Conflict struct {
	TalkID          string
	TalkScope       string
	TalkAccountID   string
	OpenClawAgentID string
	OpenClawScope   string
	OpenClawAccountID string
}

// Detect implements spec.md §4.11's algorithm: pure, no mutation.
func Detect(talks []*talkstore.Talk, cfg *hostconfig.Config, clawTalkAgentIDs []string) []Conflict {
	managed := make(map[string]bool, len(clawTalkAgentIDs))
	for _, id := range clawTalkAgentIDs {
		managed[strings.ToLower(id)] = true
	}

	var conflicts []Conflict
	for _, b := range cfg.Bindings {
		if b.Match.Channel != "slack" {
			continue
		}
		if b.Match.Peer.Kind == "" || b.Match.Peer.ID == "" {
			continue
		}
		if managed[strings.ToLower(b.AgentID)] {
			continue
		}

		openClawScope := strings.ToLower(b.Match.Peer.Kind) + ":" + strings.ToLower(b.Match.Peer.ID)
		openClawAccount := strings.ToLower(b.Match.AccountID)

		for _, talk := range talks {
			for _, tb := range talk.PlatformBindings {
				if tb.Platform != "slack" || (tb.Permission != talkstore.PermissionWrite && tb.Permission != talkstore.PermissionReadWrite) {
					continue
				}
				talkAccount := strings.ToLower(tb.AccountID)
				talkScope := strings.ToLower(tb.Scope)
				if talkAccount != openClawAccount {
					continue
				}
				if !scopesConflict(talkScope, openClawScope) {
					continue
				}
				conflicts = append(conflicts, Conflict{
					TalkID:            talk.ID,
					TalkScope:         talkScope,
					TalkAccountID:     talkAccount,
					OpenClawAgentID:   strings.ToLower(b.AgentID),
					OpenClawScope:     openClawScope,
					OpenClawAccountID: openClawAccount,
				})
			}
		}
	}
	return conflicts
}

// scopesConflict reports whether a Talk's normalized scope collides with a
// host-config peer scope, treating "slack:*" as a wildcard matching any
// peer scope within the same account (spec.md §4.11).
func scopesConflict(talkScope, openClawScope string) bool {
	if talkScope == "slack:*" || talkScope == "*" {
		return true
	}
	return talkScope == openClawScope
}
