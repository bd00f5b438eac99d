// Package routing implements the RoutingResolver (Slack event → owning Talk)
// and the DedupTable (at-least-once → exactly-once event memo).
package routing

import (
	"fmt"
	"strings"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/intent"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

// SlackEvent is the normalized shape RoutingResolver and SlackIngress consume.
type SlackEvent struct {
	EventID        string
	AccountID      string
	ChannelID      string
	ChannelName    string
	ThreadTS       string
	MessageTS      string
	UserID         string
	UserName       string
	OutboundTarget string
	Text           string
}

// Decision is the outcome of Resolve.
type Decision struct {
	Handled   bool
	TalkID    string
	BindingID string
	Reason    string
	Behavior  *talkstore.Behavior
}

const (
	ReasonNoBinding          = "no-binding"
	ReasonAmbiguousBinding   = "ambiguous-binding"
	ReasonNoPlatformBehavior = "no-platform-behavior"
	ReasonSenderNotAllowed   = "sender-not-allowed"
	ReasonResponseDisabled   = "on-message-disabled"
	ReasonMentionRequired    = "mention-required"
	ReasonDelegated          = "delegated-to-agent"
)

var mentionPattern = func(s string) bool {
	return strings.Contains(s, "<@") || strings.Contains(s, "@")
}

// scoreBinding implements spec.md §4.2's scope-scoring table.
func scoreBinding(b talkstore.Binding, ev SlackEvent) int {
	if b.Platform != "slack" {
		return -1
	}
	if b.Permission != talkstore.PermissionWrite && b.Permission != talkstore.PermissionReadWrite {
		return -1
	}
	if b.AccountID != "" && !strings.EqualFold(b.AccountID, ev.AccountID) {
		return -1
	}

	scope := strings.ToLower(strings.TrimSpace(b.Scope))
	channelID := strings.ToLower(ev.ChannelID)
	channelName := strings.ToLower(ev.ChannelName)
	outbound := strings.ToLower(ev.OutboundTarget)

	switch {
	case scope == channelID,
		scope == "channel:"+channelID,
		scope == "user:"+channelID,
		scope == "slack:"+channelID:
		return 100
	case channelID != "" && scope == outbound:
		return 95
	case channelName != "" && (scope == "#"+channelName || scope == channelName):
		return 90
	case channelName != "" && strings.HasSuffix(scope, " #"+channelName):
		return 80
	case scope == "*", scope == "all", scope == "slack:*":
		return 10
	default:
		return -1
	}
}

// Resolve is a pure function: same Talks + event always yields the same
// Decision (property P5).
func Resolve(ev SlackEvent, talks []*talkstore.Talk) Decision {
	type candidate struct {
		talk    *talkstore.Talk
		binding talkstore.Binding
		score   int
	}

	var best []candidate
	bestScore := -1

	for _, t := range talks {
		talkBestScore := -1
		var talkBestBinding talkstore.Binding
		for _, b := range t.PlatformBindings {
			s := scoreBinding(b, ev)
			if s > talkBestScore {
				talkBestScore = s
				talkBestBinding = b
			}
		}
		if talkBestScore < 0 {
			continue
		}
		if talkBestScore > bestScore {
			bestScore = talkBestScore
			best = []candidate{{t, talkBestBinding, talkBestScore}}
		} else if talkBestScore == bestScore {
			best = append(best, candidate{t, talkBestBinding, talkBestScore})
		}
	}

	if len(best) == 0 {
		return Decision{Handled: false, Reason: ReasonNoBinding}
	}
	if len(best) > 1 {
		return Decision{Handled: false, Reason: ReasonAmbiguousBinding}
	}

	owner := best[0]
	behavior := findBehavior(owner.talk, owner.binding.ID)
	if behavior == nil {
		// No behavior means no gate to apply: the owning binding delegates.
		return Decision{Handled: true, TalkID: owner.talk.ID, BindingID: owner.binding.ID}
	}

	if reason, ok := gateBehavior(*behavior, ev); !ok {
		return Decision{Handled: false, TalkID: owner.talk.ID, BindingID: owner.binding.ID, Reason: reason, Behavior: behavior}
	}

	return Decision{Handled: true, TalkID: owner.talk.ID, BindingID: owner.binding.ID, Behavior: behavior}
}

func findBehavior(t *talkstore.Talk, bindingID string) *talkstore.Behavior {
	for i := range t.PlatformBehaviors {
		if t.PlatformBehaviors[i].PlatformBindingID == bindingID {
			return &t.PlatformBehaviors[i]
		}
	}
	return nil
}

// gateBehavior applies spec.md §4.2's three-step behavior gate.
func gateBehavior(b talkstore.Behavior, ev SlackEvent) (reason string, ok bool) {
	if b.ResponsePolicy != nil && len(b.ResponsePolicy.AllowedSenders) > 0 {
		allowed := false
		for _, s := range b.ResponsePolicy.AllowedSenders {
			if strings.EqualFold(s, ev.UserName) || strings.EqualFold(s, ev.UserID) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ReasonSenderNotAllowed, false
		}
	}

	switch b.ResponseMode {
	case talkstore.ResponseModeOff:
		return ReasonResponseDisabled, false
	case talkstore.ResponseModeMentions:
		if !mentionPattern(ev.Text) {
			return ReasonMentionRequired, false
		}
	case talkstore.ResponseModeAll:
		// passes
	}

	if b.ResponsePolicy != nil {
		switch b.ResponsePolicy.TriggerPolicy {
		case talkstore.TriggerStudyOnly:
			if !intent.IsStudy(ev.Text) {
				return fmt.Sprintf("trigger-policy-%s", b.ResponsePolicy.TriggerPolicy), false
			}
		case talkstore.TriggerAdviceOrStudy:
			if !intent.IsStudy(ev.Text) && !intent.IsAdvice(ev.Text) {
				return fmt.Sprintf("trigger-policy-%s", b.ResponsePolicy.TriggerPolicy), false
			}
		case talkstore.TriggerJudgment, "":
			// passes anything
		}
	}

	return "", true
}
