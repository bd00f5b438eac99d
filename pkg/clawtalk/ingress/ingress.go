// Package ingress implements SlackIngress: the in-process pipeline that
// deduplicates, routes, and optionally mirrors an inbound Slack event. It
// never itself calls an LLM — that is the core correctness property that
// prevents dual responses from a Talk and the host's managed agent.
package ingress

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/routing"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

// Result is what SlackEventProxy consumes to build its Slack acknowledgment.
type Result struct {
	Decision  routing.Decision
	Duplicate bool
}

// Ingress wires DedupTable, RoutingResolver (pure function), and TalkStore
// together into the pipeline described in spec.md §4.5.
type Ingress struct {
	store  *talkstore.Store
	dedup  *routing.DedupTable
	logger *slog.Logger

	countersMu sync.Mutex
	passCounts map[string]int
}

// New constructs an Ingress.
func New(store *talkstore.Store, dedup *routing.DedupTable, logger *slog.Logger) *Ingress {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingress{
		store:      store,
		dedup:      dedup,
		logger:     logger.With("component", "ingress"),
		passCounts: make(map[string]int),
	}
}

// Process runs the four-step pipeline of spec.md §4.5. The decision stored
// in the DedupTable and returned to the caller always has Handled=false: a
// resolver-level "handled" outcome means the owner Talk's managed host agent
// will produce the reply, which this package records as delegated-pass, not
// as itself having handled the event (spec.md line 35, "ALWAYS returns pass").
func (ig *Ingress) Process(ev routing.SlackEvent) Result {
	eventID := ev.EventID
	if eventID == "" {
		eventID = routing.EventID(ev.AccountID, ev.ChannelID, ev.MessageTS, ev.ThreadTS, ev.UserID)
	}

	talks := ig.store.List()
	dec, duplicate := ig.dedup.GetOrInsert(eventID, func() routing.Decision {
		return rewriteDelegated(routing.Resolve(ev, talks))
	})

	if duplicate {
		return Result{Decision: dec, Duplicate: true}
	}

	if dec.Reason != routing.ReasonDelegated {
		return Result{Decision: dec}
	}

	// Owner established and behavior gate passed: this is delegation, not
	// a locally-handled reply. The host's managed agent produces the reply.
	ig.countersMu.Lock()
	ig.passCounts[dec.TalkID]++
	ig.countersMu.Unlock()

	if dec.Behavior != nil && (dec.Behavior.MirrorToTalk == talkstore.MirrorInbound || dec.Behavior.MirrorToTalk == talkstore.MirrorFull) {
		go ig.mirror(dec.TalkID, ev)
	}

	return Result{Decision: dec}
}

// rewriteDelegated converts a resolver-level "handled" decision into the
// externally-visible delegated-pass decision SlackIngress always returns.
func rewriteDelegated(dec routing.Decision) routing.Decision {
	if !dec.Handled {
		return dec
	}
	dec.Reason = routing.ReasonDelegated
	dec.Handled = false
	return dec
}

// mirror appends the inbound Slack message to the Talk's history log,
// fire-and-forget: failures log a warning but never affect routing.
func (ig *Ingress) mirror(talkID string, ev routing.SlackEvent) {
	prefix := fmt.Sprintf("[Slack #%s", ev.ChannelName)
	if prefix == "[Slack #" {
		prefix = fmt.Sprintf("[Slack %s", ev.ChannelID)
	}
	if ev.ThreadTS != "" {
		prefix += fmt.Sprintf(" (thread %s)", ev.ThreadTS)
	}
	sender := ev.UserName
	if sender == "" {
		sender = ev.UserID
	}
	if sender != "" {
		prefix += fmt.Sprintf(" from %s", sender)
	}
	prefix += "]"

	content := prefix + "\n" + ev.Text
	if _, err := ig.store.AppendMessage(talkID, talkstore.Message{Role: talkstore.RoleUser, Content: content}); err != nil {
		ig.logger.Warn("failed to mirror inbound message", "talkId", talkID, "error", err)
	}
}

// PassCount returns the number of delegated passes recorded for a Talk
// (test/diagnostic hook mirroring spec.md §8 scenario S1's assertion).
func (ig *Ingress) PassCount(talkID string) int {
	ig.countersMu.Lock()
	defer ig.countersMu.Unlock()
	return ig.passCounts[talkID]
}
