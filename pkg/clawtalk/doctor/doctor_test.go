package doctor

import (
	"log/slog"
	"testing"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/hostconfig"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

// TestS5OwnershipDoctor mirrors spec.md §8 scenario S5.
func TestS5OwnershipDoctor(t *testing.T) {
	dir := t.TempDir()
	store := talkstore.New(dir, slog.Default())
	talk, _ := store.Create("m")
	store.Update(talk.ID, talkstore.Patch{
		PlatformBindings: []talkstore.Binding{{
			ID: "b1", Platform: "slack", Scope: "channel:c01cl1pu022", AccountID: "kimfamily", Permission: talkstore.PermissionWrite,
		}},
	}, "test")

	cfg := &hostconfig.Config{
		Bindings: []hostconfig.Binding{
			{
				AgentID: "silent",
				Match: hostconfig.Match{
					Channel:   "slack",
					AccountID: "kimfamily",
					Peer:      hostconfig.Peer{Kind: "channel", ID: "C01CL1PU022"},
				},
			},
		},
	}

	conflicts := Detect(store.List(), cfg, []string{"mobileclaw", "clawtalk"})
	if len(conflicts) != 1 {
		t.Fatalf("expected exactly one conflict, got %d: %+v", len(conflicts), conflicts)
	}
	c := conflicts[0]
	if c.TalkID != talk.ID || c.OpenClawAgentID != "silent" || c.TalkAccountID != "kimfamily" || c.OpenClawAccountID != "kimfamily" {
		t.Fatalf("unexpected conflict fields: %+v", c)
	}
	if c.TalkScope != "channel:c01cl1pu022" || c.OpenClawScope != "channel:c01cl1pu022" {
		t.Fatalf("expected lowercased matching scopes, got %+v", c)
	}
}

// TestReadWriteBindingFlaggedAsConflictSource verifies a read+write binding
// is treated as write-capable, same as TestS5OwnershipDoctor's write-only case.
func TestReadWriteBindingFlaggedAsConflictSource(t *testing.T) {
	dir := t.TempDir()
	store := talkstore.New(dir, slog.Default())
	talk, _ := store.Create("m")
	store.Update(talk.ID, talkstore.Patch{
		PlatformBindings: []talkstore.Binding{{
			ID: "b1", Platform: "slack", Scope: "channel:c01cl1pu022", AccountID: "kimfamily", Permission: talkstore.PermissionReadWrite,
		}},
	}, "test")

	cfg := &hostconfig.Config{
		Bindings: []hostconfig.Binding{
			{
				AgentID: "silent",
				Match: hostconfig.Match{
					Channel:   "slack",
					AccountID: "kimfamily",
					Peer:      hostconfig.Peer{Kind: "channel", ID: "C01CL1PU022"},
				},
			},
		},
	}

	conflicts := Detect(store.List(), cfg, []string{"mobileclaw", "clawtalk"})
	if len(conflicts) != 1 {
		t.Fatalf("expected read+write binding to be flagged as conflict source, got %d: %+v", len(conflicts), conflicts)
	}
	if conflicts[0].TalkID != talk.ID {
		t.Fatalf("unexpected conflict: %+v", conflicts[0])
	}
}

func TestManagedAgentExcluded(t *testing.T) {
	dir := t.TempDir()
	store := talkstore.New(dir, slog.Default())
	store.Create("m")

	cfg := &hostconfig.Config{
		Bindings: []hostconfig.Binding{
			{AgentID: "clawtalk", Match: hostconfig.Match{Channel: "slack", AccountID: "a", Peer: hostconfig.Peer{Kind: "channel", ID: "X"}}},
		},
	}
	conflicts := Detect(store.List(), cfg, []string{"clawtalk"})
	if len(conflicts) != 0 {
		t.Fatalf("expected managed agent bindings excluded, got %+v", conflicts)
	}
}
