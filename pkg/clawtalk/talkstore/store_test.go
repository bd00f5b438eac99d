package talkstore

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(dir, nil)
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	created, err := s.Create("gpt-test")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.TalkVersion != 1 {
		t.Fatalf("expected version 1, got %d", created.TalkVersion)
	}
	got := s.Get(created.ID)
	if got == nil || got.Model != "gpt-test" {
		t.Fatalf("get returned unexpected talk: %+v", got)
	}

	path := filepath.Join(s.dataDir, "talks", created.ID, talkFileName)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected talk.json to exist: %v", err)
	}
}

// TestChangeVersionMonotonic verifies property P1: for any two observed
// ChangeEvents e1 before e2 on the same Talk, e2.talkVersion > e1.talkVersion.
func TestChangeVersionMonotonic(t *testing.T) {
	s := newTestStore(t)
	talk, _ := s.Create("m")

	var versions []int64
	s.Subscribe(func(ev ChangeEvent) {
		if ev.TalkID == talk.ID {
			versions = append(versions, ev.TalkVersion)
		}
	})

	title1 := "first"
	title2 := "second"
	s.Update(talk.ID, Patch{TopicTitle: &title1}, "test")
	s.Update(talk.ID, Patch{TopicTitle: &title2}, "test")

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("talkVersion not monotonic: %v", versions)
		}
	}
}

// TestDeleteTombstonesDirectorySoTalkNeverResurrects verifies invariant I4:
// a deleted Talk must not reappear on a subsequent Load.
func TestDeleteTombstonesDirectorySoTalkNeverResurrects(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, nil)
	talk, _ := s.Create("m")

	s.Delete(talk.ID)
	if got := s.Get(talk.ID); got != nil {
		t.Fatalf("expected deleted talk gone from memory, got %+v", got)
	}

	reloaded := New(dir, nil)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := reloaded.Get(talk.ID); got != nil {
		t.Fatalf("expected deleted talk to not resurrect on reload, got %+v", got)
	}

	if _, err := os.Stat(filepath.Join(dir, "talks", deletedDirPrefix+talk.ID)); err != nil {
		t.Fatalf("expected tombstoned directory to survive on disk: %v", err)
	}
}

// TestDeleteMessagesDropsPins verifies property P2: deleteMessages leaves no
// pinned id pointing to a removed message.
func TestDeleteMessagesDropsPins(t *testing.T) {
	s := newTestStore(t)
	talk, _ := s.Create("m")

	msg, err := s.AppendMessage(talk.ID, Message{Role: RoleUser, Content: "hello"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AddPin(talk.ID, msg.ID); err != nil {
		t.Fatalf("pin: %v", err)
	}

	if err := s.DeleteMessages(talk.ID, []string{msg.ID}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got := s.Get(talk.ID)
	for _, p := range got.PinnedMessageIDs {
		if p == msg.ID {
			t.Fatalf("pin %q survived message deletion", msg.ID)
		}
	}
}

func TestNormalizeExecutionModeLegacyMigration(t *testing.T) {
	cases := map[string]ExecutionMode{
		"unsandboxed": ExecutionModeFullControl,
		"full_control": ExecutionModeFullControl,
		"sandboxed":   ExecutionModeOpenClaw,
		"inherit":     ExecutionModeOpenClaw,
		"garbage":     ExecutionModeOpenClaw,
	}
	for in, want := range cases {
		if got := NormalizeExecutionMode(in); got != want {
			t.Errorf("NormalizeExecutionMode(%q) = %q, want %q", in, got, want)
		}
	}
}

// TestNormalizeIdempotent verifies property P4.
func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"unsandboxed", "openclaw", "full_control", "garbage", ""}
	for _, in := range inputs {
		once := NormalizeExecutionMode(in)
		twice := NormalizeExecutionMode(string(once))
		if once != twice {
			t.Errorf("normalize not idempotent for %q: %q vs %q", in, once, twice)
		}
	}
}

func TestBehaviorDroppedWhenBindingMissing(t *testing.T) {
	behaviors := NormalizeBehaviors([]Behavior{
		{ID: "b1", PlatformBindingID: "missing"},
	}, []Binding{{ID: "bind1", Platform: "slack", Permission: PermissionWrite}})
	if len(behaviors) != 0 {
		t.Fatalf("expected dangling behavior to be dropped, got %+v", behaviors)
	}
}
