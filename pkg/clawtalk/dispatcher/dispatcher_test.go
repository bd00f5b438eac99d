package dispatcher

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/affinity"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/llmhost"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/scheduler"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

type fakeLLM struct{ output string }

func (f *fakeLLM) Invoke(ctx context.Context, req llmhost.Request, timeout time.Duration) (llmhost.Response, error) {
	return llmhost.Response{Output: f.output}, nil
}

func newTestDispatcher(t *testing.T, debounce time.Duration) (*Dispatcher, *talkstore.Store) {
	t.Helper()
	dir := t.TempDir()
	store := talkstore.New(dir, slog.Default())
	affCfg := affinity.DefaultConfig()
	affCfg.ExplorationRate = 0
	aff := affinity.New(store, affCfg, slog.Default())
	exec := scheduler.NewExecutor(store, aff, &fakeLLM{output: "event handled"}, nil, slog.Default())
	return New(store, exec, debounce, slog.Default()), store
}

func waitForReport(store *talkstore.Store, talkID, jobID string, timeout time.Duration) []talkstore.JobReport {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		reports := store.GetRecentReports(talkID, 0, jobID)
		if len(reports) > 0 {
			return reports
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

func TestParseEventTrigger(t *testing.T) {
	scope, ok := parseEventTrigger("on channel:c123")
	if !ok || scope != "channel:c123" {
		t.Fatalf("expected parsed scope, got %q ok=%v", scope, ok)
	}
	if _, ok := parseEventTrigger("0 * * * *"); ok {
		t.Fatalf("expected non-event schedule to not parse")
	}
}

func TestHandleMessageReceivedFiresMatchingJob(t *testing.T) {
	d, store := newTestDispatcher(t, 30*time.Second)
	talk, _ := store.Create("m")
	store.Update(talk.ID, talkstore.Patch{
		PlatformBindings: []talkstore.Binding{{ID: "b1", Platform: "slack", Scope: "channel:c123", Permission: talkstore.PermissionWrite}},
	}, "test")
	store.AddJob(talk.ID, talkstore.Job{ID: "j1", Type: talkstore.JobEvent, Schedule: "on channel:c123", Prompt: "react", Active: true, Output: talkstore.JobOutputDestination{Type: talkstore.OutputReportOnly}})

	d.HandleMessageReceived(context.Background(), Event{ChannelID: "slack", From: "alice", Content: "hi"})

	reports := waitForReport(store, talk.ID, "j1", 2*time.Second)
	if len(reports) != 1 || reports[0].Status != talkstore.JobStatusSuccess {
		t.Fatalf("expected one success report, got %+v", reports)
	}
}

func TestDebounceSkipsRapidRefire(t *testing.T) {
	d, store := newTestDispatcher(t, time.Hour)
	talk, _ := store.Create("m")
	store.Update(talk.ID, talkstore.Patch{
		PlatformBindings: []talkstore.Binding{{ID: "b1", Platform: "slack", Scope: "channel:c123", Permission: talkstore.PermissionWrite}},
	}, "test")
	store.AddJob(talk.ID, talkstore.Job{ID: "j1", Type: talkstore.JobEvent, Schedule: "on channel:c123", Prompt: "react", Active: true})

	d.HandleMessageReceived(context.Background(), Event{ChannelID: "slack", Content: "one"})
	time.Sleep(50 * time.Millisecond)
	d.HandleMessageReceived(context.Background(), Event{ChannelID: "slack", Content: "two"})
	time.Sleep(100 * time.Millisecond)

	reports := store.GetRecentReports(talk.ID, 0, "j1")
	if len(reports) != 1 {
		t.Fatalf("expected debounce to suppress the second fire, got %d reports", len(reports))
	}
}

func TestReadOnlyBindingNeverDeliversOutput(t *testing.T) {
	d, store := newTestDispatcher(t, 30*time.Second)
	talk, _ := store.Create("m")
	store.Update(talk.ID, talkstore.Patch{
		PlatformBindings: []talkstore.Binding{{ID: "b1", Platform: "slack", Scope: "channel:c123", Permission: talkstore.PermissionRead}},
	}, "test")
	store.AddJob(talk.ID, talkstore.Job{ID: "j1", Type: talkstore.JobEvent, Schedule: "on channel:c123", Prompt: "react", Active: true, Output: talkstore.JobOutputDestination{Type: talkstore.OutputTalk}})

	d.HandleMessageReceived(context.Background(), Event{ChannelID: "slack", Content: "hi"})
	reports := waitForReport(store, talk.ID, "j1", 2*time.Second)
	time.Sleep(50 * time.Millisecond)

	if len(reports) != 1 || reports[0].Status != talkstore.JobStatusSuccess {
		t.Fatalf("expected the job to still run and record a report, got %+v", reports)
	}
	if msgs := store.GetMessages(talk.ID); len(msgs) != 0 {
		t.Fatalf("expected read-only binding to suppress talk delivery, got %+v", msgs)
	}
}

func TestCleanupStaleDebounce(t *testing.T) {
	d, _ := newTestDispatcher(t, 10*time.Millisecond)
	d.mu.Lock()
	d.lastFiredAt["t1:j1"] = time.Now().Add(-time.Hour)
	d.mu.Unlock()

	d.CleanupStaleDebounce()

	d.mu.Lock()
	_, exists := d.lastFiredAt["t1:j1"]
	d.mu.Unlock()
	if exists {
		t.Fatalf("expected stale debounce entry to be pruned")
	}
}
