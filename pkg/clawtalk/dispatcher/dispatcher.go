// Package dispatcher implements EventDispatcher: the host-hook-driven fan
// out from a single message_received call to zero or more event-triggered
// job runs, each guarded by debounce, per-Talk concurrency, and a
// permission gate.
package dispatcher

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/scheduler"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

// Event is the host's message_received payload, reduced to the fields the
// dispatcher inspects.
type Event struct {
	ChannelID string // ctx.channelId: a platform name (e.g. "slack"), per spec.md §9's open question
	From      string
	Content   string
}

// Dispatcher implements spec.md §4.6.
type Dispatcher struct {
	store    *talkstore.Store
	executor *scheduler.Executor
	debounce time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	lastFiredAt  map[string]time.Time // key: talkId:jobId
	runningTalks map[string]bool
}

// New constructs a Dispatcher with the configured debounce window
// (EVENT_JOB_DEBOUNCE_MS, default 30s).
func New(store *talkstore.Store, executor *scheduler.Executor, debounce time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = 30 * time.Second
	}
	return &Dispatcher{
		store:        store,
		executor:     executor,
		debounce:     debounce,
		logger:       logger.With("component", "dispatcher"),
		lastFiredAt:  make(map[string]time.Time),
		runningTalks: make(map[string]bool),
	}
}

// parseEventTrigger extracts the scope from a job.schedule of the form
// "on <scope>" (spec.md §4.6).
func parseEventTrigger(schedule string) (scope string, ok bool) {
	const prefix = "on "
	s := strings.TrimSpace(schedule)
	if !strings.HasPrefix(strings.ToLower(s), prefix) {
		return "", false
	}
	scope = strings.TrimSpace(s[len(prefix):])
	if scope == "" {
		return "", false
	}
	return talkstore.CanonicalizeScope(scope), true
}

// HandleMessageReceived is bound to the host's message_received hook.
// ctx.channelId is a platform name, not a channel id (spec.md §9).
func (d *Dispatcher) HandleMessageReceived(ctx context.Context, ev Event) {
	platform := strings.ToLower(ev.ChannelID)

	for _, active := range d.store.GetAllActiveJobs() {
		if active.Job.Type != talkstore.JobEvent {
			continue
		}
		scope, ok := parseEventTrigger(active.Job.Schedule)
		if !ok {
			continue
		}

		talk := d.store.Get(active.TalkID)
		if talk == nil {
			continue
		}
		binding, canReply := d.matchingBinding(talk, platform, scope)
		if binding == nil {
			continue
		}

		if !d.acquireTalkSlot(active.TalkID) {
			continue
		}
		if !d.acquireDebounce(active.TalkID, active.Job.ID) {
			d.releaseTalkSlot(active.TalkID)
			continue
		}

		go d.run(ctx, active.TalkID, active.Job, ev, canReply)
	}
}

// matchingBinding finds a platform-and-scope-matching binding, reporting
// whether its permission allows a reply to be delivered.
func (d *Dispatcher) matchingBinding(talk *talkstore.Talk, platform, scope string) (*talkstore.Binding, bool) {
	for i := range talk.PlatformBindings {
		b := &talk.PlatformBindings[i]
		if !strings.EqualFold(b.Platform, platform) {
			continue
		}
		if talkstore.CanonicalizeScope(b.Scope) != scope {
			continue
		}
		canReply := b.Permission == talkstore.PermissionWrite || b.Permission == talkstore.PermissionReadWrite
		return b, canReply
	}
	return nil, false
}

func (d *Dispatcher) acquireDebounce(talkID, jobID string) bool {
	key := talkID + ":" + jobID
	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastFiredAt[key]; ok && time.Since(last) < d.debounce {
		return false
	}
	d.lastFiredAt[key] = time.Now()
	return true
}

func (d *Dispatcher) acquireTalkSlot(talkID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.runningTalks[talkID] {
		return false
	}
	d.runningTalks[talkID] = true
	return true
}

func (d *Dispatcher) releaseTalkSlot(talkID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.runningTalks, talkID)
}

// run executes the shared job routine, which owns delivery (spec.md §4.7
// step 8) itself; canReply only gates whether that delivery is allowed to
// happen for this read/write-scoped binding (spec.md §4.6's permission gate).
func (d *Dispatcher) run(ctx context.Context, talkID string, job talkstore.Job, ev Event, canReply bool) {
	defer d.releaseTalkSlot(talkID)

	trigger := &scheduler.TriggerContext{
		Platform:    ev.ChannelID,
		SourceScope: job.Schedule,
		From:        ev.From,
		Time:        time.Now(),
		Content:     ev.Content,
		CanReply:    canReply,
	}
	d.executor.Run(ctx, talkID, job, trigger)
}

// CleanupStaleDebounce prunes debounce entries older than 10x the debounce
// window (spec.md §4.6's periodic cleanup).
func (d *Dispatcher) CleanupStaleDebounce() {
	cutoff := 10 * d.debounce
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, last := range d.lastFiredAt {
		if now.Sub(last) > cutoff {
			delete(d.lastFiredAt, key)
		}
	}
}

// StartCleanupLoop runs CleanupStaleDebounce on a ticker until ctx is done.
func (d *Dispatcher) StartCleanupLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = d.debounce
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.CleanupStaleDebounce()
			}
		}
	}()
}
