// Package scheduler implements JobScheduler: the 60-second tick loop that
// runs due cron/one-shot Talk-scoped jobs, plus the shared per-job execution
// routine also used by the event dispatcher.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/affinity"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/guard"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/intent"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/llmhost"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/toolpolicy"
)

// TriggerContext carries the provenance of an event-triggered run
// (spec.md §4.6); nil for scheduler-driven cron/one-shot runs.
type TriggerContext struct {
	Platform    string
	SourceScope string
	From        string
	Time        time.Time
	Content     string

	// CanReply mirrors EventDispatcher's permission gate: a read-only
	// binding still runs the job (it gets classified and recorded) but
	// step 8's delivery is suppressed. Ignored for scheduler-driven runs,
	// which always deliver.
	CanReply bool
}

// SlackSender delivers a job's output to Slack (spec.md §4.7 step 8).
type SlackSender interface {
	Send(accountID, channelID, threadTS, message string) error
}

// LLMClient is the subset of llmhost.Client the executor depends on,
// satisfied by *llmhost.Client and by fakes in tests.
type LLMClient interface {
	Invoke(ctx context.Context, req llmhost.Request, timeout time.Duration) (llmhost.Response, error)
}

// Executor runs the shared per-job execution routine of spec.md §4.7,
// reused verbatim by the event dispatcher for event-triggered jobs.
type Executor struct {
	Store         *talkstore.Store
	Affinity      *affinity.Store
	LLM           LLMClient
	SlackSender   SlackSender
	Logger        *slog.Logger
	BaseTimeoutMs int64
	MinTimeoutMs  int64

	talkLocksMu sync.Mutex
	talkLocks   map[string]*sync.Mutex
}

// NewExecutor constructs an Executor with spec.md's default timeouts.
func NewExecutor(store *talkstore.Store, aff *affinity.Store, llm LLMClient, sender SlackSender, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		Store:         store,
		Affinity:      aff,
		LLM:           llm,
		SlackSender:   sender,
		Logger:        logger.With("component", "scheduler"),
		BaseTimeoutMs: 240_000,
		talkLocks:     make(map[string]*sync.Mutex),
	}
}

func (e *Executor) lockFor(talkID string) *sync.Mutex {
	e.talkLocksMu.Lock()
	defer e.talkLocksMu.Unlock()
	l, ok := e.talkLocks[talkID]
	if !ok {
		l = &sync.Mutex{}
		e.talkLocks[talkID] = l
	}
	return l
}

// Run executes one Job for a Talk end to end, serialized per Talk
// (spec.md §4.7's "Ordering" rule), and never panics its caller.
func (e *Executor) Run(ctx context.Context, talkID string, job talkstore.Job, trigger *TriggerContext) {
	lock := e.lockFor(talkID)
	lock.Lock()
	defer lock.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.Logger.Error("job execution panicked", "talkId", talkID, "jobId", job.ID, "panic", r)
			e.recordReport(talkID, job, talkstore.JobStatusFailure, "", fmt.Sprintf("panic: %v", r))
		}
	}()

	talk := e.Store.Get(talkID)
	if talk == nil {
		e.Logger.Warn("job execution skipped: talk not found", "talkId", talkID, "jobId", job.ID)
		return
	}

	e.Store.SetProcessing(talkID, true)
	defer e.Store.SetProcessing(talkID, false)

	promptSource := job.Prompt
	if trigger != nil && trigger.Content != "" {
		promptSource = trigger.Content
	}
	in := intent.Classify(promptSource)

	policyAllowed := toolpolicy.Resolve(talk)
	baseline := affinity.ComputeColdStartBaseline(affinity.StateBackendStreamStore, policyAllowed)
	selection := e.Affinity.Select(talkID, in, policyAllowed, baseline)

	effectiveTimeoutMs := affinity.ComputeAffinityTimeout(affinity.Phase(selection.Phase), len(selection.Selected), e.BaseTimeoutMs, e.MinTimeoutMs)

	sessionKey := buildJobSessionKey(talkID, job.ID)
	headers := map[string]string{"x-openclaw-session-key": sessionKey}
	if talk.ExecutionMode == talkstore.ExecutionModeOpenClaw {
		headers["x-openclaw-agent-id"] = ManagedAgentID(talkID)
	}
	if err := guard.AssertRoutingHeaders(guard.FlowJobScheduler, talk.ExecutionMode, headers); err != nil {
		e.Logger.Error("job execution blocked by header guard", "talkId", talkID, "jobId", job.ID, "error", err)
		e.recordReport(talkID, job, talkstore.JobStatusFailure, "", err.Error())
		return
	}

	req := llmhost.Request{
		SessionKey: sessionKey,
		Prompt:     job.Prompt,
		Model:      talk.Model,
		Headers:    headers,
	}

	resp, err := e.LLM.Invoke(ctx, req, time.Duration(effectiveTimeoutMs)*time.Millisecond)

	e.Affinity.Observe(talkID, talkstore.AffinityObservation{
		Timestamp:      time.Now().UnixMilli(),
		Intent:         string(in),
		AvailableTools: policyAllowed,
		UsedTools:      nil,
		ToolsOffered:   selection.Selected,
		Model:          talk.Model,
		Source:         sourceLabel(trigger),
	})

	if err != nil {
		e.Logger.Warn("job execution failed", "talkId", talkID, "jobId", job.ID, "error", err)
		e.recordReport(talkID, job, talkstore.JobStatusFailure, "", err.Error())
		e.markRun(talkID, job.ID, talkstore.JobStatusFailure)
		return
	}

	e.recordReport(talkID, job, talkstore.JobStatusSuccess, resp.Output, "")
	e.markRun(talkID, job.ID, talkstore.JobStatusSuccess)

	if job.Output.Type == talkstore.OutputReportOnly {
		return
	}
	if trigger != nil && !trigger.CanReply {
		e.Logger.Info("delivery suppressed: read-only binding", "talkId", talkID, "jobId", job.ID)
		return
	}
	e.deliver(talkID, job, resp.Output)
}

func sourceLabel(trigger *TriggerContext) string {
	if trigger != nil {
		return "event"
	}
	return "scheduler"
}

func (e *Executor) recordReport(talkID string, job talkstore.Job, status talkstore.JobStatus, output, errMsg string) {
	if err := e.Store.AppendReport(talkID, talkstore.JobReport{
		JobID:      job.ID,
		RunAt:      time.Now().UnixMilli(),
		Status:     status,
		FullOutput: output,
		Error:      errMsg,
	}); err != nil {
		e.Logger.Warn("failed to record job report", "talkId", talkID, "jobId", job.ID, "error", err)
	}
}

func (e *Executor) markRun(talkID, jobID string, status talkstore.JobStatus) {
	jobs := e.Store.ListJobs(talkID)
	for _, j := range jobs {
		if j.ID == jobID {
			j.LastRunAt = time.Now().UnixMilli()
			j.LastStatus = status
			e.Store.UpdateJob(talkID, j)
			return
		}
	}
}

func (e *Executor) deliver(talkID string, job talkstore.Job, output string) {
	switch job.Output.Type {
	case talkstore.OutputTalk:
		if _, err := e.Store.AppendMessage(talkID, talkstore.Message{Role: talkstore.RoleAssistant, Content: output}); err != nil {
			e.Logger.Warn("failed to deliver job output to talk", "talkId", talkID, "jobId", job.ID, "error", err)
		}
	case talkstore.OutputSlack:
		if e.SlackSender == nil {
			e.Logger.Warn("job output destined for slack but no sender configured", "talkId", talkID, "jobId", job.ID)
			return
		}
		if err := e.SlackSender.Send(job.Output.AccountID, job.Output.ChannelID, job.Output.ThreadTS, output); err != nil {
			e.Logger.Warn("failed to deliver job output to slack", "talkId", talkID, "jobId", job.ID, "error", err)
		}
	}
}

// ManagedAgentID mirrors RoutingReconciler's agent id scheme (spec.md §4.10)
// so job requests and reconciled bindings address the same managed agent.
func ManagedAgentID(talkID string) string {
	id := strings.ReplaceAll(talkID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	return "ct-" + id
}

// buildJobSessionKey implements spec.md §4.7's "job runs always use job:…
// prefix" rule, independent of executionMode.
func buildJobSessionKey(talkID, jobID string) string {
	return fmt.Sprintf("job:%s:%s", talkID, jobID)
}
