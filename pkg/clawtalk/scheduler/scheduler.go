package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

const tickInterval = 60 * time.Second

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler ticks every 60s, computing the due set of cron/one-shot jobs
// across all Talks and dispatching them onto the shared Executor
// (spec.md §4.7). Event jobs are skipped here; the dispatcher owns those.
type Scheduler struct {
	store    *talkstore.Store
	executor *Executor
	logger   *slog.Logger

	mu          sync.Mutex
	lastTick    time.Time
	running     map[string]bool // talkId:jobId currently executing
	cancel      context.CancelFunc
	stoppedOnce sync.Once
	done        chan struct{}
}

// New constructs a Scheduler.
func New(store *talkstore.Store, executor *Executor, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		logger:   logger.With("component", "scheduler"),
		lastTick: time.Now(),
		running:  make(map[string]bool),
		done:     make(chan struct{}),
	}
}

// Start runs the tick loop until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ticker := time.NewTicker(tickInterval)
	go func() {
		defer ticker.Stop()
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				s.tick(ctx, now)
			}
		}
	}()
}

// Stop signals the tick loop to exit and waits for it to finish.
func (s *Scheduler) Stop() {
	s.stoppedOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	<-s.done
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	sinceLast := s.lastTick
	s.lastTick = now
	s.mu.Unlock()

	for _, active := range s.store.GetAllActiveJobs() {
		if s.isDue(active.Job, sinceLast, now) {
			go s.dispatch(ctx, active.TalkID, active.Job)
		}
	}
}

// isDue implements spec.md §4.7's due-set computation with monotonic
// boundary discipline: a recurring job fires once per cron boundary
// crossed between the previous tick and now, never twice.
func (s *Scheduler) isDue(job talkstore.Job, since, now time.Time) bool {
	switch job.Type {
	case talkstore.JobRecurring:
		schedule, err := cronParser.Parse(job.Schedule)
		if err != nil {
			s.logger.Warn("job has invalid cron schedule", "jobId", job.ID, "schedule", job.Schedule, "error", err)
			return false
		}
		next := schedule.Next(since)
		return !next.After(now) && next.After(since)
	case talkstore.JobOnce:
		if job.LastRunAt != 0 {
			return false
		}
		if target, err := time.Parse(time.RFC3339, job.Schedule); err == nil {
			return !target.After(now)
		}
		// Not an ISO timestamp: spec.md §3 allows a once-job's schedule to
		// also be a cron expression. Fire at its first boundary crossed
		// since the last tick; LastRunAt above keeps it from firing again.
		schedule, err := cronParser.Parse(job.Schedule)
		if err != nil {
			s.logger.Warn("once job has unparseable schedule", "jobId", job.ID, "schedule", job.Schedule, "error", err)
			return false
		}
		next := schedule.Next(since)
		return !next.After(now) && next.After(since)
	default:
		return false
	}
}

// dispatch guards per-talk-per-job concurrency and runs the job through the
// shared executor.
func (s *Scheduler) dispatch(ctx context.Context, talkID string, job talkstore.Job) {
	key := talkID + ":" + job.ID
	s.mu.Lock()
	if s.running[key] {
		s.mu.Unlock()
		return
	}
	s.running[key] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, key)
		s.mu.Unlock()
	}()

	s.executor.Run(ctx, talkID, job, nil)
}
