package talkstore

import (
	"fmt"

	"github.com/google/uuid"
)

// AddJob appends a Job to the Talk, generating an id if absent.
func (s *Store) AddJob(talkID string, job Job) (Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt == 0 {
		job.CreatedAt = nowMillis()
	}
	if job.Output.Type == "" {
		job.Output.Type = OutputReportOnly
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[talkID]
	if !ok {
		return Job{}, fmt.Errorf("talkstore: talk %q not found", talkID)
	}
	t.Jobs = append(t.Jobs, job)
	s.nextVersion(t, "")
	ev := ChangeEvent{Type: ChangeUpdated, TalkID: talkID, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: t.LastModifiedAt}
	clone := t.Clone()
	go func() {
		s.persistTalkAsync(clone)
		s.publish(ev)
	}()
	return job, nil
}

// UpdateJob replaces the Job with matching id, returning false if not found.
func (s *Store) UpdateJob(talkID string, job Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[talkID]
	if !ok {
		return false
	}
	for i, j := range t.Jobs {
		if j.ID == job.ID {
			t.Jobs[i] = job
			s.nextVersion(t, "")
			ev := ChangeEvent{Type: ChangeUpdated, TalkID: talkID, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: t.LastModifiedAt}
			clone := t.Clone()
			go func() {
				s.persistTalkAsync(clone)
				s.publish(ev)
			}()
			return true
		}
	}
	return false
}

// DeleteJob removes a Job by id.
func (s *Store) DeleteJob(talkID, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[talkID]
	if !ok {
		return
	}
	out := make([]Job, 0, len(t.Jobs))
	changed := false
	for _, j := range t.Jobs {
		if j.ID == jobID {
			changed = true
			continue
		}
		out = append(out, j)
	}
	if changed {
		t.Jobs = out
		s.nextVersion(t, "")
		ev := ChangeEvent{Type: ChangeUpdated, TalkID: talkID, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: t.LastModifiedAt}
		clone := t.Clone()
		go func() {
			s.persistTalkAsync(clone)
			s.publish(ev)
		}()
	}
}

// ListJobs returns a Talk's jobs.
func (s *Store) ListJobs(talkID string) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.talks[talkID]
	if !ok {
		return nil
	}
	return append([]Job(nil), t.Jobs...)
}

// ActiveJob pairs a Job with the id of its owning Talk.
type ActiveJob struct {
	TalkID string
	Job    Job
}

// GetAllActiveJobs returns every active Job across every Talk, for the
// scheduler's due-set computation.
func (s *Store) GetAllActiveJobs() []ActiveJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ActiveJob
	for talkID, t := range s.talks {
		for _, j := range t.Jobs {
			if j.Active {
				out = append(out, ActiveJob{TalkID: talkID, Job: j})
			}
		}
	}
	return out
}

// persistTalkAsync is the fire-and-forget persistence path used by
// mutation helpers that do not themselves return an error to an awaited
// caller, matching spec.md §4.1's "writes that fail log-warn but never
// throw to callers of fire-and-forget paths".
func (s *Store) persistTalkAsync(t *Talk) {
	if err := s.persistTalk(t); err != nil {
		s.logger.Warn("failed to persist talk", "talkId", t.ID, "error", err)
	}
}
