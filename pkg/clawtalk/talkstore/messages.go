package talkstore

import (
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

func historyPath(root, talkID string) string {
	return filepath.Join(talkDir(root, talkID), historyFileName)
}

// AppendMessage assigns an id/timestamp if absent, appends msg to the Talk's
// history log, and touches UpdatedAt (append is awaited per spec.md §5).
func (s *Store) AppendMessage(talkID string, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = nowMillis()
	}

	lock := s.files.forTalk(talkID)
	lock.Lock()
	err := appendJSONL(historyPath(s.dataDir, talkID), msg)
	lock.Unlock()
	if err != nil {
		return msg, fmt.Errorf("talkstore: append message: %w", err)
	}

	s.mu.Lock()
	if t, ok := s.talks[talkID]; ok {
		t.UpdatedAt = msg.Timestamp
		s.invalidateListLocked()
	}
	s.mu.Unlock()
	return msg, nil
}

// GetMessages returns the Talk's full history, honoring the small/large file
// access discipline of spec.md §4.1.
func (s *Store) GetMessages(talkID string) []Message {
	return readRecentMessages(s.logger, historyPath(s.dataDir, talkID), 0)
}

// GetRecentMessages returns at most the last n messages.
func (s *Store) GetRecentMessages(talkID string, n int) []Message {
	return readRecentMessages(s.logger, historyPath(s.dataDir, talkID), n)
}

// GetMessage finds a single message by id, or returns (Message{}, false).
func (s *Store) GetMessage(talkID, msgID string) (Message, bool) {
	for _, m := range s.GetMessages(talkID) {
		if m.ID == msgID {
			return m, true
		}
	}
	return Message{}, false
}

// DeleteMessages removes messages by id and rewrites the log, atomically
// dropping any now-dangling pin (spec.md invariant I2, property P2).
func (s *Store) DeleteMessages(talkID string, ids []string) error {
	toDelete := make(map[string]bool, len(ids))
	for _, id := range ids {
		toDelete[id] = true
	}

	lock := s.files.forTalk(talkID)
	lock.Lock()
	defer lock.Unlock()

	all := readRecentMessages(s.logger, historyPath(s.dataDir, talkID), 0)
	kept := make([]Message, 0, len(all))
	for _, m := range all {
		if !toDelete[m.ID] {
			kept = append(kept, m)
		}
	}
	if err := rewriteMessages(historyPath(s.dataDir, talkID), kept); err != nil {
		return fmt.Errorf("talkstore: rewrite history: %w", err)
	}

	s.mu.Lock()
	t, ok := s.talks[talkID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	survivors := make([]string, 0, len(t.PinnedMessageIDs))
	for _, pin := range t.PinnedMessageIDs {
		if !toDelete[pin] {
			survivors = append(survivors, pin)
		}
	}
	t.PinnedMessageIDs = survivors
	s.nextVersion(t, "")
	ev := ChangeEvent{Type: ChangeUpdated, TalkID: talkID, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: t.LastModifiedAt}
	clone := t.Clone()
	s.mu.Unlock()

	go func() {
		s.persistTalkAsync(clone)
		s.publish(ev)
	}()
	return nil
}

// AddPin appends a message id to the pin set if not already present and not
// dangling (spec.md invariant I2).
func (s *Store) AddPin(talkID, msgID string) error {
	if _, ok := s.GetMessage(talkID, msgID); !ok {
		return fmt.Errorf("talkstore: cannot pin unknown message %q", msgID)
	}
	s.mu.Lock()
	t, ok := s.talks[talkID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("talkstore: talk %q not found", talkID)
	}
	for _, p := range t.PinnedMessageIDs {
		if p == msgID {
			s.mu.Unlock()
			return nil
		}
	}
	t.PinnedMessageIDs = append(t.PinnedMessageIDs, msgID)
	s.nextVersion(t, "")
	ev := ChangeEvent{Type: ChangeUpdated, TalkID: talkID, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: t.LastModifiedAt}
	clone := t.Clone()
	s.mu.Unlock()

	go func() {
		s.persistTalkAsync(clone)
		s.publish(ev)
	}()
	return nil
}

// RemovePin drops a message id from the pin set if present.
func (s *Store) RemovePin(talkID, msgID string) {
	s.mu.Lock()
	t, ok := s.talks[talkID]
	if !ok {
		s.mu.Unlock()
		return
	}
	out := make([]string, 0, len(t.PinnedMessageIDs))
	changed := false
	for _, p := range t.PinnedMessageIDs {
		if p == msgID {
			changed = true
			continue
		}
		out = append(out, p)
	}
	if !changed {
		s.mu.Unlock()
		return
	}
	t.PinnedMessageIDs = out
	s.nextVersion(t, "")
	ev := ChangeEvent{Type: ChangeUpdated, TalkID: talkID, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: t.LastModifiedAt}
	clone := t.Clone()
	s.mu.Unlock()

	go func() {
		s.persistTalkAsync(clone)
		s.publish(ev)
	}()
}
