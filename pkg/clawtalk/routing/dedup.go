package routing

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultDedupTTL is the default memo lifetime (spec.md §4.3).
const DefaultDedupTTL = 6 * time.Hour

// DedupEntry is the memoized outcome for a previously seen eventId.
type DedupEntry struct {
	Timestamp time.Time
	Decision  Decision
}

// DedupTable is a process-local, in-memory at-least-once → exactly-once
// memo, pruned on every insert.
type DedupTable struct {
	mu      sync.Mutex
	entries map[string]DedupEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewDedupTable constructs a DedupTable with the given TTL (0 → DefaultDedupTTL).
func NewDedupTable(ttl time.Duration) *DedupTable {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &DedupTable{
		entries: make(map[string]DedupEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// EventID builds the canonical dedup key per spec.md §4.3:
// slack:<accountId|default>:<channelId>:<messageTs|threadTs|unknown>:<userId|unknown>.
func EventID(accountID, channelID, messageTS, threadTS, userID string) string {
	acc := accountID
	if acc == "" {
		acc = "default"
	}
	ts := messageTS
	if ts == "" {
		ts = threadTS
	}
	if ts == "" {
		ts = "unknown"
	}
	uid := userID
	if uid == "" {
		uid = "unknown"
	}
	return fmt.Sprintf("slack:%s:%s:%s:%s", strings.ToLower(acc), strings.ToLower(channelID), ts, uid)
}

// GetOrInsert returns the prior decision and duplicate=true if eventID was
// already seen within TTL; otherwise stores decision under eventID and
// returns duplicate=false. Prunes expired entries before inserting
// (property P3).
func (d *DedupTable) GetOrInsert(eventID string, decision func() Decision) (Decision, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pruneLocked()

	if e, ok := d.entries[eventID]; ok {
		return e.Decision, true
	}

	dec := decision()
	d.entries[eventID] = DedupEntry{Timestamp: d.now(), Decision: dec}
	return dec, false
}

func (d *DedupTable) pruneLocked() {
	cutoff := d.now().Add(-d.ttl)
	for k, e := range d.entries {
		if e.Timestamp.Before(cutoff) {
			delete(d.entries, k)
		}
	}
}

// Len reports the current entry count, for diagnostics/tests.
func (d *DedupTable) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
