package talkstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultContextTTL = 30 * time.Second

// Patch is the fixed whitelist of fields update() may mutate (spec.md §4.1).
type Patch struct {
	TopicTitle        *string
	Objective         *string
	Model             *string
	Agents            []Agent
	Directives        []Directive
	PlatformBindings  []Binding
	PlatformBehaviors []Behavior
	ToolMode          *string
	ExecutionMode     *string
	FilesystemAccess  *string
	NetworkAccess     *string
	ToolsAllow        []string
	ToolsDeny         []string
	GoogleAuthProfile *string
}

type contextCacheEntry struct {
	text      string
	expiresAt time.Time
}

// Store is the durable, process-local, single-writer Talk store.
type Store struct {
	mu    sync.RWMutex
	talks map[string]*Talk

	listenersMu sync.RWMutex
	listeners   []Listener

	dataDir string
	logger  *slog.Logger
	files   *fileLocks

	listCacheMu sync.Mutex
	listCache   []*Talk
	listValid   bool

	ctxCacheMu sync.Mutex
	ctxCache   map[string]contextCacheEntry
}

// New constructs a Store rooted at dataDir (the directory containing talks/).
func New(dataDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		talks:    make(map[string]*Talk),
		dataDir:  dataDir,
		logger:   logger.With("component", "talkstore"),
		files:    newFileLocks(),
		ctxCache: make(map[string]contextCacheEntry),
	}
}

// Load performs startup recovery: reads every Talk directory, normalizes
// each Talk, and clears any stale processing=true flag (spec.md §4.1).
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := listTalkDirs(s.dataDir)
	staleCount := 0
	for _, id := range ids {
		t, err := s.loadTalkFromDisk(id)
		if err != nil {
			s.logger.Warn("skipping talk with unreadable metadata", "talkId", id, "error", err)
			continue
		}
		if t.Processing {
			staleCount++
			t.Processing = false
		}
		s.talks[id] = t
	}
	if staleCount > 0 {
		s.logger.Warn("cleared stale processing flags on startup", "count", staleCount)
	}
	s.invalidateListLocked()
	return nil
}

func (s *Store) loadTalkFromDisk(id string) (*Talk, error) {
	path := filepath.Join(talkDir(s.dataDir, id), talkFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Talk
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	NormalizeTalk(&t)
	return &t, nil
}

func (s *Store) invalidateListLocked() {
	s.listCacheMu.Lock()
	s.listValid = false
	s.listCacheMu.Unlock()
}

func (s *Store) nextVersion(t *Talk, modifiedBy string) {
	t.TalkVersion++
	t.ChangeID = uuid.NewString()
	t.LastModifiedAt = nowMillis()
	t.LastModifiedBy = modifiedBy
	t.UpdatedAt = t.LastModifiedAt
	s.invalidateListLocked()
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// Create allocates a new Talk, optionally seeding its model, and persists it.
func (s *Store) Create(model string) (*Talk, error) {
	s.mu.Lock()
	t := &Talk{
		ID:               uuid.NewString(),
		TalkVersion:      1,
		ChangeID:         uuid.NewString(),
		Model:            model,
		ExecutionMode:    ExecutionModeOpenClaw,
		FilesystemAccess: FilesystemSandbox,
		NetworkAccess:    NetworkRestricted,
		ToolMode:         ToolModeConfirm,
		CreatedAt:        nowMillis(),
	}
	t.UpdatedAt = t.CreatedAt
	t.LastModifiedAt = t.CreatedAt
	s.talks[t.ID] = t
	s.invalidateListLocked()
	s.mu.Unlock()

	if err := s.persistTalk(t); err != nil {
		s.logger.Error("failed to persist new talk", "talkId", t.ID, "error", err)
		return nil, err
	}
	s.publish(ChangeEvent{Type: ChangeCreated, TalkID: t.ID, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: t.UpdatedAt})
	return t.Clone(), nil
}

// Get returns a copy of the Talk with id, or nil if absent.
func (s *Store) Get(id string) *Talk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.talks[id].Clone()
}

// List returns all Talks sorted by UpdatedAt descending, served from a
// cache invalidated on any mutation (spec.md §4.1).
func (s *Store) List() []*Talk {
	s.listCacheMu.Lock()
	if s.listValid {
		out := make([]*Talk, len(s.listCache))
		copy(out, s.listCache)
		s.listCacheMu.Unlock()
		return out
	}
	s.listCacheMu.Unlock()

	s.mu.RLock()
	out := make([]*Talk, 0, len(s.talks))
	for _, t := range s.talks {
		out = append(out, t.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })

	s.listCacheMu.Lock()
	s.listCache = out
	s.listValid = true
	s.listCacheMu.Unlock()

	dup := make([]*Talk, len(out))
	copy(dup, out)
	return dup
}

// Update applies patch's whitelisted fields to Talk id, bumps its version,
// persists it, and publishes a ChangeEvent.
func (s *Store) Update(id string, patch Patch, modifiedBy string) (*Talk, error) {
	s.mu.Lock()
	t, ok := s.talks[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("talkstore: talk %q not found", id)
	}

	if patch.TopicTitle != nil {
		t.TopicTitle = *patch.TopicTitle
	}
	if patch.Objective != nil {
		t.Objective = *patch.Objective
	}
	if patch.Model != nil {
		t.Model = *patch.Model
	}
	if patch.Agents != nil {
		t.Agents = patch.Agents
	}
	if patch.Directives != nil {
		t.Directives = NormalizeDirectives(patch.Directives)
	}
	if patch.PlatformBindings != nil {
		t.PlatformBindings = NormalizeBindings(patch.PlatformBindings)
	}
	if patch.PlatformBehaviors != nil {
		t.PlatformBehaviors = NormalizeBehaviors(patch.PlatformBehaviors, t.PlatformBindings)
	}
	if patch.ToolMode != nil {
		t.ToolMode = NormalizeToolMode(*patch.ToolMode)
	}
	if patch.ExecutionMode != nil {
		t.ExecutionMode = NormalizeExecutionMode(*patch.ExecutionMode)
	}
	if patch.FilesystemAccess != nil {
		t.FilesystemAccess = NormalizeFilesystemAccess(*patch.FilesystemAccess)
	}
	if patch.NetworkAccess != nil {
		t.NetworkAccess = NormalizeNetworkAccess(*patch.NetworkAccess)
	}
	if patch.ToolsAllow != nil {
		t.ToolsAllow = NormalizeToolNames(patch.ToolsAllow)
	}
	if patch.ToolsDeny != nil {
		t.ToolsDeny = NormalizeToolNames(patch.ToolsDeny)
	}
	if patch.GoogleAuthProfile != nil {
		t.GoogleAuthProfile = *patch.GoogleAuthProfile
	}

	s.nextVersion(t, modifiedBy)
	s.invalidateListLocked()
	out := t.Clone()
	s.mu.Unlock()

	if err := s.persistTalk(out); err != nil {
		s.logger.Error("failed to persist talk update", "talkId", id, "error", err)
	}
	s.publish(ChangeEvent{Type: ChangeUpdated, TalkID: id, TalkVersion: out.TalkVersion, ChangeID: out.ChangeID, Timestamp: out.LastModifiedAt, LastModifiedBy: modifiedBy})
	return out, nil
}

// Delete removes a Talk from memory and tombstones its on-disk directory
// (renamed under a ".deleted-" prefix, contents preserved for forensic
// purposes) so the id never re-enters the in-memory map on this or a
// subsequent Load (spec.md invariant I4).
func (s *Store) Delete(id string) {
	s.mu.Lock()
	t, ok := s.talks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.talks, id)
	s.invalidateListLocked()
	s.mu.Unlock()

	if err := tombstoneTalkDir(s.dataDir, id); err != nil {
		s.logger.Error("failed to tombstone deleted talk directory", "talkId", id, "error", err)
	}
	s.publish(ChangeEvent{Type: ChangeDeleted, TalkID: id, TalkVersion: t.TalkVersion, ChangeID: t.ChangeID, Timestamp: nowMillis()})
}

// SetProcessing sets the transient processing flag without bumping talkVersion.
func (s *Store) SetProcessing(id string, processing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.talks[id]; ok {
		t.Processing = processing
	}
}

// persistTalk serializes and atomically writes talk.json, skipping the
// rewrite when byte-identical (SPEC_FULL.md §D.4).
func (s *Store) persistTalk(t *Talk) error {
	lock := s.files.forTalk(t.ID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("talkstore: marshal talk: %w", err)
	}
	path := filepath.Join(talkDir(s.dataDir, t.ID), talkFileName)
	return writeTalkFileIfChanged(path, data)
}

// Export returns a read-only snapshot of a Talk (the same copy Get returns)
// for operational tooling; the webhook hot path does not call it.
func (s *Store) Export(id string) *Talk {
	return s.Get(id)
}
