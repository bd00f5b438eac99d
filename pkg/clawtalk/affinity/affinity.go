// Package affinity implements ToolAffinityStore: a per-Talk, per-intent
// learner that observes which tools a model actually uses and drives tool
// pruning and adaptive timeouts.
package affinity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/intent"
	"github.com/jokim1/ClawTalkGateway/pkg/clawtalk/talkstore"
)

// Phase is the state of the tool-affinity machine for a (Talk, intent) pair.
type Phase string

const (
	PhaseWarmup      Phase = "warmup"
	PhaseLearned      Phase = "learned"
	PhaseExploration  Phase = "exploration"
)

// Config holds the tunable thresholds of spec.md §4.8, overridable via
// CLAWTALK_AFFINITY_* environment variables (see pkg/clawtalk/config).
type Config struct {
	WarmupThreshold   int     // W, default 3
	ExplorationRate   int     // E, default 20 (probability 1/E)
	MinAffinityThreshold float64 // θ, default 0.1
	SlidingWindowSize int     // default 50
	BaseTimeoutMs     int64   // default 240_000
	MinTimeoutMs      int64   // optional floor, 0 = unset
	Enabled           bool
}

// DefaultConfig returns spec.md's documented defaults.
func DefaultConfig() Config {
	return Config{
		WarmupThreshold:       3,
		ExplorationRate:       20,
		MinAffinityThreshold: 0.1,
		SlidingWindowSize:    50,
		BaseTimeoutMs:        240_000,
		Enabled:              true,
	}
}

// StateBackend distinguishes the two cold-start baseline sources in §4.8.
type StateBackend string

const (
	StateBackendStreamStore   StateBackend = "stream_store"
	StateBackendWorkspaceFiles StateBackend = "workspace_files"
)

// Selection is the result of the phase machine for one (Talk, intent) call.
type Selection struct {
	Phase     Phase
	Selected  []string
	Pruned    []string
	Reason    string
}

// snapshot is the cached per-intent aggregation of recent observations.
type snapshot struct {
	totalObservations int
	noToolCount       int
	toolCounts        map[string]int
}

type talkCache struct {
	mu        sync.Mutex
	snapshots map[intent.Intent]snapshot
	expiresAt time.Time
}

// Store is the per-Talk, per-intent tool-affinity learner.
type Store struct {
	cfg    Config
	logger *slog.Logger
	ts     *talkstore.Store

	mu     sync.Mutex
	caches map[string]*talkCache
}

// New constructs a Store backed by ts for observation/snapshot persistence.
func New(ts *talkstore.Store, cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:    cfg,
		logger: logger.With("component", "affinity"),
		ts:     ts,
		caches: make(map[string]*talkCache),
	}
}

// Observe appends one AffinityObservation and invalidates the snapshot
// cache for that Talk (spec.md §4.8).
func (s *Store) Observe(talkID string, o talkstore.AffinityObservation) error {
	if err := s.ts.AppendObservation(talkID, o); err != nil {
		return fmt.Errorf("affinity: observe: %w", err)
	}
	s.mu.Lock()
	delete(s.caches, talkID)
	s.mu.Unlock()
	return nil
}

// snapshotFor computes (or returns the 60s-cached) per-intent snapshot for a Talk.
func (s *Store) snapshotFor(talkID string) map[intent.Intent]snapshot {
	s.mu.Lock()
	c, ok := s.caches[talkID]
	if ok && time.Now().Before(c.expiresAt) {
		s.mu.Unlock()
		return c.snapshots
	}
	s.mu.Unlock()

	observations := s.ts.GetObservations(talkID)
	byIntent := make(map[intent.Intent][]talkstore.AffinityObservation)
	for _, o := range observations {
		in := intent.Intent(o.Intent)
		byIntent[in] = append(byIntent[in], o)
	}

	snapshots := make(map[intent.Intent]snapshot, len(byIntent))
	for in, obs := range byIntent {
		if len(obs) > s.cfg.SlidingWindowSize {
			obs = obs[len(obs)-s.cfg.SlidingWindowSize:]
		}
		snap := snapshot{toolCounts: make(map[string]int)}
		for _, o := range obs {
			snap.totalObservations++
			if len(o.UsedTools) == 0 {
				snap.noToolCount++
			}
			for _, tool := range o.UsedTools {
				snap.toolCounts[strings.ToLower(tool)]++
			}
		}
		snapshots[in] = snap
	}

	s.mu.Lock()
	s.caches[talkID] = &talkCache{snapshots: snapshots, expiresAt: time.Now().Add(60 * time.Second)}
	s.mu.Unlock()

	if data, err := json.MarshalIndent(debugSnapshot(snapshots), "", "  "); err == nil {
		if err := s.ts.WriteAffinitySnapshot(talkID, data); err != nil {
			s.logger.Warn("failed to persist affinity snapshot", "talkId", talkID, "error", err)
		}
	}

	return snapshots
}

func debugSnapshot(snapshots map[intent.Intent]snapshot) map[string]any {
	out := make(map[string]any, len(snapshots))
	for in, snap := range snapshots {
		out[string(in)] = map[string]any{
			"totalObservations": snap.totalObservations,
			"noToolCount":       snap.noToolCount,
			"toolCounts":        snap.toolCounts,
		}
	}
	return out
}

// ComputeColdStartBaseline implements spec.md §4.8's
// computeColdStartBaseline({stateBackend, policyAllowedTools}).
func ComputeColdStartBaseline(stateBackend StateBackend, policyAllowed []string) []string {
	if stateBackend == StateBackendWorkspaceFiles {
		return nil
	}
	var out []string
	for _, t := range policyAllowed {
		if strings.HasPrefix(t, "state_") {
			out = append(out, t)
		}
	}
	return out
}

// explorationRoll deterministically derives a non-negative value from
// (talkID, intent, observation count) via SHA-256, which Select reduces
// modulo E; it follows the teacher's
// resolveStableCronOffset idiom so §8's laws are exactly reproducible
// without depending on a hidden PRNG seed.
func explorationRoll(talkID string, in intent.Intent, totalObservations int) int {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", talkID, in, totalObservations)))
	v := binary.BigEndian.Uint64(h[:8])
	return int(v % 0xFFFFFFFF)
}

// Select runs the phase machine for (talkID, intent) per spec.md §4.8.
// coldStartBaseline may be nil (none provided).
func (s *Store) Select(talkID string, in intent.Intent, policyAllowed []string, coldStartBaseline []string) Selection {
	snapshots := s.snapshotFor(talkID)
	snap, hasData := snapshots[in]

	isCold := intent.Cold[in]
	baselineProvided := coldStartBaseline != nil

	if snap.totalObservations < s.cfg.WarmupThreshold && !isCold && !baselineProvided {
		return s.warmupSelection(policyAllowed, "warmup: below threshold, non-cold intent, no baseline")
	}

	if s.cfg.ExplorationRate > 0 {
		roll := explorationRoll(talkID, in, snap.totalObservations) % s.cfg.ExplorationRate
		if roll == 0 {
			sel := s.warmupSelection(policyAllowed, "exploration: random sampling roll")
			sel.Phase = PhaseExploration
			return sel
		}
	}

	return s.learnedSelection(policyAllowed, snap, hasData, coldStartBaseline, isCold)
}

func (s *Store) warmupSelection(policyAllowed []string, reason string) Selection {
	return Selection{Phase: PhaseWarmup, Selected: append([]string(nil), policyAllowed...), Reason: reason}
}

func (s *Store) learnedSelection(policyAllowed []string, snap snapshot, hasData bool, baseline []string, isCold bool) Selection {
	allowedSet := make(map[string]bool, len(policyAllowed))
	for _, t := range policyAllowed {
		allowedSet[strings.ToLower(t)] = true
	}

	// Death-spiral regression (law L2): data exists but is too sparse to
	// have earned trust below warmup — if a baseline is provided, prefer
	// it over a premature zero-selection while observations < warmup.
	if hasData && snap.totalObservations > 0 {
		if baseline != nil && snap.totalObservations < s.cfg.WarmupThreshold {
			selected := intersect(policyAllowed, baseline)
			return Selection{
				Phase:    PhaseLearned,
				Selected: selected,
				Pruned:   diff(policyAllowed, selected),
				Reason:   fmt.Sprintf("cold-start baseline retained (observations=%d < warmup), baseline=%d", snap.totalObservations, len(baseline)),
			}
		}

		var selected []string
		for _, t := range policyAllowed {
			key := strings.ToLower(t)
			ratio := 0.0
			if snap.totalObservations > 0 {
				ratio = float64(snap.toolCounts[key]) / float64(snap.totalObservations)
			}
			if ratio >= s.cfg.MinAffinityThreshold {
				selected = append(selected, t)
			}
		}
		return Selection{
			Phase:    PhaseLearned,
			Selected: selected,
			Pruned:   diff(policyAllowed, selected),
			Reason:   fmt.Sprintf("learned from %d observations", snap.totalObservations),
		}
	}

	if baseline != nil {
		selected := intersect(policyAllowed, baseline)
		return Selection{
			Phase:    PhaseLearned,
			Selected: selected,
			Pruned:   diff(policyAllowed, selected),
			Reason:   fmt.Sprintf("cold-start baseline=%d", len(baseline)),
		}
	}

	if isCold {
		return Selection{Phase: PhaseLearned, Selected: nil, Pruned: append([]string(nil), policyAllowed...), Reason: "cold intent, no baseline, no data"}
	}

	return s.warmupSelection(policyAllowed, "fallback to warmup: no data, no baseline, non-cold intent")
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[strings.ToLower(t)] = true
	}
	var out []string
	for _, t := range a {
		if set[strings.ToLower(t)] {
			out = append(out, t)
		}
	}
	return out
}

func diff(all, selected []string) []string {
	set := make(map[string]bool, len(selected))
	for _, t := range selected {
		set[strings.ToLower(t)] = true
	}
	var out []string
	for _, t := range all {
		if !set[strings.ToLower(t)] {
			out = append(out, t)
		}
	}
	return out
}

// ComputeAffinityTimeout implements spec.md §4.8's adaptive timeout formula.
func ComputeAffinityTimeout(phase Phase, toolCount int, baseTimeoutMs, minTimeoutMs int64) int64 {
	if phase != PhaseLearned {
		return baseTimeoutMs
	}
	floor := minTimeoutMs
	computed := int64(60_000) + int64(20_000)*int64(toolCount)
	if computed > floor {
		floor = computed
	}
	if floor > baseTimeoutMs {
		return baseTimeoutMs
	}
	return floor
}
