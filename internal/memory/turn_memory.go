// Package memory implements TurnMemory (spec §4.4): a bounded, turn-aware
// chat history whose frame (screenshot) references are compacted as turns
// age, so the model's prompt stays bounded across long tasks. Per spec §9,
// no raw pixel buffers are retained here — frames are opaque references
// (a base64 payload or handle) dropped in place by a placeholder string.
package memory

import (
	"fmt"
	"sync"

	"github.com/leochame/lavis/internal/gateway"
)

// Entry is one chat-history record.
type Entry struct {
	Role    gateway.Role
	Content string
	TurnID  string // empty for legacy/no-turn entries
	Frames  []string
}

// Stats summarizes the current memory contents.
type Stats struct {
	TotalTurns    int
	TotalImages   int
	TotalMessages int
}

const legacyRecentUserWindow = 4

// TurnMemory is spec component C4.
type TurnMemory struct {
	mu sync.RWMutex

	entries    []Entry
	maxEntries int

	// turnPositions maps turnID -> indices of entries belonging to it, kept
	// in sync with entries on every append/evict (spec §5 lock-order: this
	// map and entries are guarded together by mu).
	turnPositions map[string][]int
}

// New builds a TurnMemory bounded to maxEntries total entries.
func New(maxEntries int) *TurnMemory {
	if maxEntries <= 0 {
		maxEntries = 200
	}
	return &TurnMemory{
		maxEntries:    maxEntries,
		turnPositions: make(map[string][]int),
	}
}

// Append adds an entry, then evicts FIFO over maxEntries and compacts
// historical-turn frames per spec §3's TurnMemory invariants.
func (m *TurnMemory) Append(entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entry)
	m.evictLocked()
	m.compactLocked(entry.TurnID)
	m.reindexLocked()
}

// evictLocked drops the oldest entries while len(entries) > maxEntries.
func (m *TurnMemory) evictLocked() {
	if len(m.entries) <= m.maxEntries {
		return
	}
	drop := len(m.entries) - m.maxEntries
	m.entries = m.entries[drop:]
}

// compactLocked applies spec §3's frame-compaction rules: the current turn
// (currentTurnID) keeps all its frames; every other turn with >2 frames
// keeps only the first and last, replacing the rest with a stable
// placeholder; legacy (no turn id) entries fall back to the older
// most-recent-N-user-entries policy.
func (m *TurnMemory) compactLocked(currentTurnID string) {
	byTurn := make(map[string][]int)
	var legacyUserIdx []int
	for i, e := range m.entries {
		if e.TurnID == "" {
			if e.Role == gateway.RoleUser && len(e.Frames) > 0 {
				legacyUserIdx = append(legacyUserIdx, i)
			}
			continue
		}
		if len(e.Frames) > 0 {
			byTurn[e.TurnID] = append(byTurn[e.TurnID], i)
		}
	}

	for turnID, idxs := range byTurn {
		if turnID == currentTurnID {
			continue
		}
		m.compactTurnFrames(turnID, idxs)
	}

	m.compactLegacyFrames(legacyUserIdx)
}

// compactTurnFrames keeps only the first and last frame of each entry
// sequence for a historical turn, replacing intermediate ones. Because
// frames live per-entry (an entry may itself carry several), we compact
// across all of the turn's entries combined, preserving the very first and
// very last frame and placeholdering everything between.
func (m *TurnMemory) compactTurnFrames(turnID string, entryIdxs []int) {
	type framePos struct{ entryIdx, frameIdx int }
	var positions []framePos
	for _, ei := range entryIdxs {
		for fi := range m.entries[ei].Frames {
			positions = append(positions, framePos{ei, fi})
		}
	}
	if len(positions) <= 2 {
		return
	}
	for k := 1; k < len(positions)-1; k++ {
		p := positions[k]
		m.entries[p.entryIdx].Frames[p.frameIdx] = fmt.Sprintf("[Visual_Placeholder: %s_%d]", turnID, k)
	}
}

// compactLegacyFrames implements the older policy for turn-less entries:
// keep frames in the most recent legacyRecentUserWindow user entries,
// collapse older ones to a single generic placeholder.
func (m *TurnMemory) compactLegacyFrames(userIdx []int) {
	if len(userIdx) <= legacyRecentUserWindow {
		return
	}
	stale := userIdx[:len(userIdx)-legacyRecentUserWindow]
	for _, ei := range stale {
		for fi := range m.entries[ei].Frames {
			m.entries[ei].Frames[fi] = "[Visual_Placeholder: legacy]"
		}
	}
}

// reindexLocked rebuilds the turn->positions map after an append/evict.
func (m *TurnMemory) reindexLocked() {
	m.turnPositions = make(map[string][]int)
	for i, e := range m.entries {
		if e.TurnID == "" {
			continue
		}
		m.turnPositions[e.TurnID] = append(m.turnPositions[e.TurnID], i)
	}
}

// Messages returns a snapshot copy of the current entries.
func (m *TurnMemory) Messages() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Stats reports aggregate counters over the current snapshot.
func (m *TurnMemory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{TotalMessages: len(m.entries)}
	seen := make(map[string]bool)
	for _, e := range m.entries {
		if e.TurnID != "" && !seen[e.TurnID] {
			seen[e.TurnID] = true
			s.TotalTurns++
		}
		s.TotalImages += len(e.Frames)
	}
	return s
}

// Reset clears all entries (used by POST /api/agent/reset).
func (m *TurnMemory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
	m.turnPositions = make(map[string][]int)
}
