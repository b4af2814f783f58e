package capture

import (
	"sync"

	"github.com/modoterra/procwatch/pkg/core"
)

// DefaultHistorySize is the number of entries a History keeps when no
// capacity is given.
const DefaultHistorySize = 50

// History is the per-session recent-entry ring and level allow-list.
// It is safe for concurrent use; stdout and stderr record into the same
// History from separate goroutines.
type History struct {
	mu      sync.Mutex
	entries []core.LogEntry
	next    int
	full    bool
	filter  map[core.Level]struct{}
}

// NewHistory creates a History holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{entries: make([]core.LogEntry, capacity)}
}

// Capacity returns the maximum number of retained entries.
func (h *History) Capacity() int {
	return len(h.entries)
}

// SetLevelFilter replaces the allow-list. An empty list accepts every level.
// Entries already recorded are not re-evaluated.
func (h *History) SetLevelFilter(levels []core.Level) {
	var filter map[core.Level]struct{}
	if len(levels) > 0 {
		filter = make(map[core.Level]struct{}, len(levels))
		for _, l := range levels {
			filter[l] = struct{}{}
		}
	}
	h.mu.Lock()
	h.filter = filter
	h.mu.Unlock()
}

// LevelFilter returns the current allow-list in severity order; nil means all.
func (h *History) LevelFilter() []core.Level {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.filter) == 0 {
		return nil
	}
	levels := make([]core.Level, 0, len(h.filter))
	for _, l := range core.Levels {
		if _, ok := h.filter[l]; ok {
			levels = append(levels, l)
		}
	}
	return levels
}

// Record appends entry to the ring regardless of the filter, evicting the
// oldest entry when full.
func (h *History) Record(entry core.LogEntry) {
	h.mu.Lock()
	h.entries[h.next] = entry
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Accepts reports whether entry passes the current level filter.
func (h *History) Accepts(entry core.LogEntry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.filter) == 0 {
		return true
	}
	_, ok := h.filter[entry.Level]
	return ok
}

// RecordAndAccept records entry and reports whether it passes the filter,
// under a single lock so a concurrent filter change applies to whole entries.
func (h *History) RecordAndAccept(entry core.LogEntry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = entry
	h.next = (h.next + 1) % len(h.entries)
	if h.next == 0 {
		h.full = true
	}
	if len(h.filter) == 0 {
		return true
	}
	_, ok := h.filter[entry.Level]
	return ok
}

// Recent returns up to count of the newest entries, oldest first.
// A count <= 0 returns everything retained.
func (h *History) Recent(count int) []core.LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.entries)
	}
	if count <= 0 || count > size {
		count = size
	}

	out := make([]core.LogEntry, count)
	start := h.next - count
	if start < 0 {
		start += len(h.entries)
	}
	for i := range out {
		out[i] = h.entries[(start+i)%len(h.entries)]
	}
	return out
}
