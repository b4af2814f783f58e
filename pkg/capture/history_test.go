package capture

import (
	"fmt"
	"testing"

	"github.com/modoterra/procwatch/pkg/core"
)

func entry(msg string, level core.Level) core.LogEntry {
	return core.LogEntry{Message: msg, Level: level}
}

func messages(entries []core.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestHistoryDefaultCapacity(t *testing.T) {
	if got := NewHistory(0).Capacity(); got != DefaultHistorySize {
		t.Errorf("Capacity() = %d, want %d", got, DefaultHistorySize)
	}
}

func TestHistoryFilter(t *testing.T) {
	h := NewHistory(10)

	h.SetLevelFilter(nil)
	for _, l := range core.Levels {
		if !h.Accepts(entry("x", l)) {
			t.Errorf("empty filter rejected %s", l)
		}
	}

	h.SetLevelFilter([]core.Level{core.LevelError})
	for _, l := range core.Levels {
		if got := h.Accepts(entry("x", l)); got != (l == core.LevelError) {
			t.Errorf("error-only filter: Accepts(%s) = %v", l, got)
		}
	}

	h.SetLevelFilter([]core.Level{})
	if !h.Accepts(entry("x", core.LevelDebug)) {
		t.Error("clearing the filter should accept all levels")
	}
}

func TestHistoryLevelFilterSnapshot(t *testing.T) {
	h := NewHistory(1)
	if h.LevelFilter() != nil {
		t.Error("expected nil filter")
	}
	h.SetLevelFilter([]core.Level{core.LevelError, core.LevelWarn, core.LevelError})
	got := h.LevelFilter()
	if len(got) != 2 || got[0] != core.LevelWarn || got[1] != core.LevelError {
		t.Errorf("LevelFilter() = %v, want [warn error]", got)
	}
}

func TestHistoryRecentWindow(t *testing.T) {
	const capacity = 5
	tests := []struct {
		seen  int
		count int
		want  int
	}{
		{0, 3, 0},
		{2, 3, 2},
		{4, 3, 3},
		{12, 3, 3},
		{12, 10, capacity},
		{12, 0, capacity},
		{3, -1, 3},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("seen=%d,count=%d", tt.seen, tt.count), func(t *testing.T) {
			h := NewHistory(capacity)
			for i := 0; i < tt.seen; i++ {
				h.Record(entry(fmt.Sprintf("m%d", i), core.LevelInfo))
			}
			got := h.Recent(tt.count)
			if len(got) != tt.want {
				t.Fatalf("got %d entries, want %d", len(got), tt.want)
			}
			// Always the newest entries, oldest first.
			for i, e := range got {
				want := fmt.Sprintf("m%d", tt.seen-tt.want+i)
				if e.Message != want {
					t.Errorf("entry %d = %q, want %q", i, e.Message, want)
				}
			}
		})
	}
}

func TestHistoryRecordsFilteredEntries(t *testing.T) {
	h := NewHistory(10)
	h.SetLevelFilter([]core.Level{core.LevelError, core.LevelWarn})

	accepted := 0
	for _, e := range []core.LogEntry{entry("INFO: a", core.LevelInfo), entry("ERROR: b", core.LevelError)} {
		if h.RecordAndAccept(e) {
			accepted++
		}
	}

	if accepted != 1 {
		t.Errorf("accepted %d entries, want 1", accepted)
	}
	got := messages(h.Recent(0))
	if len(got) != 2 || got[0] != "INFO: a" || got[1] != "ERROR: b" {
		t.Errorf("history = %q, want both entries", got)
	}
}

func TestHistoryRecentDoesNotMutate(t *testing.T) {
	h := NewHistory(3)
	h.Record(entry("a", core.LevelInfo))
	first := h.Recent(0)
	first[0].Message = "changed"
	if got := h.Recent(0)[0].Message; got != "a" {
		t.Errorf("Recent exposed internal storage: %q", got)
	}
}
