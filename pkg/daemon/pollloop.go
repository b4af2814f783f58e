package daemon

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/modoterra/procwatch/pkg/monitor"
	"github.com/modoterra/procwatch/pkg/transport/uds"
)

// Broadcaster pushes a message to every connected client.
type Broadcaster interface {
	Broadcast(msg uds.Message)
}

// PollLoop snapshots the registry every interval and emits delta events.
type PollLoop struct {
	registry *monitor.Registry
	out      Broadcaster
	interval time.Duration
	logger   *slog.Logger
	last     map[string]monitor.ProcessStatus
}

// NewPollLoop creates a poll loop for the given daemon.
func NewPollLoop(d *Daemon, interval time.Duration, logger *slog.Logger) *PollLoop {
	return &PollLoop{
		registry: d.Registry(),
		out:      d.Server(),
		interval: interval,
		logger:   logger,
		last:     make(map[string]monitor.ProcessStatus),
	}
}

// Run starts the poll loop. Blocks until ctx is cancelled.
func (pl *PollLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pl.tick()
		}
	}
}

func (pl *PollLoop) tick() {
	st := pl.registry.Status()
	current := make(map[string]monitor.ProcessStatus, len(st.Processes))
	for _, p := range st.Processes {
		current[p.ID] = p
	}

	delta := computeDelta(pl.last, current)
	pl.last = current
	if !delta.HasChanges() {
		return
	}
	delta.ActiveProcesses = st.ActiveProcesses

	evt, err := uds.NewEvent(uds.EventStatusDelta, delta)
	if err != nil {
		pl.logger.Error("encode status delta", "err", err)
		return
	}
	pl.out.Broadcast(evt)
}

// Delta represents changes between poll cycles.
type Delta struct {
	Added           []monitor.ProcessStatus `json:"added,omitempty"`
	Updated         []monitor.ProcessStatus `json:"updated,omitempty"`
	Removed         []string                `json:"removed,omitempty"`
	ActiveProcesses int                     `json:"active_processes"`
}

// HasChanges returns true if the delta contains any changes.
func (d Delta) HasChanges() bool {
	return len(d.Added) > 0 || len(d.Updated) > 0 || len(d.Removed) > 0
}

func computeDelta(old, new map[string]monitor.ProcessStatus) Delta {
	var d Delta

	for id, p := range new {
		prev, existed := old[id]
		if !existed {
			d.Added = append(d.Added, p)
		} else if statusChanged(prev, p) {
			d.Updated = append(d.Updated, p)
		}
	}

	for id := range old {
		if _, exists := new[id]; !exists {
			d.Removed = append(d.Removed, id)
		}
	}

	slices.Sort(d.Removed)
	sortByStart(d.Added)
	sortByStart(d.Updated)
	return d
}

func statusChanged(a, b monitor.ProcessStatus) bool {
	return a.Status != b.Status ||
		a.PID != b.PID ||
		!slices.Equal(a.LevelFilter, b.LevelFilter)
}

func sortByStart(ps []monitor.ProcessStatus) {
	slices.SortFunc(ps, func(a, b monitor.ProcessStatus) int {
		return a.StartTime.Compare(b.StartTime)
	})
}
