package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/modoterra/procwatch/pkg/bus"
	"github.com/modoterra/procwatch/pkg/capture"
	"github.com/modoterra/procwatch/pkg/core"
	"github.com/modoterra/procwatch/pkg/spawn"
)

const (
	// DefaultGracefulTimeout is how long Stop waits after SIGTERM before
	// killing the process group.
	DefaultGracefulTimeout = 10 * time.Second
	// DefaultDrainTimeout bounds how long a session waits for its output
	// streams to close after the process has exited.
	DefaultDrainTimeout = 2 * time.Second
)

// Options configures a Registry. Zero values select defaults.
type Options struct {
	Spawner spawn.Spawner
	Bus     *bus.Bus
	Logger  *slog.Logger

	// HistorySize is the per-session recent-entry capacity.
	HistorySize      int
	GracefulTimeout  time.Duration
	DrainTimeout     time.Duration
	BacklogThreshold int
}

// StartOptions are per-process settings for Start.
type StartOptions struct {
	// Name is an optional label, such as the manifest entry name.
	Name        string
	Format      capture.Format
	LevelFilter []core.Level
	Dir         string
	Env         map[string]string
}

// ProcessStatus is a point-in-time view of one session.
type ProcessStatus struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Command     string         `json:"command"`
	PID         int            `json:"pid"`
	Status      core.Status    `json:"status"`
	Format      capture.Format `json:"format,omitempty"`
	LevelFilter []core.Level   `json:"level_filter,omitempty"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time,omitzero"`
	ExitCode    int            `json:"exit_code,omitempty"`
	Signal      string         `json:"signal,omitempty"`
}

// Status is the registry-wide view returned by Registry.Status.
type Status struct {
	ActiveProcesses int             `json:"active_processes"`
	Processes       []ProcessStatus `json:"processes"`
}

// Registry starts processes and tracks their sessions.
type Registry struct {
	spawner spawn.Spawner
	bus     *bus.Bus
	logger  *slog.Logger

	historySize      int
	gracefulTimeout  time.Duration
	drainTimeout     time.Duration
	backlogThreshold int

	mu       sync.RWMutex
	sessions map[string]*session
}

// New creates a Registry. A nil Spawner selects spawn.Exec and a nil Bus
// creates a private one.
func New(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sp := opts.Spawner
	if sp == nil {
		sp = spawn.Exec{}
	}
	b := opts.Bus
	if b == nil {
		b = bus.New(logger)
	}
	graceful := opts.GracefulTimeout
	if graceful <= 0 {
		graceful = DefaultGracefulTimeout
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	return &Registry{
		spawner:          sp,
		bus:              b,
		logger:           logger,
		historySize:      opts.HistorySize,
		gracefulTimeout:  graceful,
		drainTimeout:     drain,
		backlogThreshold: opts.BacklogThreshold,
		sessions:         make(map[string]*session),
	}
}

// Bus returns the bus every session publishes on.
func (r *Registry) Bus() *bus.Bus {
	return r.bus
}

// Start spawns command and begins monitoring it. It returns the new
// process id once the session is running; monitoring-started has been
// published by then.
func (r *Registry) Start(ctx context.Context, command string, opts StartOptions) (string, error) {
	if strings.TrimSpace(command) == "" {
		return "", ErrEmptyCommand
	}

	handle, err := r.spawner.Spawn(ctx, spawn.Request{
		Command: command,
		Dir:     opts.Dir,
		Env:     opts.Env,
	})
	if err != nil {
		r.logger.Error("spawn failed", "command", command, "err", err)
		return "", fmt.Errorf("%w: %w", ErrSpawnFailed, err)
	}

	history := capture.NewHistory(r.historySize)
	history.SetLevelFilter(opts.LevelFilter)

	s := &session{
		id:               uuid.New().String(),
		name:             opts.Name,
		command:          command,
		format:           opts.Format,
		handle:           handle,
		history:          history,
		bus:              r.bus,
		logger:           r.logger,
		startTime:        time.Now(),
		backlogThreshold: r.backlogThreshold,
		drainTimeout:     r.drainTimeout,
		status:           core.StatusRunning,
		drained:          make(chan struct{}),
		done:             make(chan struct{}),
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()

	r.logger.Info("process started", "id", s.id, "name", opts.Name, "pid", handle.PID(), "command", command)
	r.bus.Publish(core.MonitoringStarted{
		ProcessID: s.id,
		Command:   command,
		PID:       handle.PID(),
		StartTime: s.startTime,
	})
	s.run(r.remove)
	return s.id, nil
}

// remove drops s from the table if it is still the registered session.
func (r *Registry) remove(s *session) {
	r.mu.Lock()
	if r.sessions[s.id] == s {
		delete(r.sessions, s.id)
	}
	r.mu.Unlock()
}

func (r *Registry) lookup(id string) (*session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Stop terminates the process gracefully and waits for its session to
// finish. The exit classification is published first, then
// monitoring-stopped. Unknown or already finished ids are a no-op.
//
// If ctx ends before the process does, the process group is killed and the
// context error returned; monitoring-stopped still follows once the session
// finishes, and a later Stop may retry.
func (r *Registry) Stop(ctx context.Context, id string) error {
	s, ok := r.lookup(id)
	if !ok {
		return nil
	}
	owner := s.requestStop()
	if !owner && s.terminal() {
		return nil
	}

	if owner {
		r.logger.Info("stopping process", "id", id, "pid", s.handle.PID())
		if err := s.handle.Terminate(ctx, r.gracefulTimeout); err != nil {
			r.logger.Warn("stop failed", "id", id, "err", err)
			s.releaseStop()
			go func() {
				<-s.done
				r.stopped(s)
			}()
			return fmt.Errorf("stop %s: %w", id, err)
		}
	}

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", id, ctx.Err())
	}

	if owner {
		r.stopped(s)
	}
	return nil
}

// stopped removes a finished session and publishes monitoring-stopped once.
func (r *Registry) stopped(s *session) {
	if !s.markStopped() {
		return
	}
	r.remove(s)
	r.bus.Publish(core.MonitoringStopped{ProcessID: s.id, EndTime: time.Now()})
}

// StopAll stops every tracked session concurrently.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = r.Stop(ctx, id)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// SetLevelFilter replaces the level allow-list of a running session. An
// empty list accepts every level.
func (r *Registry) SetLevelFilter(id string, levels []core.Level) error {
	s, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	if err := s.setLevelFilter(levels); err != nil {
		return fmt.Errorf("%s: %w", id, err)
	}
	r.logger.Debug("level filter changed", "id", id, "levels", levels)
	return nil
}

// RecentLogs returns up to count of the newest entries recorded for id,
// including entries the level filter withheld. count <= 0 returns all.
func (r *Registry) RecentLogs(id string, count int) ([]core.LogEntry, error) {
	s, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, id)
	}
	return s.history.Recent(count), nil
}

// Session returns the status of a single tracked session.
func (r *Registry) Session(id string) (ProcessStatus, bool) {
	s, ok := r.lookup(id)
	if !ok {
		return ProcessStatus{}, false
	}
	return s.snapshot(), true
}

// Status returns a snapshot of every tracked session ordered by start time.
// A session is dropped as soon as its exit has been published, so ended
// processes are not listed; the process-exited and process-crashed events
// carry their final state.
func (r *Registry) Status() Status {
	r.mu.RLock()
	procs := make([]ProcessStatus, 0, len(r.sessions))
	for _, s := range r.sessions {
		procs = append(procs, s.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(procs, func(i, j int) bool {
		if procs[i].StartTime.Equal(procs[j].StartTime) {
			return procs[i].ID < procs[j].ID
		}
		return procs[i].StartTime.Before(procs[j].StartTime)
	})

	st := Status{Processes: procs}
	for _, p := range procs {
		if !p.Status.Terminal() {
			st.ActiveProcesses++
		}
	}
	return st
}
