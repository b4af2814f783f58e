package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/modoterra/procwatch/internal/buildinfo"
	"github.com/modoterra/procwatch/pkg/bus"
	"github.com/modoterra/procwatch/pkg/capture"
	"github.com/modoterra/procwatch/pkg/core"
	"github.com/modoterra/procwatch/pkg/manifest"
	"github.com/modoterra/procwatch/pkg/monitor"
	"github.com/modoterra/procwatch/pkg/transport/uds"
)

// Daemon is the procwatchd process: it exposes a monitor registry over the
// UDS transport and pushes every monitor event to connected clients.
type Daemon struct {
	server   *uds.Server
	registry *monitor.Registry
	manifest *manifest.Manifest
	sub      *bus.Subscription
	mu       sync.RWMutex
	logger   *slog.Logger
}

// New creates a new daemon instance serving reg on socketPath.
func New(socketPath string, reg *monitor.Registry, logger *slog.Logger) *Daemon {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Daemon{
		server:   uds.NewServer(socketPath, logger),
		registry: reg,
		logger:   logger,
	}
	d.registerHandlers()
	d.sub = reg.Bus().SubscribeAll(d.forward)
	return d
}

// SetManifest records the manifest the daemon was started with.
func (d *Daemon) SetManifest(m *manifest.Manifest) {
	d.mu.Lock()
	d.manifest = m
	d.mu.Unlock()
}

// Manifest returns the currently loaded manifest (may be nil).
func (d *Daemon) Manifest() *manifest.Manifest {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.manifest
}

// Registry returns the monitor registry the daemon serves.
func (d *Daemon) Registry() *monitor.Registry {
	return d.registry
}

// Server returns the underlying UDS server (for broadcasting events).
func (d *Daemon) Server() *uds.Server {
	return d.server
}

// Autostart starts every process in the manifest, in name order. A process
// that fails to start does not prevent the others from starting.
func (d *Daemon) Autostart(ctx context.Context) error {
	m := d.Manifest()
	if m == nil {
		return nil
	}
	var errs []error
	for _, name := range m.ProcessNames() {
		p := m.Processes[name]
		opts, err := startOptions(name, p.Dir, p.Env, p.Format, p.Levels)
		if err != nil {
			errs = append(errs, fmt.Errorf("process %q: %w", name, err))
			continue
		}
		id, err := d.registry.Start(ctx, p.Command, opts)
		if err != nil {
			errs = append(errs, fmt.Errorf("process %q: %w", name, err))
			continue
		}
		d.logger.Info("autostarted", "name", name, "id", id)
	}
	return errors.Join(errs...)
}

// Run starts the daemon and blocks until the context is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	return d.server.Start(ctx)
}

// Shutdown stops every monitored process and closes the transport.
func (d *Daemon) Shutdown(ctx context.Context) error {
	err := d.registry.StopAll(ctx)
	d.registry.Bus().Unsubscribe(d.sub)
	d.server.Shutdown()
	return err
}

// forward pushes a monitor event to every client, using the event kind as
// the method name.
func (d *Daemon) forward(ev core.Event) {
	msg, err := uds.NewEvent(string(ev.Kind()), ev)
	if err != nil {
		d.logger.Error("encode event", "kind", ev.Kind(), "err", err)
		return
	}
	d.server.Broadcast(msg)
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(uds.MethodPing, d.handlePing)
	d.server.Handle(uds.MethodStart, d.handleStart)
	d.server.Handle(uds.MethodStop, d.handleStop)
	d.server.Handle(uds.MethodStopAll, d.handleStopAll)
	d.server.Handle(uds.MethodSetLevelFilter, d.handleSetLevelFilter)
	d.server.Handle(uds.MethodStatus, d.handleStatus)
	d.server.Handle(uds.MethodRecentLogs, d.handleRecentLogs)
}

func (d *Daemon) handlePing(_ context.Context, _ uds.Message) (any, error) {
	return uds.PingResponse{Pong: true, Version: buildinfo.Version}, nil
}

func (d *Daemon) handleStart(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.StartRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	opts, err := startOptions(req.Name, req.Dir, req.Env, req.Format, req.Levels)
	if err != nil {
		return nil, err
	}
	id, err := d.registry.Start(ctx, req.Command, opts)
	if err != nil {
		return nil, err
	}
	return uds.StartResponse{ID: id}, nil
}

func (d *Daemon) handleStop(ctx context.Context, msg uds.Message) (any, error) {
	var req uds.ProcessRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	if err := d.registry.Stop(ctx, req.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (d *Daemon) handleStopAll(ctx context.Context, _ uds.Message) (any, error) {
	if err := d.registry.StopAll(ctx); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (d *Daemon) handleSetLevelFilter(_ context.Context, msg uds.Message) (any, error) {
	var req uds.SetLevelFilterRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	levels, err := core.ParseLevels(req.Levels)
	if err != nil {
		return nil, err
	}
	if err := d.registry.SetLevelFilter(req.ID, levels); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (d *Daemon) handleStatus(_ context.Context, _ uds.Message) (any, error) {
	return d.registry.Status(), nil
}

func (d *Daemon) handleRecentLogs(_ context.Context, msg uds.Message) (any, error) {
	var req uds.RecentLogsRequest
	if err := msg.UnmarshalData(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	entries, err := d.registry.RecentLogs(req.ID, req.Count)
	if err != nil {
		return nil, err
	}
	return uds.RecentLogsResponse{Entries: entries}, nil
}

// startOptions converts wire or manifest settings into monitor options.
func startOptions(name, dir string, env map[string]string, format string, levels []string) (monitor.StartOptions, error) {
	f, err := capture.ParseFormat(format)
	if err != nil {
		return monitor.StartOptions{}, err
	}
	lv, err := core.ParseLevels(levels)
	if err != nil {
		return monitor.StartOptions{}, err
	}
	return monitor.StartOptions{
		Name:        name,
		Format:      f,
		LevelFilter: lv,
		Dir:         dir,
		Env:         env,
	}, nil
}
