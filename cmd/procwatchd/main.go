package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"github.com/modoterra/procwatch/internal/buildinfo"
	"github.com/modoterra/procwatch/internal/logging"
	"github.com/modoterra/procwatch/pkg/bus"
	"github.com/modoterra/procwatch/pkg/daemon"
	"github.com/modoterra/procwatch/pkg/manifest"
	"github.com/modoterra/procwatch/pkg/monitor"
	"github.com/modoterra/procwatch/pkg/sink/journal"
	"github.com/modoterra/procwatch/pkg/sink/mqtt"
)

const (
	defaultSocket   = "/tmp/procwatch.sock"
	shutdownTimeout = 30 * time.Second
)

var (
	socketPath   string
	manifestPath string
	pollInterval time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "procwatchd",
	Short:        "procwatch daemon",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m, err := loadManifest(manifestPath)
		if err != nil {
			return err
		}
		var logCfg logging.Config
		if m != nil {
			logCfg = logging.Config{Level: m.Log.Level, Format: m.Log.Format}
		}
		logger, err := logging.New(cmd.ErrOrStderr(), logCfg, "procwatchd", buildinfo.Version)
		if err != nil {
			return err
		}
		if m == nil {
			logger.Info("no manifest loaded", "path", manifestPath)
		} else {
			logger.Info("manifest loaded", "path", manifestPath, "processes", len(m.Processes))
		}
		return serve(ctx, m, logger)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "procwatchd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

func init() {
	rootCmd.Flags().StringVar(&socketPath, "socket", defaultSocket, "socket path to listen on")
	rootCmd.Flags().StringVar(&manifestPath, "manifest", manifest.FileName, "path to procwatch.yaml")
	rootCmd.Flags().DurationVar(&pollInterval, "poll-interval", time.Second, "status delta broadcast interval")
	rootCmd.AddCommand(versionCmd)
}

// loadManifest reads and validates path. A missing file is not an error and
// yields a nil manifest.
func loadManifest(path string) (*manifest.Manifest, error) {
	m, err := manifest.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if errs := manifest.Validate(m); len(errs) > 0 {
		return nil, fmt.Errorf("%s: %w", path, errors.Join(errs...))
	}
	return m, nil
}

// serve runs the daemon until ctx is cancelled, then stops every monitored
// process before returning.
func serve(ctx context.Context, m *manifest.Manifest, logger *slog.Logger) error {
	opts := monitor.Options{Logger: logger}
	if m != nil {
		opts.HistorySize = m.History
		opts.GracefulTimeout = m.GracefulTimeout
	}
	reg := monitor.New(opts)

	sinks, err := attachSinks(m, reg.Bus(), logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range sinks {
			if err := s.Close(); err != nil {
				logger.Warn("close sink", "err", err)
			}
		}
	}()

	d := daemon.New(socketPath, reg, logger)
	d.SetManifest(m)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(runCtx) }()

	select {
	case <-d.Server().Ready():
	case err := <-errCh:
		return err
	}

	if err := d.Autostart(ctx); err != nil {
		logger.Warn("autostart", "err", err)
	}
	go daemon.NewPollLoop(d, pollInterval, logger).Run(runCtx)

	notify(logger, sddaemon.SdNotifyReady)
	logger.Info("procwatchd started", "socket", socketPath)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server stopped", "err", runErr)
	}
	notify(logger, sddaemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := d.Shutdown(stopCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
	cancel()
	return runErr
}

func attachSinks(m *manifest.Manifest, b *bus.Bus, logger *slog.Logger) ([]io.Closer, error) {
	if m == nil {
		return nil, nil
	}
	var sinks []io.Closer
	if m.Sinks.Journal {
		if journal.Enabled() {
			s := journal.New(logger)
			s.Attach(b)
			sinks = append(sinks, s)
		} else {
			logger.Warn("journal sink requested but journald is not reachable")
		}
	}
	if cfg := m.Sinks.MQTT; cfg != nil {
		s, err := mqtt.Connect(mqtt.Config{
			Broker:      cfg.Broker,
			ClientID:    cfg.ClientID,
			TopicPrefix: cfg.TopicPrefix,
			QoS:         cfg.QoS,
			Username:    cfg.Username,
			Password:    cfg.Password,
		}, logger)
		if err != nil {
			for _, prev := range sinks {
				prev.Close()
			}
			return nil, err
		}
		s.Attach(b)
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func notify(logger *slog.Logger, state string) {
	if _, err := sddaemon.SdNotify(false, state); err != nil {
		logger.Debug("sd_notify", "state", state, "err", err)
	}
}
