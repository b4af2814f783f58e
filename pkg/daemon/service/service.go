// Package service manages the procwatchd systemd user service unit.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/unit"
)

const unitName = "procwatchd.service"

// UnitOptions returns the unit definition for the given binary and
// manifest paths. An empty manifestPath omits the --manifest flag.
func UnitOptions(binaryPath, manifestPath string) []*unit.UnitOption {
	execStart := binaryPath
	if manifestPath != "" {
		execStart += " --manifest " + manifestPath
	}
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", "procwatch daemon, process output monitor"),
		unit.NewUnitOption("Unit", "Documentation", "https://github.com/modoterra/procwatch"),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "ExecStart", execStart),
		unit.NewUnitOption("Service", "Restart", "on-failure"),
		unit.NewUnitOption("Service", "RestartSec", "5"),
		unit.NewUnitOption("Install", "WantedBy", "default.target"),
	}
}

// UnitContents returns the systemd unit file contents.
func UnitContents(binaryPath, manifestPath string) (string, error) {
	data, err := io.ReadAll(unit.Serialize(UnitOptions(binaryPath, manifestPath)))
	if err != nil {
		return "", fmt.Errorf("serialize unit: %w", err)
	}
	return string(data), nil
}

// UnitPath returns the path to the systemd user unit file.
func UnitPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user config directory: %w", err)
	}
	return filepath.Join(configDir, "systemd", "user", unitName), nil
}

// Install writes the unit file, reloads systemd, and enables+starts the service.
func Install(ctx context.Context, manifestPath string) error {
	binaryPath, err := exec.LookPath("procwatchd")
	if err != nil {
		return fmt.Errorf("procwatchd not found in PATH: %w", err)
	}
	binaryPath, err = filepath.Abs(binaryPath)
	if err != nil {
		return fmt.Errorf("cannot resolve procwatchd path: %w", err)
	}
	if manifestPath != "" {
		if manifestPath, err = filepath.Abs(manifestPath); err != nil {
			return fmt.Errorf("cannot resolve manifest path: %w", err)
		}
	}

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	contents, err := UnitContents(binaryPath, manifestPath)
	if err != nil {
		return err
	}
	if err := os.WriteFile(unitPath, []byte(contents), 0o644); err != nil {
		return fmt.Errorf("cannot write unit file: %w", err)
	}

	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	if _, _, err := conn.EnableUnitFilesContext(ctx, []string{unitPath}, false, true); err != nil {
		return fmt.Errorf("enable %s: %w", unitName, err)
	}
	return runJob(ctx, "start", func(ch chan<- string) (int, error) {
		return conn.StartUnitContext(ctx, unitName, "replace", ch)
	})
}

// Uninstall stops+disables the service, removes the unit file, and reloads systemd.
func Uninstall(ctx context.Context) error {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	// Best-effort stop and disable; ignore errors if not running.
	_ = runJob(ctx, "stop", func(ch chan<- string) (int, error) {
		return conn.StopUnitContext(ctx, unitName, "replace", ch)
	})
	_, _ = conn.DisableUnitFilesContext(ctx, []string{unitName}, false)

	unitPath, err := UnitPath()
	if err != nil {
		return err
	}
	if err := os.Remove(unitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cannot remove unit file: %w", err)
	}

	if err := conn.ReloadContext(ctx); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}
	return nil
}

// Status returns a human-readable status string.
func Status(ctx context.Context, socketPath string) string {
	var lines []string

	// Socket check
	if _, err := os.Stat(socketPath); err == nil {
		lines = append(lines, "socket: active ("+socketPath+")")
	} else {
		lines = append(lines, "socket: inactive ("+socketPath+")")
	}

	unitPath, err := UnitPath()
	if err != nil {
		return strings.Join(lines, "\n")
	}
	if _, err := os.Stat(unitPath); err != nil {
		lines = append(lines, "systemd user service: not installed")
		return strings.Join(lines, "\n")
	}
	lines = append(lines, "systemd user service: "+unitState(ctx))
	return strings.Join(lines, "\n")
}

// unitState reports "<active>/<sub>" and the main PID of the installed unit.
func unitState(ctx context.Context) string {
	conn, err := dbus.NewUserConnectionContext(ctx)
	if err != nil {
		return "unknown"
	}
	defer conn.Close()

	units, err := conn.ListUnitsByNamesContext(ctx, []string{unitName})
	if err != nil || len(units) == 0 {
		return "unknown"
	}
	u := units[0]
	state := u.ActiveState + "/" + u.SubState
	if u.ActiveState == "active" {
		props, err := conn.GetUnitTypePropertiesContext(ctx, unitName, "Service")
		if err == nil {
			if pid, ok := props["MainPID"].(uint32); ok && pid > 0 {
				state += fmt.Sprintf(" (pid %d)", pid)
			}
		}
	}
	return state
}

// runJob starts a systemd job and waits for its result.
func runJob(ctx context.Context, action string, start func(chan<- string) (int, error)) error {
	ch := make(chan string, 1)
	if _, err := start(ch); err != nil {
		return fmt.Errorf("%s %s: %w", action, unitName, err)
	}
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("%s %s: job result %q", action, unitName, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
