package manifest

import (
	"fmt"
	"strings"

	"github.com/modoterra/procwatch/pkg/capture"
	"github.com/modoterra/procwatch/pkg/core"
)

// Validate checks the manifest for structural correctness.
func Validate(m *Manifest) []error {
	var errs []error

	if m.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", m.Version))
	}
	if m.History < 0 {
		errs = append(errs, fmt.Errorf("history must not be negative, got %d", m.History))
	}
	if m.GracefulTimeout < 0 {
		errs = append(errs, fmt.Errorf("graceful_timeout must not be negative, got %s", m.GracefulTimeout))
	}

	if m.Log.Level != "" {
		if _, err := core.ParseLevel(m.Log.Level); err != nil {
			errs = append(errs, fmt.Errorf("log: %w", err))
		}
	}
	switch m.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log: format must be text or json; got %q", m.Log.Format))
	}

	for _, name := range m.ProcessNames() {
		p := m.Processes[name]
		if strings.TrimSpace(p.Command) == "" {
			errs = append(errs, fmt.Errorf("process %q: command is required", name))
		}
		if _, err := capture.ParseFormat(p.Format); err != nil {
			errs = append(errs, fmt.Errorf("process %q: %w", name, err))
		}
		if _, err := core.ParseLevels(p.Levels); err != nil {
			errs = append(errs, fmt.Errorf("process %q: %w", name, err))
		}
	}

	if q := m.Sinks.MQTT; q != nil {
		if q.Broker == "" {
			errs = append(errs, fmt.Errorf("sinks.mqtt: broker is required"))
		}
		if q.QoS > 2 {
			errs = append(errs, fmt.Errorf("sinks.mqtt: qos must be 0, 1 or 2; got %d", q.QoS))
		}
	}

	return errs
}
