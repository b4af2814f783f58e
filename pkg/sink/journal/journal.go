// Package journal forwards monitor events to the systemd journal.
package journal

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/modoterra/procwatch/pkg/bus"
	"github.com/modoterra/procwatch/pkg/core"
)

const identifier = "procwatch"

// Enabled reports whether the local journal socket is reachable.
func Enabled() bool {
	return journal.Enabled()
}

type sendFunc func(message string, priority journal.Priority, vars map[string]string) error

// Sink writes every event it receives to the journal with structured
// PROCWATCH_* fields.
type Sink struct {
	send   sendFunc
	logger *slog.Logger
	sub    *bus.Subscription
	b      *bus.Bus
}

// New creates a journal sink.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{send: journal.Send, logger: logger}
}

// Attach subscribes the sink to every event on b.
func (s *Sink) Attach(b *bus.Bus) {
	s.b = b
	s.sub = b.SubscribeAll(s.Handle)
}

// Close detaches the sink from its bus.
func (s *Sink) Close() error {
	if s.b != nil {
		s.b.Unsubscribe(s.sub)
	}
	return nil
}

// Handle writes ev to the journal.
func (s *Sink) Handle(ev core.Event) {
	msg, pri, vars := render(ev)
	if err := s.send(msg, pri, vars); err != nil {
		s.logger.Warn("journal send failed", "kind", ev.Kind(), "err", err)
	}
}

func render(ev core.Event) (string, journal.Priority, map[string]string) {
	vars := map[string]string{
		"SYSLOG_IDENTIFIER":    identifier,
		"PROCWATCH_EVENT":      string(ev.Kind()),
		"PROCWATCH_PROCESS_ID": ev.Process(),
	}

	switch e := ev.(type) {
	case core.LogEntryEvent:
		vars["PROCWATCH_SOURCE"] = string(e.Source)
		vars["PROCWATCH_LEVEL"] = string(e.Level)
		for _, k := range sortedKeys(e.Metadata) {
			if name := fieldName(k); name != "" {
				vars["PROCWATCH_META_"+name] = e.Metadata[k]
			}
		}
		return e.Message, levelPriority(e.Level), vars
	case core.MonitoringStarted:
		vars["PROCWATCH_PID"] = fmt.Sprint(e.PID)
		return fmt.Sprintf("monitoring started: %s (pid %d)", e.Command, e.PID), journal.PriInfo, vars
	case core.ProcessExited:
		vars["PROCWATCH_EXIT_CODE"] = fmt.Sprint(e.Code)
		return "process exited cleanly", journal.PriNotice, vars
	case core.ProcessCrashed:
		vars["PROCWATCH_EXIT_CODE"] = fmt.Sprint(e.Code)
		if e.Signal != "" {
			vars["PROCWATCH_SIGNAL"] = e.Signal
			return fmt.Sprintf("process crashed: %s", e.Signal), journal.PriErr, vars
		}
		return fmt.Sprintf("process crashed with code %d", e.Code), journal.PriErr, vars
	case core.MonitoringStopped:
		return "monitoring stopped", journal.PriInfo, vars
	case core.StreamError:
		vars["PROCWATCH_SOURCE"] = string(e.Source)
		return fmt.Sprintf("%s read failed: %s", e.Source, e.Error), journal.PriWarning, vars
	case core.BufferWarning:
		vars["PROCWATCH_SOURCE"] = string(e.Source)
		return fmt.Sprintf("%s has %d bytes without a newline", e.Source, e.PendingBytes), journal.PriWarning, vars
	default:
		return string(ev.Kind()), journal.PriInfo, vars
	}
}

func levelPriority(l core.Level) journal.Priority {
	switch l {
	case core.LevelDebug:
		return journal.PriDebug
	case core.LevelWarn:
		return journal.PriWarning
	case core.LevelError:
		return journal.PriErr
	default:
		return journal.PriInfo
	}
}

// fieldName upper-cases k and replaces characters journald rejects.
func fieldName(k string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(k) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
