package journal

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"

	"github.com/modoterra/procwatch/pkg/bus"
	"github.com/modoterra/procwatch/pkg/core"
)

type sent struct {
	msg  string
	pri  journal.Priority
	vars map[string]string
}

func newTestSink(t *testing.T) (*Sink, *[]sent) {
	t.Helper()
	var got []sent
	s := New(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	s.send = func(msg string, pri journal.Priority, vars map[string]string) error {
		got = append(got, sent{msg, pri, vars})
		return nil
	}
	return s, &got
}

func TestRenderLogEntry(t *testing.T) {
	tests := []struct {
		level core.Level
		want  journal.Priority
	}{
		{core.LevelDebug, journal.PriDebug},
		{core.LevelInfo, journal.PriInfo},
		{core.LevelWarn, journal.PriWarning},
		{core.LevelError, journal.PriErr},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			msg, pri, vars := render(core.LogEntryEvent{LogEntry: core.LogEntry{
				Level:     tt.level,
				Message:   "hello",
				Source:    core.SourceStdout,
				ProcessID: "p1",
				Metadata:  map[string]string{"user.id": "42", "--": "dropped"},
			}})
			if msg != "hello" || pri != tt.want {
				t.Errorf("render = %q, %d", msg, pri)
			}
			if vars["PROCWATCH_PROCESS_ID"] != "p1" || vars["PROCWATCH_LEVEL"] != string(tt.level) || vars["PROCWATCH_SOURCE"] != "stdout" {
				t.Errorf("vars = %v", vars)
			}
			if vars["PROCWATCH_META_USER_ID"] != "42" {
				t.Errorf("metadata field missing: %v", vars)
			}
			if _, ok := vars["PROCWATCH_META_"]; ok {
				t.Errorf("empty metadata field name written: %v", vars)
			}
		})
	}
}

func TestRenderLifecycle(t *testing.T) {
	tests := []struct {
		name string
		ev   core.Event
		msg  string
		pri  journal.Priority
	}{
		{"started", core.MonitoringStarted{ProcessID: "p", Command: "npm start", PID: 7}, "monitoring started: npm start (pid 7)", journal.PriInfo},
		{"exited", core.ProcessExited{ProcessID: "p"}, "process exited cleanly", journal.PriNotice},
		{"crashed code", core.ProcessCrashed{ProcessID: "p", Code: 3}, "process crashed with code 3", journal.PriErr},
		{"crashed signal", core.ProcessCrashed{ProcessID: "p", Code: -1, Signal: "killed"}, "process crashed: killed", journal.PriErr},
		{"stopped", core.MonitoringStopped{ProcessID: "p", EndTime: time.Now()}, "monitoring stopped", journal.PriInfo},
		{"stream error", core.StreamError{ProcessID: "p", Source: core.SourceStderr, Error: "EIO"}, "stderr read failed: EIO", journal.PriWarning},
		{"backlog", core.BufferWarning{ProcessID: "p", Source: core.SourceStdout, PendingBytes: 2048}, "stdout has 2048 bytes without a newline", journal.PriWarning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, pri, vars := render(tt.ev)
			if msg != tt.msg || pri != tt.pri {
				t.Errorf("render = %q (%d), want %q (%d)", msg, pri, tt.msg, tt.pri)
			}
			if vars["PROCWATCH_EVENT"] != string(tt.ev.Kind()) || vars["SYSLOG_IDENTIFIER"] != "procwatch" {
				t.Errorf("vars = %v", vars)
			}
		})
	}
}

func TestSinkAttach(t *testing.T) {
	s, got := newTestSink(t)
	b := bus.New(nil)
	s.Attach(b)

	b.Publish(core.MonitoringStarted{ProcessID: "p", Command: "x", PID: 1})
	b.Publish(core.LogEntryEvent{LogEntry: core.LogEntry{ProcessID: "p", Message: "line", Level: core.LevelInfo}})
	if len(*got) != 2 {
		t.Fatalf("sent %d, want 2", len(*got))
	}

	s.Close()
	b.Publish(core.MonitoringStopped{ProcessID: "p"})
	if len(*got) != 2 {
		t.Errorf("sent after Close: %d", len(*got))
	}
}

func TestSinkSendErrorIsLogged(t *testing.T) {
	s, _ := newTestSink(t)
	s.send = func(string, journal.Priority, map[string]string) error {
		return errors.New("no journal")
	}
	// Must not panic or propagate.
	s.Handle(core.MonitoringStopped{ProcessID: "p"})
}
