package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventKind names an event on the monitor bus. The values double as
// wire method names for daemon broadcasts.
type EventKind string

const (
	KindMonitoringStarted EventKind = "monitoring-started"
	KindLogEntry          EventKind = "log-entry"
	KindProcessExited     EventKind = "process-exited"
	KindProcessCrashed    EventKind = "process-crashed"
	KindMonitoringStopped EventKind = "monitoring-stopped"
	KindStreamError       EventKind = "stream-error"
	KindBufferWarning     EventKind = "buffer-warning"
)

// EventKinds lists every kind in the closed event set.
var EventKinds = []EventKind{
	KindMonitoringStarted,
	KindLogEntry,
	KindProcessExited,
	KindProcessCrashed,
	KindMonitoringStopped,
	KindStreamError,
	KindBufferWarning,
}

// Event is implemented only by the event types in this package.
type Event interface {
	Kind() EventKind
	// Process returns the id of the session that produced the event.
	Process() string
	sealed()
}

// MonitoringStarted is published once a session reaches running.
type MonitoringStarted struct {
	ProcessID string    `json:"process_id"`
	Command   string    `json:"command"`
	PID       int       `json:"pid"`
	StartTime time.Time `json:"start_time"`
}

// LogEntryEvent carries an entry that passed the session's level filter.
type LogEntryEvent struct {
	LogEntry
}

// ProcessExited is published when a process exits with code 0 and no signal.
type ProcessExited struct {
	ProcessID string    `json:"process_id"`
	Code      int       `json:"code"`
	Signal    string    `json:"signal,omitempty"`
	EndTime   time.Time `json:"end_time"`
}

// ProcessCrashed is published for every other termination. LastLogs is the
// session's recent history at the time of the crash.
type ProcessCrashed struct {
	ProcessID string     `json:"process_id"`
	Code      int        `json:"code"`
	Signal    string     `json:"signal,omitempty"`
	EndTime   time.Time  `json:"end_time"`
	LastLogs  []LogEntry `json:"last_logs"`
}

// MonitoringStopped is published after an explicit stop has completed.
type MonitoringStopped struct {
	ProcessID string    `json:"process_id"`
	EndTime   time.Time `json:"end_time"`
}

// StreamError reports a read failure on one output channel.
type StreamError struct {
	ProcessID string `json:"process_id"`
	Source    Source `json:"source"`
	Error     string `json:"error"`
}

// BufferWarning signals that an unterminated line has grown past the
// capture threshold.
type BufferWarning struct {
	ProcessID    string `json:"process_id"`
	Source       Source `json:"source"`
	PendingBytes int    `json:"pending_bytes"`
}

func (MonitoringStarted) Kind() EventKind { return KindMonitoringStarted }
func (LogEntryEvent) Kind() EventKind     { return KindLogEntry }
func (ProcessExited) Kind() EventKind     { return KindProcessExited }
func (ProcessCrashed) Kind() EventKind    { return KindProcessCrashed }
func (MonitoringStopped) Kind() EventKind { return KindMonitoringStopped }
func (StreamError) Kind() EventKind       { return KindStreamError }
func (BufferWarning) Kind() EventKind     { return KindBufferWarning }

func (e MonitoringStarted) Process() string { return e.ProcessID }
func (e LogEntryEvent) Process() string     { return e.ProcessID }
func (e ProcessExited) Process() string     { return e.ProcessID }
func (e ProcessCrashed) Process() string    { return e.ProcessID }
func (e MonitoringStopped) Process() string { return e.ProcessID }
func (e StreamError) Process() string       { return e.ProcessID }
func (e BufferWarning) Process() string     { return e.ProcessID }

func (MonitoringStarted) sealed() {}
func (LogEntryEvent) sealed()     {}
func (ProcessExited) sealed()     {}
func (ProcessCrashed) sealed()    {}
func (MonitoringStopped) sealed() {}
func (StreamError) sealed()       {}
func (BufferWarning) sealed()     {}

// DecodeEvent rebuilds a typed event from its kind and JSON payload.
func DecodeEvent(kind EventKind, data []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch kind {
	case KindMonitoringStarted:
		var e MonitoringStarted
		err = json.Unmarshal(data, &e)
		ev = e
	case KindLogEntry:
		var e LogEntryEvent
		err = json.Unmarshal(data, &e)
		ev = e
	case KindProcessExited:
		var e ProcessExited
		err = json.Unmarshal(data, &e)
		ev = e
	case KindProcessCrashed:
		var e ProcessCrashed
		err = json.Unmarshal(data, &e)
		ev = e
	case KindMonitoringStopped:
		var e MonitoringStopped
		err = json.Unmarshal(data, &e)
		ev = e
	case KindStreamError:
		var e StreamError
		err = json.Unmarshal(data, &e)
		ev = e
	case KindBufferWarning:
		var e BufferWarning
		err = json.Unmarshal(data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return ev, nil
}
