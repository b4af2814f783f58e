package core

import "time"

// Source identifies the output channel a log line was read from.
type Source string

const (
	SourceStdout Source = "stdout"
	SourceStderr Source = "stderr"
)

// LogEntry represents a single classified line of process output.
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Level     Level             `json:"level"`
	Message   string            `json:"message"`
	Source    Source            `json:"source"`
	ProcessID string            `json:"process_id"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
