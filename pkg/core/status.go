package core

import (
	"fmt"
	"strings"
)

// Level is the heuristic severity assigned to a log line.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Levels lists every level from least to most severe.
var Levels = []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}

// ParseLevel converts a case-insensitive level name. "warning" is accepted as warn.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid level %q: expected debug, info, warn or error", s)
	}
}

// ParseLevels parses a list of level names, rejecting the first invalid one.
func ParseLevels(names []string) ([]Level, error) {
	levels := make([]Level, 0, len(names))
	for _, n := range names {
		l, err := ParseLevel(n)
		if err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	return levels, nil
}

// Status represents the lifecycle state of a monitored process.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
	StatusCrashed  Status = "crashed"
)

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	return s == StatusExited || s == StatusCrashed
}
