package monitor

import "errors"

var (
	// ErrProcessNotFound is returned for ids that are not in the registry.
	ErrProcessNotFound = errors.New("process not found")
	// ErrSessionTerminated is returned when a session has already ended.
	ErrSessionTerminated = errors.New("session terminated")
	// ErrSpawnFailed wraps failures from the spawner.
	ErrSpawnFailed = errors.New("spawn failed")
	// ErrEmptyCommand is returned by Start for a blank command.
	ErrEmptyCommand = errors.New("empty command")
)
