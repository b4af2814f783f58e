// Package spawn starts the processes whose output is monitored.
//
// The monitor only depends on the Spawner and Handle interfaces; Exec is
// the os/exec implementation used by the daemon.
package spawn

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrEmptyCommand is returned when a request carries no command.
var ErrEmptyCommand = errors.New("empty command")

// Request describes a process to start.
type Request struct {
	// Command is run through the shell, so quoting and pipes work as typed.
	Command string
	// Dir is the working directory. Empty inherits the caller's.
	Dir string
	// Env is added on top of the caller's environment.
	Env map[string]string
}

// ExitStatus is how a process ended. Code is -1 when no exit code is
// available, which is always the case for signal deaths.
type ExitStatus struct {
	Code   int
	Signal string
}

// Clean reports whether the process exited with code 0 and no signal.
func (s ExitStatus) Clean() bool {
	return s.Code == 0 && s.Signal == ""
}

// Handle is a started process.
type Handle interface {
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader

	// Done is closed once the process has exited and Exit is valid.
	Done() <-chan struct{}
	Exit() ExitStatus

	// Terminate asks the process to stop, escalating to a kill after grace.
	// It returns once the process has exited or ctx is done.
	Terminate(ctx context.Context, grace time.Duration) error

	// Close releases the read side of both output streams. Pending reads
	// return immediately.
	Close() error
}

// Spawner starts processes.
type Spawner interface {
	Spawn(ctx context.Context, req Request) (Handle, error)
}
