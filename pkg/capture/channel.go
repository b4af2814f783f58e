package capture

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/modoterra/procwatch/pkg/core"
)

// readBufferSize is the chunk size used when reading process output.
const readBufferSize = 4096

// DefaultBacklogThreshold is the pending-fragment size that triggers a
// backlog warning.
const DefaultBacklogThreshold = 1 << 20

// Channel reassembles and classifies the output of one stream of one process.
// Callbacks run synchronously on the goroutine calling Run, in stream order.
type Channel struct {
	ProcessID string
	Source    core.Source
	Format    Format

	// OnEntry receives every classified line.
	OnEntry func(core.LogEntry)
	// OnError receives read failures other than end of stream.
	OnError func(error)
	// OnBacklog is called once each time the pending fragment grows past
	// BacklogThreshold. It is re-armed when the fragment is terminated.
	OnBacklog func(pending int)

	// BacklogThreshold defaults to DefaultBacklogThreshold.
	BacklogThreshold int

	now  func() time.Time
	last time.Time
}

// Run reads r until it is exhausted or fails. A fragment without a
// trailing newline at that point is discarded.
func (c *Channel) Run(r io.Reader) {
	threshold := c.BacklogThreshold
	if threshold <= 0 {
		threshold = DefaultBacklogThreshold
	}

	var (
		state  LineState
		lines  []string
		warned bool
	)
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			state, lines = Reassemble(state, buf[:n])
			for _, line := range lines {
				c.emit(line)
			}
			switch {
			case state.Pending() > threshold && !warned:
				warned = true
				if c.OnBacklog != nil {
					c.OnBacklog(state.Pending())
				}
			case state.Pending() <= threshold:
				warned = false
			}
		}
		if err != nil {
			if !isEndOfStream(err) && c.OnError != nil {
				c.OnError(err)
			}
			return
		}
	}
}

func (c *Channel) emit(line string) {
	ts := c.clock()
	if ts.Before(c.last) {
		ts = c.last
	}
	c.last = ts

	if c.OnEntry == nil {
		return
	}
	c.OnEntry(core.LogEntry{
		Timestamp: ts,
		Level:     Classify(c.Source, line),
		Message:   line,
		Source:    c.Source,
		ProcessID: c.ProcessID,
		Metadata:  Metadata(c.Format, line),
	})
}

func (c *Channel) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// isEndOfStream reports errors that mean the writer went away rather than
// a genuine fault: EOF, and reads on a pipe closed by our own shutdown.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed)
}
