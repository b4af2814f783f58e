package monitor

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/modoterra/procwatch/pkg/bus"
	"github.com/modoterra/procwatch/pkg/capture"
	"github.com/modoterra/procwatch/pkg/core"
	"github.com/modoterra/procwatch/pkg/spawn"
)

// session is one monitored process.
type session struct {
	id        string
	name      string
	command   string
	format    capture.Format
	handle    spawn.Handle
	history   *capture.History
	bus       *bus.Bus
	logger    *slog.Logger
	startTime time.Time

	backlogThreshold int
	drainTimeout     time.Duration

	mu            sync.Mutex
	status        core.Status
	endTime       time.Time
	exit          spawn.ExitStatus
	stopRequested bool
	stopPublished bool

	drained chan struct{}
	done    chan struct{}
}

func (s *session) snapshot() ProcessStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ProcessStatus{
		ID:          s.id,
		Name:        s.name,
		Command:     s.command,
		PID:         s.handle.PID(),
		Status:      s.status,
		Format:      s.format,
		LevelFilter: s.history.LevelFilter(),
		StartTime:   s.startTime,
		EndTime:     s.endTime,
		ExitCode:    s.exit.Code,
		Signal:      s.exit.Signal,
	}
}

func (s *session) terminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Terminal()
}

func (s *session) setLevelFilter(levels []core.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return ErrSessionTerminated
	}
	s.history.SetLevelFilter(levels)
	return nil
}

// requestStop marks the session as being stopped explicitly. It reports
// false when the session has already ended or another stop is in flight.
func (s *session) requestStop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() || s.stopRequested {
		return false
	}
	s.stopRequested = true
	return true
}

// releaseStop gives up a stop claim so a later Stop can retry.
func (s *session) releaseStop() {
	s.mu.Lock()
	s.stopRequested = false
	s.mu.Unlock()
}

// markStopped reports whether the caller is first to record the stop.
func (s *session) markStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopPublished {
		return false
	}
	s.stopPublished = true
	return true
}

// run starts the stream readers and the exit watcher. finalized is called
// on the watcher goroutine after the exit classification is published.
func (s *session) run(finalized func(*session)) {
	streams := []struct {
		source core.Source
		r      io.Reader
	}{
		{core.SourceStdout, s.handle.Stdout()},
		{core.SourceStderr, s.handle.Stderr()},
	}

	var wg sync.WaitGroup
	for _, st := range streams {
		ch := s.channel(st.source)
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch.Run(st.r)
		}()
	}
	go func() {
		wg.Wait()
		close(s.drained)
	}()
	go s.watch(finalized)
}

func (s *session) channel(source core.Source) *capture.Channel {
	return &capture.Channel{
		ProcessID:        s.id,
		Source:           source,
		Format:           s.format,
		BacklogThreshold: s.backlogThreshold,
		OnEntry: func(entry core.LogEntry) {
			if s.history.RecordAndAccept(entry) {
				s.bus.Publish(core.LogEntryEvent{LogEntry: entry})
			}
		},
		OnError: func(err error) {
			s.logger.Warn("stream read failed", "id", s.id, "source", source, "err", err)
			s.bus.Publish(core.StreamError{ProcessID: s.id, Source: source, Error: err.Error()})
		},
		OnBacklog: func(pending int) {
			s.logger.Warn("unterminated line over threshold", "id", s.id, "source", source, "bytes", pending)
			s.bus.Publish(core.BufferWarning{ProcessID: s.id, Source: source, PendingBytes: pending})
		},
	}
}

func (s *session) watch(finalized func(*session)) {
	<-s.handle.Done()

	// Descendants may still hold the write ends open after the process
	// itself is gone. Give the readers a bounded window, then cut them off.
	timer := time.NewTimer(s.drainTimeout)
	select {
	case <-s.drained:
		timer.Stop()
	case <-timer.C:
		s.logger.Warn("output still open after exit", "id", s.id)
		s.handle.Close()
		<-s.drained
	}

	exit := s.handle.Exit()
	end := time.Now()

	s.mu.Lock()
	s.exit = exit
	s.endTime = end
	if exit.Clean() {
		s.status = core.StatusExited
	} else {
		s.status = core.StatusCrashed
	}
	status := s.status
	s.mu.Unlock()

	if status == core.StatusExited {
		s.logger.Info("process exited", "id", s.id, "pid", s.handle.PID())
		s.bus.Publish(core.ProcessExited{
			ProcessID: s.id,
			Code:      exit.Code,
			Signal:    exit.Signal,
			EndTime:   end,
		})
	} else {
		s.logger.Warn("process crashed", "id", s.id, "pid", s.handle.PID(), "code", exit.Code, "signal", exit.Signal)
		s.bus.Publish(core.ProcessCrashed{
			ProcessID: s.id,
			Code:      exit.Code,
			Signal:    exit.Signal,
			EndTime:   end,
			LastLogs:  s.history.Recent(0),
		})
	}

	if err := s.handle.Close(); err != nil {
		s.logger.Debug("close output", "id", s.id, "err", err)
	}
	close(s.done)
	finalized(s)
}
