package capture

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/modoterra/procwatch/pkg/core"
)

// chunkReader returns one preset chunk per Read call.
type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestChannelEmitsClassifiedEntries(t *testing.T) {
	var got []core.LogEntry
	ch := &Channel{
		ProcessID: "proc-1",
		Source:    core.SourceStdout,
		Format:    FormatAuto,
		OnEntry:   func(e core.LogEntry) { got = append(got, e) },
	}
	ch.Run(&chunkReader{chunks: []string{"INFO: a\nERR", "OR: b\n", `{"msg":"json"}` + "\n", "tail"}})

	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3: %+v", len(got), got)
	}
	if got[0].Message != "INFO: a" || got[0].Level != core.LevelInfo {
		t.Errorf("entry 0: %+v", got[0])
	}
	if got[1].Message != "ERROR: b" || got[1].Level != core.LevelError {
		t.Errorf("entry 1: %+v", got[1])
	}
	if got[2].Metadata["msg"] != "json" {
		t.Errorf("entry 2 metadata: %v", got[2].Metadata)
	}
	for _, e := range got {
		if e.ProcessID != "proc-1" || e.Source != core.SourceStdout {
			t.Errorf("entry not tagged: %+v", e)
		}
		if e.Timestamp.IsZero() {
			t.Error("entry has zero timestamp")
		}
	}
}

func TestChannelOneByteAtATime(t *testing.T) {
	input := "one\ntwo\n\nthree\n"
	var got []string
	ch := &Channel{
		Source:  core.SourceStdout,
		OnEntry: func(e core.LogEntry) { got = append(got, e.Message) },
	}
	ch.Run(iotest.OneByteReader(strings.NewReader(input)))

	if strings.Join(got, ",") != "one,two,three" {
		t.Errorf("got %q", got)
	}
}

func TestChannelMonotonicTimestamps(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := []time.Time{base.Add(2 * time.Second), base, base.Add(time.Second), base.Add(3 * time.Second)}

	var got []time.Time
	ch := &Channel{
		Source:  core.SourceStdout,
		OnEntry: func(e core.LogEntry) { got = append(got, e.Timestamp) },
	}
	ch.now = func() time.Time {
		ts := clock[0]
		clock = clock[1:]
		return ts
	}
	ch.Run(strings.NewReader("a\nb\nc\nd\n"))

	for i := 1; i < len(got); i++ {
		if got[i].Before(got[i-1]) {
			t.Errorf("timestamp %d (%v) before %d (%v)", i, got[i], i-1, got[i-1])
		}
	}
}

func TestChannelStderrIsError(t *testing.T) {
	var got []core.LogEntry
	ch := &Channel{
		Source:  core.SourceStderr,
		OnEntry: func(e core.LogEntry) { got = append(got, e) },
	}
	ch.Run(strings.NewReader("all good\nwarn: maybe\n"))

	for _, e := range got {
		if e.Level != core.LevelError {
			t.Errorf("%q classified %s, want error", e.Message, e.Level)
		}
	}
}

func TestChannelReportsReadError(t *testing.T) {
	boom := errors.New("boom")
	var (
		gotErr  error
		entries int
	)
	ch := &Channel{
		Source:  core.SourceStdout,
		OnEntry: func(core.LogEntry) { entries++ },
		OnError: func(err error) { gotErr = err },
	}
	ch.Run(&chunkReader{chunks: []string{"line\npartial"}, err: boom})

	if !errors.Is(gotErr, boom) {
		t.Errorf("got error %v, want %v", gotErr, boom)
	}
	if entries != 1 {
		t.Errorf("got %d entries, want 1", entries)
	}
}

func TestChannelIgnoresEOFAndClosedPipe(t *testing.T) {
	for _, err := range []error{io.EOF, io.ErrClosedPipe} {
		called := false
		ch := &Channel{OnError: func(error) { called = true }}
		ch.Run(&chunkReader{err: err})
		if called {
			t.Errorf("OnError called for %v", err)
		}
	}
}

func TestChannelBacklogWarning(t *testing.T) {
	var warnings []int
	ch := &Channel{
		Source:           core.SourceStdout,
		BacklogThreshold: 8,
		OnBacklog:        func(n int) { warnings = append(warnings, n) },
	}
	// Two warnings: the first long fragment, then a second one after the
	// newline re-arms the check.
	ch.Run(&chunkReader{chunks: []string{"0123456789", "abcdef", "\n", "0123456789"}})

	if len(warnings) != 2 {
		t.Fatalf("got %d warnings, want 2: %v", len(warnings), warnings)
	}
	if warnings[0] != 10 {
		t.Errorf("first warning pending = %d, want 10", warnings[0])
	}
}
