package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modoterra/procwatch/pkg/core"
	"github.com/modoterra/procwatch/pkg/daemon"
	"github.com/modoterra/procwatch/pkg/manifest"
	"github.com/modoterra/procwatch/pkg/monitor"
)

// execute runs the root command with fresh flag values and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	socketPath = defaultSocket
	statusJSON, logsJSON, tailJSON = false, false, false
	logsCount = 50
	startName, startFormat, startDir, startFilter = "", "auto", "", nil
	manifestInitRoot, manifestInitOutput = ".", manifest.FileName

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	if err != nil {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startDaemon(t *testing.T) (*daemon.Daemon, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "procwatchd.sock")
	reg := monitor.New(monitor.Options{Logger: testLogger(), GracefulTimeout: time.Second})
	d := daemon.New(sock, reg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(func() {
		cancel()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		d.Shutdown(stopCtx)
	})
	select {
	case <-d.Server().Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("daemon never became ready")
	}
	return d, sock
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "procwatch ") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestManifestValidateCommand(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "procwatch.yaml")
	content := []byte(`version: 1
processes:
  web:
    command: npm run dev
    levels: [warn, error]
`)
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "manifest", "validate", tmp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "valid (1 processes)") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestManifestValidateInvalid(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "bad.yaml")
	content := []byte(`version: 2
processes:
  bad:
    levels: [loud]
`)
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		t.Fatal(err)
	}

	_, err := execute(t, "manifest", "validate", tmp)
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if !strings.Contains(err.Error(), "3 error(s)") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestManifestInitLaravel(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "artisan"), []byte("#!/usr/bin/env php"), 0755); err != nil {
		t.Fatal(err)
	}

	tmp := filepath.Join(t.TempDir(), "procwatch.yaml")
	out, err := execute(t, "manifest", "init", "laravel", "--root", root, "--output", tmp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "php-serve") {
		t.Errorf("summary missing php-serve: %q", out)
	}

	m, err := manifest.Load(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if errs := manifest.Validate(m); len(errs) != 0 {
		t.Errorf("generated manifest invalid: %v", errs)
	}
}

func TestManifestInitDetectsNode(t *testing.T) {
	root := t.TempDir()
	pkg := []byte(`{"scripts": {"dev": "vite"}}`)
	if err := os.WriteFile(filepath.Join(root, "package.json"), pkg, 0644); err != nil {
		t.Fatal(err)
	}

	tmp := filepath.Join(t.TempDir(), "procwatch.yaml")
	if _, err := execute(t, "manifest", "init", "--root", root, "--output", tmp); err != nil {
		t.Fatal(err)
	}
	m, err := manifest.Load(tmp)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Processes) == 0 {
		t.Error("no processes generated for node project")
	}
}

func TestManifestInitUnknownPreset(t *testing.T) {
	if _, err := execute(t, "manifest", "init", "rails", "--output", filepath.Join(t.TempDir(), "x.yaml")); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestProcessCommands(t *testing.T) {
	_, sock := startDaemon(t)

	out, err := execute(t, "--socket", sock, "ping")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "pong") {
		t.Errorf("ping output %q", out)
	}

	out, err = execute(t, "--socket", sock, "start", "--name", "greeter", "--filter", "warn,error", "--",
		"echo 'WARN low disk'; echo 'plain info'; sleep 30")
	if err != nil {
		t.Fatal(err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		t.Fatal("start printed no id")
	}

	out, err = execute(t, "--socket", sock, "status")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"greeter", "running", "warn,error", "1 active"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "--socket", sock, "status", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var st monitor.Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("status --json: %v", err)
	}
	if len(st.Processes) != 1 || st.Processes[0].ID != id {
		t.Fatalf("unexpected status %+v", st)
	}

	// History keeps filtered entries too.
	deadline := time.Now().Add(3 * time.Second)
	for {
		out, err = execute(t, "--socket", sock, "logs", "greeter", "-n", "10")
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(out, "plain info") || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !strings.Contains(out, "WARN  low disk") {
		t.Errorf("logs output missing warn entry:\n%s", out)
	}
	if !strings.Contains(out, "plain info") {
		t.Errorf("logs output missing filtered entry:\n%s", out)
	}

	out, err = execute(t, "--socket", sock, "filter", id[:8])
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "greeter: all levels" {
		t.Errorf("filter output %q", out)
	}

	if _, err := execute(t, "--socket", sock, "filter", "greeter", "loud"); err == nil {
		t.Error("expected invalid level error")
	}

	_, err = execute(t, "--socket", sock, "stop", "nosuch")
	if !errors.Is(err, monitor.ErrProcessNotFound) {
		t.Errorf("stop unknown: %v", err)
	}

	out, err = execute(t, "--socket", sock, "stop", "greeter")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "greeter ✓") {
		t.Errorf("stop output %q", out)
	}

	out, err = execute(t, "--socket", sock, "status")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "no processes" {
		t.Errorf("status after stop:\n%s", out)
	}
}

func TestStopAllCommand(t *testing.T) {
	d, sock := startDaemon(t)
	for i := 0; i < 3; i++ {
		if _, err := d.Registry().Start(context.Background(), "sleep 30", monitor.StartOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := execute(t, "--socket", sock, "stop-all"); err != nil {
		t.Fatal(err)
	}
	if n := d.Registry().Status().ActiveProcesses; n != 0 {
		t.Errorf("%d processes still active", n)
	}
}

func TestDaemonNotRunning(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "missing.sock")
	_, err := execute(t, "--socket", sock, "status")
	if err == nil || !strings.Contains(err.Error(), "cannot connect to daemon") {
		t.Errorf("unexpected error %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTailStreamsEvents(t *testing.T) {
	d, sock := startDaemon(t)
	socketPath = sock
	tailJSON = false
	t.Cleanup(func() { socketPath = defaultSocket })

	var out syncBuffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tail(ctx, &out, nil) }()

	for i := 0; d.Server().Clients() == 0; i++ {
		if i > 200 {
			cancel()
			t.Fatal("tail never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := d.Registry().Start(context.Background(), "echo 'ERROR tail me'; exit 3", monitor.StartOptions{Name: "failing"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "crashed: exit code 3") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("tail output incomplete:\n%s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("tail: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "ERROR tail me") {
		t.Errorf("log line missing:\n%s", got)
	}
	if !strings.Contains(got, "started pid") {
		t.Errorf("start event missing:\n%s", got)
	}
}

func TestMatchProcess(t *testing.T) {
	procs := []monitor.ProcessStatus{
		{ID: "aaaa1111", Name: "web"},
		{ID: "aaaa2222", Name: "worker"},
		{ID: "bbbb3333", Name: "web2"},
	}
	tests := []struct {
		sel     string
		wantID  string
		wantErr bool
	}{
		{"aaaa2222", "aaaa2222", false},
		{"web", "aaaa1111", false},
		{"bbbb", "bbbb3333", false},
		{"aaaa", "", true},
		{"zzzz", "", true},
	}
	for _, tt := range tests {
		p, err := matchProcess(procs, tt.sel)
		if tt.wantErr {
			if err == nil {
				t.Errorf("matchProcess(%q): expected error", tt.sel)
			}
			continue
		}
		if err != nil {
			t.Errorf("matchProcess(%q): %v", tt.sel, err)
			continue
		}
		if p.ID != tt.wantID {
			t.Errorf("matchProcess(%q) = %s, want %s", tt.sel, p.ID, tt.wantID)
		}
	}
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := monitor.Status{
		ActiveProcesses: 1,
		Processes: []monitor.ProcessStatus{{
			ID:          "0123456789abcdef",
			Command:     "npm run dev",
			PID:         42,
			Status:      core.StatusRunning,
			LevelFilter: []core.Level{core.LevelError},
			StartTime:   now.Add(-90 * time.Second),
		}},
	}
	var buf bytes.Buffer
	if err := printStatus(&buf, st, now); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"01234567", "running", "42", "1m30s", "error", "npm run dev", "1 active"} {
		if !strings.Contains(out, want) {
			t.Errorf("status table missing %q:\n%s", want, out)
		}
	}
}
