package spawn

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func spawnSh(t *testing.T, command string) Handle {
	t.Helper()
	h, err := Exec{}.Spawn(context.Background(), Request{Command: command})
	if err != nil {
		t.Fatalf("spawn %q: %v", command, err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func waitDone(t *testing.T, h Handle) ExitStatus {
	t.Helper()
	select {
	case <-h.Done():
		return h.Exit()
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for process exit")
		return ExitStatus{}
	}
}

func TestExecCapturesOutput(t *testing.T) {
	h := spawnSh(t, `printf 'A\nB\n'; printf 'oops\n' >&2`)

	out, err := io.ReadAll(h.Stdout())
	if err != nil {
		t.Fatal(err)
	}
	errOut, err := io.ReadAll(h.Stderr())
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "A\nB\n" {
		t.Errorf("stdout = %q", out)
	}
	if string(errOut) != "oops\n" {
		t.Errorf("stderr = %q", errOut)
	}

	status := waitDone(t, h)
	if !status.Clean() {
		t.Errorf("status = %+v, want clean exit", status)
	}
	if h.PID() <= 0 {
		t.Errorf("PID() = %d", h.PID())
	}
}

func TestExecExitCode(t *testing.T) {
	status := waitDone(t, spawnSh(t, "exit 3"))
	if status.Code != 3 || status.Signal != "" {
		t.Errorf("status = %+v, want code 3", status)
	}
	if status.Clean() {
		t.Error("non-zero exit reported clean")
	}
}

func TestExecSignalDeath(t *testing.T) {
	status := waitDone(t, spawnSh(t, "kill -TERM $$"))
	if status.Signal == "" {
		t.Errorf("status = %+v, want a signal", status)
	}
	if status.Code != -1 {
		t.Errorf("code = %d, want -1", status.Code)
	}
}

func TestExecEnvAndDir(t *testing.T) {
	dir := t.TempDir()
	h, err := Exec{}.Spawn(context.Background(), Request{
		Command: `printf '%s %s' "$GREETING" "$(pwd)"`,
		Dir:     dir,
		Env:     map[string]string{"GREETING": "hello"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	out, _ := io.ReadAll(h.Stdout())
	if want := "hello " + dir; string(out) != want {
		t.Errorf("output = %q, want %q", out, want)
	}
	waitDone(t, h)
}

func TestExecTerminate(t *testing.T) {
	h := spawnSh(t, "sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Terminate(ctx, time.Second); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	status := waitDone(t, h)
	if status.Clean() {
		t.Errorf("terminated process reported clean: %+v", status)
	}
	// Terminating an exited process is a no-op.
	if err := h.Terminate(ctx, time.Second); err != nil {
		t.Errorf("second terminate: %v", err)
	}
}

func TestExecTerminateEscalatesToKill(t *testing.T) {
	h := spawnSh(t, `trap '' TERM; printf 'ready\n'; while true; do sleep 0.05; done`)

	buf := make([]byte, 6)
	if _, err := io.ReadFull(h.Stdout(), buf); err != nil {
		t.Fatalf("waiting for trap: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Terminate(ctx, 100*time.Millisecond); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if status := waitDone(t, h); status.Signal == "" {
		t.Errorf("status = %+v, want killed by signal", status)
	}
}

func TestExecTerminateKillsWhenContextEnds(t *testing.T) {
	h := spawnSh(t, `trap '' TERM; printf 'ready\n'; while true; do sleep 0.05; done`)

	buf := make([]byte, 6)
	if _, err := io.ReadFull(h.Stdout(), buf); err != nil {
		t.Fatalf("waiting for trap: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := h.Terminate(ctx, time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("terminate: err = %v, want deadline exceeded", err)
	}
	if status := waitDone(t, h); status.Signal != "killed" {
		t.Errorf("status = %+v, want killed", status)
	}
}

func TestExecSpawnFailures(t *testing.T) {
	if _, err := (Exec{}).Spawn(context.Background(), Request{Command: "  "}); !errors.Is(err, ErrEmptyCommand) {
		t.Errorf("empty command: err = %v, want ErrEmptyCommand", err)
	}

	if _, err := (Exec{}).Spawn(context.Background(), Request{Command: "true", Dir: "/nonexistent/procwatch"}); err == nil {
		t.Error("expected error for missing working directory")
	}

	if _, err := (Exec{Shell: "/nonexistent/sh"}).Spawn(context.Background(), Request{Command: "true"}); err == nil {
		t.Error("expected error for missing shell")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (Exec{}).Spawn(ctx, Request{Command: "true"}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled context: err = %v", err)
	}
}

func TestExecCloseUnblocksReaders(t *testing.T) {
	// A background child keeps the write end open after the shell exits.
	h := spawnSh(t, "sleep 30 & exit 0")
	waitDone(t, h)

	readDone := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(h.Stdout())
		readDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := h.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-readDone:
	case <-time.After(2 * time.Second):
		t.Fatal("reader still blocked after Close")
	}
}
