package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Exec spawns processes with os/exec in their own process group.
type Exec struct {
	// Shell runs the command string. Defaults to /bin/sh.
	Shell string
}

// Spawn starts req.Command via "<shell> -c". Output is captured through
// plain OS pipes so that reading continues after the process is reaped.
func (e Exec) Spawn(ctx context.Context, req Request) (Handle, error) {
	if strings.TrimSpace(req.Command) == "" {
		return nil, ErrEmptyCommand
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell, "-c", req.Command)
	cmd.Dir = req.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(req.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range req.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if startErr != nil {
		stdoutR.Close()
		stderrR.Close()
		return nil, fmt.Errorf("start %q: %w", req.Command, startErr)
	}

	h := &execHandle{
		cmd:    cmd,
		stdout: stdoutR,
		stderr: stderrR,
		done:   make(chan struct{}),
	}
	go h.wait()
	return h, nil
}

type execHandle struct {
	cmd    *exec.Cmd
	stdout *os.File
	stderr *os.File

	done      chan struct{}
	exit      ExitStatus
	closeOnce sync.Once
}

func (h *execHandle) PID() int              { return h.cmd.Process.Pid }
func (h *execHandle) Stdout() io.Reader     { return h.stdout }
func (h *execHandle) Stderr() io.Reader     { return h.stderr }
func (h *execHandle) Done() <-chan struct{} { return h.done }
func (h *execHandle) Exit() ExitStatus      { <-h.done; return h.exit }

func (h *execHandle) wait() {
	err := h.cmd.Wait()
	h.exit = exitStatus(h.cmd.ProcessState, err)
	close(h.done)
}

// exitStatus extracts the code and terminating signal from a reaped process.
func exitStatus(ps *os.ProcessState, waitErr error) ExitStatus {
	if ps == nil {
		return ExitStatus{Code: -1}
	}
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return ExitStatus{Code: -1, Signal: ws.Signal().String()}
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return ExitStatus{Code: -1}
	}
	return ExitStatus{Code: ps.ExitCode()}
}

// Terminate sends SIGTERM to the process group and SIGKILL if it is still
// alive after grace. If ctx ends first the group is killed before ctx.Err()
// is returned.
func (h *execHandle) Terminate(ctx context.Context, grace time.Duration) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	pid := h.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return errors.Join(ctx.Err(), h.kill(pid))
	case <-timer.C:
	}

	if err := h.kill(pid); err != nil {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *execHandle) kill(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("kill process group %d: %w", pid, err)
	}
	return nil
}

func (h *execHandle) Close() error {
	var err error
	h.closeOnce.Do(func() {
		err = errors.Join(h.stdout.Close(), h.stderr.Close())
	})
	return err
}
