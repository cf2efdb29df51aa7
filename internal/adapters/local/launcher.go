package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/promptgym-dev/promptgym/internal/ports"
)

// Launcher starts trial subprocesses in their own process group so that
// the whole tree (including browser children) can be terminated at once.
type Launcher struct{}

type handle struct {
	cmd  *exec.Cmd
	out  *bytes.Buffer
	done chan struct{}
	exit int
}

func (l *Launcher) Start(ctx context.Context, spec ports.ProcessSpec) (ports.ProcessHandle, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	// New process group: signals sent to -pid reach every descendant.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting trial process: %w", err)
	}

	h := &handle{cmd: cmd, out: &out, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				h.exit = exitErr.ExitCode()
			} else {
				h.exit = -1
			}
		}
		close(h.done)
	}()

	return h, nil
}

func (h *handle) Wait(ctx context.Context) (int, error) {
	select {
	case <-h.done:
		return h.exit, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}

// Terminate signals the process group: SIGTERM, a grace period, then
// SIGKILL. Already-exited processes are not an error.
func (h *handle) Terminate(grace time.Duration) error {
	if h.cmd.Process == nil {
		return nil
	}
	pgid := h.cmd.Process.Pid

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("signaling process group: %w", err)
	}

	select {
	case <-h.done:
		return nil
	case <-time.After(grace):
	}

	if err := syscall.Kill(-pgid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group: %w", err)
	}

	// Give the wait goroutine a moment to observe the kill.
	select {
	case <-h.done:
	case <-time.After(5 * time.Second):
	}
	return nil
}

func (h *handle) CombinedOutput() []byte {
	select {
	case <-h.done:
	default:
		// Process still running; snapshot what we have.
	}
	return h.out.Bytes()
}
