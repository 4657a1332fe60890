// Package sandbox provides Local, a plain os/exec-based implementation
// of domain.Sandbox. spec.md §1 scopes the real isolation mechanism
// (seccomp, cgroups, chroot) out of this port: Local gives the Worker
// something that actually runs a command under a wall-clock deadline
// and reports resource usage, without attempting process isolation.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/cms-dev/cms/internal/domain"
)

// Local runs commands via os/exec.CommandContext, redirecting
// stdin/stdout to the given paths when set.
type Local struct{}

// NewLocal returns a ready-to-use Local sandbox.
func NewLocal() *Local { return &Local{} }

// Run implements domain.Sandbox.
func (l *Local) Run(ctx domain.Context, command []string, limits domain.Limits, stdinPath, stdoutPath string) (domain.SandboxStats, error) {
	if len(command) == 0 {
		return domain.SandboxStats{}, errors.New("sandbox: empty command")
	}

	timeout := limits.Time
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, command[0], command[1:]...)

	if stdinPath != "" {
		in, err := os.Open(stdinPath)
		if err != nil {
			return domain.SandboxStats{}, err
		}
		defer in.Close()
		cmd.Stdin = in
	}

	var out *os.File
	if stdoutPath != "" {
		var err error
		out, err = os.Create(stdoutPath)
		if err != nil {
			return domain.SandboxStats{}, err
		}
		defer out.Close()
		cmd.Stdout = out
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	wallTime := time.Since(start)

	stats := domain.SandboxStats{
		WallTime: wallTime,
		Trace:    stderr.String(),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		stats.TimedOut = true
		return stats, nil
	}

	state := cmd.ProcessState
	if state != nil {
		stats.ExecutionTime = state.UserTime() + state.SystemTime()
		if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
			stats.MemoryUsedBytes = usage.Maxrss * 1024 // Maxrss is KB on Linux
		}
		if limits.Memory > 0 && stats.MemoryUsedBytes > limits.Memory {
			stats.MemoryExceeded = true
		}
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			stats.Signal = int(ws.Signal())
			return stats, nil
		}
		stats.ExitCode = state.ExitCode()
		return stats, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		stats.ExitCode = exitErr.ExitCode()
		return stats, nil
	}
	if err != nil {
		return stats, err
	}
	return stats, nil
}

var _ domain.Sandbox = (*Local)(nil)
