//go:build unix

package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// spawnDetached starts exe in a new session so it survives the caller's
// terminal going away.
func spawnDetached(exe string, args []string, out *os.File, logger *slog.Logger) (int, error) {
	cmd := exec.Command(exe, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start worker: %w", err)
	}
	pid := cmd.Process.Pid

	// The child is reaped here so a finished worker does not linger as a
	// zombie that still answers the liveness check.
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Debug("worker exited", "pid", pid, "error", err)
		}
	}()
	return pid, nil
}

// alive checks the process table. EPERM means the process exists but
// belongs to someone else.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// terminate asks the worker alone to stop; it finishes the in-flight
// transfer before exiting.
func terminate(pid int) error {
	err := unix.Kill(pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// kill takes down the worker's whole process group, including a running
// transfer tool.
func kill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

func signalGroup(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	err := unix.Kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
