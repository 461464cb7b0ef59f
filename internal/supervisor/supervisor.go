// Package supervisor runs the orchestrator as a detached background worker
// and manages its lifecycle through a pid file, which is the sole record of
// whether a worker is running.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PIDFileName is the lock file kept in the state directory.
const PIDFileName = "worker.pid"

// DefaultGracePeriod is how long Stop waits after the graceful signal.
const DefaultGracePeriod = 30 * time.Second

var (
	// ErrAlreadyRunning is returned when a live process holds the pid file.
	ErrAlreadyRunning = errors.New("worker already running")
	// ErrNotRunning is returned by Stop when no live worker exists.
	ErrNotRunning = errors.New("no worker running")
)

// Supervisor manages the singleton background worker.
type Supervisor struct {
	PIDPath string
	// Executable is the binary started by Start; defaults to the running one.
	Executable   string
	GracePeriod  time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

// New returns a Supervisor keeping its pid file in stateDir.
func New(stateDir string) *Supervisor {
	return &Supervisor{PIDPath: filepath.Join(stateDir, PIDFileName)}
}

// Status describes the worker as recorded by the pid file.
type Status struct {
	PID     int
	Running bool
	// StaleRemoved is set when a pid file for a dead process was cleaned up.
	StaleRemoved bool
}

// Status reads the pid file and checks the recorded process. A stale pid
// file is removed.
func (s *Supervisor) Status() (Status, error) {
	pid, err := s.readPID()
	if errors.Is(err, os.ErrNotExist) {
		return Status{}, nil
	}
	if err != nil {
		s.logger().Warn("unreadable pid file, treating as stale", "path", s.PIDPath, "error", err)
		return Status{StaleRemoved: true}, s.removePID()
	}
	if alive(pid) {
		return Status{PID: pid, Running: true}, nil
	}
	s.logger().Info("removing stale pid file", "pid", pid, "path", s.PIDPath)
	return Status{PID: pid, StaleRemoved: true}, s.removePID()
}

// Acquire records pid as the running orchestrator. It fails with
// ErrAlreadyRunning when another live process holds the pid file.
func (s *Supervisor) Acquire(pid int) error {
	st, err := s.Status()
	if err != nil {
		return err
	}
	if st.Running && st.PID != pid {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, st.PID)
	}
	return s.writePID(pid)
}

// ReleaseIfOwner removes the pid file when it still records pid.
func (s *Supervisor) ReleaseIfOwner(pid int) error {
	cur, err := s.readPID()
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil || cur != pid {
		return nil //nolint:nilerr // someone else owns (or mangled) the file
	}
	return s.removePID()
}

// Start spawns the worker with args, fully detached from the caller's
// session, with output appended to logPath. It returns the worker pid.
func (s *Supervisor) Start(args []string, logPath string) (int, error) {
	st, err := s.Status()
	if err != nil {
		return 0, err
	}
	if st.Running {
		return 0, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, st.PID)
	}

	exe := s.Executable
	if exe == "" {
		if exe, err = os.Executable(); err != nil {
			return 0, fmt.Errorf("resolve executable: %w", err)
		}
	}

	out, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open worker log: %w", err)
	}
	defer out.Close()

	pid, err := spawnDetached(exe, args, out, s.logger())
	if err != nil {
		return 0, err
	}
	if err := s.writePID(pid); err != nil {
		return pid, err
	}
	s.logger().Info("started worker", "pid", pid, "log", logPath)
	return pid, nil
}

// Stopped reports how Stop ended the worker.
type Stopped struct {
	PID    int
	Forced bool
}

// Stop sends a graceful termination signal, waits up to the grace period and
// then kills the worker. The pid file is removed once the process is gone.
func (s *Supervisor) Stop(ctx context.Context) (Stopped, error) {
	st, err := s.Status()
	if err != nil {
		return Stopped{}, err
	}
	if !st.Running {
		return Stopped{}, ErrNotRunning
	}
	pid := st.PID
	log := s.logger().With("pid", pid)

	if err := terminate(pid); err != nil {
		return Stopped{PID: pid}, fmt.Errorf("signal worker %d: %w", pid, err)
	}
	log.Info("sent termination signal, waiting", "grace", s.grace())

	res := Stopped{PID: pid}
	if !s.waitExit(ctx, pid, s.grace()) {
		log.Warn("worker did not exit in time, killing")
		if err := kill(pid); err != nil {
			return res, fmt.Errorf("kill worker %d: %w", pid, err)
		}
		res.Forced = true
		if !s.waitExit(ctx, pid, 5*time.Second) {
			return res, fmt.Errorf("worker %d still alive after kill", pid)
		}
	}

	if err := s.removePID(); err != nil {
		return res, err
	}
	log.Info("worker stopped", "forced", res.Forced)
	return res, nil
}

func (s *Supervisor) waitExit(ctx context.Context, pid int, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	ticker := time.NewTicker(s.poll())
	defer ticker.Stop()
	for {
		if !alive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !alive(pid)
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) readPID() (int, error) {
	data, err := os.ReadFile(s.PIDPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pid file %s: %q", s.PIDPath, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

func (s *Supervisor) writePID(pid int) error {
	dir := filepath.Dir(s.PIDPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := filepath.Join(dir, ".worker."+uuid.NewString()+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp, s.PIDPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func (s *Supervisor) removePID() error {
	if err := os.Remove(s.PIDPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

func (s *Supervisor) grace() time.Duration {
	if s.GracePeriod > 0 {
		return s.GracePeriod
	}
	return DefaultGracePeriod
}

func (s *Supervisor) poll() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return 250 * time.Millisecond
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
