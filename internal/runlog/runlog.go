// Package runlog names, creates and finds the timestamped per-invocation log
// files kept in the log directory.
package runlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Log kinds.
const (
	Migrate = "migrate"
	Verify  = "verify"
	Recover = "recover"
	Worker  = "worker"
)

const stampLayout = "20060102-150405"

// ErrNoLog is returned by Latest when no log of the requested kind exists.
var ErrNoLog = errors.New("no log found")

// Name returns the file name for a log of kind started at t.
func Name(kind string, t time.Time) string {
	return fmt.Sprintf("%s-%s.log", kind, t.Format(stampLayout))
}

// Create opens a new append-only log file of kind in dir. When a file with
// the same timestamp already exists a numeric suffix is added.
func Create(dir, kind string, t time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	base := strings.TrimSuffix(Name(kind, t), ".log")
	for i := 0; ; i++ {
		name := base + ".log"
		if i > 0 {
			name = fmt.Sprintf("%s.%d.log", base, i)
		}
		f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create log: %w", err)
		}
		return f, nil
	}
}

// Latest returns the newest log of kind in dir.
func Latest(dir, kind string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, kind+"-*.log"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s logs in %s", ErrNoLog, kind, dir)
	}
	slices.SortFunc(matches, func(a, b string) int {
		ta, tb := stamp(a, kind), stamp(b, kind)
		if c := ta.Compare(tb); c != 0 {
			return c
		}
		return seq(a) - seq(b)
	})
	return matches[len(matches)-1], nil
}

func stamp(path, kind string) time.Time {
	name := strings.TrimPrefix(filepath.Base(path), kind+"-")
	if len(name) < len(stampLayout) {
		return time.Time{}
	}
	t, err := time.Parse(stampLayout, name[:len(stampLayout)])
	if err != nil {
		return time.Time{}
	}
	return t
}

// seq returns the collision suffix Create added to path (0 for none).
func seq(path string) int {
	name := strings.TrimSuffix(filepath.Base(path), ".log")
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return 0
	}
	n, err := strconv.Atoi(name[dot+1:])
	if err != nil {
		return 0
	}
	return n
}
