// Package ledger records per-directory migration progress so interrupted
// runs can resume. A ledger is owned by a single orchestrator process; it
// does no locking of its own.
package ledger

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
)

// State is the persisted state of a directory. Absence of a record means
// not started.
type State string

const (
	InProgress State = "in_progress"
	Completed  State = "completed"
)

func (s State) valid() bool {
	return s == InProgress || s == Completed
}

// Record is the latest known state of one directory.
type Record struct {
	ID           string
	State        State
	Updated      time.Time
	OriginalPath string
}

// Ledger is the progress store contract shared by all backends.
type Ledger interface {
	// IsCompleted reports whether a completed record exists for id.
	IsCompleted(id string) bool
	// MarkInProgress replaces any record for id with an in-progress one.
	MarkInProgress(id, path string) error
	// MarkCompleted replaces any record for id with a completed one.
	MarkCompleted(id, path string) error
	// Reset deletes every record.
	Reset() error
	// Records returns all records keyed by id.
	Records() (map[string]Record, error)
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Option configures a store.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger that receives load warnings and read errors.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// Open opens the ledger for backend inside dir.
//
//nolint:ireturn // factory returns interface by design
func Open(backend, dir string, opts ...Option) (Ledger, error) {
	switch backend {
	case "", BackendFile:
		return OpenFile(filepath.Join(dir, "progress.ledger"), opts...)
	case BackendSQLite:
		return OpenSQLite(filepath.Join(dir, "progress.db"), opts...)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}

// DirID derives the stable identifier of a directory from its full, cleaned
// absolute path, so equal short names in different places never collide.
func DirID(path string) string {
	h := blake3.New()
	h.Write([]byte(filepath.Clean(path)))
	digest := h.Sum(nil)
	return hex.EncodeToString(digest[:8])
}

// now is swapped in tests.
var now = time.Now //nolint:gochecknoglobals // test hook
