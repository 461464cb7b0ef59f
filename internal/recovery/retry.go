package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/filter"
	"github.com/bamsammich/ferry/internal/stats"
	"github.com/bamsammich/ferry/internal/transfer"
)

// ErrUnmapped is returned for a path no directory mapping covers.
var ErrUnmapped = errors.New("path not covered by any mapping")

// Copier re-attempts failed directories with a direct copy of their
// top-level entries. Entries already present at the destination are never
// touched.
type Copier struct {
	Topology *config.Topology
	Filter   *filter.Chain
	// BWLimit caps copy throughput in bytes per second (0 = unlimited).
	BWLimit int64
	Events  chan<- event.Event
	Stats   *stats.Collector
	Logger  *slog.Logger

	limiter *rate.Limiter
}

// RetryResult reports one directory.
type RetryResult struct {
	Rel         string
	Source      string
	Destination string
	Copied      int
	Existing    int
	SkippedDirs int
	Failed      int
	Bytes       int64
	Errors      []error
}

// OK reports whether every entry was either copied or already present.
func (r RetryResult) OK() bool { return r.Failed == 0 }

// Retry copies the top-level entries of the directory at rel (relative to
// the destination mount root) from its source counterpart. Subdirectories
// are left to the main transfer pass. A missing source or an unmapped path
// is returned as an error; per-entry copy errors are counted in the result.
func (c *Copier) Retry(ctx context.Context, rel string) (RetryResult, error) {
	res := RetryResult{Rel: rel}
	src, dst, ok := c.Topology.ResolveDestRelative(rel)
	res.Destination = dst
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrUnmapped, rel)
	}
	res.Source = src
	log := c.logger().With("rel", rel, "src", src, "dst", dst)

	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return res, fmt.Errorf("%w: %s", transfer.ErrSourceMissing, src)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return res, fmt.Errorf("read source dir: %w", err)
	}
	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return res, fmt.Errorf("create destination dir: %w", err)
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if c.Filter.Excluded(e.Name(), e.IsDir()) {
			continue
		}
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		switch {
		case e.IsDir():
			res.SkippedDirs++
			log.Info("subdirectory left to the main transfer", "name", e.Name())
		case e.Type()&fs.ModeSymlink != 0:
			c.tally(&res, e.Name(), copySymlink(from, to), 0)
		case e.Type().IsRegular():
			n, err := c.copyFile(ctx, from, to)
			c.tally(&res, e.Name(), err, n)
		default:
			log.Debug("skipping special file", "name", e.Name(), "mode", e.Type())
		}
	}

	log.Info("retry finished",
		"copied", res.Copied, "existing", res.Existing,
		"skipped_dirs", res.SkippedDirs, "failed", res.Failed)
	return res, nil
}

// errExists marks an entry that was already present at the destination.
var errExists = errors.New("destination exists")

func (c *Copier) tally(res *RetryResult, name string, err error, n int64) {
	switch {
	case err == nil:
		res.Copied++
		res.Bytes += n
	case errors.Is(err, errExists):
		res.Existing++
	default:
		res.Failed++
		res.Errors = append(res.Errors, fmt.Errorf("%s: %w", name, err))
		c.logger().Error("retry copy failed", "src", res.Source, "name", name, "error", err)
	}
}

// BatchResult aggregates RetryAll.
type BatchResult struct {
	Results []RetryResult
	// Errored counts directories that could not be processed at all.
	Errored     int
	Copied      int
	Existing    int
	SkippedDirs int
	Failed      int
	Bytes       int64
}

// OK reports whether no directory errored and no entry failed.
func (b BatchResult) OK() bool { return b.Errored == 0 && b.Failed == 0 }

// RetryAll runs Retry for each relative path in order. A failure in one
// directory never stops the batch; cancellation does.
func (c *Copier) RetryAll(ctx context.Context, rels []string) BatchResult {
	var batch BatchResult
	for i, rel := range rels {
		if ctx.Err() != nil {
			c.logger().Warn("retry interrupted", "remaining", len(rels)-i)
			break
		}
		base := event.Event{Path: rel, Index: i + 1, Total: len(rels)}
		ev := base
		ev.Type = event.RetryStarted
		event.Emit(c.Events, ev)

		res, err := c.Retry(ctx, rel)
		batch.Results = append(batch.Results, res)
		batch.Copied += res.Copied
		batch.Existing += res.Existing
		batch.SkippedDirs += res.SkippedDirs
		batch.Failed += res.Failed
		batch.Bytes += res.Bytes
		c.record(res)

		ev = base
		switch {
		case err != nil:
			batch.Errored++
			c.logger().Error("retry failed", "rel", rel, "error", err)
			ev.Type, ev.Error = event.RetryFailed, err
			if c.Stats != nil {
				c.Stats.AddRetryFailed(1)
			}
		case !res.OK():
			ev.Type, ev.Error = event.RetryFailed, errors.Join(res.Errors...)
		case res.Copied == 0:
			ev.Type, ev.Detail = event.RetrySkipped, "nothing to copy"
		default:
			ev.Type, ev.Count = event.RetryCopied, int64(res.Copied)
		}
		event.Emit(c.Events, ev)
	}
	return batch
}

func (c *Copier) record(res RetryResult) {
	if c.Stats == nil {
		return
	}
	c.Stats.AddFilesRetried(int64(res.Copied))
	c.Stats.AddRetrySkipped(int64(res.Existing + res.SkippedDirs))
	c.Stats.AddRetryFailed(int64(res.Failed))
	c.Stats.AddBytesRetried(res.Bytes)
}

// copyFile copies from to a temp file next to to and publishes it with a
// hard link, which fails instead of replacing an existing entry.
func (c *Copier) copyFile(ctx context.Context, from, to string) (int64, error) {
	if _, err := os.Lstat(to); err == nil {
		return 0, errExists
	}

	in, err := os.Open(from)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	tmp := filepath.Join(filepath.Dir(to), ".ferry-retry-"+uuid.NewString()+".tmp")
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	// Removed on every return path, cancellation included.
	defer os.Remove(tmp)

	n, err := io.Copy(out, limitReader(ctx, in, c.bwLimiter()))
	if err == nil {
		err = out.Sync()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}
	if err := os.Chmod(tmp, info.Mode().Perm()); err != nil {
		return n, err
	}
	mtime := info.ModTime()
	if err := os.Chtimes(tmp, time.Now(), mtime); err != nil {
		return n, err
	}

	if err := os.Link(tmp, to); err != nil {
		if errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.EEXIST) {
			return 0, errExists
		}
		return n, err
	}
	return n, nil
}

func copySymlink(from, to string) error {
	if _, err := os.Lstat(to); err == nil {
		return errExists
	}
	target, err := os.Readlink(from)
	if err != nil {
		return err
	}
	if err := os.Symlink(target, to); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errExists
		}
		return err
	}
	return nil
}

func (c *Copier) bwLimiter() *rate.Limiter {
	if c.BWLimit <= 0 {
		return nil
	}
	if c.limiter == nil {
		c.limiter = NewBWLimiter(c.BWLimit)
	}
	return c.limiter
}

func (c *Copier) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
