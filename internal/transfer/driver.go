package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bamsammich/ferry/internal/filter"
)

// ErrSourceMissing is returned when the source directory does not exist.
var ErrSourceMissing = errors.New("source directory missing")

// maxErrorLines caps how many tool error lines a Result keeps.
const maxErrorLines = 200

// Options selects the per-invocation toggles on top of the fixed policy.
type Options struct {
	DryRun bool
	// SizeOnly compares by size alone. Only safe for a first pass into an
	// empty destination.
	SizeOnly bool
	// Itemize asks the tool for one line per changed item.
	Itemize bool
	// BWLimit caps throughput in bytes per second (0 = unlimited).
	BWLimit int64
	// Output receives a copy of the tool output in addition to the log.
	Output io.Writer
}

// Result is the outcome of one directory transfer.
type Result struct {
	Source      string
	Destination string
	ExitStatus  int
	Lines       int
	ErrorLines  []string
	Duration    time.Duration
	Err         error
}

// OK reports whether the transfer succeeded.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitStatus == 0
}

// Driver applies the option policy and runs the engine.
type Driver struct {
	Engine Engine
	Filter *filter.Chain
	// Log receives all tool output as it is produced.
	Log    io.Writer
	Logger *slog.Logger
}

// Args returns the tool arguments for opts.
func (d *Driver) Args(opts Options) []string {
	args := []string{
		"--archive",
		"--partial",
		"--partial-dir=" + filter.PartialDir,
		"--whole-file",
		"--no-compress",
	}
	if opts.SizeOnly {
		args = append(args, "--size-only")
	}
	if opts.Itemize {
		args = append(args, "--itemize-changes")
	}
	if opts.DryRun {
		args = append(args, "--dry-run")
	}
	if opts.BWLimit > 0 {
		kib := max(opts.BWLimit/1024, 1)
		args = append(args, "--bwlimit="+strconv.FormatInt(kib, 10))
	}
	args = append(args, d.Filter.RsyncArgs()...)
	return args
}

// Transfer synchronizes src into dst. It never returns an error directly;
// failures are reported in Result.
func (d *Driver) Transfer(ctx context.Context, src, dst string, opts Options) Result {
	logger := d.logger()
	res := Result{Source: src, Destination: dst}

	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		res.ExitStatus = -1
		res.Err = fmt.Errorf("%w: %s", ErrSourceMissing, src)
		return res
	}

	if !opts.DryRun {
		if err := os.MkdirAll(dst, 0o755); err != nil {
			res.ExitStatus = -1
			res.Err = fmt.Errorf("create destination: %w", err)
			return res
		}
	}

	lines := &lineWriter{fn: func(line string) {
		res.Lines++
		if isErrorLine(line) && len(res.ErrorLines) < maxErrorLines {
			res.ErrorLines = append(res.ErrorLines, line)
		}
	}}
	sinks := []io.Writer{lines}
	if d.Log != nil {
		sinks = append(sinks, d.Log)
	}
	if opts.Output != nil {
		sinks = append(sinks, opts.Output)
	}

	inv := Invocation{
		Source:      src,
		Destination: dst,
		Args:        d.Args(opts),
		Output:      io.MultiWriter(sinks...),
	}

	logger.Debug("running transfer", "src", src, "dst", dst, "args", strings.Join(inv.Args, " "))
	start := time.Now()
	code, err := d.Engine.Run(ctx, inv)
	lines.Flush()
	res.Duration = time.Since(start)
	res.ExitStatus = code
	if err != nil {
		res.Err = err
	}
	return res
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func isErrorLine(line string) bool {
	return strings.HasPrefix(line, "rsync:") ||
		strings.HasPrefix(line, "rsync error:") ||
		strings.HasPrefix(line, "rsync warning:")
}

// lineWriter splits written bytes into lines and hands each complete line
// to fn. It is safe for concurrent writers.
type lineWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		if i > 0 {
			w.fn(string(w.buf[:i]))
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits any trailing partial line.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.fn(string(w.buf))
		w.buf = nil
	}
}

// NewLineWriter returns a writer that calls fn for every complete line and a
// flush function for the remainder.
func NewLineWriter(fn func(string)) (io.Writer, func()) {
	w := &lineWriter{fn: fn}
	return w, w.Flush
}
