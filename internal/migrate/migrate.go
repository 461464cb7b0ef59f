// Package migrate implements the migration state machine: it walks the
// selected directory mappings one at a time, consults the progress ledger,
// drives the transfer tool and aggregates the outcome.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/ledger"
	"github.com/bamsammich/ferry/internal/stats"
	"github.com/bamsammich/ferry/internal/transfer"
)

// Exit codes reported by Summary.ExitCode.
const (
	ExitOK          = 0
	ExitFailed      = 1
	ExitInterrupted = 130
)

// ErrNotMounted is reported for a directory whose endpoint share is not
// mounted.
var ErrNotMounted = errors.New("endpoint not mounted")

// MountChecker reports whether path is an active mountpoint.
type MountChecker interface {
	IsMounted(path string) (bool, error)
}

// Config drives one orchestrator run.
type Config struct {
	Topology  *config.Topology
	Ledger    ledger.Ledger
	Driver    *transfer.Driver
	Selection []string
	Resume    bool
	DryRun    bool
	// Fast compares by size only. Only safe into an empty destination.
	Fast bool
	// BWLimit overrides the configured bandwidth limit when > 0.
	BWLimit int64
	// Mounts, when set, is checked for every networked endpoint before each
	// directory.
	Mounts MountChecker
	Events chan<- event.Event
	Stats  *stats.Collector
	Logger *slog.Logger
}

// Outcome is the terminal state of one directory in a run.
type Outcome int

const (
	Completed Outcome = iota + 1
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DirResult is the outcome for one mapping.
type DirResult struct {
	Mapping  config.Mapping
	ID       string
	Outcome  Outcome
	Transfer transfer.Result
	Err      error
}

// Summary aggregates a run. Callers inspect the counts, not only the exit
// code, to learn about partial progress.
type Summary struct {
	Completed   int
	Skipped     int
	Failed      int
	Interrupted bool
	// NotStarted counts directories never dispatched because of an interrupt.
	NotStarted int
	Results    []DirResult
}

// ExitCode maps the summary to the process exit status.
func (s Summary) ExitCode() int {
	switch {
	case s.Interrupted:
		return ExitInterrupted
	case s.Failed > 0:
		return ExitFailed
	default:
		return ExitOK
	}
}

// Run processes the selected mappings sequentially. Cancelling ctx stops
// dispatch after the in-flight transfer returns. The only error returned is
// an invalid selection; per-directory failures are reported in Summary.
func Run(ctx context.Context, cfg Config) (Summary, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	set, err := Select(cfg.Topology.Mappings(), cfg.Selection)
	if err != nil {
		return Summary{}, err
	}

	bwLimit := cfg.BWLimit
	if bwLimit <= 0 {
		bwLimit = cfg.Topology.BWLimit()
	}
	opts := transfer.Options{DryRun: cfg.DryRun, SizeOnly: cfg.Fast, BWLimit: bwLimit}

	if cfg.Stats != nil {
		cfg.Stats.SetDirsTotal(int64(len(set)))
	}
	verb := "migrating"
	if cfg.DryRun {
		verb = "dry run:"
	}
	event.Emit(cfg.Events, event.Event{Type: event.RunStarted, Total: len(set), Detail: verb})
	logger.Info("run started",
		"directories", len(set), "resume", cfg.Resume, "dry_run", cfg.DryRun, "fast", cfg.Fast)

	r := &runner{cfg: cfg, logger: logger, opts: opts, total: len(set)}
	var sum Summary
	for i, m := range set {
		if ctx.Err() != nil {
			sum.Interrupted = true
			sum.NotStarted = len(set) - i
			logger.Warn("interrupted; no further directories will be started",
				"not_started", sum.NotStarted)
			event.Emit(cfg.Events, event.Event{Type: event.RunInterrupted, Count: int64(sum.NotStarted)})
			break
		}

		res := r.process(ctx, i+1, m)
		switch res.Outcome {
		case Completed:
			sum.Completed++
		case Skipped:
			sum.Skipped++
		case Failed:
			sum.Failed++
		}
		sum.Results = append(sum.Results, res)
	}
	if !sum.Interrupted && ctx.Err() != nil {
		// Interrupted during the last directory: nothing left to skip, but
		// the run still did not finish on its own.
		sum.Interrupted = true
		logger.Warn("interrupted during the final directory")
		event.Emit(cfg.Events, event.Event{Type: event.RunInterrupted})
	}

	logger.Info("run finished",
		"completed", sum.Completed, "skipped", sum.Skipped, "failed", sum.Failed,
		"interrupted", sum.Interrupted)
	return sum, nil
}

type runner struct {
	cfg    Config
	logger *slog.Logger
	opts   transfer.Options
	total  int
}

func (r *runner) process(ctx context.Context, index int, m config.Mapping) DirResult {
	id := ledger.DirID(m.Source)
	res := DirResult{Mapping: m, ID: id}
	log := r.logger.With("dir", m.DisplayName(), "id", id)
	base := event.Event{Name: m.DisplayName(), Path: m.Source, Index: index, Total: r.total}

	if r.cfg.Resume && r.cfg.Ledger.IsCompleted(id) {
		res.Outcome = Skipped
		log.Info("already completed, skipping")
		r.count(Skipped)
		ev := base
		ev.Type, ev.Detail = event.DirSkipped, "completed"
		event.Emit(r.cfg.Events, ev)
		return res
	}

	ev := base
	ev.Type, ev.Detail = event.DirStarted, m.Destination
	event.Emit(r.cfg.Events, ev)

	if err := r.checkMounts(); err != nil {
		return r.fail(res, base, log, err)
	}

	if !r.cfg.DryRun {
		if err := r.cfg.Ledger.MarkInProgress(id, m.Source); err != nil {
			return r.fail(res, base, log, fmt.Errorf("record in-progress: %w", err))
		}
	}

	log.Info("transfer starting", "src", m.Source, "dst", m.Destination)
	tr := r.cfg.Driver.Transfer(ctx, m.Source, m.Destination, r.opts)
	res.Transfer = tr
	if !tr.OK() {
		err := tr.Err
		if err == nil {
			err = fmt.Errorf("transfer exited with status %d (%s)", tr.ExitStatus, transfer.ExitMeaning(tr.ExitStatus))
		}
		for _, line := range tr.ErrorLines {
			log.Debug("transfer error line", "line", line)
		}
		res.Err = err
		res.Outcome = Failed
		log.Error("transfer failed; directory left resumable",
			"exit", tr.ExitStatus, "error_lines", len(tr.ErrorLines), "err", err)
		r.count(Failed)
		ev := base
		ev.Type, ev.ExitStatus, ev.Duration = event.DirFailed, tr.ExitStatus, tr.Duration
		if tr.Err != nil {
			ev.Error = tr.Err
		} else {
			ev.Detail = transfer.ExitMeaning(tr.ExitStatus)
		}
		event.Emit(r.cfg.Events, ev)
		return res
	}

	if !r.cfg.DryRun {
		if err := r.cfg.Ledger.MarkCompleted(id, m.Source); err != nil {
			return r.fail(res, base, log, fmt.Errorf("record completed: %w", err))
		}
	}

	res.Outcome = Completed
	log.Info("transfer completed", "duration", tr.Duration.Round(time.Millisecond), "lines", tr.Lines)
	r.count(Completed)
	ev = base
	ev.Type, ev.Duration = event.DirCompleted, tr.Duration
	event.Emit(r.cfg.Events, ev)
	return res
}

func (r *runner) fail(res DirResult, base event.Event, log *slog.Logger, err error) DirResult {
	res.Outcome = Failed
	res.Err = err
	log.Error("directory failed", "err", err)
	r.count(Failed)
	base.Type, base.Error = event.DirFailed, err
	event.Emit(r.cfg.Events, base)
	return res
}

func (r *runner) checkMounts() error {
	if r.cfg.Mounts == nil {
		return nil
	}
	for _, ep := range []config.Endpoint{r.cfg.Topology.Source(), r.cfg.Topology.Destination()} {
		if !ep.Networked() {
			continue
		}
		ok, err := r.cfg.Mounts.IsMounted(ep.MountRoot)
		if err != nil {
			return fmt.Errorf("check mount %s: %w", ep.MountRoot, err)
		}
		if !ok {
			return fmt.Errorf("%w: %s (//%s/%s)", ErrNotMounted, ep.MountRoot, ep.Address, ep.Share)
		}
	}
	return nil
}

func (r *runner) count(o Outcome) {
	if r.cfg.Stats == nil {
		return
	}
	switch o {
	case Completed:
		r.cfg.Stats.AddDirsCompleted(1)
	case Skipped:
		r.cfg.Stats.AddDirsSkipped(1)
	case Failed:
		r.cfg.Stats.AddDirsFailed(1)
	}
}
