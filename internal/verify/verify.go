// Package verify checks a migrated directory against its source with up to
// three independent passes and an optional full-checksum pass over flagged
// files.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/filter"
	"github.com/bamsammich/ferry/internal/stats"
	"github.com/bamsammich/ferry/internal/transfer"
)

// Defaults for the sample pass and console output.
const (
	DefaultSamples      = 100
	DefaultWorkers      = 4
	DefaultConsoleLimit = 10
)

// ErrConflictingPasses is returned when more than one pass-scoping flag is
// given.
var ErrConflictingPasses = errors.New("--summary-only, --rsync-only and --sample-only are mutually exclusive")

// Passes selects which verification passes run.
type Passes struct {
	Summary    bool
	Structural bool
	Sample     bool
}

// AllPasses enables every pass.
func AllPasses() Passes {
	return Passes{Summary: true, Structural: true, Sample: true}
}

// PassesFromFlags maps the CLI scoping flags to passes. Summary-only skips
// the structural and sample passes; rsync-only and sample-only keep the
// cheap summary pass and select exactly one of the other two.
func PassesFromFlags(summaryOnly, rsyncOnly, sampleOnly bool) (Passes, error) {
	set := 0
	for _, f := range []bool{summaryOnly, rsyncOnly, sampleOnly} {
		if f {
			set++
		}
	}
	switch {
	case set > 1:
		return Passes{}, ErrConflictingPasses
	case summaryOnly:
		return Passes{Summary: true}, nil
	case rsyncOnly:
		return Passes{Summary: true, Structural: true}, nil
	case sampleOnly:
		return Passes{Summary: true, Sample: true}, nil
	default:
		return AllPasses(), nil
	}
}

// Verifier runs the enabled passes for one directory pair at a time.
type Verifier struct {
	Driver *transfer.Driver
	Filter *filter.Chain
	Passes Passes
	// Samples is the sample size; 0 disables sampling.
	Samples int
	Workers int
	// Seed makes sampling reproducible when non-zero.
	Seed uint64
	// ConsoleLimit caps discrepancies surfaced as events per pass.
	ConsoleLimit int
	// Log receives the full report for every directory.
	Log    io.Writer
	Events chan<- event.Event
	Stats  *stats.Collector
	Logger *slog.Logger

	rng *rand.Rand
}

// Verify checks dst against src.
func (v *Verifier) Verify(ctx context.Context, name, src, dst string) Report {
	start := time.Now()
	rep := Report{Name: name, Source: src, Destination: dst, Passes: v.Passes}
	log := v.logger().With("dir", name)

	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		rep.Err = fmt.Errorf("%w: %s", transfer.ErrSourceMissing, src)
		rep.Duration = time.Since(start)
		return rep
	}

	if v.Passes.Summary {
		v.summaryPass(ctx, &rep)
		log.Info("summary pass",
			"src_files", rep.SourceCounts.Files, "dst_files", rep.DestCounts.Files,
			"src_bytes", rep.SourceCounts.Bytes, "dst_bytes", rep.DestCounts.Bytes)
	}
	if v.Passes.Structural && ctx.Err() == nil {
		v.structuralPass(ctx, &rep)
		log.Info("structural pass", "discrepancies", len(rep.RsyncDiffs), "error", rep.RsyncErr)
	}
	if v.Passes.Sample && ctx.Err() == nil {
		v.samplePass(ctx, &rep)
		log.Info("sample pass", "sampled", rep.Sampled, "mismatches", len(rep.SampleMismatches))
	}
	if err := ctx.Err(); err != nil && rep.Err == nil {
		rep.Err = err
	}

	rep.Duration = time.Since(start)
	return rep
}

// VerifyAll verifies each mapping in order, writing every report to the
// verification log and surfacing truncated detail as events. Cancellation
// stops before the next directory.
func (v *Verifier) VerifyAll(ctx context.Context, mappings []config.Mapping) []Report {
	reports := make([]Report, 0, len(mappings))
	for i, m := range mappings {
		if ctx.Err() != nil {
			v.logger().Warn("verification interrupted", "remaining", len(mappings)-i)
			break
		}
		base := event.Event{Name: m.DisplayName(), Path: m.Source, Index: i + 1, Total: len(mappings)}
		ev := base
		ev.Type = event.VerifyStarted
		event.Emit(v.Events, ev)

		rep := v.Verify(ctx, m.DisplayName(), m.Source, m.Destination)
		reports = append(reports, rep)
		v.record(rep)
		if v.Log != nil {
			if err := rep.WriteTo(v.Log); err != nil {
				v.logger().Warn("failed to write verification log", "error", err)
			}
		}
		v.surface(rep, base)
	}
	return reports
}

func (v *Verifier) record(rep Report) {
	if v.Stats == nil {
		return
	}
	v.Stats.AddFilesVerified(int64(rep.Sampled))
	v.Stats.AddFilesMismatched(int64(len(rep.SampleMismatches)))
	v.Stats.AddDiscrepancies(int64(rep.Discrepancies()))
}

// surface emits the verdict plus at most ConsoleLimit discrepancies per pass.
func (v *Verifier) surface(rep Report, base event.Event) {
	limit := v.ConsoleLimit
	if limit <= 0 {
		limit = DefaultConsoleLimit
	}
	emitLines := func(pass string, lines []string) {
		for i, line := range lines {
			if i == limit {
				ev := base
				ev.Type, ev.Path = event.Discrepancy, pass
				ev.Detail = fmt.Sprintf("... and %d more (see verification log)", len(lines)-limit)
				event.Emit(v.Events, ev)
				return
			}
			ev := base
			ev.Type, ev.Path, ev.Detail = event.Discrepancy, pass, line
			event.Emit(v.Events, ev)
		}
	}

	if rep.Passes.Summary && !rep.FileCountMatch() && rep.Err == nil {
		emitLines("summary", []string{rep.summaryLine()})
	}
	emitLines("rsync", rep.RsyncDiffs)
	sample := make([]string, len(rep.SampleMismatches))
	for i, m := range rep.SampleMismatches {
		sample[i] = m.String()
	}
	emitLines("sample", sample)

	ev := base
	if rep.OK() {
		ev.Type = event.VerifyOK
	} else {
		ev.Type, ev.Count, ev.Error = event.VerifyFailed, int64(rep.Discrepancies()), rep.firstError()
	}
	ev.Duration = rep.Duration
	event.Emit(v.Events, ev)
}

func (v *Verifier) sampler() *rand.Rand {
	if v.rng == nil {
		seed := v.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		v.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
	return v.rng
}

func (v *Verifier) workers() int {
	if v.Workers > 0 {
		return v.Workers
	}
	return DefaultWorkers
}

func (v *Verifier) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.Default()
}
