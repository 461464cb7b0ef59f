package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/hashsum"
	"github.com/bamsammich/ferry/internal/migrate"
	"github.com/bamsammich/ferry/internal/runlog"
	"github.com/bamsammich/ferry/internal/stats"
	"github.com/bamsammich/ferry/internal/verify"
)

type verifyFlags struct {
	summaryOnly bool
	rsyncOnly   bool
	sampleOnly  bool
	samples     int
	parallel    int
	checksum    bool
	hash        string
	seed        uint64
}

func (f *verifyFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.BoolVar(&f.summaryOnly, "summary-only", false, "only compare file counts and sizes")
	fl.BoolVar(&f.rsyncOnly, "rsync-only", false, "only run the rsync dry-run comparison (plus the summary)")
	fl.BoolVar(&f.sampleOnly, "sample-only", false, "only run the random sample comparison (plus the summary)")
	fl.IntVar(&f.samples, "samples", verify.DefaultSamples, "files to compare byte-for-byte per directory")
	fl.IntVarP(&f.parallel, "parallel", "j", verify.DefaultWorkers, "parallel file comparisons")
	fl.BoolVar(&f.checksum, "checksum", false, "hash every flagged file on both sides")
	fl.StringVar(&f.hash, "hash", hashsum.Default,
		"hash algorithm for --checksum ("+strings.Join(hashsum.Names(), ", ")+")")
	fl.Uint64Var(&f.seed, "seed", 0, "seed for reproducible sampling (0 = random)")
}

// check validates the flag combination before any work starts.
func (f *verifyFlags) check() (verify.Passes, error) {
	passes, err := verify.PassesFromFlags(f.summaryOnly, f.rsyncOnly, f.sampleOnly)
	if err != nil {
		return passes, err
	}
	if _, err := hashsum.Lookup(f.hash); err != nil {
		return passes, err
	}
	if f.samples < 0 || f.parallel < 1 {
		return passes, errors.New("--samples must be >= 0 and --parallel >= 1")
	}
	return passes, nil
}

func newVerifyCmd(a *app) *cobra.Command {
	var f verifyFlags
	cmd := &cobra.Command{
		Use:   "verify [directory...]",
		Short: "Compare migrated directories against their sources",
		Long: `Verify every configured mapping, or only those named, with up to three
passes: a file count and size summary, an rsync dry-run that lists pending
changes, and a byte-for-byte comparison of randomly sampled files.

The console shows at most 10 discrepancies per pass; the verification log
holds the complete list.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			passes, err := f.check()
			if err != nil {
				return err
			}
			s, err := a.open(runlog.Verify)
			if err != nil {
				return err
			}
			defer s.close()

			set, err := migrate.Select(s.topo.Mappings(), args)
			if err != nil {
				return err
			}
			ok, err := a.verifyMappings(cmd.Context(), s, set, &f, passes)
			if err != nil {
				return err
			}
			s.logger.Info("verification log", "path", s.logPath())
			return verdict(cmd.Context(), ok)
		},
	}
	f.register(cmd)
	return cmd
}

// verifyMappings runs the verifier over set and, when requested, the
// checksum pass over everything it flagged. It reports whether all of it
// came back clean.
func (a *app) verifyMappings(
	ctx context.Context,
	s *session,
	set []config.Mapping,
	f *verifyFlags,
	passes verify.Passes,
) (bool, error) {
	collector := stats.NewCollector()
	events, finish := a.present(s, collector)
	event.Emit(events, event.Event{Type: event.RunStarted, Total: len(set), Detail: "verifying"})

	driver := s.driver()
	driver.Log = nil
	v := &verify.Verifier{
		Driver:  driver,
		Filter:  s.chain,
		Passes:  passes,
		Samples: f.samples,
		Workers: f.parallel,
		Seed:    f.seed,
		Log:     s.logWriter(),
		Events:  events,
		Stats:   collector,
		Logger:  s.logger,
	}
	reports := v.VerifyAll(ctx, set)
	finish()

	ok := len(reports) == len(set)
	var flagged []verify.Pair
	for _, rep := range reports {
		if !rep.OK() {
			ok = false
		}
		flagged = append(flagged, rep.Flagged()...)
	}

	if f.checksum && len(flagged) > 0 && ctx.Err() == nil {
		clean, err := a.checksum(ctx, s, flagged, f)
		if err != nil {
			return false, err
		}
		ok = ok && clean
	}
	return ok, nil
}

func (a *app) checksum(ctx context.Context, s *session, pairs []verify.Pair, f *verifyFlags) (bool, error) {
	s.logger.Info("checksumming flagged files", "files", len(pairs), "algorithm", f.hash)
	res, err := verify.Checksum(ctx, pairs, f.hash, f.parallel)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(s.logWriter(), "===== checksum (%s): %d files, %d mismatches =====\n",
		res.Algorithm, res.Checked, len(res.Mismatches))
	for _, m := range res.Mismatches {
		fmt.Fprintln(s.logWriter(), m)
		s.logger.Warn("checksum mismatch", "file", m.Path, "kind", string(m.Kind))
	}
	if !a.quiet {
		fmt.Fprintf(a.stdout, "checksum (%s): %d files checked, %d mismatched\n",
			res.Algorithm, res.Checked, len(res.Mismatches))
	}
	return res.OK(), nil
}

// verdict turns a clean/dirty outcome into the process exit status.
func verdict(ctx context.Context, ok bool) error {
	if ctx.Err() != nil {
		return &exitError{code: migrate.ExitInterrupted}
	}
	if !ok {
		return &exitError{code: migrate.ExitFailed}
	}
	return nil
}
