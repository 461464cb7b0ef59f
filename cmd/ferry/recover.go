package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/migrate"
	"github.com/bamsammich/ferry/internal/recovery"
	"github.com/bamsammich/ferry/internal/runlog"
	"github.com/bamsammich/ferry/internal/stats"
	"github.com/bamsammich/ferry/internal/verify"
)

type extractFlags struct {
	from     string
	expected int
}

func (f *extractFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "transfer log to scan (default: newest migrate log)")
	cmd.Flags().IntVar(&f.expected, "expected", -1, "warn when the number of failure lines differs (-1 disables)")
}

// extract scans the chosen transfer log and writes the errored-directories
// list file.
func (f *extractFlags) extract(s *session) (recovery.Extraction, error) {
	path := f.from
	if path == "" {
		latest, err := runlog.Latest(s.topo.LogDir(), runlog.Migrate)
		if err != nil {
			return recovery.Extraction{}, err
		}
		path = latest
	}
	s.logger.Info("scanning transfer log", "path", path)
	ext, err := recovery.ExtractFile(path, recovery.Options{
		DestRoot: s.topo.Destination().MountRoot,
		Expected: f.expected,
		Logger:   s.logger,
	})
	if err != nil {
		return ext, err
	}
	if err := recovery.WriteList(listPath(s), ext.Paths.Slice()); err != nil {
		return ext, err
	}
	s.logger.Info("errored directories",
		"count", ext.Paths.Len(), "failure_lines", ext.Recognized, "malformed", ext.Malformed, "list", listPath(s))
	return ext, nil
}

func listPath(s *session) string {
	return filepath.Join(s.topo.StateDir(), recovery.ListFileName)
}

func newExtractCmd(a *app) *cobra.Command {
	var f extractFlags
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "List the directories a transfer log reports as failed",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := a.open("")
			if err != nil {
				return err
			}
			defer s.close()

			ext, err := f.extract(s)
			if err != nil {
				return err
			}
			for _, p := range ext.Paths.Slice() {
				fmt.Fprintln(a.stdout, p)
			}
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newRetryCmd(a *app) *cobra.Command {
	var bwLimit sizeValue
	cmd := &cobra.Command{
		Use:   "retry [path...]",
		Short: "Copy the top-level files of failed directories directly",
		Long: `Retry copies the files directly inside each listed directory (paths are
relative to the destination mount root) from the matching source directory.
Existing destination files are never overwritten and subdirectories are
left to the next migration run.

Without arguments the errored-directories list written by extract is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(runlog.Recover)
			if err != nil {
				return err
			}
			defer s.close()

			rels := args
			if len(rels) == 0 {
				if rels, err = recovery.ReadList(listPath(s)); err != nil {
					return err
				}
			}
			batch := a.retry(cmd.Context(), s, rels, int64(bwLimit))
			if cmd.Context().Err() != nil {
				return &exitError{code: migrate.ExitInterrupted}
			}
			if !batch.OK() {
				return &exitError{code: migrate.ExitFailed}
			}
			return nil
		},
	}
	cmd.Flags().Var(&bwLimit, "bwlimit", "bandwidth limit per second (e.g. 50M); overrides the config")
	return cmd
}

func (a *app) retry(ctx context.Context, s *session, rels []string, bwLimit int64) recovery.BatchResult {
	if bwLimit <= 0 {
		bwLimit = s.topo.BWLimit()
	}
	collector := stats.NewCollector()
	events, finish := a.present(s, collector)
	c := &recovery.Copier{
		Topology: s.topo,
		Filter:   s.chain,
		BWLimit:  bwLimit,
		Events:   events,
		Stats:    collector,
		Logger:   s.logger,
	}
	batch := c.RetryAll(ctx, rels)
	finish()
	s.logger.Info("retry finished",
		"directories", len(batch.Results), "errored", batch.Errored, "copied", batch.Copied,
		"existing", batch.Existing, "skipped_dirs", batch.SkippedDirs, "failed", batch.Failed,
		"bytes", batch.Bytes)
	return batch
}

func newRecoverCmd(a *app) *cobra.Command {
	var (
		ef      extractFlags
		vf      verifyFlags
		bwLimit sizeValue
	)
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Extract failures from the last run, retry them and verify the result",
		Long: `Recover runs the post-migration repair pipeline:

  1. scan the newest migrate log for directories rsync could not write into
  2. write them to the errored-directories list
  3. copy their top-level files directly (never overwriting)
  4. verify every mapping that contains one of them
  5. checksum the retried files on both sides`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passes, err := vf.check()
			if err != nil {
				return err
			}
			s, err := a.open(runlog.Recover)
			if err != nil {
				return err
			}
			defer s.close()
			return a.runRecover(cmd.Context(), s, &ef, &vf, passes, int64(bwLimit))
		},
	}
	ef.register(cmd)
	vf.register(cmd)
	cmd.Flags().Var(&bwLimit, "bwlimit", "bandwidth limit per second for retried copies")
	return cmd
}

func (a *app) runRecover(
	ctx context.Context,
	s *session,
	ef *extractFlags,
	vf *verifyFlags,
	passes verify.Passes,
	bwLimit int64,
) error {
	ext, err := ef.extract(s)
	if errors.Is(err, runlog.ErrNoLog) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("nothing to recover from: %w", err)
	}
	if err != nil {
		return err
	}
	rels := ext.Paths.Slice()
	if len(rels) == 0 {
		fmt.Fprintln(a.stdout, "no failed directories found")
		return nil
	}

	batch := a.retry(ctx, s, rels, bwLimit)
	if ctx.Err() != nil {
		return &exitError{code: migrate.ExitInterrupted}
	}

	set := affectedMappings(s.topo, rels)
	ok, err := a.verifyMappings(ctx, s, set, &verifyFlags{
		samples:  vf.samples,
		parallel: vf.parallel,
		hash:     vf.hash,
		seed:     vf.seed,
	}, passes)
	if err != nil {
		return err
	}
	if ctx.Err() == nil {
		clean, err := a.checksum(ctx, s, verify.TopLevelPairs(s.topo, rels, s.chain), vf)
		if err != nil {
			return err
		}
		ok = ok && clean
	}
	s.logger.Info("recovery log", "path", s.logPath())
	return verdict(ctx, ok && batch.OK())
}

// affectedMappings returns, in declared order, the mappings covering any of
// rels.
func affectedMappings(topo *config.Topology, rels []string) []config.Mapping {
	hit := make(map[string]bool)
	for _, rel := range rels {
		if m, ok := topo.MappingForDestRelative(rel); ok {
			hit[m.Destination] = true
		}
	}
	var out []config.Mapping
	for _, m := range topo.Mappings() {
		if hit[m.Destination] {
			out = append(out, m)
		}
	}
	return out
}
