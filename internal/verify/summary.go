package verify

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bamsammich/ferry/internal/filter"
)

func (v *Verifier) summaryPass(ctx context.Context, rep *Report) {
	var err error
	rep.SourceCounts, err = v.count(ctx, rep.Source)
	if err != nil {
		rep.SummaryErr = err
		return
	}
	rep.DestCounts, err = v.count(ctx, rep.Destination)
	if errors.Is(err, fs.ErrNotExist) {
		// A destination that was never created holds zero files.
		rep.DestCounts = Counts{}
		return
	}
	rep.SummaryErr = err
}

// count walks root recursively, counting regular files and their sizes and
// skipping junk.
func (v *Verifier) count(ctx context.Context, root string) (Counts, error) {
	if _, err := os.Stat(root); err != nil {
		return Counts{}, err
	}
	var c Counts
	err := walkFiles(ctx, root, v.Filter, func(_ string, d fs.DirEntry) error {
		info, err := d.Info()
		if err != nil {
			return err
		}
		c.Files++
		c.Bytes += info.Size()
		return nil
	})
	return c, err
}

// walkFiles calls fn for every regular, non-junk file under root with its
// path relative to root.
func walkFiles(ctx context.Context, root string, chain *filter.Chain, fn func(rel string, d fs.DirEntry) error) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if chain.Excluded(filepath.ToSlash(rel), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return fn(rel, d)
	})
}
