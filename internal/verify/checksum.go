package verify

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/filter"
	"github.com/bamsammich/ferry/internal/hashsum"
)

// Pair is a source/destination file pair to checksum.
type Pair struct {
	Rel         string
	Source      string
	Destination string
}

// ChecksumResult aggregates a checksum pass. Mismatches are sorted by path.
type ChecksumResult struct {
	Algorithm  string
	Checked    int
	Mismatches []Mismatch
}

// OK reports whether every pair hashed identically.
func (r ChecksumResult) OK() bool { return len(r.Mismatches) == 0 }

// Checksum hashes both sides of every pair with the named algorithm using a
// bounded number of workers.
func Checksum(ctx context.Context, pairs []Pair, algorithm string, workers int) (ChecksumResult, error) {
	fn, err := hashsum.Lookup(algorithm)
	if err != nil {
		return ChecksumResult{}, err
	}
	if algorithm == "" {
		algorithm = hashsum.Default
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var (
		mu  sync.Mutex
		res = ChecksumResult{Algorithm: algorithm}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, p := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m, bad := checksumPair(p, fn)
			mu.Lock()
			defer mu.Unlock()
			res.Checked++
			if bad {
				res.Mismatches = append(res.Mismatches, m)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	slices.SortFunc(res.Mismatches, func(a, b Mismatch) int { return strings.Compare(a.Path, b.Path) })
	return res, nil
}

func checksumPair(p Pair, fn hashsum.Func) (Mismatch, bool) {
	srcSum, err := hashsum.File(p.Source, fn)
	if errors.Is(err, fs.ErrNotExist) {
		return Mismatch{Path: p.Rel, Kind: KindMissing}, true
	}
	if err != nil {
		return Mismatch{Path: p.Rel, Kind: KindUnreadable, Err: err}, true
	}
	dstSum, err := hashsum.File(p.Destination, fn)
	if err != nil {
		kind := KindUnreadable
		if errors.Is(err, fs.ErrNotExist) {
			kind = KindMissing
		}
		return Mismatch{Path: p.Rel, Kind: kind, Err: err}, true
	}
	if srcSum != dstSum {
		return Mismatch{Path: p.Rel, Kind: KindContentMismatch}, true
	}
	return Mismatch{}, false
}

// TopLevelPairs lists the regular, non-junk files directly inside each
// directory in rels (relative to the destination mount root), paired with
// their source counterparts. Directories that cannot be resolved or read are
// skipped.
func TopLevelPairs(topo *config.Topology, rels []string, chain *filter.Chain) []Pair {
	var out []Pair
	for _, rel := range rels {
		src, dst, ok := topo.ResolveDestRelative(rel)
		if !ok {
			continue
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.Type().IsRegular() || chain.Excluded(e.Name(), false) {
				continue
			}
			out = append(out, Pair{
				Rel:         filepath.Join(rel, e.Name()),
				Source:      filepath.Join(src, e.Name()),
				Destination: filepath.Join(dst, e.Name()),
			})
		}
	}
	return out
}
