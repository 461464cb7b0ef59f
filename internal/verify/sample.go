package verify

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const compareChunk = 64 * 1024

// samplePass draws a uniform random sample of destination files and
// byte-compares each with its source counterpart.
func (v *Verifier) samplePass(ctx context.Context, rep *Report) {
	if v.Samples <= 0 {
		return
	}
	picked, err := v.pick(ctx, rep.Destination, v.Samples)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		rep.SampleMismatches = append(rep.SampleMismatches, Mismatch{Path: ".", Kind: KindUnreadable, Err: err})
		return
	}
	rep.Sampled = len(picked)
	rep.SampleMismatches = append(rep.SampleMismatches, compareAll(ctx, rep.Source, rep.Destination, picked, v.workers())...)
}

// pick reservoir-samples up to n files under root, so memory stays bounded
// by n regardless of tree size. Fewer files than n yields all of them.
func (v *Verifier) pick(ctx context.Context, root string, n int) ([]string, error) {
	rng := v.sampler()
	reservoir := make([]string, 0, n)
	seen := 0
	err := walkFiles(ctx, root, v.Filter, func(rel string, _ fs.DirEntry) error {
		seen++
		if len(reservoir) < n {
			reservoir = append(reservoir, rel)
			return nil
		}
		if j := rng.IntN(seen); j < n {
			reservoir[j] = rel
		}
		return nil
	})
	return reservoir, err
}

// compareAll compares the files at rels under both roots with a bounded
// number of workers. The result is sorted by path so it does not depend on
// worker scheduling.
func compareAll(ctx context.Context, srcRoot, dstRoot string, rels []string, workers int) []Mismatch {
	var (
		mu  sync.Mutex
		out []Mismatch
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rel := range rels {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			if m, bad := compareFile(filepath.Join(srcRoot, rel), filepath.Join(dstRoot, rel), rel); bad {
				mu.Lock()
				out = append(out, m)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // only cancellation; partial results are kept

	slices.SortFunc(out, func(a, b Mismatch) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// compareFile byte-compares src and dst. rel is what gets reported.
func compareFile(src, dst, rel string) (Mismatch, bool) {
	sf, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return Mismatch{Path: rel, Kind: KindMissing}, true
	}
	if err != nil {
		return Mismatch{Path: rel, Kind: KindUnreadable, Err: err}, true
	}
	defer sf.Close()

	df, err := os.Open(dst)
	if err != nil {
		kind := KindUnreadable
		if errors.Is(err, fs.ErrNotExist) {
			kind = KindMissing
		}
		return Mismatch{Path: rel, Kind: kind, Err: err}, true
	}
	defer df.Close()

	si, err := sf.Stat()
	if err != nil {
		return Mismatch{Path: rel, Kind: KindUnreadable, Err: err}, true
	}
	di, err := df.Stat()
	if err != nil {
		return Mismatch{Path: rel, Kind: KindUnreadable, Err: err}, true
	}
	if si.Size() != di.Size() {
		return Mismatch{Path: rel, Kind: KindContentMismatch}, true
	}

	equal, err := sameContent(sf, df)
	if err != nil {
		return Mismatch{Path: rel, Kind: KindUnreadable, Err: err}, true
	}
	if !equal {
		return Mismatch{Path: rel, Kind: KindContentMismatch}, true
	}
	return Mismatch{}, false
}

func sameContent(a, b io.Reader) (bool, error) {
	ra := bufio.NewReaderSize(a, compareChunk)
	rb := bufio.NewReaderSize(b, compareChunk)
	bufA := make([]byte, compareChunk)
	bufB := make([]byte, compareChunk)
	for {
		na, errA := io.ReadFull(ra, bufA)
		nb, errB := io.ReadFull(rb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		endA := errors.Is(errA, io.EOF) || errors.Is(errA, io.ErrUnexpectedEOF)
		endB := errors.Is(errB, io.EOF) || errors.Is(errB, io.ErrUnexpectedEOF)
		switch {
		case errA != nil && !endA:
			return false, errA
		case errB != nil && !endB:
			return false, errB
		case endA || endB:
			return endA == endB, nil
		}
	}
}
