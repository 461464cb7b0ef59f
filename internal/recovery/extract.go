// Package recovery turns a transfer log into a list of directories that did
// not transfer and re-attempts them with a direct, non-clobbering copy.
package recovery

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	// linePrefix starts every transfer-tool diagnostic line.
	linePrefix = "rsync:"
	// mkstempMarker precedes the quoted path of a receiver-side temp file the
	// tool failed to create.
	mkstempMarker = `mkstemp "`
	// tempSuffix separates the directory from the hidden temp file name.
	tempSuffix = "/."
)

// PathSet is a set of relative paths that remembers first-insertion order.
type PathSet struct {
	order []string
	seen  map[string]struct{}
}

// Add inserts p and reports whether it was new.
func (s *PathSet) Add(p string) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[p]; ok {
		return false
	}
	s.seen[p] = struct{}{}
	s.order = append(s.order, p)
	return true
}

func (s *PathSet) Contains(p string) bool {
	_, ok := s.seen[p]
	return ok
}

func (s *PathSet) Len() int { return len(s.order) }

// Slice returns the members in first-insertion order.
func (s *PathSet) Slice() []string {
	return append([]string(nil), s.order...)
}

// Options configures Extract.
type Options struct {
	// DestRoot is the destination mount root the failing paths are made
	// relative to.
	DestRoot string
	// Expected is the number of failure lines the operator expects. A
	// negative value disables the sanity check.
	Expected int
	Logger   *slog.Logger
}

// Extraction is the result of scanning one log.
type Extraction struct {
	Paths *PathSet
	// Recognized counts lines that matched the marker and yielded a path,
	// duplicates included.
	Recognized int
	// Malformed counts marker lines that lacked the suffix.
	Malformed int
}

// Extract scans r line by line for receiver-side temp-file creation failures
// under opts.DestRoot and collects the failing directories relative to it.
// Truncated or malformed lines are skipped.
func Extract(r io.Reader, opts Options) (Extraction, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prefix := mkstempMarker + strings.TrimSuffix(filepath.Clean(opts.DestRoot), "/") + "/"

	ex := Extraction{Paths: &PathSet{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		rel, matched, ok := parseLine(sc.Text(), prefix)
		if !matched {
			continue
		}
		if !ok {
			ex.Malformed++
			continue
		}
		ex.Recognized++
		ex.Paths.Add(rel)
	}
	if err := sc.Err(); err != nil {
		return ex, fmt.Errorf("scan log: %w", err)
	}

	if opts.Expected >= 0 && opts.Expected != ex.Recognized {
		logger.Warn("recognized failure lines differ from expected count",
			"recognized", ex.Recognized, "expected", opts.Expected)
	}
	logger.Info("extracted failing directories",
		"unique", ex.Paths.Len(), "recognized", ex.Recognized, "malformed", ex.Malformed)
	return ex, nil
}

// ExtractFile runs Extract over the log at path.
func ExtractFile(path string, opts Options) (Extraction, error) {
	f, err := os.Open(path)
	if err != nil {
		return Extraction{}, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()
	return Extract(f, opts)
}

// ParseFailures returns the unique failing directories in text, relative to
// destRoot.
func ParseFailures(text, destRoot string) []string {
	ex, err := Extract(strings.NewReader(text), Options{
		DestRoot: destRoot,
		Expected: -1,
		Logger:   slog.New(slog.DiscardHandler),
	})
	if err != nil {
		return nil
	}
	return ex.Paths.Slice()
}

// parseLine reports whether line carries the failure marker and, if so, the
// relative directory. The directory is what lies between the marker and the
// first suffix marker within the quoted path.
func parseLine(line, prefix string) (rel string, matched, ok bool) {
	if !strings.HasPrefix(line, linePrefix) {
		return "", false, false
	}
	i := strings.Index(line, prefix)
	if i < 0 {
		return "", false, false
	}
	rest := line[i+len(prefix):]
	if q := strings.IndexByte(rest, '"'); q >= 0 {
		rest = rest[:q]
	}
	j := strings.Index(rest, tempSuffix)
	if j <= 0 {
		return "", true, false
	}
	return rest[:j], true, true
}
