package verify

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies a per-file verification failure.
type Kind string

const (
	KindMissing         Kind = "missing"
	KindContentMismatch Kind = "content-mismatch"
	KindUnreadable      Kind = "unreadable"
)

// Mismatch is one failed file comparison. Path is relative to the mapping
// roots.
type Mismatch struct {
	Path string
	Kind Kind
	Err  error
}

func (m Mismatch) String() string {
	if m.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", m.Kind, m.Path, m.Err)
	}
	return fmt.Sprintf("%s: %s", m.Kind, m.Path)
}

// Counts is a recursive file count and total size.
type Counts struct {
	Files int64
	Bytes int64
}

// Report is the verification outcome for one directory.
type Report struct {
	Name        string
	Source      string
	Destination string
	Passes      Passes

	SourceCounts Counts
	DestCounts   Counts
	SummaryErr   error

	RsyncDiffs []string
	RsyncErr   error

	Sampled          int
	SampleMismatches []Mismatch

	// Err is set when the directory could not be verified at all.
	Err      error
	Duration time.Duration
}

// FileCountMatch reports whether both sides hold the same number of files.
func (r Report) FileCountMatch() bool {
	return r.SourceCounts.Files == r.DestCounts.Files
}

// RsyncDiffCount is the number of pending changes the structural pass found.
func (r Report) RsyncDiffCount() int { return len(r.RsyncDiffs) }

// Discrepancies totals every problem found by the enabled passes. A file
// count mismatch counts as one.
func (r Report) Discrepancies() int {
	n := len(r.RsyncDiffs) + len(r.SampleMismatches)
	if r.Passes.Summary && r.Err == nil && !r.FileCountMatch() {
		n++
	}
	for _, err := range []error{r.Err, r.SummaryErr, r.RsyncErr} {
		if err != nil {
			n++
		}
	}
	return n
}

// OK reports whether every enabled pass came back clean.
func (r Report) OK() bool { return r.Discrepancies() == 0 }

func (r Report) firstError() error {
	return errors.Join(r.Err, r.SummaryErr, r.RsyncErr)
}

func (r Report) summaryLine() string {
	return fmt.Sprintf("file count source=%d destination=%d; size source=%d destination=%d",
		r.SourceCounts.Files, r.DestCounts.Files, r.SourceCounts.Bytes, r.DestCounts.Bytes)
}

// Flagged returns the file pairs the report implicates, for a checksum
// pass: files the structural pass would transfer and sampled files whose
// content differed.
func (r Report) Flagged() []Pair {
	seen := make(map[string]bool)
	var out []Pair
	add := func(rel string) {
		if rel == "" || seen[rel] {
			return
		}
		seen[rel] = true
		out = append(out, Pair{
			Rel:         rel,
			Source:      filepath.Join(r.Source, rel),
			Destination: filepath.Join(r.Destination, rel),
		})
	}
	for _, line := range r.RsyncDiffs {
		if it, ok := parseItemized(line); ok && it.fileType == 'f' {
			add(it.path)
		}
	}
	for _, m := range r.SampleMismatches {
		if m.Kind == KindContentMismatch {
			add(m.Path)
		}
	}
	return out
}

// WriteTo writes the full report under a section header.
func (r Report) WriteTo(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "===== %s: %s -> %s =====\n", r.Name, r.Source, r.Destination)
	if r.Err != nil {
		fmt.Fprintf(&b, "[error] %v\n", r.Err)
	}
	if r.Passes.Summary && r.Err == nil {
		status := "match"
		if !r.FileCountMatch() {
			status = "MISMATCH"
		}
		fmt.Fprintf(&b, "[summary] %s: %s\n", status, r.summaryLine())
		if r.SummaryErr != nil {
			fmt.Fprintf(&b, "[summary] error: %v\n", r.SummaryErr)
		}
	}
	if r.Passes.Structural && r.Err == nil {
		fmt.Fprintf(&b, "[rsync] %d discrepancies\n", len(r.RsyncDiffs))
		if r.RsyncErr != nil {
			fmt.Fprintf(&b, "[rsync] error: %v\n", r.RsyncErr)
		}
		for _, line := range r.RsyncDiffs {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	if r.Passes.Sample && r.Err == nil {
		fmt.Fprintf(&b, "[sample] sampled %d, mismatches %d\n", r.Sampled, len(r.SampleMismatches))
		for _, m := range r.SampleMismatches {
			fmt.Fprintf(&b, "  %s\n", m)
		}
	}
	verdict := "OK"
	if !r.OK() {
		verdict = fmt.Sprintf("FAILED (%d discrepancies)", r.Discrepancies())
	}
	fmt.Fprintf(&b, "[result] %s in %s\n\n", verdict, r.Duration.Round(time.Millisecond))

	_, err := io.WriteString(w, b.String())
	return err
}
