// Package transfertest provides a scripted transfer engine for tests.
package transfertest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/bamsammich/ferry/internal/transfer"
)

// Step scripts the outcome of one invocation.
type Step struct {
	Exit  int
	Lines []string
	Err   error
}

// Engine is a fake transfer.Engine. Outcomes are looked up by cleaned source
// path in Script, falling back to Default. When Copy is set, successful
// non-dry-run invocations copy regular files from source to destination, and
// dry runs with itemization report files missing or differing in size.
type Engine struct {
	Script  map[string]Step
	Default Step
	Copy    bool
	// OnRun is called after each invocation finishes.
	OnRun func(inv transfer.Invocation)

	mu    sync.Mutex
	calls []transfer.Invocation
}

var _ transfer.Engine = (*Engine)(nil)

// Run implements transfer.Engine.
func (e *Engine) Run(_ context.Context, inv transfer.Invocation) (int, error) {
	e.mu.Lock()
	e.calls = append(e.calls, inv)
	e.mu.Unlock()

	step, ok := e.Script[filepath.Clean(inv.Source)]
	if !ok {
		step = e.Default
	}
	if step.Err != nil {
		return -1, step.Err
	}

	for _, line := range step.Lines {
		fmt.Fprintln(inv.Output, line)
	}

	if e.Copy && step.Exit == 0 {
		var err error
		if inv.DryRun() {
			err = itemize(inv)
		} else {
			err = copyTree(inv.Source, inv.Destination)
		}
		if err != nil {
			return 11, nil
		}
	}

	if e.OnRun != nil {
		e.OnRun(inv)
	}
	return step.Exit, nil
}

// Calls returns the invocations seen so far.
func (e *Engine) Calls() []transfer.Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.calls)
}

// Sources returns the source path of every invocation, in order.
func (e *Engine) Sources() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	for i, c := range e.calls {
		out[i] = filepath.Clean(c.Source)
	}
	return out
}

func itemize(inv transfer.Invocation) error {
	if !slices.Contains(inv.Args, "--itemize-changes") {
		return nil
	}
	return filepath.WalkDir(inv.Source, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(inv.Source, p)
		if err != nil {
			return err
		}
		si, err := d.Info()
		if err != nil {
			return err
		}
		di, err := os.Stat(filepath.Join(inv.Destination, rel))
		switch {
		case err != nil:
			fmt.Fprintf(inv.Output, ">f+++++++++ %s\n", rel)
		case di.Size() != si.Size():
			fmt.Fprintf(inv.Output, ">f.s....... %s\n", rel)
		}
		return nil
	})
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
