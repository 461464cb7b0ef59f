// Package transfer drives the external file-transfer tool for one directory
// at a time.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"slices"
	"strings"
)

// Invocation is one run of the transfer tool.
type Invocation struct {
	Source      string
	Destination string
	Args        []string // option arguments, without the paths
	Output      io.Writer
}

// DryRun reports whether the invocation only reports intended changes.
func (inv Invocation) DryRun() bool {
	return slices.Contains(inv.Args, "--dry-run")
}

// Engine runs the transfer tool and reports its exit status. A non-nil error
// means the tool could not be run at all.
type Engine interface {
	Run(ctx context.Context, inv Invocation) (exitCode int, err error)
}

// RsyncEngine runs rsync (or a binary with the same CLI contract).
type RsyncEngine struct {
	Path string
}

// Run executes the tool with source and destination given with trailing
// slashes so directory contents are synchronized rather than nested. The
// child is deliberately not bound to ctx: an interrupt stops the
// orchestrator from dispatching further work but never kills a transfer
// mid-flight.
func (e RsyncEngine) Run(_ context.Context, inv Invocation) (int, error) {
	path := e.Path
	if path == "" {
		path = "rsync"
	}

	args := slices.Clone(inv.Args)
	args = append(args, withSlash(inv.Source), withSlash(inv.Destination))

	cmd := exec.Command(path, args...)
	cmd.Stdout = inv.Output
	cmd.Stderr = inv.Output

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("run %s: %w", path, err)
	}
	return 0, nil
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// ExitMeaning describes the well-known rsync exit codes.
func ExitMeaning(code int) string {
	switch code {
	case 0:
		return "success"
	case 1:
		return "syntax or usage error"
	case 2:
		return "protocol incompatibility"
	case 3:
		return "errors selecting input/output files, dirs"
	case 5:
		return "error starting client-server protocol"
	case 10:
		return "error in socket I/O"
	case 11:
		return "error in file I/O"
	case 12:
		return "error in rsync protocol data stream"
	case 20:
		return "received SIGUSR1 or SIGINT"
	case 23:
		return "partial transfer due to error"
	case 24:
		return "partial transfer due to vanished source files"
	case 30:
		return "timeout in data send/receive"
	case 35:
		return "timeout waiting for daemon connection"
	case -1:
		return "terminated by signal"
	default:
		return "unknown"
	}
}
