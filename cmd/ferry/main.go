package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/filter"
	"github.com/bamsammich/ferry/internal/migrate"
	"github.com/bamsammich/ferry/internal/runlog"
	"github.com/bamsammich/ferry/internal/stats"
	"github.com/bamsammich/ferry/internal/supervisor"
	"github.com/bamsammich/ferry/internal/transfer"
	"github.com/bamsammich/ferry/internal/ui"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// app carries the persistent flags and output streams shared by every
// subcommand.
type app struct {
	configPath string
	verbose    bool
	quiet      bool
	logJSON    bool
	noColor    bool

	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return migrate.ExitOK
	}
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	if errors.Is(err, context.Canceled) {
		return migrate.ExitInterrupted
	}
	return exitFatal
}

const exitFatal = 2

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "ferry",
		Short:         "Resumable bulk directory migration driven by rsync",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "",
		"configuration file (default: $"+config.EnvConfigPath+" or "+config.DefaultFileName+" next to the binary)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	pf.BoolVarP(&a.quiet, "quiet", "q", false, "suppress all output except errors")
	pf.BoolVar(&a.logJSON, "log-json", false, "write the log file as JSON lines")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddCommand(
		newRunCmd(a),
		newStartCmd(a),
		newStopCmd(a),
		newStatusCmd(a),
		newResetCmd(a),
		newVerifyCmd(a),
		newRecoverCmd(a),
		newExtractCmd(a),
		newRetryCmd(a),
		newMountCmd(a),
		newUnmountCmd(a),
		docsCmd,
	)
	return root
}

// session is one loaded configuration plus the logging set up for a
// command invocation.
type session struct {
	topo    *config.Topology
	chain   *filter.Chain
	logger  *slog.Logger
	logFile *os.File
}

// logWriter returns the invocation's log file, or io.Discard when the
// command keeps no log.
func (s *session) logWriter() io.Writer {
	if s.logFile == nil {
		return io.Discard
	}
	return s.logFile
}

func (s *session) logPath() string {
	if s.logFile == nil {
		return ""
	}
	return s.logFile.Name()
}

func (s *session) close() {
	if s.logFile != nil {
		s.logFile.Close()
	}
}

func (s *session) driver() *transfer.Driver {
	return &transfer.Driver{
		Engine: transfer.RsyncEngine{Path: s.topo.RsyncPath()},
		Filter: s.chain,
		Log:    s.logWriter(),
		Logger: s.logger,
	}
}

func (s *session) supervisor() *supervisor.Supervisor {
	sup := supervisor.New(s.topo.StateDir())
	sup.Logger = s.logger
	return sup
}

// open loads the configuration and installs the logger. A non-empty kind
// also creates the timestamped log file of that kind in the log directory.
func (a *app) open(kind string) (*session, error) {
	topo, err := config.Load(config.ResolvePath(a.configPath))
	if err != nil {
		return nil, err
	}
	chain, err := filter.NewJunkChain(topo.Exclude()...)
	if err != nil {
		return nil, fmt.Errorf("exclude patterns: %w", err)
	}
	if err := os.MkdirAll(topo.StateDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	level := slog.LevelInfo
	switch {
	case a.verbose:
		level = slog.LevelDebug
	case a.quiet:
		level = slog.LevelWarn
	}
	var handler slog.Handler = slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level})

	s := &session{topo: topo, chain: chain}
	if kind != "" {
		f, err := runlog.Create(topo.LogDir(), kind, time.Now())
		if err != nil {
			return nil, err
		}
		s.logFile = f
		fileOpts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var fileHandler slog.Handler = slog.NewTextHandler(f, fileOpts)
		if a.logJSON {
			fileHandler = slog.NewJSONHandler(f, fileOpts)
		}
		handler = ui.NewMultiHandler(handler, fileHandler)
	}
	s.logger = slog.New(handler)
	slog.SetDefault(s.logger)
	return s, nil
}

// present starts the console presenter. Events sent on the returned channel
// are also written to the log; finish closes the channel, waits for the
// presenter and prints its summary.
func (a *app) present(s *session, collector *stats.Collector) (chan<- event.Event, func()) {
	events := make(chan event.Event, 256)
	teed := make(chan event.Event, 256)
	go func() {
		for ev := range events {
			attrs := []slog.Attr{
				slog.String("type", ev.Type.String()),
				slog.String("name", ev.Name),
			}
			if ev.Path != "" {
				attrs = append(attrs, slog.String("path", ev.Path))
			}
			if ev.Error != nil {
				attrs = append(attrs, slog.String("error", ev.Error.Error()))
			}
			s.logger.LogAttrs(context.Background(), slog.LevelDebug, "ferry.event", attrs...)
			teed <- ev
		}
		close(teed)
	}()

	presenter := ui.NewPresenter(ui.Config{
		Writer: a.stdout,
		Stats:  collector,
		Color:  !a.noColor && isTerminal(a.stdout),
		Quiet:  a.quiet,
	})
	var wg sync.WaitGroup
	wg.Add(1)
	var presenterErr error
	go func() {
		defer wg.Done()
		presenterErr = presenter.Run(teed)
	}()

	return events, func() {
		close(events)
		wg.Wait()
		if presenterErr != nil {
			fmt.Fprintf(a.stderr, "presenter: %v\n", presenterErr)
		}
		if !a.quiet {
			if summary := presenter.Summary(); summary != "" {
				fmt.Fprintln(a.stdout, summary)
			}
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ui.IsTTY(f.Fd())
}

// absConfigPath returns the resolved configuration path as an absolute path
// so a detached worker finds it regardless of its working directory.
func (a *app) absConfigPath() (string, error) {
	return filepath.Abs(config.ResolvePath(a.configPath))
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
