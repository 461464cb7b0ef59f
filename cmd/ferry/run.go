package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/bamsammich/ferry/internal/ledger"
	"github.com/bamsammich/ferry/internal/migrate"
	"github.com/bamsammich/ferry/internal/mount"
	"github.com/bamsammich/ferry/internal/runlog"
	"github.com/bamsammich/ferry/internal/stats"
	"github.com/bamsammich/ferry/internal/supervisor"
)

type runFlags struct {
	dryRun  bool
	resume  bool
	fast    bool
	bwLimit sizeValue
	worker  bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "n", false, "show what would be transferred without writing or recording progress")
	cmd.Flags().BoolVarP(&f.resume, "resume", "r", false, "skip directories already recorded as completed")
	cmd.Flags().BoolVar(&f.fast, "fast", false, "compare by size only (skip modification times)")
	cmd.Flags().Var(&f.bwLimit, "bwlimit", "bandwidth limit per second (e.g. 50M); overrides the config")
}

// args renders the flags back into the argument list of a worker process.
func (f *runFlags) args() []string {
	var out []string
	if f.dryRun {
		out = append(out, "--dry-run")
	}
	if f.resume {
		out = append(out, "--resume")
	}
	if f.fast {
		out = append(out, "--fast")
	}
	if f.bwLimit > 0 {
		out = append(out, "--bwlimit", strconv.FormatInt(int64(f.bwLimit), 10))
	}
	return out
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run [directory...]",
		Short: "Migrate the configured directories in the foreground",
		Long: `Migrate every configured directory mapping, or only those named on the
command line by 1-based index or display name, in declared order.

Progress is recorded per directory so an interrupted run can be continued
with --resume. An interrupt stops dispatch once the current transfer exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runMigrate(cmd.Context(), &f, args)
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&f.worker, "worker", false, "run as the detached background worker (implies --resume)")
	_ = cmd.Flags().MarkHidden("worker") //nolint:errcheck // flag name is hardcoded
	return cmd
}

func (a *app) runMigrate(ctx context.Context, f *runFlags, args []string) error {
	s, err := a.open(runlog.Migrate)
	if err != nil {
		return err
	}
	defer s.close()

	sup := s.supervisor()
	pid := os.Getpid()
	if !f.worker {
		if err := sup.Acquire(pid); err != nil {
			return err
		}
	}
	defer func() {
		if err := sup.ReleaseIfOwner(pid); err != nil {
			s.logger.Warn("release pid file", "error", err)
		}
	}()

	led, err := ledger.Open(s.topo.LedgerBackend(), s.topo.StateDir(), ledger.WithLogger(s.logger))
	if err != nil {
		return err
	}
	defer led.Close()

	collector := stats.NewCollector()
	events, finish := a.present(s, collector)
	sum, err := migrate.Run(ctx, migrate.Config{
		Topology:  s.topo,
		Ledger:    led,
		Driver:    s.driver(),
		Selection: args,
		Resume:    f.resume || f.worker,
		DryRun:    f.dryRun,
		Fast:      f.fast,
		BWLimit:   int64(f.bwLimit),
		Mounts:    mount.New(s.logger),
		Events:    events,
		Stats:     collector,
		Logger:    s.logger,
	})
	finish()
	if err != nil {
		return err
	}
	s.logger.Info("migration log", "path", s.logPath())
	if code := sum.ExitCode(); code != migrate.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

func newStartCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "start [directory...]",
		Short: "Start the migration as a detached background worker",
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := a.open("")
			if err != nil {
				return err
			}
			defer s.close()

			cfgPath, err := a.absConfigPath()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(s.topo.LogDir(), 0o755); err != nil {
				return fmt.Errorf("create log dir: %w", err)
			}
			workerArgs := append([]string{"run", "--worker", "--config", cfgPath}, f.args()...)
			if a.logJSON {
				workerArgs = append(workerArgs, "--log-json")
			}
			if len(args) > 0 {
				workerArgs = append(append(workerArgs, "--"), args...)
			}
			logPath := filepath.Join(s.topo.LogDir(), runlog.Name(runlog.Worker, time.Now()))

			pid, err := s.supervisor().Start(workerArgs, logPath)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "worker started (pid %d)\nconsole output: %s\n", pid, logPath)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newStopCmd(a *app) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the background worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.open("")
			if err != nil {
				return err
			}
			defer s.close()

			sup := s.supervisor()
			sup.GracePeriod = grace
			res, err := sup.Stop(cmd.Context())
			if errors.Is(err, supervisor.ErrNotRunning) {
				fmt.Fprintln(a.stdout, "no worker running")
				return nil
			}
			if err != nil {
				return err
			}
			how := "stopped"
			if res.Forced {
				how = "killed after grace period"
			}
			fmt.Fprintf(a.stdout, "worker %d %s\n", res.PID, how)
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", supervisor.DefaultGracePeriod, "time to wait for a graceful exit before killing")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the background worker and per-directory progress",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := a.open("")
			if err != nil {
				return err
			}
			defer s.close()

			st, err := s.supervisor().Status()
			if err != nil {
				return err
			}
			switch {
			case st.Running:
				fmt.Fprintf(a.stdout, "worker: running (pid %d)\n", st.PID)
			case st.StaleRemoved:
				fmt.Fprintf(a.stdout, "worker: not running (removed stale pid file for %d)\n", st.PID)
			default:
				fmt.Fprintln(a.stdout, "worker: not running")
			}

			led, err := ledger.Open(s.topo.LedgerBackend(), s.topo.StateDir(), ledger.WithLogger(s.logger))
			if err != nil {
				return err
			}
			defer led.Close()
			records, err := led.Records()
			if err != nil {
				return err
			}
			return writeStatus(a.stdout, s.topo.Mappings(), records, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format (table, csv or markdown)")
	return cmd
}

func newResetCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Forget all recorded progress",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := a.open("")
			if err != nil {
				return err
			}
			defer s.close()

			if !force {
				st, err := s.supervisor().Status()
				if err != nil {
					return err
				}
				if st.Running {
					return fmt.Errorf("%w (pid %d); stop it first or pass --force", supervisor.ErrAlreadyRunning, st.PID)
				}
			}

			led, err := ledger.Open(s.topo.LedgerBackend(), s.topo.StateDir(), ledger.WithLogger(s.logger))
			if err != nil {
				return err
			}
			defer led.Close()
			if err := led.Reset(); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "progress reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reset even while a worker is running")
	return cmd
}
