package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bamsammich/ferry/internal/mount"
)

func newMountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "mount",
		Short: "Mount the network shares of both endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.eachShare(cmd.Context(), "mounted", (*mount.Mounter).Mount)
		},
	}
}

func newUnmountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unmount",
		Short: "Unmount the network shares of both endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.eachShare(cmd.Context(), "unmounted", (*mount.Mounter).Unmount)
		},
	}
}

// eachShare applies op to every networked share, continuing past failures.
func (a *app) eachShare(
	ctx context.Context,
	verb string,
	op func(*mount.Mounter, context.Context, mount.Target) (bool, error),
) error {
	s, err := a.open("")
	if err != nil {
		return err
	}
	defer s.close()

	targets := mount.Targets(s.topo)
	if len(targets) == 0 {
		fmt.Fprintln(a.stdout, "no network shares configured")
		return nil
	}
	m := mount.New(s.logger)
	var failed int
	for _, t := range targets {
		did, err := op(m, ctx, t)
		switch {
		case err != nil:
			failed++
			s.logger.Error("share failed", "endpoint", t.Endpoint, "share", t.Source(), "error", err)
		case did:
			fmt.Fprintf(a.stdout, "%s %s at %s\n", verb, t.Source(), t.MountRoot)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d shares failed", failed, len(targets))
	}
	return nil
}
