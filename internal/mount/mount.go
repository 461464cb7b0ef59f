// Package mount wraps mount(8) and umount(8) for the endpoint shares.
package mount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bamsammich/ferry/internal/config"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// Target is one share to mount.
type Target struct {
	Endpoint        string
	Address         string
	Share           string
	MountRoot       string
	CredentialsFile string
	Options         string
}

// Source returns the UNC-style device string.
func (t Target) Source() string {
	return "//" + t.Address + "/" + strings.TrimPrefix(t.Share, "/")
}

// Targets lists the main and auxiliary shares of every networked endpoint.
func Targets(topo *config.Topology) []Target {
	var out []Target
	for _, ep := range []config.Endpoint{topo.Source(), topo.Destination()} {
		if !ep.Networked() {
			continue
		}
		base := Target{
			Endpoint:        ep.Name,
			Address:         ep.Address,
			CredentialsFile: ep.CredentialsFile,
			Options:         ep.MountOptions,
		}
		main := base
		main.Share, main.MountRoot = ep.Share, ep.MountRoot
		out = append(out, main)
		for _, aux := range ep.AuxShares {
			t := base
			t.Share, t.MountRoot = aux.Share, aux.MountRoot
			out = append(out, t)
		}
	}
	return out
}

// Mounter mounts and unmounts CIFS shares.
type Mounter struct {
	Run    Runner
	FSType string
	Logger *slog.Logger
}

// New returns a Mounter using the real mount utilities.
func New(logger *slog.Logger) *Mounter {
	return &Mounter{Run: ExecRunner, FSType: "cifs", Logger: logger}
}

// Args returns the mount(8) arguments for t.
func (m *Mounter) Args(t Target) []string {
	fsType := m.FSType
	if fsType == "" {
		fsType = "cifs"
	}
	args := []string{"-t", fsType, t.Source(), t.MountRoot}
	var opts []string
	if t.CredentialsFile != "" {
		opts = append(opts, "credentials="+t.CredentialsFile)
	}
	if t.Options != "" {
		opts = append(opts, t.Options)
	}
	if len(opts) > 0 {
		args = append(args, "-o", strings.Join(opts, ","))
	}
	return args
}

// Mount mounts t unless it is already mounted. It returns false when nothing
// had to be done.
func (m *Mounter) Mount(ctx context.Context, t Target) (bool, error) {
	mounted, err := m.IsMounted(t.MountRoot)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if mounted {
		m.logger().Info("already mounted", "target", t.MountRoot)
		return false, nil
	}
	if err := os.MkdirAll(t.MountRoot, 0o755); err != nil {
		return false, fmt.Errorf("create mount point: %w", err)
	}
	if out, err := m.Run(ctx, "mount", m.Args(t)...); err != nil {
		return false, fmt.Errorf("mount %s on %s: %w: %s", t.Source(), t.MountRoot, err, strings.TrimSpace(string(out)))
	}
	m.logger().Info("mounted", "source", t.Source(), "target", t.MountRoot)
	return true, nil
}

// Unmount unmounts t when it is mounted.
func (m *Mounter) Unmount(ctx context.Context, t Target) (bool, error) {
	mounted, err := m.IsMounted(t.MountRoot)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !mounted) {
		m.logger().Info("not mounted", "target", t.MountRoot)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out, err := m.Run(ctx, "umount", t.MountRoot); err != nil {
		return false, fmt.Errorf("umount %s: %w: %s", t.MountRoot, err, strings.TrimSpace(string(out)))
	}
	m.logger().Info("unmounted", "target", t.MountRoot)
	return true, nil
}

// IsMounted reports whether path is a mountpoint: its device differs from
// its parent's, or it is the filesystem root.
func (m *Mounter) IsMounted(path string) (bool, error) {
	return IsMountpoint(path)
}

// IsMountpoint reports whether path is a mountpoint.
func IsMountpoint(path string) (bool, error) {
	path = filepath.Clean(path)
	var st, parent unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, os.ErrNotExist
		}
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	if path == "/" {
		return true, nil
	}
	if err := unix.Stat(filepath.Dir(path), &parent); err != nil {
		return false, fmt.Errorf("stat %s: %w", filepath.Dir(path), err)
	}
	return st.Dev != parent.Dev || st.Ino == parent.Ino, nil
}

func (m *Mounter) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}
