package transfer_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ferry/internal/transfer"
)

// fakeTool writes a shell script that behaves like the transfer tool: it
// echoes its arguments and exits with the code in $FAKE_EXIT.
func fakeTool(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-rsync")
	script := `#!/bin/sh
for a in "$@"; do echo "arg $a"; done
echo "rsync: something went wrong" >&2
exit ${FAKE_EXIT:-0}
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRsyncEngine_PassesPathsWithSlash(t *testing.T) {
	eng := transfer.RsyncEngine{Path: fakeTool(t)}
	var out bytes.Buffer

	code, err := eng.Run(context.Background(), transfer.Invocation{
		Source:      "/src/a",
		Destination: "/dst/a/",
		Args:        []string{"--archive"},
		Output:      &out,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Contains(t, lines, "arg --archive")
	assert.Contains(t, lines, "arg /src/a/")
	assert.Contains(t, lines, "arg /dst/a/")
	assert.Contains(t, lines, "rsync: something went wrong")
}

func TestRsyncEngine_ExitCode(t *testing.T) {
	t.Setenv("FAKE_EXIT", "23")
	eng := transfer.RsyncEngine{Path: fakeTool(t)}

	code, err := eng.Run(context.Background(), transfer.Invocation{
		Source: "/a", Destination: "/b", Output: &bytes.Buffer{},
	})
	require.NoError(t, err)
	assert.Equal(t, 23, code)
}

func TestRsyncEngine_MissingBinary(t *testing.T) {
	eng := transfer.RsyncEngine{Path: filepath.Join(t.TempDir(), "absent")}
	_, err := eng.Run(context.Background(), transfer.Invocation{
		Source: "/a", Destination: "/b", Output: &bytes.Buffer{},
	})
	require.Error(t, err)
}

func TestRsyncEngine_IgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng := transfer.RsyncEngine{Path: fakeTool(t)}
	code, err := eng.Run(ctx, transfer.Invocation{Source: "/a", Destination: "/b", Output: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestInvocation_DryRun(t *testing.T) {
	assert.True(t, transfer.Invocation{Args: []string{"--archive", "--dry-run"}}.DryRun())
	assert.False(t, transfer.Invocation{Args: []string{"--archive"}}.DryRun())
}
