package ledger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock(t *testing.T, ts time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = prev })
}

// backends runs fn against every ledger implementation.
func backends(t *testing.T, fn func(t *testing.T, open func() Ledger)) {
	for _, backend := range []string{BackendFile, BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			dir := t.TempDir()
			fn(t, func() Ledger {
				l, err := Open(backend, dir)
				require.NoError(t, err)
				t.Cleanup(func() { l.Close() })
				return l
			})
		})
	}
}

func TestLedger_MarkAndCheck(t *testing.T) {
	backends(t, func(t *testing.T, open func() Ledger) {
		l := open()
		id := DirID("/mnt/old/Photos")

		assert.False(t, l.IsCompleted(id))

		require.NoError(t, l.MarkInProgress(id, "/mnt/old/Photos"))
		assert.False(t, l.IsCompleted(id))

		require.NoError(t, l.MarkCompleted(id, "/mnt/old/Photos"))
		assert.True(t, l.IsCompleted(id))

		// Idempotent.
		require.NoError(t, l.MarkCompleted(id, "/mnt/old/Photos"))
		assert.True(t, l.IsCompleted(id))

		assert.False(t, l.IsCompleted(DirID("/mnt/old/Videos")))
	})
}

func TestLedger_OneRecordPerID(t *testing.T) {
	backends(t, func(t *testing.T, open func() Ledger) {
		l := open()
		id := DirID("/mnt/old/Photos")

		require.NoError(t, l.MarkCompleted(id, "/mnt/old/Photos"))
		require.NoError(t, l.MarkInProgress(id, "/mnt/old/Photos"))

		recs, err := l.Records()
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, InProgress, recs[id].State)
		assert.False(t, l.IsCompleted(id))
	})
}

func TestLedger_Reset(t *testing.T) {
	backends(t, func(t *testing.T, open func() Ledger) {
		l := open()
		require.NoError(t, l.MarkCompleted(DirID("/a"), "/a"))
		require.NoError(t, l.MarkInProgress(DirID("/b"), "/b"))

		require.NoError(t, l.Reset())
		recs, err := l.Records()
		require.NoError(t, err)
		assert.Empty(t, recs)
		assert.False(t, l.IsCompleted(DirID("/a")))
	})
}

func TestLedger_PersistsAcrossOpen(t *testing.T) {
	backends(t, func(t *testing.T, open func() Ledger) {
		ts := time.Unix(1_700_000_000, 0)
		fixedClock(t, ts)

		l := open()
		require.NoError(t, l.MarkCompleted(DirID("/a"), "/a"))
		require.NoError(t, l.MarkInProgress(DirID("/b"), "/b"))
		require.NoError(t, l.Close())

		l = open()
		assert.True(t, l.IsCompleted(DirID("/a")))
		assert.False(t, l.IsCompleted(DirID("/b")))

		recs, err := l.Records()
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "/b", recs[DirID("/b")].OriginalPath)
		assert.Equal(t, ts.Unix(), recs[DirID("/b")].Updated.Unix())
	})
}

func TestDirID(t *testing.T) {
	a := DirID("/mnt/old/2019/Photos")
	b := DirID("/mnt/old/2020/Photos")

	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b, "same short name in different parents must differ")
	assert.Equal(t, a, DirID("/mnt/old/2019/Photos/"), "trailing slash is normalized")
	assert.Equal(t, a, DirID("/mnt/old/2019/./Photos"))
}

func TestFileStore_LineFormat(t *testing.T) {
	fixedClock(t, time.Unix(1_700_000_000, 0))
	dir := t.TempDir()

	s, err := OpenFile(filepath.Join(dir, "progress.ledger"))
	require.NoError(t, err)
	require.NoError(t, s.MarkInProgress("abc", "/mnt/old/a:b"))
	require.NoError(t, s.MarkInProgress("def", "/mnt/old/def"))
	require.NoError(t, s.MarkCompleted("abc", "/mnt/old/a:b"))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t,
		"def:in_progress:1700000000:/mnt/old/def\nabc:completed:1700000000:/mnt/old/a:b\n",
		string(data),
	)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileStore_CompactsOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.ledger")
	content := strings.Join([]string{
		"abc:in_progress:100:/x",
		"garbage line",
		"def:completed:100",
		"abc:completed:200:/x",
		"ghi:unknown_state:100:/y",
		"jkl:completed:notanumber:/z",
		"",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := OpenFile(path)
	require.NoError(t, err)

	recs, err := s.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, Completed, recs["abc"].State)
	assert.Equal(t, int64(200), recs["abc"].Updated.Unix())
	assert.Empty(t, recs["def"].OriginalPath)

	// The next write persists the compacted form.
	require.NoError(t, s.MarkInProgress("mno", "/m"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))
	assert.NotContains(t, string(data), "garbage")
}

func TestFileStore_MalformedLinesUseInjectedLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.ledger")
	require.NoError(t, os.WriteFile(path, []byte("abc:completed:100:/x\ngarbage line\n"), 0o644))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s, err := OpenFile(path, WithLogger(logger))
	require.NoError(t, err)

	assert.True(t, s.IsCompleted("abc"))
	assert.Contains(t, buf.String(), "skipping malformed ledger line")
	assert.Contains(t, buf.String(), "line=2")
}

func TestSQLiteStore_LookupErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "progress.db"), WithLogger(logger))
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted("abc", "/x"))

	// A missing row is an ordinary answer.
	assert.False(t, s.IsCompleted("missing"))
	assert.Empty(t, buf.String())

	require.NoError(t, s.Close())
	assert.False(t, s.IsCompleted("abc"))
	assert.Contains(t, buf.String(), "ledger lookup failed")
	assert.Contains(t, buf.String(), "id=abc")
}

func TestFileStore_ResetWithoutFile(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "sub", "progress.ledger"))
	require.NoError(t, err)
	require.NoError(t, s.Reset())
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, err := Open("etcd", t.TempDir())
	assert.Error(t, err)
}
