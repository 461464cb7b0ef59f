package recovery

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `sending incremental file list
photos/2019/IMG_0001.jpg
rsync: mkstemp "/mnt/new/photos/2019/.IMG_0002.jpg.Xa81Qz" failed: Permission denied (13)
rsync: mkstemp "/mnt/new/photos/2019/.IMG_0003.jpg.bb71Aq" failed: Permission denied (13)
rsync: mkstemp "/mnt/new/music/live sets/.track 01.flac.0Pq9zz" failed: No space left on device (28)
rsync: mkstemp "/mnt/new/photos/2020
rsync: mkstemp "/mnt/other/docs/.a.txt.123456" failed: Permission denied (13)
time=2024-01-01T00:00:00Z level=DEBUG msg="transfer error line" line="rsync: mkstemp \"/mnt/new/videos/.x.1\" failed"
  rsync: mkstemp "/mnt/new/indented/.x.1" failed
rsync error: some files/attrs were not transferred (see previous errors) (code 23) at main.c(1338) [sender=3.2.7]
`

func TestParseFailures(t *testing.T) {
	got := ParseFailures(sampleLog, "/mnt/new")
	assert.ElementsMatch(t, []string{"photos/2019", "music/live sets"}, got)
}

func TestParseFailures_Deterministic(t *testing.T) {
	first := ParseFailures(sampleLog, "/mnt/new")
	for range 5 {
		assert.ElementsMatch(t, first, ParseFailures(sampleLog, "/mnt/new"))
	}
}

func TestParseFailures_TrailingSlashOnRoot(t *testing.T) {
	assert.ElementsMatch(t,
		ParseFailures(sampleLog, "/mnt/new"),
		ParseFailures(sampleLog, "/mnt/new/"))
}

func TestExtract_Counts(t *testing.T) {
	ex, err := Extract(strings.NewReader(sampleLog), Options{
		DestRoot: "/mnt/new",
		Expected: -1,
		Logger:   slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, ex.Recognized)
	assert.Equal(t, 1, ex.Malformed)
	assert.Equal(t, 2, ex.Paths.Len())
	assert.True(t, ex.Paths.Contains("photos/2019"))
	assert.False(t, ex.Paths.Contains("photos/2020"))
}

func TestExtract_WarnsOnExpectedMismatch(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	_, err := Extract(strings.NewReader(sampleLog), Options{DestRoot: "/mnt/new", Expected: 10, Logger: logger})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "differ from expected")

	buf.Reset()
	_, err = Extract(strings.NewReader(sampleLog), Options{DestRoot: "/mnt/new", Expected: 3, Logger: logger})
	require.NoError(t, err)
	assert.NotContains(t, buf.String(), "differ from expected")
}

func TestExtract_TopLevelTempFileIsMalformed(t *testing.T) {
	line := `rsync: mkstemp "/mnt/new/.file.txt.abc" failed: Permission denied (13)` + "\n"
	ex, err := Extract(strings.NewReader(line), Options{DestRoot: "/mnt/new", Expected: -1})
	require.NoError(t, err)
	assert.Zero(t, ex.Paths.Len())
	assert.Equal(t, 1, ex.Malformed)
}

func TestPathSet(t *testing.T) {
	var s PathSet
	assert.True(t, s.Add("b"))
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("b"))
	assert.Equal(t, []string{"b", "a"}, s.Slice())
}

func TestWriteReadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", ListFileName)
	require.NoError(t, WriteList(path, []string{"photos/2019", "music/live sets"}))

	got, err := ReadList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"photos/2019", "music/live sets"}, got)

	require.NoError(t, WriteList(path, []string{"docs"}))
	got, err = ReadList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, got, "list is replaced, never merged")
}

func TestReadList_Missing(t *testing.T) {
	_, err := ReadList(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}
