package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ferry/internal/config"
	"github.com/bamsammich/ferry/internal/ledger"
	"github.com/bamsammich/ferry/internal/runlog"
)

type fixture struct {
	root    string
	old     string
	new     string
	logDir  string
	cfgPath string
}

// newFixture writes a configuration with two mappings (photos, music) whose
// transfer tool is a shell script exiting with rsyncExit.
func newFixture(t *testing.T, rsyncExit int) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:   root,
		old:    filepath.Join(root, "old"),
		new:    filepath.Join(root, "new"),
		logDir: filepath.Join(root, "logs"),
	}
	for _, name := range []string{"photos", "music"} {
		dir := filepath.Join(f.old, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dat"), []byte("alpha "+name), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dat"), []byte("bravo "+name), 0o644))
	}

	script := filepath.Join(root, "rsync")
	body := "#!/bin/sh\nexit " + strconv.Itoa(rsyncExit) + "\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755)) //nolint:gosec // test executable

	cfg := config.File{
		Source:      config.EndpointFile{Name: "old", MountRoot: f.old},
		Destination: config.EndpointFile{Name: "new", MountRoot: f.new},
		LogDir:      f.logDir,
		RsyncPath:   script,
		Mappings: []config.MappingFile{
			{Source: filepath.Join(f.old, "photos"), Destination: filepath.Join(f.new, "photos")},
			{Source: filepath.Join(f.old, "music"), Destination: filepath.Join(f.new, "music")},
		},
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	f.cfgPath = filepath.Join(root, "ferry.json")
	require.NoError(t, os.WriteFile(f.cfgPath, data, 0o644))
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{args[0], "--config", f.cfgPath, "--quiet"}, args[1:]...)
	code := run(context.Background(), full, &out, &errOut)
	return code, out.String() + errOut.String()
}

func TestSizeValue(t *testing.T) {
	var v sizeValue
	require.NoError(t, v.Set("50M"))
	assert.Equal(t, sizeValue(50*1024*1024), v)
	assert.Equal(t, "size", v.Type())
	assert.Error(t, v.Set("fast"))
}

func TestRunFlagsArgs(t *testing.T) {
	f := runFlags{resume: true, fast: true, bwLimit: 2048}
	assert.Equal(t, []string{"--resume", "--fast", "--bwlimit", "2048"}, f.args())
}

func TestRun_MigrateThenResume(t *testing.T) {
	f := newFixture(t, 0)

	code, out := f.run(t, "run")
	require.Equal(t, 0, code, out)
	assert.DirExists(t, filepath.Join(f.new, "photos"))
	assert.NoFileExists(t, filepath.Join(f.logDir, "worker.pid"), "pid file released")

	log, err := runlog.Latest(f.logDir, runlog.Migrate)
	require.NoError(t, err)
	data, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.Contains(t, string(data), "run finished")

	code, out = f.run(t, "status")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "2/2 directories completed")

	code, out = f.run(t, "run", "--resume", "music")
	require.Equal(t, 0, code, out)
}

func TestRun_WorkerAlwaysResumes(t *testing.T) {
	f := newFixture(t, 0)
	code, out := f.run(t, "run")
	require.Equal(t, 0, code, out)

	code, out = f.run(t, "run", "--worker")
	require.Equal(t, 0, code, out)

	log, err := runlog.Latest(f.logDir, runlog.Migrate)
	require.NoError(t, err)
	data, err := os.ReadFile(log)
	require.NoError(t, err)
	assert.Contains(t, string(data), "resume=true")
	assert.Contains(t, string(data), "already completed, skipping")
	assert.Contains(t, string(data), "skipped=2")
}

func TestRun_FailedTransferExitsOne(t *testing.T) {
	f := newFixture(t, 23)

	code, _ := f.run(t, "run")
	assert.Equal(t, 1, code)

	code, out := f.run(t, "status")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "in_progress")
	assert.Contains(t, out, "0/2 directories completed")
}

func TestRun_FatalErrors(t *testing.T) {
	f := newFixture(t, 0)

	code, out := f.run(t, "run", "videos")
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "photos")

	code, _ = f.run(t, "verify", "--summary-only", "--sample-only")
	assert.Equal(t, 2, code)

	var buf bytes.Buffer
	code = run(context.Background(), []string{"status", "--config", filepath.Join(f.root, "absent.json")}, &buf, &buf)
	assert.Equal(t, 2, code)
}

func TestRun_RefusesWhileWorkerRunning(t *testing.T) {
	f := newFixture(t, 0)
	// The test binary's parent is alive and is not us.
	require.NoError(t, os.MkdirAll(f.logDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.logDir, "worker.pid"), []byte(strconv.Itoa(os.Getppid())), 0o644))

	code, out := f.run(t, "run")
	assert.Equal(t, 2, code)
	assert.Contains(t, out, "already running")
}

func TestReset(t *testing.T) {
	f := newFixture(t, 0)
	code, _ := f.run(t, "run")
	require.Equal(t, 0, code)

	code, out := f.run(t, "reset")
	require.Equal(t, 0, code, out)

	_, out = f.run(t, "status")
	assert.Contains(t, out, "0/2 directories completed")
}

func TestExtractAndRecover(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, os.MkdirAll(f.logDir, 0o755))
	logPath := filepath.Join(f.logDir, runlog.Name(runlog.Migrate, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	logText := "sending incremental file list\n" +
		`rsync: mkstemp "` + f.new + `/photos/.a.dat.Xa81Qz" failed: Permission denied (13)` + "\n" +
		`rsync: mkstemp "` + f.new + `/photos/.b.dat.0Pq9zz" failed: Permission denied (13)` + "\n"
	require.NoError(t, os.WriteFile(logPath, []byte(logText), 0o644))

	code, out := f.run(t, "extract")
	require.Equal(t, 0, code, out)
	assert.Contains(t, out, "photos\n")
	assert.FileExists(t, filepath.Join(f.logDir, "errored-dirs.txt"))

	code, out = f.run(t, "recover", "--seed", "1")
	require.Equal(t, 0, code, out)
	got, err := os.ReadFile(filepath.Join(f.new, "photos", "b.dat"))
	require.NoError(t, err)
	assert.Equal(t, "bravo photos", string(got))
	assert.NoDirExists(t, filepath.Join(f.new, "music"), "unaffected mappings are left alone")

	recLog, err := runlog.Latest(f.logDir, runlog.Recover)
	require.NoError(t, err)
	data, err := os.ReadFile(recLog)
	require.NoError(t, err)
	assert.Contains(t, string(data), "===== photos:")
	assert.Contains(t, string(data), "===== checksum (blake3): 2 files, 0 mismatches =====")
}

func TestVerify_ReportsDiscrepancies(t *testing.T) {
	f := newFixture(t, 0)
	require.NoError(t, os.MkdirAll(filepath.Join(f.new, "photos"), 0o755))

	code, out := f.run(t, "verify", "photos", "--sample-only")
	assert.Equal(t, 1, code, out)
}

func TestWriteStatus(t *testing.T) {
	mappings := []config.Mapping{
		{Source: "/mnt/old/photos", Destination: "/mnt/new/photos"},
		{Name: "tunes", Source: "/mnt/old/music", Destination: "/mnt/new/music"},
	}
	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	records := map[string]ledger.Record{
		ledger.DirID("/mnt/old/photos"): {
			ID: ledger.DirID("/mnt/old/photos"), State: ledger.Completed, Updated: when, OriginalPath: "/mnt/old/photos",
		},
		"deadbeefdeadbeef": {ID: "deadbeefdeadbeef", State: ledger.InProgress, Updated: when, OriginalPath: "/mnt/old/gone"},
	}

	var buf bytes.Buffer
	require.NoError(t, writeStatus(&buf, mappings, records, "csv"))
	out := buf.String()
	assert.Contains(t, out, "1,photos,completed,2024-05-01 10:00:00")
	assert.Contains(t, out, "2,tunes,not started,")
	assert.Contains(t, out, "1/2 directories completed")
	assert.Contains(t, out, "1 records not matching any configured mapping")
	assert.Contains(t, out, "deadbeefdeadbeef,in_progress,2024-05-01 10:00:00,/mnt/old/gone")

	buf.Reset()
	require.NoError(t, writeStatus(&buf, mappings, records, "table"))
	assert.Contains(t, buf.String(), "photos")
	assert.Contains(t, buf.String(), "not started")

	assert.Error(t, writeStatus(&buf, mappings, records, "yaml"))
}

func TestAffectedMappings(t *testing.T) {
	topo, err := config.Build(config.File{
		Source:      config.EndpointFile{MountRoot: "/mnt/old"},
		Destination: config.EndpointFile{MountRoot: "/mnt/new"},
		LogDir:      "/var/log/ferry",
		Mappings: []config.MappingFile{
			{Source: "/mnt/old/a", Destination: "/mnt/new/a"},
			{Source: "/mnt/old/b", Destination: "/mnt/new/b"},
			{Source: "/mnt/old/c", Destination: "/mnt/new/c"},
		},
	})
	require.NoError(t, err)

	got := affectedMappings(topo, []string{"c/x", "a", "c/y/z", "elsewhere"})
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].DisplayName())
	assert.Equal(t, "c", got[1].DisplayName())
}
