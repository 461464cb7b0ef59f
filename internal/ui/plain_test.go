package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/stats"
)

func runPlain(t *testing.T, evs ...Event) string {
	t.Helper()
	var out bytes.Buffer
	p := &plainPresenter{w: &out, stats: stats.NewCollector()}

	events := make(chan Event, len(evs))
	for _, ev := range evs {
		events <- ev
	}
	close(events)

	require.NoError(t, p.Run(events))
	return out.String()
}

func TestPlainPresenterDirLifecycle(t *testing.T) {
	out := runPlain(t,
		Event{Type: event.RunStarted, Detail: "migrating", Total: 2},
		Event{Type: event.DirStarted, Name: "photos", Path: "/mnt/old/photos", Detail: "/mnt/new/photos", Index: 1, Total: 2},
		Event{Type: event.DirCompleted, Name: "photos", Index: 1, Total: 2, Duration: 90 * time.Second},
		Event{Type: event.DirSkipped, Name: "music", Detail: "completed", Index: 2, Total: 2},
	)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "migrating 2 directories", lines[0])
	assert.Equal(t, "[1/2] photos  /mnt/old/photos -> /mnt/new/photos", lines[1])
	assert.Equal(t, "[1/2] photos  ✓ done  1m 30s", lines[2])
	assert.Equal(t, "[2/2] music  skipped (completed)", lines[3])
}

func TestPlainPresenterColorKeepsText(t *testing.T) {
	var out bytes.Buffer
	p := &plainPresenter{w: &out, stats: stats.NewCollector(), color: true}
	p.handleEvent(Event{Type: event.DirCompleted, Name: "photos", Index: 1, Total: 1, Duration: time.Second})

	assert.Contains(t, out.String(), "photos")
	assert.Contains(t, out.String(), "✓ done")
}

func TestPlainPresenterDirFailed(t *testing.T) {
	out := runPlain(t,
		Event{Type: event.DirFailed, Name: "docs", ExitStatus: 23, Detail: "partial transfer due to error", Index: 1, Total: 1},
		Event{Type: event.DirFailed, Name: "gone", Error: assert.AnError, Index: 1, Total: 1},
	)
	assert.Contains(t, out, "docs  ✗ failed  exit 23 (partial transfer due to error)")
	assert.Contains(t, out, assert.AnError.Error())
}

func TestPlainPresenterInterrupted(t *testing.T) {
	out := runPlain(t, Event{Type: event.RunInterrupted, Count: 2})
	assert.Contains(t, out, "interrupted: 2 directories not started")
	assert.Contains(t, out, "--resume")
}

func TestPlainPresenterVerify(t *testing.T) {
	out := runPlain(t,
		Event{Type: event.VerifyStarted, Name: "photos"},
		Event{Type: event.Discrepancy, Path: "rsync", Detail: ">f+++++++++ a.jpg"},
		Event{Type: event.VerifyFailed, Name: "photos", Count: 1},
		Event{Type: event.VerifyOK, Name: "music"},
	)
	assert.Contains(t, out, "verifying photos")
	assert.Contains(t, out, "rsync: >f+++++++++ a.jpg")
	assert.Contains(t, out, "photos  ✗ 1 discrepancies")
	assert.Contains(t, out, "music  ✓ verified")
}

func TestPlainPresenterRetry(t *testing.T) {
	out := runPlain(t,
		Event{Type: event.RetryStarted, Path: "photos/2019"},
		Event{Type: event.RetryCopied, Path: "photos/2019", Count: 3},
		Event{Type: event.RetrySkipped, Path: "photos/2020", Detail: "source missing"},
	)
	assert.Contains(t, out, "retrying photos/2019")
	assert.Contains(t, out, "photos/2019  copied 3")
	assert.Contains(t, out, "photos/2020  skipped (source missing)")
}

func TestPlainPresenterSummary(t *testing.T) {
	collector := stats.NewCollector()
	collector.SetDirsTotal(3)
	collector.AddDirsCompleted(2)
	collector.AddDirsSkipped(1)

	p := &plainPresenter{stats: collector}
	s := p.Summary()
	assert.Contains(t, s, "done ✓")
	assert.Contains(t, s, "dirs 3")
	assert.Contains(t, s, "completed 2")
	assert.Contains(t, s, "failed 0")
}

func TestCompletionSummaryFailure(t *testing.T) {
	s := CompletionSummary(stats.Snapshot{DirsTotal: 2, DirsFailed: 1, FilesVerified: 10, Discrepancies: 2})
	assert.Contains(t, s, "done ✗")
	assert.Contains(t, s, "discrepancies 2")
}

func TestNewPresenterQuiet(t *testing.T) {
	var out bytes.Buffer
	p := NewPresenter(Config{Writer: &out, Quiet: true, Stats: stats.NewCollector()})

	events := make(chan Event, 1)
	events <- Event{Type: event.DirCompleted, Name: "x"}
	close(events)
	require.NoError(t, p.Run(events))
	assert.Empty(t, out.String())
	assert.Empty(t, p.Summary())
}
