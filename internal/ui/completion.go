package ui

import (
	"fmt"

	"github.com/bamsammich/ferry/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot.
// Format: done ✓  dirs 12  completed 9  skipped 3  failed 0  time 3h 17m 02s
func CompletionSummary(snap stats.Snapshot) string {
	icon := "✓"
	if snap.DirsFailed > 0 || snap.Discrepancies > 0 || snap.RetryFailed > 0 {
		icon = "✗"
	}

	base := fmt.Sprintf("done %s  dirs %s  completed %s  skipped %s  failed %s",
		icon,
		FormatCount(snap.DirsTotal),
		FormatCount(snap.DirsCompleted),
		FormatCount(snap.DirsSkipped),
		FormatCount(snap.DirsFailed),
	)

	if snap.FilesVerified > 0 || snap.Discrepancies > 0 {
		base += fmt.Sprintf("  verified %s  discrepancies %s",
			FormatCount(snap.FilesVerified), FormatCount(snap.Discrepancies))
	}
	if snap.FilesRetried > 0 || snap.RetryFailed > 0 {
		base += fmt.Sprintf("  retried %s (%s)  retry errors %d",
			FormatCount(snap.FilesRetried), FormatBytes(snap.BytesRetried), snap.RetryFailed)
	}

	base += "  time " + FormatDuration(snap.Elapsed)
	return base
}
