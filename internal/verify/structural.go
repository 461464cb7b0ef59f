package verify

import (
	"context"
	"fmt"
	"regexp"

	"github.com/bamsammich/ferry/internal/transfer"
)

// itemizedLine matches the transfer tool's itemized-change output:
// an update type, a file type, nine attribute flags, a space and the path.
var itemizedLine = regexp.MustCompile(`^([<>ch.*])([fdLDS])[.+?a-zA-Z]{9} (.+)$`)

type itemized struct {
	update   byte
	fileType byte
	path     string
}

func parseItemized(line string) (itemized, bool) {
	m := itemizedLine.FindStringSubmatch(line)
	if m == nil {
		return itemized{}, false
	}
	return itemized{update: m[1][0], fileType: m[2][0], path: m[3]}, true
}

// isDiscrepancy reports whether an itemized line means the destination
// would change: a transfer in either direction, a local change, a hard link
// or a deletion. Attribute-only lines ('.') are not discrepancies.
func isDiscrepancy(line string) bool {
	it, ok := parseItemized(line)
	if !ok {
		return false
	}
	switch it.update {
	case '<', '>', 'c', 'h', '*':
		return true
	default:
		return false
	}
}

// structuralPass runs the tool in dry-run itemized mode and records every
// line that indicates a pending transfer or content change.
func (v *Verifier) structuralPass(ctx context.Context, rep *Report) {
	w, flush := transfer.NewLineWriter(func(line string) {
		if isDiscrepancy(line) {
			rep.RsyncDiffs = append(rep.RsyncDiffs, line)
		}
	})
	res := v.Driver.Transfer(ctx, rep.Source, rep.Destination, transfer.Options{
		DryRun:  true,
		Itemize: true,
		Output:  w,
	})
	flush()

	switch {
	case res.Err != nil:
		rep.RsyncErr = res.Err
	case res.ExitStatus != 0:
		rep.RsyncErr = fmt.Errorf("dry run exited with status %d (%s)",
			res.ExitStatus, transfer.ExitMeaning(res.ExitStatus))
	}
}
