package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"

	"github.com/bamsammich/ferry/internal/event"
	"github.com/bamsammich/ferry/internal/stats"
)

// plainPresenter prints one line per directory-level event.
type plainPresenter struct {
	w     io.Writer
	stats stats.Reader
	color bool
}

func (p *plainPresenter) Run(events <-chan Event) error {
	for ev := range events {
		p.handleEvent(ev)
	}
	return nil
}

func (p *plainPresenter) paint(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *plainPresenter) position(ev Event) string {
	if ev.Total == 0 {
		return ""
	}
	return p.paint(styleCounter, fmt.Sprintf("[%d/%d] ", ev.Index, ev.Total))
}

func (p *plainPresenter) handleEvent(ev Event) {
	pos := p.position(ev)
	name := p.paint(styleName, ev.Name)

	switch ev.Type {
	case event.RunStarted:
		fmt.Fprintln(p.w, p.paint(styleHeader, fmt.Sprintf("%s %d directories", ev.Detail, ev.Total)))
	case event.DirStarted:
		fmt.Fprintf(p.w, "%s%s  %s -> %s\n", pos, name, ev.Path, ev.Detail)
	case event.DirCompleted:
		fmt.Fprintf(p.w, "%s%s  %s  %s\n", pos, name, p.paint(styleOK, "✓ done"), FormatDuration(ev.Duration))
	case event.DirSkipped:
		fmt.Fprintf(p.w, "%s%s  %s\n", pos, name, p.paint(styleSkipped, "skipped ("+ev.Detail+")"))
	case event.DirFailed:
		fmt.Fprintf(p.w, "%s%s  %s  %s\n", pos, name, p.paint(styleFailed, "✗ failed"), failure(ev))
	case event.RunInterrupted:
		fmt.Fprintln(p.w, p.paint(styleWarn,
			fmt.Sprintf("interrupted: %d directories not started; rerun with --resume to continue", ev.Count)))
	case event.VerifyStarted:
		fmt.Fprintf(p.w, "%sverifying %s\n", pos, name)
	case event.VerifyOK:
		fmt.Fprintf(p.w, "%s%s  %s\n", pos, name, p.paint(styleOK, "✓ verified"))
	case event.VerifyFailed:
		fmt.Fprintf(p.w, "%s%s  %s\n", pos, name,
			p.paint(styleFailed, fmt.Sprintf("✗ %d discrepancies", ev.Count)))
	case event.Discrepancy:
		fmt.Fprintf(p.w, "    %s %s\n", p.paint(styleMuted, ev.Path+":"), ev.Detail)
	case event.RetryStarted:
		fmt.Fprintf(p.w, "%sretrying %s\n", pos, ev.Path)
	case event.RetryCopied:
		fmt.Fprintf(p.w, "%s%s  %s\n", pos, ev.Path, p.paint(styleOK, fmt.Sprintf("copied %d", ev.Count)))
	case event.RetrySkipped:
		fmt.Fprintf(p.w, "%s%s  %s\n", pos, ev.Path, p.paint(styleSkipped, "skipped ("+ev.Detail+")"))
	case event.RetryFailed:
		fmt.Fprintf(p.w, "%s%s  %s  %s\n", pos, ev.Path, p.paint(styleFailed, "✗ failed"), failure(ev))
	}
}

func failure(ev Event) string {
	switch {
	case ev.Error != nil:
		return ev.Error.Error()
	case ev.Detail != "":
		return fmt.Sprintf("exit %d (%s)", ev.ExitStatus, ev.Detail)
	default:
		return fmt.Sprintf("exit %d", ev.ExitStatus)
	}
}

func (p *plainPresenter) Summary() string {
	if p.stats == nil {
		return ""
	}
	return CompletionSummary(p.stats.Snapshot())
}
