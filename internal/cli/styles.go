// Package cli renders command output for the terminal.
package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/maauso/samplepacker/internal/batch"
	"github.com/maauso/samplepacker/internal/cache"
	"github.com/maauso/samplepacker/internal/job"
	"github.com/maauso/samplepacker/internal/merge"
	"github.com/maauso/samplepacker/internal/segment"
)

// Color palette
var (
	primaryColor = lipgloss.Color("#D75F00")
	okColor      = lipgloss.Color("#00AA00")
	warnColor    = lipgloss.Color("#FFA500")
	failColor    = lipgloss.Color("#A40000")
	mutedColor   = lipgloss.Color("#888888")
)

// Styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			MarginBottom(1)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(failColor)

	KeyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Bold(true)

	statusStyles = map[job.Status]lipgloss.Style{
		job.StatusCompleted: lipgloss.NewStyle().Foreground(okColor),
		job.StatusSkipped:   lipgloss.NewStyle().Foreground(mutedColor),
		job.StatusFailed:    lipgloss.NewStyle().Foreground(failColor).Bold(true),
		job.StatusCancelled: lipgloss.NewStyle().Foreground(warnColor),
	}
)

// PrintError prints an error message.
func PrintError(w io.Writer, message string) {
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("Error:"), message)
}

func printKV(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "%s %s\n", KeyStyle.Render(key), ValueStyle.Render(fmt.Sprint(value)))
}

// PrintSummary prints one line per file followed by the run totals.
func PrintSummary(w io.Writer, s *batch.Summary) {
	fmt.Fprintln(w, TitleStyle.Render("Run "+s.RunID))

	for _, f := range s.Files {
		status := statusStyles[f.Status].Render(fmt.Sprintf("%-9s", f.Status))
		line := fmt.Sprintf("%s %s  %d segments", status, filepath.Base(f.Path), f.Segments)
		if f.Status == job.StatusFailed {
			line += "  " + ErrorStyle.Render(f.Stage+": "+f.Error)
		}
		fmt.Fprintln(w, line)
	}
	if len(s.Files) > 0 {
		fmt.Fprintln(w)
	}

	printKV(w, "Completed:", s.Counts.Completed)
	printKV(w, "Skipped:", s.Counts.Skipped)
	printKV(w, "Failed:", s.Counts.Failed)
	if s.Counts.Cancelled > 0 {
		printKV(w, "Cancelled:", s.Counts.Cancelled)
	}
	printKV(w, "Segments:", s.TotalSegments())
	printKV(w, "Elapsed:", s.Duration.Round(time.Millisecond))
	if s.Cancelled {
		fmt.Fprintln(w, statusStyles[job.StatusCancelled].Render("Run cancelled; unfinished files have no output."))
	}
}

// PrintSegments prints a segment table.
func PrintSegments(w io.Writer, segs []segment.Segment) {
	header := lipgloss.NewStyle().Bold(true).Foreground(mutedColor)
	fmt.Fprintln(w, header.Render(fmt.Sprintf("%4s  %10s  %10s  %8s  %-12s  %6s", "id", "start", "end", "length", "detector", "score")))
	for i, s := range segs {
		fmt.Fprintf(w, "%4d  %10.3f  %10.3f  %8.3f  %-12s  %6.3f\n",
			i, s.Start, s.End, s.Duration(), s.PrimaryDetector(), s.Score)
	}
}

// PrintMergeStats prints how many candidates each merge step removed.
func PrintMergeStats(w io.Writer, st merge.Stats) {
	parts := []string{
		fmt.Sprintf("%d candidates", st.Candidates),
		fmt.Sprintf("%d invalid", st.Invalid),
		fmt.Sprintf("%d merged", st.Merged),
		fmt.Sprintf("%d too short", st.TooShort),
		fmt.Sprintf("%d truncated", st.Truncated),
		fmt.Sprintf("%d duplicates", st.Duplicates),
		fmt.Sprintf("%d capped", st.Capped),
	}
	printKV(w, "Merge:", strings.Join(parts, ", "))
	printKV(w, "Final:", st.Final)
}

// PrintPruneStats prints one cache prune pass.
func PrintPruneStats(w io.Writer, st cache.PruneStats) {
	printKV(w, "Expired:", st.Expired)
	printKV(w, "Evicted:", st.Evicted)
	if st.Dropped > 0 {
		printKV(w, "Dropped:", st.Dropped)
	}
	if st.Skipped > 0 {
		printKV(w, "In use:", st.Skipped)
	}
	printKV(w, "Freed:", formatBytes(st.FreedBytes))
	printKV(w, "Remaining:", fmt.Sprintf("%d entries, %s", st.Remaining, formatBytes(st.TotalBytes)))
}

// PrintCacheStats prints the cache location, size and counters.
func PrintCacheStats(w io.Writer, dir string, st cache.Stats) {
	printKV(w, "Directory:", dir)
	printKV(w, "Entries:", st.Entries)
	printKV(w, "Size:", formatBytes(st.Bytes))
	printKV(w, "Hits:", st.Hits)
	printKV(w, "Misses:", st.Misses)
	printKV(w, "Decodes:", st.Computations)
	if st.Corruptions > 0 {
		printKV(w, "Corrupt:", st.Corruptions)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
