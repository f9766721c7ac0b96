// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/cascade/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintRecording outputs a human-readable status summary of a recording.
func (p *Printer) PrintRecording(rec *types.Recording) {
	if rec == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ID:       %s\n", rec.ID))
	sb.WriteString(fmt.Sprintf("Status:   %s\n", rec.Status))
	if rec.Name != "" {
		sb.WriteString(fmt.Sprintf("Name:     %s\n", rec.Name))
	}
	if rec.DurationSec > 0 {
		sb.WriteString(fmt.Sprintf("Duration: %s\n", formatDuration(rec.DurationSec)))
	}
	if len(rec.CompletedStages) > 0 {
		sb.WriteString(fmt.Sprintf("Done:     %s\n", strings.Join(rec.CompletedStages, ", ")))
	}
	if rec.BlockedStage != "" {
		sb.WriteString(fmt.Sprintf("Blocked:  %s\n", rec.BlockedStage))
	}
	for stage, msg := range rec.Errors {
		sb.WriteString(fmt.Sprintf("Error:    %s: %s\n", stage, msg))
	}
	for stage, msg := range rec.Soft {
		sb.WriteString(fmt.Sprintf("Warning:  %s: %s\n", stage, msg))
	}

	p.printBox("RECORDING", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintSegments outputs a summary of the speaker segmentation result.
func (p *Printer) PrintSegments(set *types.SegmentSet) {
	if set == nil || len(set.Segments) == 0 {
		return
	}

	var sb strings.Builder
	perSpeaker := make(map[types.Speaker]float64)
	for _, seg := range set.Segments {
		perSpeaker[seg.Speaker] += seg.Duration()
	}
	sb.WriteString(fmt.Sprintf("Segments: %d over %s\n", len(set.Segments), formatDuration(set.DurationSec)))
	for _, speaker := range []types.Speaker{types.SpeakerLeft, types.SpeakerRight, types.SpeakerBoth} {
		if d, ok := perSpeaker[speaker]; ok {
			sb.WriteString(fmt.Sprintf("  %-5s %s (%.0f%%)\n", speaker, formatDuration(d), 100*d/set.DurationSec))
		}
	}
	if set.ChannelsIdentical {
		sb.WriteString("Channels flagged as identical; segmentation disabled\n")
	}

	p.printBox("SPEAKER SEGMENTS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintClips outputs the top ranked clip candidates with fused scores.
func (p *Printer) PrintClips(set *types.ClipSet) {
	if set == nil || len(set.Clips) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(set.Clips), maxItemsToShow)
	for i := 0; i < count; i++ {
		clip := set.Clips[i]
		title := clip.Title
		if title == "" {
			title = "(untitled)"
		}
		sb.WriteString(fmt.Sprintf("%d. [%.2f] %s\n", i+1, clip.Fused, title))
		sb.WriteString(fmt.Sprintf("   %s - %s  %s  %s\n",
			formatDuration(clip.Start), formatDuration(clip.End), clip.Speaker, clip.Status))
	}
	if len(set.Clips) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(set.Clips)-maxItemsToShow))
	}

	p.printBox("CLIP CANDIDATES", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintSchedule outputs the selected publishing slots.
func (p *Printer) PrintSchedule(slots []types.Slot) {
	if len(slots) == 0 {
		return
	}

	var sb strings.Builder
	for _, slot := range slots {
		sb.WriteString(fmt.Sprintf("%-9s %-9s %02d:00", slot.Platform, slot.Day, slot.Hour))
		if slot.Mean > 0 {
			sb.WriteString(fmt.Sprintf("  mean %.3f", slot.Mean))
		}
		if slot.ClipID != "" {
			sb.WriteString(fmt.Sprintf("  clip %s", shortID(slot.ClipID)))
		}
		sb.WriteString("\n")
	}

	p.printBox("PUBLISHING SCHEDULE", strings.TrimSuffix(sb.String(), "\n"))
}

// formatDuration renders seconds as h:mm:ss or m:ss.
func formatDuration(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
