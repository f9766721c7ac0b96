package observability

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/cascade/internal/types"
)

func TestPrintRecording(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	rec := &types.Recording{
		ID:              "rec-1",
		Status:          types.StatusAwaitingInput,
		Name:            "Episode 12",
		DurationSec:     3725,
		CompletedStages: []string{"ingest", "stitch"},
		BlockedStage:    "longform_render",
		Soft:            map[string]string{"audio_analysis": "source audio is mono"},
	}

	p.PrintRecording(rec)
	output := buf.String()

	assert.Contains(t, output, "RECORDING")
	assert.Contains(t, output, "rec-1")
	assert.Contains(t, output, "awaiting_input")
	assert.Contains(t, output, "Episode 12")
	assert.Contains(t, output, "1:02:05")
	assert.Contains(t, output, "ingest, stitch")
	assert.Contains(t, output, "longform_render")
	assert.Contains(t, output, "source audio is mono")
}

func TestPrintRecording_Nil(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRecording(nil)

	assert.Empty(t, buf.String())
}

func TestPrintSegments(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	set := &types.SegmentSet{
		Segments: []types.Segment{
			{Start: 0, End: 45, Speaker: types.SpeakerLeft},
			{Start: 45, End: 60, Speaker: types.SpeakerRight},
		},
		DurationSec: 60,
	}

	p.PrintSegments(set)
	output := buf.String()

	assert.Contains(t, output, "SPEAKER SEGMENTS")
	assert.Contains(t, output, "Segments: 2")
	assert.Contains(t, output, "left")
	assert.Contains(t, output, "75%")
	assert.Contains(t, output, "right")
}

func TestPrintSegments_Empty(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintSegments(&types.SegmentSet{})

	assert.Empty(t, buf.String())
}

func TestPrintClips_TruncatesLongLists(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	set := &types.ClipSet{}
	for i := 0; i < 8; i++ {
		set.Clips = append(set.Clips, types.ClipCandidate{
			ID:      "clip",
			Start:   float64(i * 60),
			End:     float64(i*60 + 30),
			Title:   "A moment",
			Fused:   0.5,
			Speaker: types.SpeakerLeft,
			Status:  types.ReviewPending,
		})
	}

	p.PrintClips(set)
	output := buf.String()

	assert.Contains(t, output, "CLIP CANDIDATES")
	assert.Contains(t, output, "A moment")
	assert.Contains(t, output, "and 3 more")
}

func TestPrintSchedule(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintSchedule([]types.Slot{
		{Platform: "youtube", Day: time.Friday, Hour: 18, Mean: 0.42, ClipID: "0123456789abcdef"},
	})
	output := buf.String()

	assert.Contains(t, output, "PUBLISHING SCHEDULE")
	assert.Contains(t, output, "youtube")
	assert.Contains(t, output, "Friday")
	assert.Contains(t, output, "18:00")
	assert.Contains(t, output, "0.420")
	assert.Contains(t, output, "01234567")
	assert.NotContains(t, output, "0123456789abcdef")
}
