// Package segmentation classifies a recording's timeline into per-speaker
// activity regions from two synchronized audio channels.
package segmentation

import (
	"fmt"
	"math"
	"sort"

	"github.com/jonathan/cascade/internal/types"
)

// Config holds the tunable parameters of the segmentation algorithm.
type Config struct {
	// FrameSeconds is the fixed, non-overlapping analysis frame size.
	FrameSeconds float64
	// SpeechMarginDB is added to the per-channel noise floor to form the
	// speech threshold.
	SpeechMarginDB float64
	// MinSegmentSeconds is the minimum committed segment duration. Shorter
	// segments are absorbed into their preceding neighbor.
	MinSegmentSeconds float64
}

// DefaultConfig returns the production parameters.
func DefaultConfig() Config {
	return Config{
		FrameSeconds:      0.1,
		SpeechMarginDB:    12,
		MinSegmentSeconds: 2.0,
	}
}

const noiseFloorPercentile = 10

type label int8

const (
	labelLeft label = iota
	labelRight
	labelBoth
	labelNone
)

func (l label) speaker() types.Speaker {
	switch l {
	case labelLeft:
		return types.SpeakerLeft
	case labelRight:
		return types.SpeakerRight
	default:
		return types.SpeakerBoth
	}
}

// FrameEnergies computes per-frame RMS energy in dB over fixed,
// non-overlapping frames. Trailing samples that do not fill a frame are
// dropped.
func FrameEnergies(samples []float64, sampleRate int, frameSeconds float64) []float64 {
	frameSize := int(float64(sampleRate) * frameSeconds)
	if frameSize <= 0 || len(samples) < frameSize {
		return nil
	}
	n := len(samples) / frameSize
	energies := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for _, s := range samples[i*frameSize : (i+1)*frameSize] {
			sum += s * s
		}
		rms := math.Sqrt(sum/float64(frameSize)) + 1e-10
		energies[i] = 20 * math.Log10(rms)
	}
	return energies
}

// percentile returns the pth percentile of values using linear
// interpolation between closest ranks.
func percentile(values []float64, p float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// SpeechThresholds returns the per-channel speech thresholds: the 10th
// percentile of each channel's frame-energy distribution plus the margin.
// Each channel's floor is computed independently over the full recording.
func SpeechThresholds(leftDB, rightDB []float64, marginDB float64) (left, right float64) {
	return percentile(leftDB, noiseFloorPercentile) + marginDB,
		percentile(rightDB, noiseFloorPercentile) + marginDB
}

// Segment classifies per-frame channel energies into an ordered, gap-free
// list of speaker segments covering [0, durationSec).
//
// Frames where both channels exceed their thresholds are labeled both and
// are never reinterpreted as single-speaker: they represent simultaneous
// speech and must render as a wide shot downstream. Frames below both
// thresholds inherit the previous non-silent label rather than starting a
// segment of their own.
func Segment(leftDB, rightDB []float64, durationSec float64, cfg Config) ([]types.Segment, error) {
	n := len(leftDB)
	if len(rightDB) < n {
		n = len(rightDB)
	}
	if n == 0 {
		return nil, fmt.Errorf("no analysis frames: audio is empty or shorter than one frame")
	}

	leftThresh, rightThresh := SpeechThresholds(leftDB[:n], rightDB[:n], cfg.SpeechMarginDB)

	labels := make([]label, n)
	anySpeech := false
	for i := 0; i < n; i++ {
		lActive := leftDB[i] > leftThresh
		rActive := rightDB[i] > rightThresh
		switch {
		case lActive && rActive:
			labels[i] = labelBoth
		case lActive:
			labels[i] = labelLeft
		case rActive:
			labels[i] = labelRight
		default:
			labels[i] = labelNone
		}
		if labels[i] != labelNone {
			anySpeech = true
		}
	}
	if !anySpeech {
		return nil, fmt.Errorf("no speech detected above noise floor: audio appears silent")
	}

	// Debounce: silent frames carry the previous speech label forward.
	// Leading silence takes the first speech label.
	first := labelNone
	for _, l := range labels {
		if l != labelNone {
			first = l
			break
		}
	}
	prev := first
	for i := range labels {
		if labels[i] == labelNone {
			labels[i] = prev
		} else {
			prev = labels[i]
		}
	}

	segments := mergeFrames(labels, cfg.FrameSeconds)
	segments = absorbShort(segments, cfg.MinSegmentSeconds)

	// Snap the tail to the recording duration so segments cover
	// [0, duration) exactly despite dropped partial frames.
	if durationSec > 0 {
		segments[len(segments)-1].End = durationSec
	}
	return segments, nil
}

// mergeFrames collapses consecutive same-label frames into segments.
func mergeFrames(labels []label, frameSeconds float64) []types.Segment {
	var segments []types.Segment
	start := 0
	for i := 1; i <= len(labels); i++ {
		if i == len(labels) || labels[i] != labels[start] {
			segments = append(segments, types.Segment{
				Start:   round3(float64(start) * frameSeconds),
				End:     round3(float64(i) * frameSeconds),
				Speaker: labels[start].speaker(),
			})
			start = i
		}
	}
	return segments
}

// absorbShort merges segments shorter than minDuration into their
// immediately preceding neighbor, relabeling them, then re-merges. A short
// head segment with no predecessor is absorbed into its successor. Repeats
// until stable.
func absorbShort(segments []types.Segment, minDuration float64) []types.Segment {
	for len(segments) > 1 {
		changed := false

		// A short head has no predecessor; it defers to its successor.
		if segments[0].Duration() < minDuration {
			segments[1].Start = segments[0].Start
			segments = segments[1:]
			changed = true
		}

		var merged []types.Segment
		for _, seg := range segments {
			switch {
			case len(merged) > 0 && seg.Duration() < minDuration:
				merged[len(merged)-1].End = seg.End
				changed = true
			case len(merged) > 0 && merged[len(merged)-1].Speaker == seg.Speaker:
				merged[len(merged)-1].End = seg.End
			default:
				merged = append(merged, seg)
			}
		}
		segments = merged
		if !changed {
			break
		}
	}
	return segments
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
