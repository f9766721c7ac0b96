// Package scoring fuses independently computed per-channel clip scores
// into one ranked candidate list and adapts the channel weights from
// realized engagement.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/jonathan/cascade/internal/types"
)

// weightTolerance is the floating-point slack allowed on the weights-sum-
// to-one invariant.
const weightTolerance = 1e-6

// Weights is a fusion weight vector keyed by score channel name.
type Weights map[string]float64

// DefaultWeights returns the configured starting vector over the five
// scored channels.
func DefaultWeights() Weights {
	return Weights{
		types.ChannelLLMVirality:     0.40,
		types.ChannelQuotability:     0.20,
		types.ChannelAudioEnergy:     0.15,
		types.ChannelSpeakerDynamics: 0.15,
		types.ChannelBoundaryQuality: 0.10,
	}
}

// Validate checks that all weights are non-negative and sum to 1.
func (w Weights) Validate() error {
	var sum float64
	for channel, weight := range w {
		if weight < 0 {
			return fmt.Errorf("weight for %s is negative: %v", channel, weight)
		}
		sum += weight
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights sum to %v, expected 1", sum)
	}
	return nil
}

// FuseOptions controls ranking and deduplication.
type FuseOptions struct {
	// OverlapThreshold is the fraction of the shorter candidate's duration
	// that two candidates may share before the lower-fused one is dropped.
	OverlapThreshold float64
}

// Fuse normalizes each candidate's channel scores to [0, 1], computes the
// weighted fused score, ranks descending, and deduplicates overlapping
// candidates. The weight vector is captured once for the whole run; it is
// never re-read mid-computation.
//
// Ties break on the highest LLM-derived score, then on earlier start time.
func Fuse(candidates []types.ClipCandidate, weights Weights, opts FuseOptions) ([]types.ClipCandidate, error) {
	if err := weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid weight vector: %w", err)
	}

	scored := make([]types.ClipCandidate, len(candidates))
	copy(scored, candidates)
	for i := range scored {
		normalized := make(map[string]float64, len(scored[i].Scores))
		for channel, score := range scored[i].Scores {
			normalized[channel] = clamp01(score)
		}
		scored[i].Scores = normalized

		var fused float64
		for channel, weight := range weights {
			fused += weight * normalized[channel]
		}
		scored[i].Fused = fused
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Fused != scored[j].Fused {
			return scored[i].Fused > scored[j].Fused
		}
		if scored[i].Scores[types.ChannelLLMVirality] != scored[j].Scores[types.ChannelLLMVirality] {
			return scored[i].Scores[types.ChannelLLMVirality] > scored[j].Scores[types.ChannelLLMVirality]
		}
		return scored[i].Start < scored[j].Start
	})

	deduped := dedupe(scored, opts.OverlapThreshold)
	for i := range deduped {
		deduped[i].Rank = i + 1
	}
	return deduped, nil
}

// dedupe drops candidates whose time range overlaps an already-kept,
// higher-fused candidate by more than the threshold.
func dedupe(ranked []types.ClipCandidate, threshold float64) []types.ClipCandidate {
	if threshold <= 0 {
		threshold = 0.5
	}
	var kept []types.ClipCandidate
	for _, cand := range ranked {
		dominated := false
		for _, k := range kept {
			if overlapFraction(cand, k) > threshold {
				dominated = true
				break
			}
		}
		if !dominated {
			kept = append(kept, cand)
		}
	}
	return kept
}

// overlapFraction returns shared time relative to the shorter candidate.
func overlapFraction(a, b types.ClipCandidate) float64 {
	lo := math.Max(a.Start, b.Start)
	hi := math.Min(a.End, b.End)
	if hi <= lo {
		return 0
	}
	shorter := math.Min(a.Duration(), b.Duration())
	if shorter <= 0 {
		return 0
	}
	return (hi - lo) / shorter
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
