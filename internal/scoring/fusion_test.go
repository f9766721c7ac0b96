package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cascade/internal/types"
)

func cand(id string, start, end float64, scores map[string]float64) types.ClipCandidate {
	return types.ClipCandidate{
		ID:     id,
		Start:  start,
		End:    end,
		Scores: scores,
		Status: types.ReviewPending,
	}
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
}

func TestWeights_Validate(t *testing.T) {
	assert.Error(t, Weights{"a": 0.5, "b": 0.6}.Validate())
	assert.Error(t, Weights{"a": -0.5, "b": 1.5}.Validate())
	assert.NoError(t, Weights{"a": 0.25, "b": 0.75}.Validate())
}

func TestFuse_FusedScoreInRange(t *testing.T) {
	candidates := []types.ClipCandidate{
		cand("c1", 0, 60, map[string]float64{
			types.ChannelLLMVirality:     1.0,
			types.ChannelQuotability:     1.0,
			types.ChannelAudioEnergy:     1.0,
			types.ChannelSpeakerDynamics: 1.0,
			types.ChannelBoundaryQuality: 1.0,
		}),
		cand("c2", 100, 160, map[string]float64{}),
	}

	out, err := Fuse(candidates, DefaultWeights(), FuseOptions{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.InDelta(t, 1.0, out[0].Fused, 1e-9)
	assert.InDelta(t, 0.0, out[1].Fused, 1e-9)
	for _, c := range out {
		assert.GreaterOrEqual(t, c.Fused, 0.0)
		assert.LessOrEqual(t, c.Fused, 1.0)
	}
}

func TestFuse_NormalizesOutOfRangeScores(t *testing.T) {
	candidates := []types.ClipCandidate{
		cand("c1", 0, 60, map[string]float64{types.ChannelLLMVirality: 7.5}),
	}
	out, err := Fuse(candidates, DefaultWeights(), FuseOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, out[0].Scores[types.ChannelLLMVirality], 1e-9)
	assert.LessOrEqual(t, out[0].Fused, 1.0)
}

func TestFuse_RanksDescending(t *testing.T) {
	candidates := []types.ClipCandidate{
		cand("low", 0, 60, map[string]float64{types.ChannelLLMVirality: 0.2}),
		cand("high", 100, 160, map[string]float64{types.ChannelLLMVirality: 0.9}),
		cand("mid", 200, 260, map[string]float64{types.ChannelLLMVirality: 0.5}),
	}
	out, err := Fuse(candidates, DefaultWeights(), FuseOptions{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "high", out[0].ID)
	assert.Equal(t, "mid", out[1].ID)
	assert.Equal(t, "low", out[2].ID)
	assert.Equal(t, []int{1, 2, 3}, []int{out[0].Rank, out[1].Rank, out[2].Rank})
}

func TestFuse_TieBreaksOnLLMThenStart(t *testing.T) {
	// Equal fused scores built from different channel mixes.
	weights := Weights{
		types.ChannelLLMVirality: 0.5,
		types.ChannelQuotability: 0.5,
	}
	candidates := []types.ClipCandidate{
		cand("later", 300, 360, map[string]float64{
			types.ChannelLLMVirality: 0.8, types.ChannelQuotability: 0.2,
		}),
		cand("quotable", 0, 60, map[string]float64{
			types.ChannelLLMVirality: 0.2, types.ChannelQuotability: 0.8,
		}),
		cand("earlier", 100, 160, map[string]float64{
			types.ChannelLLMVirality: 0.8, types.ChannelQuotability: 0.2,
		}),
	}
	out, err := Fuse(candidates, weights, FuseOptions{})
	require.NoError(t, err)
	require.Len(t, out, 3)
	// All fused = 0.5; LLM score wins first, then earlier start.
	assert.Equal(t, "earlier", out[0].ID)
	assert.Equal(t, "later", out[1].ID)
	assert.Equal(t, "quotable", out[2].ID)
}

func TestFuse_DeduplicatesOverlapping(t *testing.T) {
	candidates := []types.ClipCandidate{
		cand("strong", 0, 60, map[string]float64{types.ChannelLLMVirality: 0.9}),
		cand("shadow", 10, 65, map[string]float64{types.ChannelLLMVirality: 0.4}),
		cand("separate", 200, 260, map[string]float64{types.ChannelLLMVirality: 0.5}),
	}
	out, err := Fuse(candidates, DefaultWeights(), FuseOptions{OverlapThreshold: 0.5})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "strong", out[0].ID)
	assert.Equal(t, "separate", out[1].ID)
}

func TestFuse_RejectsInvalidWeights(t *testing.T) {
	_, err := Fuse(nil, Weights{"a": 0.9}, FuseOptions{})
	require.Error(t, err)
}

func TestAdaptWeights_RewardsCorrelatedChannel(t *testing.T) {
	current := Weights{
		types.ChannelLLMVirality: 0.5,
		types.ChannelAudioEnergy: 0.5,
	}
	// Virality tracks engagement; audio energy is anti-correlated.
	history := []Observation{
		{Scores: map[string]float64{types.ChannelLLMVirality: 0.1, types.ChannelAudioEnergy: 0.9}, Engagement: 0.1},
		{Scores: map[string]float64{types.ChannelLLMVirality: 0.5, types.ChannelAudioEnergy: 0.5}, Engagement: 0.5},
		{Scores: map[string]float64{types.ChannelLLMVirality: 0.9, types.ChannelAudioEnergy: 0.1}, Engagement: 0.9},
	}
	adapted, err := AdaptWeights(current, history)
	require.NoError(t, err)
	require.NoError(t, adapted.Validate())
	assert.Greater(t, adapted[types.ChannelLLMVirality], current[types.ChannelLLMVirality])
	assert.Less(t, adapted[types.ChannelAudioEnergy], current[types.ChannelAudioEnergy])
}

func TestAdaptWeights_KeepsCurrentOnSparseHistory(t *testing.T) {
	current := DefaultWeights()
	adapted, err := AdaptWeights(current, []Observation{{Engagement: 1}})
	require.NoError(t, err)
	assert.Equal(t, current, adapted)
}

func TestAdaptWeights_FloorsChannels(t *testing.T) {
	current := Weights{
		types.ChannelLLMVirality: 0.98,
		types.ChannelAudioEnergy: 0.02,
	}
	history := []Observation{
		{Scores: map[string]float64{types.ChannelLLMVirality: 0.9, types.ChannelAudioEnergy: 0.9}, Engagement: 0.1},
		{Scores: map[string]float64{types.ChannelLLMVirality: 0.5, types.ChannelAudioEnergy: 0.5}, Engagement: 0.5},
		{Scores: map[string]float64{types.ChannelLLMVirality: 0.1, types.ChannelAudioEnergy: 0.1}, Engagement: 0.9},
	}
	adapted, err := AdaptWeights(current, history)
	require.NoError(t, err)
	require.NoError(t, adapted.Validate())
	for channel, weight := range adapted {
		assert.Greater(t, weight, 0.0, "channel %s must stay in play", channel)
	}
}
