package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cascade/internal/llm"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// rmsWithDips builds a flat -20 dB trace with -60 dB dips at the given
// frame indices.
func rmsWithDips(frames int, dips ...int) *store.RMSData {
	left := make([]float64, frames)
	right := make([]float64, frames)
	for i := range left {
		left[i], right[i] = -20, -20
	}
	for _, d := range dips {
		left[d], right[d] = -60, -60
	}
	return &store.RMSData{FrameSeconds: 0.1, LeftDB: left, RightDB: right}
}

func TestSnapBoundaryFindsQuietFrame(t *testing.T) {
	rms := rmsWithDips(1000, 100)

	snapped, ok := snapBoundary(10.4, rms)
	assert.True(t, ok)
	assert.InDelta(t, 10.0, snapped, 1e-9)
}

func TestSnapBoundaryContinuousSpeechFlagsImprecise(t *testing.T) {
	rms := rmsWithDips(1000) // no dips anywhere

	snapped, ok := snapBoundary(42.0, rms)
	assert.False(t, ok)
	assert.Equal(t, 42.0, snapped)
}

func TestSnapBoundaryRespectsTolerance(t *testing.T) {
	// Dip at 10.0s is more than 1.5s away from 12.0s, so it must not pull
	// the boundary.
	rms := rmsWithDips(1000, 100)

	snapped, ok := snapBoundary(12.0, rms)
	assert.False(t, ok)
	assert.Equal(t, 12.0, snapped)
}

func TestDominantSpeaker(t *testing.T) {
	segments := []types.Segment{
		{Start: 0, End: 30, Speaker: types.SpeakerLeft},
		{Start: 30, End: 40, Speaker: types.SpeakerRight},
	}
	assert.Equal(t, types.SpeakerLeft, dominantSpeaker(segments, 0, 40))
	assert.Equal(t, types.SpeakerRight, dominantSpeaker(segments, 28, 40))
	assert.Equal(t, types.SpeakerBoth, dominantSpeaker(segments, 100, 120))
}

func TestSpeakerDynamicsScore(t *testing.T) {
	// Five alternations over one minute: 5 changes/min -> 0.5.
	var segments []types.Segment
	for i := 0; i < 6; i++ {
		s := types.SpeakerLeft
		if i%2 == 1 {
			s = types.SpeakerRight
		}
		segments = append(segments, types.Segment{Start: float64(i * 10), End: float64((i + 1) * 10), Speaker: s})
	}
	assert.InDelta(t, 0.5, speakerDynamicsScore(segments, 0, 60), 1e-9)

	// A monologue scores zero.
	mono := []types.Segment{{Start: 0, End: 60, Speaker: types.SpeakerLeft}}
	assert.Equal(t, 0.0, speakerDynamicsScore(mono, 0, 60))
}

func TestAudioEnergyScoreNormalizes(t *testing.T) {
	rms := rmsWithDips(1000, 500, 501, 502)

	// A window of only loud frames sits at the top of the range.
	assert.InDelta(t, 1.0, audioEnergyScore(rms, 0, 10), 1e-9)
	// A window centered on the dip sits lower.
	assert.Less(t, audioEnergyScore(rms, 49.9, 50.3), 1.0)
}

func TestClipMinerRunMinesAndEnriches(t *testing.T) {
	env := newTestEnv(t)
	env.LLM = &fakeLLM{byTier: map[llm.ModelTier]string{
		llm.TierAdvanced: `{"clips":[{"start_seconds":10.4,"end_seconds":50.2,"title":"The hard part","hook_text":"Nobody tells you this","compelling_reason":"contrarian take","scores":{"llm_virality":0.8,"quotability":0.7,"boundary_quality":0.9},"content_type":"advice"}]}`,
		llm.TierStandard: `{"episode_name":"Episode 12","episode_description":"A talk about shipping.","guest_name":"Sam"}`,
	}}

	putArtifact(t, env, store.ArtifactTranscript, types.Transcript{
		Utterances: []types.Utterance{{Start: 0, End: 60, Speaker: "left", Text: "nobody tells you this about shipping"}},
		Language:   "en",
	})
	putArtifact(t, env, store.ArtifactSegments, types.SegmentSet{
		Segments:    []types.Segment{{Start: 0, End: 600, Speaker: types.SpeakerLeft}},
		DurationSec: 600,
	})
	putArtifact(t, env, store.ArtifactRMS, rmsWithDips(6000, 100, 502))

	out, err := (&ClipMiner{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeSuccess, out.Status)

	set, ok := out.Doc.(types.ClipSet)
	require.True(t, ok)
	require.Len(t, set.Clips, 1)

	clip := set.Clips[0]
	assert.NotEmpty(t, clip.ID)
	assert.InDelta(t, 10.0, clip.Start, 1e-9)
	assert.InDelta(t, 50.2, clip.End, 1e-9)
	assert.Equal(t, types.ReviewPending, clip.Status)
	assert.Equal(t, types.SpeakerLeft, clip.Speaker)
	assert.Contains(t, clip.Scores, types.ChannelAudioEnergy)
	assert.Contains(t, clip.Scores, types.ChannelSpeakerDynamics)
	assert.Contains(t, clip.Scores, types.ChannelLLMVirality)

	// Episode facts are reported as a recording update, never written
	// into the stage's snapshot.
	require.NotNil(t, out.Update)
	assert.Equal(t, "Episode 12", out.Update.Name)
	assert.Equal(t, "A talk about shipping.", out.Update.Description)
	assert.Empty(t, env.Recording.Name)
	assert.Empty(t, env.Recording.Description)
}

func TestClipMinerKeepsOperatorName(t *testing.T) {
	env := newTestEnv(t)
	env.Recording.Name = "My Title"
	env.LLM = &fakeLLM{byTier: map[llm.ModelTier]string{
		llm.TierAdvanced: `{"clips":[{"start_seconds":100,"end_seconds":160,"title":"t","hook_text":"h","compelling_reason":"r","scores":{},"content_type":"story"}]}`,
		llm.TierStandard: `{"episode_name":"LLM Title","episode_description":"desc"}`,
	}}

	putArtifact(t, env, store.ArtifactTranscript, types.Transcript{
		Utterances: []types.Utterance{{Start: 0, End: 600, Speaker: "left", Text: "words"}},
	})
	putArtifact(t, env, store.ArtifactSegments, types.SegmentSet{
		Segments:    []types.Segment{{Start: 0, End: 600, Speaker: types.SpeakerBoth}},
		DurationSec: 600,
	})
	putArtifact(t, env, store.ArtifactRMS, rmsWithDips(6000, 1000, 1600))

	out, err := (&ClipMiner{}).Run(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeSuccess, out.Status)

	assert.Equal(t, "My Title", env.Recording.Name)
	require.NotNil(t, out.Update)
	assert.Equal(t, "desc", out.Update.Description)
}

func TestClipMinerSkipsEpisodeInfoWhenFieldsSet(t *testing.T) {
	env := newTestEnv(t)
	env.Recording.Name = "My Title"
	env.Recording.Description = "My notes"
	// Only the mining tier is scripted; an episode-info call would fail.
	env.LLM = &fakeLLM{byTier: map[llm.ModelTier]string{
		llm.TierAdvanced: `{"clips":[{"start_seconds":100,"end_seconds":160,"title":"t","hook_text":"h","compelling_reason":"r","scores":{},"content_type":"story"}]}`,
	}}

	putArtifact(t, env, store.ArtifactTranscript, types.Transcript{
		Utterances: []types.Utterance{{Start: 0, End: 600, Speaker: "left", Text: "words"}},
	})
	putArtifact(t, env, store.ArtifactSegments, types.SegmentSet{
		Segments:    []types.Segment{{Start: 0, End: 600, Speaker: types.SpeakerBoth}},
		DurationSec: 600,
	})
	putArtifact(t, env, store.ArtifactRMS, rmsWithDips(6000, 1000, 1600))

	out, err := (&ClipMiner{}).Run(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeSuccess, out.Status)
	assert.Nil(t, out.Update)
}

func TestClipMinerRejectsOutOfBoundsDurations(t *testing.T) {
	env := newTestEnv(t)
	env.LLM = &fakeLLM{byTier: map[llm.ModelTier]string{
		// 5 seconds: below the configured minimum.
		llm.TierAdvanced: `{"clips":[{"start_seconds":10,"end_seconds":15,"title":"t","hook_text":"h","compelling_reason":"r","scores":{},"content_type":"story"}]}`,
		llm.TierStandard: `{"episode_name":"n","episode_description":"d"}`,
	}}

	putArtifact(t, env, store.ArtifactTranscript, types.Transcript{
		Utterances: []types.Utterance{{Start: 0, End: 600, Speaker: "left", Text: "words"}},
	})
	putArtifact(t, env, store.ArtifactSegments, types.SegmentSet{
		Segments:    []types.Segment{{Start: 0, End: 600, Speaker: types.SpeakerBoth}},
		DurationSec: 600,
	})
	putArtifact(t, env, store.ArtifactRMS, rmsWithDips(6000, 100, 150))

	out, err := (&ClipMiner{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeHardFailure, out.Status)
}

func TestClipMinerNoLLMIsHard(t *testing.T) {
	env := newTestEnv(t)
	out, err := (&ClipMiner{}).Run(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeHardFailure, out.Status)
}
