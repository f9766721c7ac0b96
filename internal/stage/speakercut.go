package stage

import (
	"context"
	"fmt"

	"github.com/jonathan/cascade/internal/segmentation"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// SpeakerCut runs the channel-energy segmentation engine over the RMS
// traces. When the audio-layout gate flagged the channels, it skips the
// engine and emits one both-labeled segment spanning the whole duration.
type SpeakerCut struct{}

func (s *SpeakerCut) Name() string     { return "speaker_cut" }
func (s *SpeakerCut) Inputs() []string { return []string{"audio_analysis", store.ArtifactRMS} }
func (s *SpeakerCut) Output() string   { return store.ArtifactSegments }

func (s *SpeakerCut) Run(ctx context.Context, env *Env) (*Outcome, error) {
	var analysis AudioAnalysisDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "audio_analysis", &analysis); err != nil {
		return nil, fmt.Errorf("failed to read audio_analysis artifact: %w", err)
	}

	duration := env.Recording.DurationSec
	if duration <= 0 {
		return Hard("recording duration is unknown"), nil
	}

	if analysis.ChannelsIdentical {
		set := types.SegmentSet{
			Segments:          []types.Segment{{Start: 0, End: duration, Speaker: types.SpeakerBoth}},
			DurationSec:       duration,
			ChannelsIdentical: true,
		}
		return Soft("channel layout flagged; segmentation disabled", set), nil
	}

	rms, err := store.GetRMS(ctx, env.Store, env.Recording.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read rms artifact: %w", err)
	}

	cfg := segmentation.Config{
		FrameSeconds:      env.Config.FrameSeconds,
		SpeechMarginDB:    env.Config.SpeechMarginDB,
		MinSegmentSeconds: env.Config.MinSegmentSeconds,
	}
	segments, err := segmentation.Segment(rms.LeftDB, rms.RightDB, duration, cfg)
	if err != nil {
		return Hard(fmt.Sprintf("segmentation failed: %v", err)), nil
	}

	set := types.SegmentSet{
		Segments:    segments,
		DurationSec: duration,
		FrameCount:  len(rms.LeftDB),
	}
	return Success(set), nil
}
