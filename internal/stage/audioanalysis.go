package stage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jonathan/cascade/internal/media"
	"github.com/jonathan/cascade/internal/segmentation"
	"github.com/jonathan/cascade/internal/store"
)

// AudioAnalysis extracts the two audio channels, computes the per-frame
// energy traces, and decides whether the channels carry genuinely distinct
// speakers. A near-identical pair means the recorder duplicated one mic;
// segmentation is then pointless and the speaker cut is gated off.
type AudioAnalysis struct{}

// AudioAnalysisDoc is the audio analysis stage's primary document.
type AudioAnalysisDoc struct {
	ChannelsIdentical bool    `json:"channels_identical"`
	Correlation       float64 `json:"correlation"`
	AudioChannels     int     `json:"audio_channels"`
	LeftWav           string  `json:"left_wav"`
	RightWav          string  `json:"right_wav"`
	FrameCount        int     `json:"frame_count"`
}

func (s *AudioAnalysis) Name() string     { return "audio_analysis" }
func (s *AudioAnalysis) Inputs() []string { return []string{"stitch"} }
func (s *AudioAnalysis) Output() string   { return "audio_analysis" }

func (s *AudioAnalysis) Run(ctx context.Context, env *Env) (*Outcome, error) {
	var stitch StitchDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "stitch", &stitch); err != nil {
		return nil, fmt.Errorf("failed to read stitch artifact: %w", err)
	}

	probe, err := env.Media.Probe(ctx, stitch.Path)
	if err != nil {
		return Hard(fmt.Sprintf("merged file unreadable: %v", err)), nil
	}
	if !probe.HasAudio {
		return Hard("merged file has no audio track"), nil
	}

	dir := env.Store.MediaDir(env.Recording.ID)
	leftWav := filepath.Join(dir, "left.wav")
	rightWav := filepath.Join(dir, "right.wav")
	if err := env.Media.ExtractChannels(ctx, stitch.Path, leftWav, rightWav); err != nil {
		return Hard(fmt.Sprintf("channel extraction failed: %v", err)), nil
	}

	left, err := media.ReadWAV(leftWav)
	if err != nil {
		return Hard(fmt.Sprintf("left channel unreadable: %v", err)), nil
	}
	right, err := media.ReadWAV(rightWav)
	if err != nil {
		return Hard(fmt.Sprintf("right channel unreadable: %v", err)), nil
	}

	cfg := segmentation.Config{
		FrameSeconds:      env.Config.FrameSeconds,
		SpeechMarginDB:    env.Config.SpeechMarginDB,
		MinSegmentSeconds: env.Config.MinSegmentSeconds,
	}
	leftDB := segmentation.FrameEnergies(left.Samples, left.SampleRate, cfg.FrameSeconds)
	rightDB := segmentation.FrameEnergies(right.Samples, right.SampleRate, cfg.FrameSeconds)

	rms := store.RMSData{
		FrameSeconds: cfg.FrameSeconds,
		LeftDB:       leftDB,
		RightDB:      rightDB,
	}
	if _, err := env.Store.PutArtifact(ctx, env.Recording.ID, store.ArtifactRMS, rms); err != nil {
		return nil, fmt.Errorf("failed to commit rms artifact: %w", err)
	}

	correlation := media.ChannelCorrelation(left.Samples, right.Samples)
	doc := AudioAnalysisDoc{
		Correlation:   correlation,
		AudioChannels: probe.AudioChans,
		LeftWav:       leftWav,
		RightWav:      rightWav,
		FrameCount:    len(leftDB),
	}

	switch {
	case probe.AudioChans < 2:
		doc.ChannelsIdentical = true
		return Soft(fmt.Sprintf("source audio is mono (%d channel)", probe.AudioChans), doc), nil
	case correlation >= env.Config.ChannelSimilarity:
		doc.ChannelsIdentical = true
		return Soft(fmt.Sprintf("channels are near-identical (correlation %.3f)", correlation), doc), nil
	}
	return Success(doc), nil
}
