package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jonathan/cascade/internal/types"
)

// Well-known artifact names. Stage results are committed under the stage's
// own name; these are the cross-stage documents with typed accessors.
const (
	ArtifactSegments    = "segments"
	ArtifactRMS         = "rms"
	ArtifactTranscript  = "transcript"
	ArtifactClips       = "clips"
	ArtifactScoredClips = "scored_clips"
	ArtifactCropConfig  = "crop_config"
	ArtifactSchedule    = "schedule"
)

func unmarshalArtifact(name string, data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal artifact %s: %w", name, err)
	}
	return nil
}

// RMSData carries the per-frame channel energies computed during
// segmentation; the clip miner uses it for silence snapping.
type RMSData struct {
	FrameSeconds float64   `json:"frame_seconds"`
	LeftDB       []float64 `json:"left_rms_db"`
	RightDB      []float64 `json:"right_rms_db"`
}

// CropRegion is one rectangle of a human-supplied crop configuration.
type CropRegion struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CropConfig is the external input that unblocks the gated render stage.
type CropConfig struct {
	Left  CropRegion  `json:"left"`
	Right CropRegion  `json:"right"`
	Wide  *CropRegion `json:"wide,omitempty"`
}

// GetSegments loads the committed segment set for a recording.
func GetSegments(ctx context.Context, s Store, recordingID string) (*types.SegmentSet, error) {
	var set types.SegmentSet
	if _, err := GetJSON(ctx, s, recordingID, ArtifactSegments, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// GetTranscript loads the committed transcript for a recording.
func GetTranscript(ctx context.Context, s Store, recordingID string) (*types.Transcript, error) {
	var t types.Transcript
	if _, err := GetJSON(ctx, s, recordingID, ArtifactTranscript, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetClips loads a clip set artifact (mined or scored) for a recording.
func GetClips(ctx context.Context, s Store, recordingID, name string) (*types.ClipSet, error) {
	var set types.ClipSet
	if _, err := GetJSON(ctx, s, recordingID, name, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// GetRMS loads the per-frame energy data for a recording.
func GetRMS(ctx context.Context, s Store, recordingID string) (*RMSData, error) {
	var rms RMSData
	if _, err := GetJSON(ctx, s, recordingID, ArtifactRMS, &rms); err != nil {
		return nil, err
	}
	return &rms, nil
}

// GetCropConfig loads the human-supplied crop configuration, if present.
func GetCropConfig(ctx context.Context, s Store, recordingID string) (*CropConfig, error) {
	var cfg CropConfig
	if _, err := GetJSON(ctx, s, recordingID, ArtifactCropConfig, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
