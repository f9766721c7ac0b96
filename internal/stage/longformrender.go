package stage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jonathan/cascade/internal/store"
)

// LongformRender is the gated stage: it produces the speaker-cut longform
// video but cannot start until an operator supplies the crop configuration
// for this recording's camera framing. Until then it reports blocked and
// the executor pauses this branch of the graph.
type LongformRender struct{}

// LongformDoc is the longform render stage's primary document.
type LongformDoc struct {
	Path         string  `json:"path"`
	DurationSec  float64 `json:"duration_seconds"`
	SegmentCount int     `json:"segment_count"`
}

func (s *LongformRender) Name() string { return "longform_render" }
func (s *LongformRender) Inputs() []string {
	return []string{store.ArtifactSegments, store.ArtifactTranscript, store.ArtifactCropConfig, "stitch"}
}
func (s *LongformRender) Output() string { return "longform" }

func (s *LongformRender) Run(ctx context.Context, env *Env) (*Outcome, error) {
	version, err := env.Store.ArtifactVersion(ctx, env.Recording.ID, store.ArtifactCropConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to check crop config: %w", err)
	}
	if version == 0 {
		return Blocked("waiting for crop configuration"), nil
	}

	crop, err := store.GetCropConfig(ctx, env.Store, env.Recording.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read crop config: %w", err)
	}
	segments, err := store.GetSegments(ctx, env.Store, env.Recording.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read segments artifact: %w", err)
	}
	var stitch StitchDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "stitch", &stitch); err != nil {
		return nil, fmt.Errorf("failed to read stitch artifact: %w", err)
	}

	output := filepath.Join(env.Store.MediaDir(env.Recording.ID), "longform.mp4")
	if err := env.Media.RenderCrops(ctx, stitch.Path, segments.Segments, crop, output); err != nil {
		return Hard(fmt.Sprintf("longform render failed: %v", err)), nil
	}

	probe, err := env.Media.Probe(ctx, output)
	if err != nil {
		return Hard(fmt.Sprintf("rendered longform unreadable: %v", err)), nil
	}

	doc := LongformDoc{
		Path:         output,
		DurationSec:  probe.DurationSec,
		SegmentCount: len(segments.Segments),
	}
	return Success(doc), nil
}
