package stage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// ShortsRender cuts the ranked candidates out of the rendered longform.
// Rejected candidates are skipped; everything else renders so review can
// happen with the real clips in hand.
type ShortsRender struct{}

// ShortsDoc is the shorts render stage's primary document.
type ShortsDoc struct {
	Clips []RenderedClip `json:"clips"`
}

// RenderedClip ties a candidate to its rendered file.
type RenderedClip struct {
	ID          string  `json:"id"`
	Path        string  `json:"path"`
	DurationSec float64 `json:"duration_seconds"`
}

func (s *ShortsRender) Name() string     { return "shorts_render" }
func (s *ShortsRender) Inputs() []string { return []string{store.ArtifactScoredClips, "longform"} }
func (s *ShortsRender) Output() string   { return "shorts" }

func (s *ShortsRender) Run(ctx context.Context, env *Env) (*Outcome, error) {
	scored, err := store.GetClips(ctx, env.Store, env.Recording.ID, store.ArtifactScoredClips)
	if err != nil {
		return nil, fmt.Errorf("failed to read scored clips: %w", err)
	}
	var longform LongformDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "longform", &longform); err != nil {
		return nil, fmt.Errorf("failed to read longform artifact: %w", err)
	}

	dir := filepath.Join(env.Store.MediaDir(env.Recording.ID), "shorts")

	doc := ShortsDoc{}
	var failed []string
	for _, clip := range scored.Clips {
		if clip.Status == types.ReviewRejected {
			continue
		}
		output := filepath.Join(dir, fmt.Sprintf("clip-%s.mp4", clip.ID))
		if err := env.Media.RenderClip(ctx, longform.Path, clip.Start, clip.End, output); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", clip.ID, err))
			continue
		}
		doc.Clips = append(doc.Clips, RenderedClip{
			ID:          clip.ID,
			Path:        output,
			DurationSec: clip.Duration(),
		})
	}

	if len(doc.Clips) == 0 {
		if len(failed) > 0 {
			return Hard(fmt.Sprintf("every clip render failed: %s", strings.Join(failed, "; "))), nil
		}
		return Hard("no clips to render"), nil
	}
	if len(failed) > 0 {
		return Soft(fmt.Sprintf("%d clip renders failed: %s", len(failed), strings.Join(failed, "; ")), doc), nil
	}
	return Success(doc), nil
}
