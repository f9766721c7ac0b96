package stage

import (
	"context"
	"fmt"

	"github.com/jonathan/cascade/internal/scoring"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// ScoreClips fuses the candidates' score channels into one ranked list.
// The weight vector is read once at the start of the run; a feedback
// process may replace the stored vector between runs but never during one.
type ScoreClips struct{}

func (s *ScoreClips) Name() string     { return "score_clips" }
func (s *ScoreClips) Inputs() []string { return []string{store.ArtifactClips} }
func (s *ScoreClips) Output() string   { return store.ArtifactScoredClips }

func (s *ScoreClips) Run(ctx context.Context, env *Env) (*Outcome, error) {
	set, err := store.GetClips(ctx, env.Store, env.Recording.ID, store.ArtifactClips)
	if err != nil {
		return nil, fmt.Errorf("failed to read clips artifact: %w", err)
	}

	weights, err := env.Store.GetWeights(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read fusion weights: %w", err)
	}
	if len(weights) == 0 {
		weights = env.Config.Weights
	}

	ranked, err := scoring.Fuse(set.Clips, weights, scoring.FuseOptions{
		OverlapThreshold: env.Config.OverlapThreshold,
	})
	if err != nil {
		return Hard(fmt.Sprintf("scoring failed: %v", err)), nil
	}

	scored := types.ClipSet{
		Clips:     ranked,
		ClipCount: len(ranked),
		ModelUsed: set.ModelUsed,
	}
	return Success(scored), nil
}
