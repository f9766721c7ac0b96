package stage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jonathan/cascade/internal/store"
)

// Stitch concatenates the ingested parts into one working file. All later
// media work reads this merged file, never the raw parts.
type Stitch struct{}

// StitchDoc is the stitch stage's primary document.
type StitchDoc struct {
	Path        string  `json:"path"`
	DurationSec float64 `json:"duration_seconds"`
}

func (s *Stitch) Name() string     { return "stitch" }
func (s *Stitch) Inputs() []string { return []string{"source"} }
func (s *Stitch) Output() string   { return "stitch" }

func (s *Stitch) Run(ctx context.Context, env *Env) (*Outcome, error) {
	var src SourceDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "source", &src); err != nil {
		return nil, fmt.Errorf("failed to read source artifact: %w", err)
	}

	inputs := make([]string, len(src.Files))
	for i, f := range src.Files {
		inputs[i] = f.Path
	}

	merged := filepath.Join(env.Store.MediaDir(env.Recording.ID), "source_merged.mp4")
	if err := env.Media.Concat(ctx, inputs, merged); err != nil {
		return Hard(fmt.Sprintf("concat failed: %v", err)), nil
	}

	probe, err := env.Media.Probe(ctx, merged)
	if err != nil {
		return Hard(fmt.Sprintf("merged file unreadable: %v", err)), nil
	}
	if probe.DurationSec <= 0 {
		return Hard("merged file has zero duration"), nil
	}

	out := Success(StitchDoc{Path: merged, DurationSec: probe.DurationSec})
	out.Update = &RecordingUpdate{DurationSec: probe.DurationSec}
	return out, nil
}
