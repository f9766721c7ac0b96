package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/cascade/internal/store"
)

// Transcribe calls the external ASR collaborator on the merged file and
// commits the timestamped transcript.
type Transcribe struct{}

func (s *Transcribe) Name() string     { return "transcribe" }
func (s *Transcribe) Inputs() []string { return []string{"stitch"} }
func (s *Transcribe) Output() string   { return store.ArtifactTranscript }

func (s *Transcribe) Run(ctx context.Context, env *Env) (*Outcome, error) {
	if env.Transcriber == nil {
		return Hard("no transcriber configured"), nil
	}

	var stitch StitchDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "stitch", &stitch); err != nil {
		return nil, fmt.Errorf("failed to read stitch artifact: %w", err)
	}

	transcript, err := env.Transcriber.Transcribe(ctx, stitch.Path)
	if err != nil {
		return Hard(fmt.Sprintf("transcription failed: %v", err)), nil
	}
	if len(transcript.Utterances) == 0 {
		return Hard("transcription returned no utterances"), nil
	}

	words := 0
	for _, u := range transcript.Utterances {
		words += len(strings.Fields(u.Text))
	}
	transcript.WordCount = words

	return Success(transcript), nil
}
