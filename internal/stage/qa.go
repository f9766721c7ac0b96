package stage

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/jonathan/cascade/internal/store"
)

// durationToleranceSec is the maximum drift allowed between a rendered
// file's probed duration and the duration the render stage reported.
const durationToleranceSec = 1.0

// QA verifies the rendered outputs before anything downstream can
// schedule or publish them. It checks that the files exist on disk, that
// probed durations agree with the render reports, and that metadata was
// produced for every rendered clip. Problems that leave the outputs
// usable are soft; a missing longform file is hard.
type QA struct{}

// QADoc is the QA stage's primary document.
type QADoc struct {
	LongformOK   bool     `json:"longform_ok"`
	ClipsChecked int      `json:"clips_checked"`
	ClipsPassed  int      `json:"clips_passed"`
	Issues       []string `json:"issues"`
}

func (s *QA) Name() string { return "qa" }
func (s *QA) Inputs() []string {
	return []string{"longform", "shorts", "metadata"}
}
func (s *QA) Output() string { return "qa" }

func (s *QA) Run(ctx context.Context, env *Env) (*Outcome, error) {
	var longform LongformDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "longform", &longform); err != nil {
		return nil, fmt.Errorf("failed to read longform document: %w", err)
	}
	var shorts ShortsDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "shorts", &shorts); err != nil {
		return nil, fmt.Errorf("failed to read shorts document: %w", err)
	}
	var metadata MetadataDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "metadata", &metadata); err != nil {
		return nil, fmt.Errorf("failed to read metadata document: %w", err)
	}

	doc := QADoc{Issues: []string{}}

	if _, err := os.Stat(longform.Path); err != nil {
		return Hard(fmt.Sprintf("longform render missing at %s", longform.Path)), nil
	}
	doc.LongformOK = true
	if env.Media != nil {
		info, err := env.Media.Probe(ctx, longform.Path)
		if err != nil {
			doc.Issues = append(doc.Issues, fmt.Sprintf("longform unprobeable: %v", err))
			doc.LongformOK = false
		} else if math.Abs(info.DurationSec-longform.DurationSec) > durationToleranceSec {
			doc.Issues = append(doc.Issues, fmt.Sprintf("longform duration drift: probed %.2fs, reported %.2fs", info.DurationSec, longform.DurationSec))
		}
	}

	if metadata.Longform.Title == "" {
		doc.Issues = append(doc.Issues, "longform metadata has an empty title")
	}

	for _, clip := range shorts.Clips {
		doc.ClipsChecked++
		passed := true
		if _, err := os.Stat(clip.Path); err != nil {
			doc.Issues = append(doc.Issues, fmt.Sprintf("clip %s missing at %s", clip.ID, clip.Path))
			passed = false
		} else if env.Media != nil {
			info, err := env.Media.Probe(ctx, clip.Path)
			if err != nil {
				doc.Issues = append(doc.Issues, fmt.Sprintf("clip %s unprobeable: %v", clip.ID, err))
				passed = false
			} else if math.Abs(info.DurationSec-clip.DurationSec) > durationToleranceSec {
				doc.Issues = append(doc.Issues, fmt.Sprintf("clip %s duration drift: probed %.2fs, reported %.2fs", clip.ID, info.DurationSec, clip.DurationSec))
			}
		}
		if _, ok := metadata.Clips[clip.ID]; !ok {
			doc.Issues = append(doc.Issues, fmt.Sprintf("clip %s has no metadata", clip.ID))
		}
		if passed {
			doc.ClipsPassed++
		}
	}

	if doc.ClipsChecked > 0 && doc.ClipsPassed == 0 {
		return Hard("every rendered clip failed verification"), nil
	}
	if len(doc.Issues) > 0 {
		return Soft(strings.Join(doc.Issues, "; "), doc), nil
	}
	return Success(doc), nil
}
