package stage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/cascade/internal/scheduler"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// Schedule assigns each rendered clip a publishing slot per platform by
// Thompson-sampling the posting-time bandit, subject to the weekly
// cadence caps.
type Schedule struct{}

// ScheduleDoc is the schedule stage's primary document.
type ScheduleDoc struct {
	Slots []types.Slot `json:"slots"`
}

func (s *Schedule) Name() string { return "schedule" }
func (s *Schedule) Inputs() []string {
	return []string{"qa", store.ArtifactScoredClips, "shorts"}
}
func (s *Schedule) Output() string { return store.ArtifactSchedule }

func (s *Schedule) Run(ctx context.Context, env *Env) (*Outcome, error) {
	var shorts ShortsDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "shorts", &shorts); err != nil {
		return nil, fmt.Errorf("failed to read shorts document: %w", err)
	}
	if len(shorts.Clips) == 0 {
		return Hard("no rendered clips to schedule"), nil
	}

	scored, err := store.GetClips(ctx, env.Store, env.Recording.ID, store.ArtifactScoredClips)
	if err != nil {
		return nil, fmt.Errorf("failed to read scored clips: %w", err)
	}
	contentTypes := make(map[string]string, len(scored.Clips))
	for _, clip := range scored.Clips {
		contentTypes[clip.ID] = clip.ContentType
	}

	bandit := scheduler.New(env.Store, env.Config.PublishHours)
	cadence := scheduler.Cadence(env.Config.CadenceByWeekday())
	allDays := []time.Weekday{
		time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
		time.Thursday, time.Friday, time.Saturday,
	}

	doc := ScheduleDoc{Slots: []types.Slot{}}
	var warnings []string
	for _, platform := range env.Config.Platforms {
		// Clips sharing a content type draw from the same bandit, so
		// group them and select each group's slots in one pass.
		byType := make(map[string][]string)
		for _, clip := range shorts.Clips {
			ct := contentTypes[clip.ID]
			byType[ct] = append(byType[ct], clip.ID)
		}
		for contentType, clipIDs := range byType {
			slots, err := bandit.Select(ctx, platform, contentType, allDays, cadence, len(clipIDs))
			if err != nil {
				return nil, fmt.Errorf("slot selection failed for %s: %w", platform, err)
			}
			if len(slots) < len(clipIDs) {
				warnings = append(warnings, fmt.Sprintf("%s: cadence caps left %d clips unscheduled", platform, len(clipIDs)-len(slots)))
			}
			for i := range slots {
				slots[i].ClipID = clipIDs[i]
			}
			doc.Slots = append(doc.Slots, slots...)
		}
	}

	if len(doc.Slots) == 0 {
		return Hard("cadence configuration permits no slots"), nil
	}
	if len(warnings) > 0 {
		return Soft(strings.Join(warnings, "; "), doc), nil
	}
	return Success(doc), nil
}
