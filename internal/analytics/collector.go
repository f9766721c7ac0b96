// Package analytics closes the feedback loop: it polls platform
// engagement for published clips, converts it to bandit rewards for the
// posting-time scheduler, and adapts the fusion weight vector toward the
// score channels that predicted real engagement.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jonathan/cascade/internal/scheduler"
	"github.com/jonathan/cascade/internal/scoring"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// VideoStats is one published video's raw engagement counters.
type VideoStats struct {
	Views    int64 `json:"views"`
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
}

// StatsSource fetches engagement counters for published video IDs.
// Implemented by the YouTube Data API adapter and by test fakes.
type StatsSource interface {
	VideoStats(ctx context.Context, videoIDs []string) (map[string]VideoStats, error)
}

// ClipReport ties one clip's engagement to the reward applied for it.
type ClipReport struct {
	ClipID   string     `json:"clip_id"`
	VideoID  string     `json:"video_id"`
	Platform string     `json:"platform"`
	Stats    VideoStats `json:"stats"`
	Reward   float64    `json:"reward"`
}

// Report is what one collection pass produced.
type Report struct {
	RecordingID    string             `json:"recording_id"`
	CollectedAt    time.Time          `json:"collected_at"`
	Clips          []ClipReport       `json:"clips"`
	WeightsUpdated bool               `json:"weights_updated"`
	Weights        map[string]float64 `json:"weights,omitempty"`
}

// Collector runs the feedback pass for a recording.
type Collector struct {
	store  store.Store
	source StatsSource
	bandit *scheduler.Bandit
}

// NewCollector builds a collector over the given store and stats source.
func NewCollector(s store.Store, source StatsSource, bandit *scheduler.Bandit) *Collector {
	return &Collector{store: s, source: source, bandit: bandit}
}

// Collect fetches engagement for every published clip of a recording,
// applies the rewards to the slot bandit, and re-derives the fusion
// weights from the score-channel/engagement correlation. Rewards are
// commutative, so running Collect repeatedly or late is safe for the
// bandit; each pass applies only the delta-free observation once per call.
func (c *Collector) Collect(ctx context.Context, recordingID string) (*Report, error) {
	var publish publishDoc
	if _, err := store.GetJSON(ctx, c.store, recordingID, "publish", &publish); err != nil {
		return nil, fmt.Errorf("failed to read publish artifact: %w", err)
	}
	var schedule scheduleDoc
	if _, err := store.GetJSON(ctx, c.store, recordingID, store.ArtifactSchedule, &schedule); err != nil {
		return nil, fmt.Errorf("failed to read schedule artifact: %w", err)
	}
	scored, err := store.GetClips(ctx, c.store, recordingID, store.ArtifactScoredClips)
	if err != nil {
		return nil, fmt.Errorf("failed to read scored clips: %w", err)
	}

	slots := make(map[string]types.Slot, len(schedule.Slots))
	for _, slot := range schedule.Slots {
		if slot.ClipID != "" {
			slots[slot.ClipID] = slot
		}
	}
	channelScores := make(map[string]map[string]float64, len(scored.Clips))
	for _, clip := range scored.Clips {
		channelScores[clip.ID] = clip.Scores
	}

	var videoIDs []string
	for _, up := range publish.Uploads {
		if up.VideoID != "" {
			videoIDs = append(videoIDs, up.VideoID)
		}
	}
	if len(videoIDs) == 0 {
		return &Report{RecordingID: recordingID, CollectedAt: time.Now()}, nil
	}

	stats, err := c.source.VideoStats(ctx, videoIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch video stats: %w", err)
	}

	report := &Report{RecordingID: recordingID, CollectedAt: time.Now()}
	var history []scoring.Observation
	for _, up := range publish.Uploads {
		vs, ok := stats[up.VideoID]
		if !ok {
			continue
		}
		reward := Reward(vs)
		report.Clips = append(report.Clips, ClipReport{
			ClipID:   up.ClipID,
			VideoID:  up.VideoID,
			Platform: up.Platform,
			Stats:    vs,
			Reward:   reward,
		})

		if slot, ok := slots[up.ClipID]; ok && c.bandit != nil {
			key := types.ArmKey{
				Platform:    slot.Platform,
				ContentType: slot.ContentType,
				Day:         slot.Day,
				Hour:        slot.Hour,
			}
			if err := c.bandit.Update(ctx, key, reward); err != nil {
				return nil, fmt.Errorf("failed to apply reward for clip %s: %w", up.ClipID, err)
			}
		}

		if scores, ok := channelScores[up.ClipID]; ok && len(scores) > 0 {
			history = append(history, scoring.Observation{Scores: scores, Engagement: reward})
		}
	}

	if len(history) > 0 {
		current, err := c.store.GetWeights(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read fusion weights: %w", err)
		}
		if len(current) == 0 {
			current = scoring.DefaultWeights()
		}
		adapted, err := scoring.AdaptWeights(current, history)
		if err != nil {
			return nil, fmt.Errorf("failed to adapt fusion weights: %w", err)
		}
		if err := c.store.PutWeights(ctx, adapted); err != nil {
			return nil, fmt.Errorf("failed to store fusion weights: %w", err)
		}
		report.WeightsUpdated = true
		report.Weights = adapted
	}

	return report, nil
}

// Reward maps raw engagement counters onto [0, 1]. Reach saturates
// logarithmically around a hundred thousand views; interaction rate
// counts a comment as two likes and saturates at one interaction per
// ten views.
func Reward(vs VideoStats) float64 {
	if vs.Views <= 0 {
		return 0
	}
	reach := math.Log10(float64(vs.Views)+1) / 5
	if reach > 1 {
		reach = 1
	}
	interactions := float64(vs.Likes+2*vs.Comments) / float64(vs.Views)
	rate := interactions * 10
	if rate > 1 {
		rate = 1
	}
	return 0.6*reach + 0.4*rate
}

// Mirror the executor-committed documents without importing the stage
// package; analytics only needs these fields.
type publishDoc struct {
	Uploads []struct {
		ClipID   string `json:"clip_id"`
		Platform string `json:"platform"`
		VideoID  string `json:"video_id"`
	} `json:"uploads"`
}

type scheduleDoc struct {
	Slots []types.Slot `json:"slots"`
}
