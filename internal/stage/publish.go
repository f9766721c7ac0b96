package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonathan/cascade/internal/store"
)

// Publish uploads the scheduled clips to their platforms. The stage is
// non-critical: upload failures and a missing uploader are reported but
// never block the rest of the pipeline.
type Publish struct{}

// PublishDoc is the publish stage's primary document.
type PublishDoc struct {
	Uploads []UploadRecord `json:"uploads"`
}

// UploadRecord is one attempted upload.
type UploadRecord struct {
	ClipID   string `json:"clip_id"`
	Platform string `json:"platform"`
	VideoID  string `json:"video_id,omitempty"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Publish) Name() string { return "publish" }
func (s *Publish) Inputs() []string {
	return []string{store.ArtifactSchedule, "shorts", "metadata"}
}
func (s *Publish) Output() string { return "publish" }

func (s *Publish) Run(ctx context.Context, env *Env) (*Outcome, error) {
	if env.Uploader == nil {
		return Soft("no uploader configured; clips remain local", PublishDoc{Uploads: []UploadRecord{}}), nil
	}

	var schedule ScheduleDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, store.ArtifactSchedule, &schedule); err != nil {
		return nil, fmt.Errorf("failed to read schedule: %w", err)
	}
	var shorts ShortsDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "shorts", &shorts); err != nil {
		return nil, fmt.Errorf("failed to read shorts document: %w", err)
	}
	var metadata MetadataDoc
	if _, err := store.GetJSON(ctx, env.Store, env.Recording.ID, "metadata", &metadata); err != nil {
		return nil, fmt.Errorf("failed to read metadata document: %w", err)
	}

	paths := make(map[string]string, len(shorts.Clips))
	for _, clip := range shorts.Clips {
		paths[clip.ID] = clip.Path
	}

	doc := PublishDoc{Uploads: []UploadRecord{}}
	var failures []string
	for _, slot := range schedule.Slots {
		if slot.ClipID == "" {
			continue
		}
		record := UploadRecord{ClipID: slot.ClipID, Platform: slot.Platform}
		path, ok := paths[slot.ClipID]
		if !ok {
			record.Error = "no rendered file for clip"
			failures = append(failures, fmt.Sprintf("clip %s: %s", slot.ClipID, record.Error))
			doc.Uploads = append(doc.Uploads, record)
			continue
		}

		req := UploadRequest{Platform: slot.Platform, Path: path}
		if meta, ok := metadata.Clips[slot.ClipID][slot.Platform]; ok {
			req.Title = meta.Title
			req.Description = meta.Caption
			req.Tags = meta.Hashtags
		}
		result, err := env.Uploader.Upload(ctx, req)
		if err != nil {
			record.Error = err.Error()
			failures = append(failures, fmt.Sprintf("clip %s on %s: %v", slot.ClipID, slot.Platform, err))
		} else {
			record.VideoID = result.VideoID
			record.URL = result.URL
		}
		doc.Uploads = append(doc.Uploads, record)
	}

	if len(failures) > 0 {
		return Soft(strings.Join(failures, "; "), doc), nil
	}
	return Success(doc), nil
}
