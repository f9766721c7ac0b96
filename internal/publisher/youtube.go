// Package publisher provides concrete platform adapters behind the
// pipeline's Uploader interface.
package publisher

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"

	"github.com/jonathan/cascade/internal/stage"
)

// YouTube uploads rendered clips via the YouTube Data API. Uploads need
// OAuth user credentials, not an API key.
type YouTube struct {
	svc *youtube.Service

	// PrivacyStatus for new uploads. Defaults to "private" so a bad run
	// never publishes publicly.
	PrivacyStatus string
}

// NewYouTube creates an uploader from an OAuth credentials file.
func NewYouTube(ctx context.Context, credentialsFile string) (*YouTube, error) {
	if credentialsFile == "" {
		return nil, fmt.Errorf("youtube credentials file is required")
	}
	svc, err := youtube.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(youtube.YoutubeUploadScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return &YouTube{svc: svc}, nil
}

// Upload publishes one rendered file. Only the youtube platform is
// supported; other platforms error so the publish stage records them as
// soft failures instead of silently dropping them.
func (y *YouTube) Upload(ctx context.Context, req stage.UploadRequest) (*stage.UploadResult, error) {
	if req.Platform != "youtube" {
		return nil, fmt.Errorf("unsupported platform: %s", req.Platform)
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", req.Path, err)
	}
	defer f.Close()

	privacy := y.PrivacyStatus
	if privacy == "" {
		privacy = "private"
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: req.Description,
			Tags:        req.Tags,
		},
		Status: &youtube.VideoStatus{PrivacyStatus: privacy},
	}

	resp, err := y.svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(f).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("youtube upload failed: %w", err)
	}

	return &stage.UploadResult{
		VideoID: resp.Id,
		URL:     "https://youtube.com/watch?v=" + resp.Id,
	}, nil
}
