package analytics

import (
	"context"
	"fmt"

	"google.golang.org/api/option"
	youtube "google.golang.org/api/youtube/v3"
)

// YouTubeSource fetches engagement counters from the YouTube Data API.
type YouTubeSource struct {
	svc *youtube.Service
}

// NewYouTubeSource creates a stats source backed by the YouTube Data API.
func NewYouTubeSource(ctx context.Context, apiKey string) (*YouTubeSource, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("youtube api key is empty")
	}
	svc, err := youtube.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	return &YouTubeSource{svc: svc}, nil
}

// VideoStats fetches the statistics part for up to 50 video IDs per call,
// the API's page limit.
func (y *YouTubeSource) VideoStats(ctx context.Context, videoIDs []string) (map[string]VideoStats, error) {
	out := make(map[string]VideoStats, len(videoIDs))
	for start := 0; start < len(videoIDs); start += 50 {
		end := start + 50
		if end > len(videoIDs) {
			end = len(videoIDs)
		}
		resp, err := y.svc.Videos.List([]string{"statistics"}).
			Id(videoIDs[start:end]...).
			Context(ctx).
			Do()
		if err != nil {
			return nil, fmt.Errorf("videos.list failed: %w", err)
		}
		for _, item := range resp.Items {
			if item.Statistics == nil {
				continue
			}
			out[item.Id] = VideoStats{
				Views:    int64(item.Statistics.ViewCount),
				Likes:    int64(item.Statistics.LikeCount),
				Comments: int64(item.Statistics.CommentCount),
			}
		}
	}
	return out, nil
}
