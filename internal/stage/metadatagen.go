package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jonathan/cascade/internal/llm"
	"github.com/jonathan/cascade/internal/prompts"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// MetadataGen writes per-platform titles, captions, and hashtags for each
// candidate plus the longform episode metadata. A field exceeding its
// platform limit is truncated and surfaced as a soft failure.
type MetadataGen struct{}

// MetadataDoc is the metadata stage's primary document.
type MetadataDoc struct {
	Longform LongformMetadata                       `json:"longform"`
	Clips    map[string]map[string]PlatformMetadata `json:"clips"`
}

// LongformMetadata is the episode-level metadata.
type LongformMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// PlatformMetadata is one clip's metadata for one platform.
type PlatformMetadata struct {
	Title    string   `json:"title"`
	Caption  string   `json:"caption"`
	Hashtags []string `json:"hashtags"`
}

type platformLimits struct {
	title   int
	caption int
}

var limitsByPlatform = map[string]platformLimits{
	"youtube":   {title: 100, caption: 5000},
	"tiktok":    {title: 90, caption: 2200},
	"instagram": {title: 90, caption: 2200},
}

func defaultLimits() platformLimits { return platformLimits{title: 90, caption: 2200} }

// truncateRunes shortens s to at most limit characters, never splitting a
// multi-byte sequence. The second return reports whether anything was cut.
func truncateRunes(s string, limit int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= limit {
		return s, false
	}
	return string(runes[:limit]), true
}

func (s *MetadataGen) Name() string     { return "metadata_gen" }
func (s *MetadataGen) Inputs() []string { return []string{store.ArtifactScoredClips} }
func (s *MetadataGen) Output() string   { return "metadata" }

func (s *MetadataGen) Run(ctx context.Context, env *Env) (*Outcome, error) {
	if env.LLM == nil {
		return Hard("no LLM client configured"), nil
	}

	scored, err := store.GetClips(ctx, env.Store, env.Recording.ID, store.ArtifactScoredClips)
	if err != nil {
		return nil, fmt.Errorf("failed to read scored clips: %w", err)
	}

	doc := MetadataDoc{Clips: make(map[string]map[string]PlatformMetadata)}
	var warnings []string

	longform, err := s.longformMetadata(ctx, env)
	if err != nil {
		return Hard(fmt.Sprintf("longform metadata failed: %v", err)), nil
	}
	doc.Longform = *longform

	for _, clip := range scored.Clips {
		if clip.Status == types.ReviewRejected {
			continue
		}
		perPlatform := make(map[string]PlatformMetadata, len(env.Config.Platforms))
		for _, platform := range env.Config.Platforms {
			meta, err := s.clipMetadata(ctx, env, clip, platform)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("clip %s on %s: %v", clip.ID, platform, err))
				continue
			}
			limits, ok := limitsByPlatform[platform]
			if !ok {
				limits = defaultLimits()
			}
			if truncated, ok := truncateRunes(meta.Title, limits.title); ok {
				meta.Title = truncated
				warnings = append(warnings, fmt.Sprintf("clip %s: %s title exceeded %d chars, truncated", clip.ID, platform, limits.title))
			}
			if truncated, ok := truncateRunes(meta.Caption, limits.caption); ok {
				meta.Caption = truncated
				warnings = append(warnings, fmt.Sprintf("clip %s: %s caption exceeded %d chars, truncated", clip.ID, platform, limits.caption))
			}
			perPlatform[platform] = *meta
		}
		if len(perPlatform) > 0 {
			doc.Clips[clip.ID] = perPlatform
		}
	}

	if len(doc.Clips) == 0 && len(scored.Clips) > 0 {
		return Hard("metadata generation failed for every clip"), nil
	}
	if len(warnings) > 0 {
		return Soft(strings.Join(warnings, "; "), doc), nil
	}
	return Success(doc), nil
}

func (s *MetadataGen) longformMetadata(ctx context.Context, env *Env) (*LongformMetadata, error) {
	prompt, err := prompts.Render("metadata.json", "longform_metadata", map[string]string{
		"EpisodeName":        env.Recording.Name,
		"EpisodeDescription": env.Recording.Description,
		"GuestName":          "",
	})
	if err != nil {
		return nil, err
	}
	raw, err := env.LLM.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, err
	}
	var meta LongformMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("unparseable longform metadata: %w", err)
	}
	return &meta, nil
}

func (s *MetadataGen) clipMetadata(ctx context.Context, env *Env, clip types.ClipCandidate, platform string) (*PlatformMetadata, error) {
	limits, ok := limitsByPlatform[platform]
	if !ok {
		limits = defaultLimits()
	}
	prompt, err := prompts.Render("metadata.json", "platform_metadata", map[string]string{
		"Title":        clip.Title,
		"Hook":         clip.Hook,
		"Reason":       clip.Reason,
		"EpisodeName":  env.Recording.Name,
		"Platform":     platform,
		"TitleLimit":   fmt.Sprintf("%d", limits.title),
		"CaptionLimit": fmt.Sprintf("%d", limits.caption),
	})
	if err != nil {
		return nil, err
	}
	raw, err := env.LLM.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return nil, err
	}
	var meta PlatformMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("unparseable clip metadata: %w", err)
	}
	return &meta, nil
}
