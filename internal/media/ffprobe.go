// Package media wraps the external ffmpeg/ffprobe binaries behind narrow,
// context-aware helpers. Every invocation carries a bounded timeout; a
// timeout surfaces as an ordinary error for the calling stage to classify.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// ProbeInfo is the subset of ffprobe output the pipeline cares about.
type ProbeInfo struct {
	DurationSec float64
	Width       int
	Height      int
	AudioChans  int
	HasVideo    bool
	HasAudio    bool
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Channels  int    `json:"channels"`
	} `json:"streams"`
}

const probeTimeout = 30 * time.Second

// Probe inspects a media file with ffprobe.
func Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}

	info := &ProbeInfo{}
	if parsed.Format.Duration != "" {
		d, err := strconv.ParseFloat(parsed.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("unparseable duration %q for %s: %w", parsed.Format.Duration, path, err)
		}
		info.DurationSec = d
	}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			info.HasVideo = true
			if s.Width > info.Width {
				info.Width = s.Width
				info.Height = s.Height
			}
		case "audio":
			info.HasAudio = true
			if s.Channels > info.AudioChans {
				info.AudioChans = s.Channels
			}
		}
	}
	return info, nil
}
