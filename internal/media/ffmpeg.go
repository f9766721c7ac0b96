package media

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// FFmpeg runs media transforms by shelling out to the ffmpeg binary.
// Outputs are written to a temp name and renamed on success so a killed
// process never leaves a half-written file at the final path.
type FFmpeg struct {
	// Timeout bounds a single ffmpeg invocation. Long recordings need
	// generous headroom; the zero value gets a default.
	Timeout time.Duration
}

const defaultRenderTimeout = 2 * time.Hour

func (f *FFmpeg) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return defaultRenderTimeout
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", append([]string{"-hide_banner", "-y", "-v", "error"}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
	}
	return nil
}

// runTo renders to a sibling temp path, then renames into place.
func (f *FFmpeg) runTo(ctx context.Context, output string, args ...string) error {
	tmp := filepath.Join(filepath.Dir(output), ".tmp-"+filepath.Base(output))
	if err := f.run(ctx, append(args, tmp)...); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, output); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit %s: %w", output, err)
	}
	return nil
}

// Probe delegates to the package-level ffprobe helper.
func (f *FFmpeg) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	return Probe(ctx, path)
}

// Concat losslessly joins the input files in order into output.
func (f *FFmpeg) Concat(ctx context.Context, inputs []string, output string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no inputs to concat")
	}
	if len(inputs) == 1 {
		return f.runTo(ctx, output, "-i", inputs[0], "-c", "copy")
	}

	list := filepath.Join(filepath.Dir(output), ".concat-list.txt")
	var sb strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&sb, "file '%s'\n", strings.ReplaceAll(in, "'", `'\''`))
	}
	if err := os.WriteFile(list, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}
	defer os.Remove(list)

	return f.runTo(ctx, output, "-f", "concat", "-safe", "0", "-i", list, "-c", "copy")
}

// ExtractChannels splits the stereo audio track into two mono 16-bit PCM
// WAV files, one per channel, downsampled for energy analysis.
func (f *FFmpeg) ExtractChannels(ctx context.Context, input, leftWav, rightWav string) error {
	if err := f.runTo(ctx, leftWav,
		"-i", input, "-map", "0:a:0",
		"-af", "pan=mono|c0=FL",
		"-ar", "16000", "-acodec", "pcm_s16le",
	); err != nil {
		return fmt.Errorf("failed to extract left channel: %w", err)
	}
	if err := f.runTo(ctx, rightWav,
		"-i", input, "-map", "0:a:0",
		"-af", "pan=mono|c0=FR",
		"-ar", "16000", "-acodec", "pcm_s16le",
	); err != nil {
		return fmt.Errorf("failed to extract right channel: %w", err)
	}
	return nil
}

// RenderCrops produces the speaker-cut longform video: per segment, the
// active speaker's crop region (or the wide region for both) is scaled to
// the output frame, then all pieces are concatenated.
func (f *FFmpeg) RenderCrops(ctx context.Context, input string, segments []types.Segment, crop *store.CropConfig, output string) error {
	if len(segments) == 0 {
		return fmt.Errorf("no segments to render")
	}

	dir := filepath.Dir(output)
	pieces := make([]string, 0, len(segments))
	defer func() {
		for _, p := range pieces {
			os.Remove(p)
		}
	}()

	for i, seg := range segments {
		region := regionFor(seg.Speaker, crop)
		piece := filepath.Join(dir, fmt.Sprintf(".piece-%04d.mp4", i))
		filter := fmt.Sprintf("crop=%d:%d:%d:%d,scale=1080:1920",
			int(region.Width), int(region.Height), int(region.X), int(region.Y))
		if seg.Speaker == types.SpeakerBoth && crop.Wide == nil {
			// No wide region supplied: letterbox the full frame instead.
			filter = "scale=1080:-2,pad=1080:1920:0:(oh-ih)/2"
		}
		err := f.runTo(ctx, piece,
			"-ss", fmt.Sprintf("%.3f", seg.Start),
			"-to", fmt.Sprintf("%.3f", seg.End),
			"-i", input,
			"-vf", filter,
			"-c:a", "aac",
		)
		if err != nil {
			return fmt.Errorf("failed to render segment %d: %w", i, err)
		}
		pieces = append(pieces, piece)
	}

	return f.Concat(ctx, pieces, output)
}

// RenderClip cuts [start, end) out of input with a stream re-encode so
// cut points land exactly, not on the previous keyframe.
func (f *FFmpeg) RenderClip(ctx context.Context, input string, start, end float64, output string) error {
	if end <= start {
		return fmt.Errorf("invalid clip range [%.3f, %.3f)", start, end)
	}
	return f.runTo(ctx, output,
		"-ss", fmt.Sprintf("%.3f", start),
		"-to", fmt.Sprintf("%.3f", end),
		"-i", input,
		"-c:v", "libx264", "-preset", "fast",
		"-c:a", "aac",
	)
}

func regionFor(speaker types.Speaker, crop *store.CropConfig) store.CropRegion {
	switch speaker {
	case types.SpeakerLeft:
		return crop.Left
	case types.SpeakerRight:
		return crop.Right
	default:
		if crop.Wide != nil {
			return *crop.Wide
		}
		return store.CropRegion{}
	}
}
