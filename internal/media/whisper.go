package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/cascade/internal/types"
)

// Whisper transcribes media by shelling out to a whisper.cpp binary with
// JSON output. The input is first downmixed to 16 kHz mono WAV, the only
// format whisper.cpp accepts.
type Whisper struct {
	// BinPath is the whisper.cpp executable. Defaults to "whisper-cli".
	BinPath string
	// ModelPath is the ggml model file. Required.
	ModelPath string
	// Language hints the decoder; empty means auto-detect.
	Language string
	// Timeout bounds one transcription run. The zero value gets a default.
	Timeout time.Duration

	FFmpeg *FFmpeg
}

const defaultTranscribeTimeout = 4 * time.Hour

func (w *Whisper) bin() string {
	if w.BinPath != "" {
		return w.BinPath
	}
	return "whisper-cli"
}

// whisperJSON mirrors the fields of whisper.cpp's -oj output this adapter
// reads. Offsets are milliseconds from the start of the input.
type whisperJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// Transcribe converts the input, runs whisper.cpp, and parses the JSON
// transcript. Utterances carry no speaker labels; attribution happens
// downstream against the committed segments.
func (w *Whisper) Transcribe(ctx context.Context, mediaPath string) (*types.Transcript, error) {
	if w.ModelPath == "" {
		return nil, fmt.Errorf("whisper model path is required")
	}
	if _, err := os.Stat(w.ModelPath); err != nil {
		return nil, fmt.Errorf("cannot access whisper model: %w", err)
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = defaultTranscribeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tmpDir, err := os.MkdirTemp("", "whisper-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp workspace: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	ff := w.FFmpeg
	if ff == nil {
		ff = &FFmpeg{}
	}
	wav := filepath.Join(tmpDir, "mono16k.wav")
	if err := ff.run(ctx, "-i", mediaPath, "-ac", "1", "-ar", "16000", "-c:a", "pcm_s16le", wav); err != nil {
		return nil, fmt.Errorf("audio conversion failed: %w", err)
	}

	outBase := filepath.Join(tmpDir, "transcript")
	args := []string{"-m", w.ModelPath, "-f", wav, "-oj", "-of", outBase}
	if w.Language != "" {
		args = append(args, "-l", w.Language)
	}
	cmd := exec.CommandContext(ctx, w.bin(), args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 500 {
			msg = msg[len(msg)-500:]
		}
		return nil, fmt.Errorf("whisper failed: %w: %s", err, msg)
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("whisper completed but transcript JSON is missing: %w", err)
	}
	return parseWhisperJSON(data)
}

func parseWhisperJSON(data []byte) (*types.Transcript, error) {
	var raw whisperJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse whisper output: %w", err)
	}

	t := &types.Transcript{Language: raw.Result.Language}
	for _, seg := range raw.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		t.Utterances = append(t.Utterances, types.Utterance{
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  text,
		})
	}
	return t, nil
}
