package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Ingest locates the raw recording files and probes them. The source may
// be a single file or a directory of parts recorded in sequence; parts
// are ordered lexically, which matches the recorder's timestamped names.
type Ingest struct{}

// SourceDoc is the ingest stage's primary document.
type SourceDoc struct {
	Files            []SourceFile `json:"files"`
	TotalDurationSec float64      `json:"total_duration_seconds"`
}

// SourceFile is one probed input file.
type SourceFile struct {
	Path        string  `json:"path"`
	DurationSec float64 `json:"duration_seconds"`
	HasAudio    bool    `json:"has_audio"`
}

var mediaExtensions = map[string]bool{
	".mp4": true, ".mkv": true, ".mov": true, ".webm": true,
	".wav": true, ".flac": true, ".m4a": true, ".mp3": true,
}

func (s *Ingest) Name() string     { return "ingest" }
func (s *Ingest) Inputs() []string { return nil }
func (s *Ingest) Output() string   { return "source" }

func (s *Ingest) Run(ctx context.Context, env *Env) (*Outcome, error) {
	src := env.Recording.SourcePath
	if src == "" {
		return Hard("recording has no source path"), nil
	}
	info, err := os.Stat(src)
	if err != nil {
		return Hard(fmt.Sprintf("source unreadable: %v", err)), nil
	}

	var paths []string
	if info.IsDir() {
		entries, err := os.ReadDir(src)
		if err != nil {
			return Hard(fmt.Sprintf("source directory unreadable: %v", err)), nil
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if mediaExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				paths = append(paths, filepath.Join(src, e.Name()))
			}
		}
		sort.Strings(paths)
	} else {
		paths = []string{src}
	}
	if len(paths) == 0 {
		return Hard(fmt.Sprintf("no media files found under %s", src)), nil
	}

	doc := SourceDoc{}
	for _, p := range paths {
		probe, err := env.Media.Probe(ctx, p)
		if err != nil {
			return Hard(fmt.Sprintf("probe failed for %s: %v", p, err)), nil
		}
		if !probe.HasAudio {
			return Hard(fmt.Sprintf("source file %s has no audio track", p)), nil
		}
		doc.Files = append(doc.Files, SourceFile{
			Path:        p,
			DurationSec: probe.DurationSec,
			HasAudio:    probe.HasAudio,
		})
		doc.TotalDurationSec += probe.DurationSec
	}

	return Success(doc), nil
}
