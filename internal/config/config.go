// Package config provides configuration loading and validation for the CLI
// and server. Values merge in order: built-in defaults, then the JSON config
// file, then CLI flags.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/cascade/internal/scoring"
)

// Config represents the pipeline configuration that can be loaded from a
// JSON file. All fields are optional; missing values use defaults.
type Config struct {
	// Storage
	StoreDir    string `json:"store_dir,omitempty"`    // Filesystem store root
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL store (overrides StoreDir when set)

	// External services
	APIKey string `json:"api_key,omitempty"` // Gemini API key

	// Executor
	Workers int `json:"workers,omitempty" validate:"omitempty,min=1,max=64"` // Bounded worker pool size

	// Segmentation
	FrameSeconds      float64 `json:"frame_seconds,omitempty" validate:"omitempty,gt=0,lte=1"`
	SpeechMarginDB    float64 `json:"speech_margin_db,omitempty" validate:"omitempty,gt=0,lte=60"`
	MinSegmentSeconds float64 `json:"min_segment_seconds,omitempty" validate:"omitempty,gt=0"`

	// Audio-layout gate: channels correlating above this are treated as
	// copied (non-stereo) content and segmentation is skipped.
	ChannelSimilarity float64 `json:"channel_similarity,omitempty" validate:"omitempty,gt=0,lte=1"`

	// Clip mining / scoring
	ClipMinSeconds    float64            `json:"clip_min_seconds,omitempty" validate:"omitempty,gt=0"`
	ClipMaxSeconds    float64            `json:"clip_max_seconds,omitempty" validate:"omitempty,gt=0"`
	MaxClipCandidates int                `json:"max_clip_candidates,omitempty" validate:"omitempty,min=1,max=50"`
	OverlapThreshold  float64            `json:"overlap_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
	Weights           map[string]float64 `json:"fusion_weights,omitempty"`

	// Scheduling
	Platforms    []string       `json:"platforms,omitempty"`
	PublishHours []int          `json:"publish_hours,omitempty" validate:"omitempty,dive,min=0,max=23"`
	Cadence      map[string]int `json:"cadence,omitempty" validate:"omitempty,dive,min=0,max=10"`

	// Server
	Port int `json:"port,omitempty" validate:"omitempty,min=1,max=65535"`

	Verbose bool `json:"verbose,omitempty"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		StoreDir:          "cascade-data",
		Workers:           4,
		FrameSeconds:      0.1,
		SpeechMarginDB:    12,
		MinSegmentSeconds: 2.0,
		ChannelSimilarity: 0.98,
		ClipMinSeconds:    20,
		ClipMaxSeconds:    90,
		MaxClipCandidates: 10,
		OverlapThreshold:  0.5,
		Weights:           scoring.DefaultWeights(),
		Platforms:         []string{"youtube"},
		PublishHours:      []int{9, 12, 15, 18, 21},
		Cadence: map[string]int{
			"Monday": 1, "Tuesday": 1, "Wednesday": 1, "Thursday": 1,
			"Friday": 2, "Saturday": 2, "Sunday": 2,
		},
		Port: 8080,
	}
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration has valid values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.ClipMinSeconds > 0 && c.ClipMaxSeconds > 0 && c.ClipMinSeconds >= c.ClipMaxSeconds {
		return fmt.Errorf("config error: 'clip_min_seconds' must be below 'clip_max_seconds'")
	}

	if len(c.Weights) > 0 {
		sum := 0.0
		for name, w := range c.Weights {
			if w < 0 {
				return fmt.Errorf("config error: fusion weight %q is negative", name)
			}
			sum += w
		}
		if math.Abs(sum-1) > 1e-6 {
			return fmt.Errorf("config error: fusion weights sum to %v, want 1", sum)
		}
	}

	for day := range c.Cadence {
		if _, ok := weekdayNames[day]; !ok {
			return fmt.Errorf("config error: unknown cadence weekday %q", day)
		}
	}
	return nil
}

// MergeWithDefaults returns a new Config with unset fields filled from
// defaults. Bool fields are not merged; CLI flags always win for those.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.StoreDir == "" {
		result.StoreDir = defaults.StoreDir
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}
	if result.FrameSeconds == 0 {
		result.FrameSeconds = defaults.FrameSeconds
	}
	if result.SpeechMarginDB == 0 {
		result.SpeechMarginDB = defaults.SpeechMarginDB
	}
	if result.MinSegmentSeconds == 0 {
		result.MinSegmentSeconds = defaults.MinSegmentSeconds
	}
	if result.ChannelSimilarity == 0 {
		result.ChannelSimilarity = defaults.ChannelSimilarity
	}
	if result.ClipMinSeconds == 0 {
		result.ClipMinSeconds = defaults.ClipMinSeconds
	}
	if result.ClipMaxSeconds == 0 {
		result.ClipMaxSeconds = defaults.ClipMaxSeconds
	}
	if result.MaxClipCandidates == 0 {
		result.MaxClipCandidates = defaults.MaxClipCandidates
	}
	if result.OverlapThreshold == 0 {
		result.OverlapThreshold = defaults.OverlapThreshold
	}
	if len(result.Weights) == 0 {
		result.Weights = defaults.Weights
	}
	if len(result.Platforms) == 0 {
		result.Platforms = defaults.Platforms
	}
	if len(result.PublishHours) == 0 {
		result.PublishHours = defaults.PublishHours
	}
	if len(result.Cadence) == 0 {
		result.Cadence = defaults.Cadence
	}
	if result.Port == 0 {
		result.Port = defaults.Port
	}
	return result
}

var weekdayNames = map[string]time.Weekday{
	"Sunday":    time.Sunday,
	"Monday":    time.Monday,
	"Tuesday":   time.Tuesday,
	"Wednesday": time.Wednesday,
	"Thursday":  time.Thursday,
	"Friday":    time.Friday,
	"Saturday":  time.Saturday,
}

// CadenceByWeekday converts the JSON cadence map (weekday names) to the
// scheduler's keyed form. Unknown names were rejected by Validate.
func (c *Config) CadenceByWeekday() map[time.Weekday]int {
	out := make(map[time.Weekday]int, len(c.Cadence))
	for name, n := range c.Cadence {
		if day, ok := weekdayNames[name]; ok {
			out[day] = n
		}
	}
	return out
}
