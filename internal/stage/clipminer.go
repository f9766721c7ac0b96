package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/cascade/internal/llm"
	"github.com/jonathan/cascade/internal/prompts"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// ClipMiner asks the LLM for candidate clip moments over the transcript,
// snaps their boundaries to nearby low-energy frames, and attaches the
// dominant speaker plus the locally computable score channels. It also
// extracts episode facts into the recording's empty editable fields.
type ClipMiner struct{}

// snapToleranceSec bounds how far a candidate boundary may move to reach
// a quiet frame.
const snapToleranceSec = 1.5

type minedClip struct {
	Start       float64            `json:"start_seconds"`
	End         float64            `json:"end_seconds"`
	Title       string             `json:"title"`
	Hook        string             `json:"hook_text"`
	Reason      string             `json:"compelling_reason"`
	Scores      map[string]float64 `json:"scores"`
	ContentType string             `json:"content_type"`
}

type minedResponse struct {
	Clips []minedClip `json:"clips"`
}

type episodeInfo struct {
	EpisodeName        string `json:"episode_name"`
	EpisodeDescription string `json:"episode_description"`
	GuestName          string `json:"guest_name"`
}

func (s *ClipMiner) Name() string { return "clip_miner" }
func (s *ClipMiner) Inputs() []string {
	return []string{store.ArtifactTranscript, store.ArtifactSegments, store.ArtifactRMS}
}
func (s *ClipMiner) Output() string { return store.ArtifactClips }

func (s *ClipMiner) Run(ctx context.Context, env *Env) (*Outcome, error) {
	if env.LLM == nil {
		return Hard("no LLM client configured"), nil
	}

	transcript, err := store.GetTranscript(ctx, env.Store, env.Recording.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript artifact: %w", err)
	}
	segments, err := store.GetSegments(ctx, env.Store, env.Recording.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read segments artifact: %w", err)
	}
	rms, err := store.GetRMS(ctx, env.Store, env.Recording.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read rms artifact: %w", err)
	}

	formatted := formatTranscript(transcript)

	mined, err := s.mineCandidates(ctx, env, formatted)
	if err != nil {
		return Hard(fmt.Sprintf("clip mining failed: %v", err)), nil
	}

	var warnings []string
	update, err := s.episodeUpdate(ctx, env, formatted)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("episode info extraction failed: %v", err))
	}

	set := types.ClipSet{ModelUsed: string(llm.TierAdvanced)}
	imprecise := 0
	for _, m := range mined {
		start, okStart := snapBoundary(m.Start, rms)
		end, okEnd := snapBoundary(m.End, rms)
		if !okStart || !okEnd {
			imprecise++
		}
		if end-start < env.Config.ClipMinSeconds || end-start > env.Config.ClipMaxSeconds {
			continue
		}
		if end > env.Recording.DurationSec {
			end = env.Recording.DurationSec
		}

		clip := types.ClipCandidate{
			ID:          uuid.New().String(),
			Start:       start,
			End:         end,
			Title:       m.Title,
			Hook:        m.Hook,
			Reason:      m.Reason,
			Speaker:     dominantSpeaker(segments.Segments, start, end),
			Scores:      m.Scores,
			Status:      types.ReviewPending,
			ContentType: m.ContentType,
		}
		if clip.Scores == nil {
			clip.Scores = make(map[string]float64)
		}
		clip.Scores[types.ChannelAudioEnergy] = audioEnergyScore(rms, start, end)
		clip.Scores[types.ChannelSpeakerDynamics] = speakerDynamicsScore(segments.Segments, start, end)
		set.Clips = append(set.Clips, clip)

		if len(set.Clips) >= env.Config.MaxClipCandidates {
			break
		}
	}
	set.ClipCount = len(set.Clips)

	if len(set.Clips) == 0 {
		return Hard("no usable clip candidates within duration bounds"), nil
	}
	if imprecise > 0 {
		warnings = append(warnings, fmt.Sprintf("%d clip boundaries had no quiet frame within %.1fs", imprecise, snapToleranceSec))
	}
	out := Success(set)
	if len(warnings) > 0 {
		out = Soft(strings.Join(warnings, "; "), set)
	}
	out.Update = update
	return out, nil
}

func (s *ClipMiner) mineCandidates(ctx context.Context, env *Env, formatted string) ([]minedClip, error) {
	prompt, err := prompts.Render("clips.json", "mine_candidates", map[string]string{
		"Transcript":    formatted,
		"MaxCandidates": fmt.Sprintf("%d", env.Config.MaxClipCandidates),
		"MinSeconds":    fmt.Sprintf("%.0f", env.Config.ClipMinSeconds),
		"MaxSeconds":    fmt.Sprintf("%.0f", env.Config.ClipMaxSeconds),
	})
	if err != nil {
		return nil, err
	}

	raw, err := env.LLM.GenerateJSON(ctx, prompt, llm.TierAdvanced)
	if err != nil {
		return nil, err
	}
	var resp minedResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("unparseable mining response: %w", err)
	}
	if len(resp.Clips) == 0 {
		return nil, fmt.Errorf("mining response contained no clips")
	}
	return resp.Clips, nil
}

// episodeUpdate extracts episode facts from the transcript and reports
// them as a recording update. The executor only fills fields the operator
// has not already set.
func (s *ClipMiner) episodeUpdate(ctx context.Context, env *Env, formatted string) (*RecordingUpdate, error) {
	if env.Recording.Name != "" && env.Recording.Description != "" {
		return nil, nil
	}
	prompt, err := prompts.Render("clips.json", "episode_info", map[string]string{
		"Transcript": formatted,
	})
	if err != nil {
		return nil, err
	}
	raw, err := env.LLM.GenerateJSON(ctx, prompt, llm.TierStandard)
	if err != nil {
		return nil, err
	}
	var info episodeInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("unparseable episode info: %w", err)
	}
	return &RecordingUpdate{Name: info.EpisodeName, Description: info.EpisodeDescription}, nil
}

func formatTranscript(t *types.Transcript) string {
	var sb strings.Builder
	for _, u := range t.Utterances {
		fmt.Fprintf(&sb, "[%.1f-%.1f] %s: %s\n", u.Start, u.End, u.Speaker, u.Text)
	}
	return sb.String()
}

// snapBoundary moves a boundary to the quietest frame within the snap
// tolerance. Reports false when every nearby frame is loud, which leaves
// the original boundary in place but flags the clip as imprecise.
func snapBoundary(t float64, rms *store.RMSData) (float64, bool) {
	if rms.FrameSeconds <= 0 || len(rms.LeftDB) == 0 {
		return t, false
	}
	frames := len(rms.LeftDB)
	if len(rms.RightDB) < frames {
		frames = len(rms.RightDB)
	}

	center := int(t / rms.FrameSeconds)
	radius := int(snapToleranceSec / rms.FrameSeconds)
	lo, hi := center-radius, center+radius
	if lo < 0 {
		lo = 0
	}
	if hi >= frames {
		hi = frames - 1
	}
	if lo > hi {
		return t, false
	}

	best, bestDB := -1, math.Inf(1)
	for i := lo; i <= hi; i++ {
		frameDB := math.Max(rms.LeftDB[i], rms.RightDB[i])
		if frameDB < bestDB {
			best, bestDB = i, frameDB
		}
	}

	// A "quiet" frame sits well below the window's loudest frame;
	// otherwise the whole window is continuous speech.
	loudest := math.Inf(-1)
	for i := lo; i <= hi; i++ {
		loudest = math.Max(loudest, math.Max(rms.LeftDB[i], rms.RightDB[i]))
	}
	if loudest-bestDB < 6 {
		return t, false
	}
	return float64(best) * rms.FrameSeconds, true
}

// dominantSpeaker returns the label covering the most time in [start, end).
func dominantSpeaker(segments []types.Segment, start, end float64) types.Speaker {
	coverage := make(map[types.Speaker]float64)
	for _, seg := range segments {
		overlap := math.Min(seg.End, end) - math.Max(seg.Start, start)
		if overlap > 0 {
			coverage[seg.Speaker] += overlap
		}
	}
	best, bestCover := types.SpeakerBoth, 0.0
	for speaker, cover := range coverage {
		if cover > bestCover {
			best, bestCover = speaker, cover
		}
	}
	return best
}

// audioEnergyScore maps the clip's mean frame energy onto [0, 1] relative
// to the whole recording's energy range.
func audioEnergyScore(rms *store.RMSData, start, end float64) float64 {
	if rms.FrameSeconds <= 0 || len(rms.LeftDB) == 0 {
		return 0
	}
	frames := len(rms.LeftDB)
	if len(rms.RightDB) < frames {
		frames = len(rms.RightDB)
	}

	minDB, maxDB := math.Inf(1), math.Inf(-1)
	for i := 0; i < frames; i++ {
		db := math.Max(rms.LeftDB[i], rms.RightDB[i])
		minDB = math.Min(minDB, db)
		maxDB = math.Max(maxDB, db)
	}
	if maxDB <= minDB {
		return 0
	}

	lo := int(start / rms.FrameSeconds)
	hi := int(end / rms.FrameSeconds)
	if lo < 0 {
		lo = 0
	}
	if hi > frames {
		hi = frames
	}
	if lo >= hi {
		return 0
	}
	sum := 0.0
	for i := lo; i < hi; i++ {
		sum += math.Max(rms.LeftDB[i], rms.RightDB[i])
	}
	mean := sum / float64(hi-lo)
	return (mean - minDB) / (maxDB - minDB)
}

// speakerDynamicsScore rewards turn-taking: speaker changes per minute,
// saturating at ten.
func speakerDynamicsScore(segments []types.Segment, start, end float64) float64 {
	if end <= start {
		return 0
	}
	changes := 0
	var prev types.Speaker
	for _, seg := range segments {
		if seg.End <= start || seg.Start >= end {
			continue
		}
		if prev != "" && seg.Speaker != prev {
			changes++
		}
		prev = seg.Speaker
	}
	perMinute := float64(changes) / ((end - start) / 60)
	score := perMinute / 10
	if score > 1 {
		score = 1
	}
	return score
}
