package types

// ReviewStatus tracks human review of a clip candidate.
type ReviewStatus string

// Clip review states
const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Score channel names. Each channel is computed by an independent upstream
// collaborator; the fusion engine only combines them.
const (
	ChannelLLMVirality     = "llm_virality"
	ChannelQuotability     = "quotability"
	ChannelAudioEnergy     = "audio_energy"
	ChannelSpeakerDynamics = "speaker_dynamics"
	ChannelBoundaryQuality = "boundary_quality"
)

// ClipCandidate is a scored sub-range of a recording proposed for
// short-form publication. Review status is mutated by human actions only;
// re-scoring produces a new candidate set rather than touching this one.
type ClipCandidate struct {
	ID          string             `json:"id"`
	Start       float64            `json:"start_seconds"`
	End         float64            `json:"end_seconds"`
	Title       string             `json:"title,omitempty"`
	Hook        string             `json:"hook_text,omitempty"`
	Reason      string             `json:"compelling_reason,omitempty"`
	Speaker     Speaker            `json:"speaker,omitempty"`
	Scores      map[string]float64 `json:"scores,omitempty"`
	Fused       float64            `json:"fused_score"`
	Rank        int                `json:"rank,omitempty"`
	Status      ReviewStatus       `json:"status"`
	ContentType string             `json:"content_type,omitempty"`
	Manual      bool               `json:"manual,omitempty"`
}

// Duration returns the clip length in seconds.
func (c ClipCandidate) Duration() float64 {
	return c.End - c.Start
}

// ClipSet is the committed output of the clip mining and scoring stages.
type ClipSet struct {
	Clips     []ClipCandidate `json:"clips"`
	ClipCount int             `json:"clip_count"`
	ModelUsed string          `json:"model_used,omitempty"`
}
