package types

// Speaker identifies which channel (or both) is active in a segment.
type Speaker string

// Speaker labels. Both-labeled segments represent simultaneous speech and
// always render as a wide shot; they are never reinterpreted as
// single-speaker even when one channel dominates acoustically.
const (
	SpeakerLeft  Speaker = "left"
	SpeakerRight Speaker = "right"
	SpeakerBoth  Speaker = "both"
)

// Segment is a labeled time range over a recording's timeline. Committed
// segments partition [0, duration) with no gaps or overlaps.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker Speaker `json:"speaker"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// SegmentSet is the committed output of the speaker segmentation stage.
type SegmentSet struct {
	Segments          []Segment `json:"segments"`
	DurationSec       float64   `json:"duration_seconds"`
	ChannelsIdentical bool      `json:"channels_identical"`
	FrameCount        int       `json:"frame_count,omitempty"`
}
