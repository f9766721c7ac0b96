package pipeline

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Stage       string  `json:"stage,omitempty"`
	Category    string  `json:"category"`
	Message     string  `json:"message"`
	RecordingID string  `json:"recording_id,omitempty"`
	ElapsedSec  float64 `json:"elapsed_seconds,omitempty"`
	Content     any     `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Progress event categories
const (
	CategoryStageStart    = "stage_start"
	CategoryStageComplete = "stage_complete"
	CategoryStageWarning  = "stage_warning"
	CategoryStageError    = "stage_error"
	CategoryStageBlocked  = "stage_blocked"
	CategoryStageSkipped  = "stage_skipped"
	CategoryPipeline      = "pipeline"
)
