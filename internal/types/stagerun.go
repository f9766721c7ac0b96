package types

import (
	"time"

	"github.com/google/uuid"
)

// RunOutcome classifies the result a stage reports to the executor.
type RunOutcome string

// Stage run outcomes
const (
	OutcomeSuccess     RunOutcome = "success"
	OutcomeSoftFailure RunOutcome = "soft_failure"
	OutcomeHardFailure RunOutcome = "hard_failure"
	OutcomeBlocked     RunOutcome = "blocked"
)

// Usable reports whether the outcome leaves the stage's outputs consumable
// by dependents. Soft failures are flagged but usable.
func (o RunOutcome) Usable() bool {
	return o == OutcomeSuccess || o == OutcomeSoftFailure
}

// StageRun records one execution attempt of one stage for one recording.
// It is immutable once written; a re-run appends a new StageRun that
// supersedes the prior one for status purposes without deleting history.
type StageRun struct {
	ID          uuid.UUID  `json:"id"`
	RecordingID string     `json:"recording_id"`
	Stage       string     `json:"stage"`
	Outcome     RunOutcome `json:"outcome"`
	Message     string     `json:"message,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt time.Time  `json:"completed_at"`
	ElapsedSec  float64    `json:"elapsed_seconds"`

	// InputVersions captures the artifact store write counters of every
	// declared input as read at dispatch time. Freshness checks compare
	// these against current counters instead of hashing media files.
	InputVersions map[string]int64 `json:"input_versions,omitempty"`

	// Artifacts lists the artifact names this run committed.
	Artifacts []string `json:"artifacts,omitempty"`
}
