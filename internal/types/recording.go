// Package types provides type definitions for structured data used throughout the cascade system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import "time"

// Status represents the lifecycle state of a recording. It is always
// derived from stage-run history plus explicit control flags; callers
// never set it directly.
type Status string

// Recording lifecycle states
const (
	StatusQueued         Status = "queued"
	StatusProcessing     Status = "processing"
	StatusAwaitingInput  Status = "awaiting_input"
	StatusReadyForReview Status = "ready_for_review"
	StatusApproved       Status = "approved"
	StatusCancelled      Status = "cancelled"
	StatusError          Status = "error"
)

// Recording represents one unit of work flowing through the pipeline.
// It is owned by the executor and mutated only through stage commits or
// explicit control calls.
type Recording struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	SourcePath  string    `json:"source_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	DurationSec float64   `json:"duration_seconds,omitempty"`

	// Human-editable fields; both must be non-empty before approval.
	Name        string `json:"name"`
	Description string `json:"description"`

	// RequestedStages is the stage set named by the most recent run call.
	RequestedStages []string `json:"requested_stages,omitempty"`

	// CompletedStages lists stages whose latest run committed a success
	// or soft-failure outcome.
	CompletedStages []string `json:"completed_stages,omitempty"`

	// CurrentStages lists stages currently executing.
	CurrentStages []string `json:"current_stages,omitempty"`

	// Errors maps a failed stage name to its last error message. A
	// message is only cleared when a later run of that stage supersedes it.
	Errors map[string]string `json:"errors,omitempty"`

	// Soft maps a stage name to its usable-but-flagged warning message.
	Soft map[string]string `json:"soft_failures,omitempty"`

	// BlockedStage names the gated stage awaiting external input, if any.
	BlockedStage string `json:"blocked_stage,omitempty"`

	CancelRequested bool       `json:"cancel_requested,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
}

// StageCompleted reports whether the named stage is in the completed set.
func (r *Recording) StageCompleted(name string) bool {
	for _, s := range r.CompletedStages {
		if s == name {
			return true
		}
	}
	return false
}

// Editable reports whether both human-editable fields are set, which
// gates the approved transition.
func (r *Recording) Editable() bool {
	return r.Name != "" && r.Description != ""
}

// Clone returns a deep copy. Stages receive clones so concurrent
// siblings never share a struct with the executor's bookkeeping.
func (r *Recording) Clone() *Recording {
	c := *r
	c.RequestedStages = append([]string(nil), r.RequestedStages...)
	c.CompletedStages = append([]string(nil), r.CompletedStages...)
	c.CurrentStages = append([]string(nil), r.CurrentStages...)
	if r.Errors != nil {
		c.Errors = make(map[string]string, len(r.Errors))
		for k, v := range r.Errors {
			c.Errors[k] = v
		}
	}
	if r.Soft != nil {
		c.Soft = make(map[string]string, len(r.Soft))
		for k, v := range r.Soft {
			c.Soft[k] = v
		}
	}
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		c.ApprovedAt = &t
	}
	return &c
}
