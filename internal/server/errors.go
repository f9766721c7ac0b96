// Package server provides the HTTP control plane for the cascade pipeline.
package server

import (
	"fmt"
	"net/http"
)

// ErrRecordingNotFound indicates the recording does not exist
type ErrRecordingNotFound struct {
	ID string
}

func (e *ErrRecordingNotFound) Error() string {
	return fmt.Sprintf("recording not found: %s", e.ID)
}

// ErrArtifactNotFound indicates the artifact has never been committed
type ErrArtifactNotFound struct {
	Recording string
	Artifact  string
}

func (e *ErrArtifactNotFound) Error() string {
	return fmt.Sprintf("artifact %s not found for recording %s", e.Artifact, e.Recording)
}

// ErrClipNotFound indicates the clip candidate does not exist
type ErrClipNotFound struct {
	ID string
}

func (e *ErrClipNotFound) Error() string {
	return fmt.Sprintf("clip not found: %s", e.ID)
}

// ErrStageUnknown indicates a stage name outside the registered graph
type ErrStageUnknown struct {
	Stage string
}

func (e *ErrStageUnknown) Error() string {
	return fmt.Sprintf("unknown stage: %s", e.Stage)
}

// ErrNotEditable indicates approval was attempted before the editable
// fields were filled in
type ErrNotEditable struct{}

func (e *ErrNotEditable) Error() string {
	return "recording needs a name and description before approval"
}

// ErrNotReviewable indicates approval was attempted while the recording
// was not in a reviewable state (still queued, processing, or blocked)
type ErrNotReviewable struct {
	Status string
}

func (e *ErrNotReviewable) Error() string {
	return fmt.Sprintf("recording cannot be approved while %s", e.Status)
}

// ErrRecordingBusy indicates the recording already has a queued or
// running execution
type ErrRecordingBusy struct {
	ID string
}

func (e *ErrRecordingBusy) Error() string {
	return fmt.Sprintf("recording is already running: %s", e.ID)
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	switch err.(type) {
	case *ErrRecordingNotFound, *ErrArtifactNotFound, *ErrClipNotFound, *ErrStageUnknown:
		return http.StatusNotFound
	case *ErrNotEditable, *ErrNotReviewable, *ErrRecordingBusy:
		return http.StatusConflict
	case *ErrValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
