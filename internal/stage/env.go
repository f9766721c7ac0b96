// Package stage defines the stage contract and the fourteen pipeline
// stages. A stage is a pure function of its declared input artifacts plus
// external collaborators; its only visible side effect is artifact writes.
package stage

import (
	"context"

	"github.com/jonathan/cascade/internal/config"
	"github.com/jonathan/cascade/internal/llm"
	"github.com/jonathan/cascade/internal/media"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// MediaRunner is implemented by media.FFmpeg and by test fakes.
type MediaRunner interface {
	Probe(ctx context.Context, path string) (*media.ProbeInfo, error)
	Concat(ctx context.Context, inputs []string, output string) error
	ExtractChannels(ctx context.Context, input, leftWav, rightWav string) error
	RenderCrops(ctx context.Context, input string, segments []types.Segment, crop *store.CropConfig, output string) error
	RenderClip(ctx context.Context, input string, start, end float64, output string) error
}

// Transcriber produces a timestamped transcript for a media file. The
// concrete ASR vendor is an external collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath string) (*types.Transcript, error)
}

// UploadRequest carries one item to a platform adapter.
type UploadRequest struct {
	Platform    string
	Path        string
	Title       string
	Description string
	Tags        []string
}

// UploadResult identifies a published item.
type UploadResult struct {
	VideoID string
	URL     string
}

// Uploader publishes rendered media to a platform. The concrete adapter is
// an external collaborator.
type Uploader interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
}

// Env carries everything a stage may touch. Stages read artifacts fresh
// from Store, never from a caller's in-memory copy. Recording is a
// private snapshot taken at dispatch; a stage proposes changes to it
// through Outcome.Update rather than writing the struct, and the
// executor applies the update under its own lock.
type Env struct {
	Store     store.Store
	Recording *types.Recording
	Config    *config.Config

	Media       MediaRunner
	LLM         llm.Client
	Transcriber Transcriber
	Uploader    Uploader
}

// RecordingUpdate carries recording-level fields a stage derived while
// running. Name and Description only land when the stored field is still
// empty, so an operator edit is never overwritten; DurationSec lands when
// positive.
type RecordingUpdate struct {
	Name        string
	Description string
	DurationSec float64
}

// Outcome is what a stage reports back to the executor. Doc is the body of
// the stage's primary output artifact; the executor merges the outcome
// marker, elapsed time, and error message into it before committing.
// Update, when set, is applied to the stored recording alongside the
// stage's bookkeeping.
type Outcome struct {
	Status  types.RunOutcome
	Message string
	Doc     any
	Update  *RecordingUpdate
}

// Success reports a committed primary document.
func Success(doc any) *Outcome {
	return &Outcome{Status: types.OutcomeSuccess, Doc: doc}
}

// Soft reports a usable-but-flagged result; execution continues.
func Soft(message string, doc any) *Outcome {
	return &Outcome{Status: types.OutcomeSoftFailure, Message: message, Doc: doc}
}

// Hard reports a recording-fatal failure for this stage's dependents.
func Hard(message string) *Outcome {
	return &Outcome{Status: types.OutcomeHardFailure, Message: message}
}

// Blocked reports that the stage is waiting on external input.
func Blocked(message string) *Outcome {
	return &Outcome{Status: types.OutcomeBlocked, Message: message}
}
