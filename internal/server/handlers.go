package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/cascade/internal/pipeline"
	"github.com/jonathan/cascade/internal/scheduler"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// CreateRecordingRequest is the body for POST /recordings.
type CreateRecordingRequest struct {
	SourcePath  string `json:"source_path"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RunRequest is the body for POST /recordings/{id}/run.
type RunRequest struct {
	Stages []string `json:"stages,omitempty"`
	Force  []string `json:"force,omitempty"`
}

// ReviewRequest is the body for POST /recordings/{id}/clips/{clip_id}/review.
type ReviewRequest struct {
	Status string `json:"status"`
}

// ResetArmsRequest is the body for POST /arms/reset.
type ResetArmsRequest struct {
	Platform string `json:"platform,omitempty"`
}

// handleCreateRecording registers a new recording for processing
func (s *Server) handleCreateRecording(w http.ResponseWriter, r *http.Request) {
	var req CreateRecordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.SourcePath == "" {
		s.errorFor(w, &ErrValidation{Field: "source_path", Message: "is required"})
		return
	}

	rec := &types.Recording{
		ID:          uuid.New().String(),
		Status:      types.StatusQueued,
		SourcePath:  req.SourcePath,
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   time.Now(),
	}

	if err := s.store.CreateRecording(r.Context(), rec); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create recording: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusCreated, rec)
}

// handleListRecordings returns all known recordings
func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListRecordings(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list recordings: %v", err))
		return
	}

	for i := range recs {
		recs[i].Status = pipeline.DeriveStatus(&recs[i])
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"recordings": recs,
		"count":      len(recs),
	})
}

// handleGetRecording returns one recording with its derived status
func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, http.StatusOK, rec)
}

// handleRun enqueues an execution of the recording's stage graph
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}

	var req RunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	opts := pipeline.RunOptions{Stages: req.Stages, Force: req.Force}

	if s.queue != nil {
		if err := s.queue.Enqueue(rec.ID, opts); err != nil {
			switch {
			case errors.Is(err, pipeline.ErrAlreadyQueued):
				s.errorFor(w, &ErrRecordingBusy{ID: rec.ID})
			case errors.Is(err, pipeline.ErrQueueFull):
				s.errorResponse(w, http.StatusServiceUnavailable, err.Error())
			default:
				s.errorResponse(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		s.jsonResponse(w, http.StatusAccepted, map[string]string{
			"recording_id": rec.ID,
			"status":       "queued",
		})
		return
	}

	// No queue wired; run synchronously.
	result, err := s.exec.Run(r.Context(), rec.ID, opts)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Execution failed: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// handleRunStream executes the recording synchronously and streams stage
// lifecycle events over SSE
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}

	var req RunRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if s.queue != nil && s.queue.Running(rec.ID) {
		s.errorFor(w, &ErrRecordingBusy{ID: rec.ID})
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	opts := pipeline.RunOptions{
		Stages:     req.Stages,
		Force:      req.Force,
		OnProgress: stream.Progress,
	}

	result, err := s.exec.Run(r.Context(), rec.ID, opts)
	if err != nil {
		stream.Fail(err.Error())
		return
	}
	stream.Done(rec.ID, string(result.Status))
}

// handleCancel requests cooperative cancellation; a running execution
// observes the flag and cancels its in-flight stage contexts
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}

	rec.CancelRequested = true
	rec.Status = pipeline.DeriveStatus(rec)
	if err := s.store.SaveRecording(r.Context(), rec); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save recording: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, rec)
}

// handleApprove marks a reviewed recording approved for distribution.
// Approval is only valid once processing has finished: a recording that
// is still queued, running, blocked, or failed cannot be signed off.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}

	if rec.Status != types.StatusReadyForReview && rec.Status != types.StatusApproved {
		s.errorFor(w, &ErrNotReviewable{Status: string(rec.Status)})
		return
	}
	if !rec.Editable() {
		s.errorFor(w, &ErrNotEditable{})
		return
	}

	now := time.Now()
	rec.ApprovedAt = &now
	rec.Status = pipeline.DeriveStatus(rec)
	if err := s.store.SaveRecording(r.Context(), rec); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save recording: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, rec)
}

// handleSupplyCrop stores a human crop configuration, the external input
// the gated render stage waits on. When the recording is blocked and a
// queue is wired, the run resumes automatically.
func (s *Server) handleSupplyCrop(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}

	var crop store.CropConfig
	if err := json.NewDecoder(r.Body).Decode(&crop); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	version, err := s.store.PutArtifact(r.Context(), rec.ID, store.ArtifactCropConfig, crop)
	if err != nil {
		s.errorFor(w, &ErrValidation{Field: "crop", Message: err.Error()})
		return
	}

	resumed := false
	if rec.BlockedStage != "" && s.queue != nil {
		if err := s.queue.Enqueue(rec.ID, pipeline.RunOptions{Stages: rec.RequestedStages}); err == nil {
			resumed = true
		}
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"recording_id": rec.ID,
		"artifact":     store.ArtifactCropConfig,
		"version":      version,
		"resumed":      resumed,
	})
}

// handleRerunStage forces one stage (and its downstream closure) to re-run
func (s *Server) handleRerunStage(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}

	stageName := r.PathValue("stage")
	if _, known := s.registry.Get(stageName); !known {
		s.errorFor(w, &ErrStageUnknown{Stage: stageName})
		return
	}

	opts := pipeline.RunOptions{Stages: []string{stageName}, Force: []string{stageName}}

	if s.queue != nil {
		if err := s.queue.Enqueue(rec.ID, opts); err != nil {
			if errors.Is(err, pipeline.ErrAlreadyQueued) {
				s.errorFor(w, &ErrRecordingBusy{ID: rec.ID})
				return
			}
			s.errorResponse(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.jsonResponse(w, http.StatusAccepted, map[string]string{
			"recording_id": rec.ID,
			"stage":        stageName,
			"status":       "queued",
		})
		return
	}

	result, err := s.exec.Run(r.Context(), rec.ID, opts)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Execution failed: %v", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

// handleReviewClip records a human verdict on one scored clip. The
// artifact re-commit bumps the version counter, so dependent stages
// become stale and re-run on the next execution.
func (s *Server) handleReviewClip(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	verdict := types.ReviewStatus(req.Status)
	if verdict != types.ReviewApproved && verdict != types.ReviewRejected && verdict != types.ReviewPending {
		s.errorFor(w, &ErrValidation{Field: "status", Message: "must be pending, approved, or rejected"})
		return
	}

	set, err := store.GetClips(r.Context(), s.store, rec.ID, store.ArtifactScoredClips)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorFor(w, &ErrArtifactNotFound{Recording: rec.ID, Artifact: store.ArtifactScoredClips})
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load clips: %v", err))
		return
	}

	clipID := r.PathValue("clip_id")
	found := false
	for i := range set.Clips {
		if set.Clips[i].ID == clipID {
			set.Clips[i].Status = verdict
			found = true
			break
		}
	}
	if !found {
		s.errorFor(w, &ErrClipNotFound{ID: clipID})
		return
	}

	version, err := s.store.PutArtifact(r.Context(), rec.ID, store.ArtifactScoredClips, set)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save clips: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"clip_id": clipID,
		"status":  verdict,
		"version": version,
	})
}

// handleGetArtifact returns the raw committed content of one artifact
func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}

	name := r.PathValue("name")
	data, version, err := s.store.GetArtifact(r.Context(), rec.ID, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorFor(w, &ErrArtifactNotFound{Recording: rec.ID, Artifact: name})
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read artifact: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Artifact-Version", fmt.Sprintf("%d", version))
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

// handleListStageRuns returns the append-only run history for a recording
func (s *Server) handleListStageRuns(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadRecording(w, r)
	if !ok {
		return
	}

	runs, err := s.store.ListStageRuns(r.Context(), rec.ID)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list stage runs: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"recording_id": rec.ID,
		"runs":         runs,
		"count":        len(runs),
	})
}

// handleBestSchedule returns the exploitation-only view of the learned
// posting schedule for a platform and content type
func (s *Server) handleBestSchedule(w http.ResponseWriter, r *http.Request) {
	if s.bandit == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}

	platform := r.URL.Query().Get("platform")
	if platform == "" {
		s.errorFor(w, &ErrValidation{Field: "platform", Message: "query parameter is required"})
		return
	}
	contentType := r.URL.Query().Get("content_type")

	cadence := scheduler.Cadence(s.cfg.CadenceByWeekday())
	if len(cadence) == 0 {
		cadence = scheduler.DefaultCadence()
	}

	slots, err := s.bandit.BestSchedule(r.Context(), platform, contentType, cadence)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to compute schedule: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"platform":     platform,
		"content_type": contentType,
		"slots":        slots,
	})
}

// handleListArms returns bandit arm state, optionally filtered
func (s *Server) handleListArms(w http.ResponseWriter, r *http.Request) {
	platform := r.URL.Query().Get("platform")
	contentType := r.URL.Query().Get("content_type")

	arms, err := s.store.ListArms(r.Context(), platform, contentType)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list arms: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"arms":  arms,
		"count": len(arms),
	})
}

// handleResetArms resets arm beliefs to the uniform prior
func (s *Server) handleResetArms(w http.ResponseWriter, r *http.Request) {
	var req ResetArmsRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.errorResponse(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	if err := s.store.ResetArms(r.Context(), req.Platform); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to reset arms: %v", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "reset", "platform": req.Platform})
}

// handleGetWeights returns the active fusion weight vector; an empty
// stored map falls back to the configured defaults
func (s *Server) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	weights, err := s.store.GetWeights(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load weights: %v", err))
		return
	}

	source := "adapted"
	if len(weights) == 0 {
		weights = s.cfg.Weights
		source = "default"
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"weights": weights,
		"source":  source,
	})
}

// loadRecording resolves the {id} path segment, writing the error
// response itself when the recording cannot be loaded.
func (s *Server) loadRecording(w http.ResponseWriter, r *http.Request) (*types.Recording, bool) {
	id := r.PathValue("id")
	rec, err := s.store.GetRecording(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorFor(w, &ErrRecordingNotFound{ID: id})
		} else {
			s.errorResponse(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load recording: %v", err))
		}
		return nil, false
	}
	rec.Status = pipeline.DeriveStatus(rec)
	return rec, true
}
