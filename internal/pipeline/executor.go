// Package pipeline provides the high-level orchestration for recording
// processing: freshness-aware dispatch over the stage graph, run
// bookkeeping, and the task queue feeding the executor.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/cascade/internal/config"
	"github.com/jonathan/cascade/internal/llm"
	"github.com/jonathan/cascade/internal/stage"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// Collaborators bundles the external services stages call out to. Any of
// them may be nil; stages that need a missing collaborator fail on their
// own terms.
type Collaborators struct {
	Media       stage.MediaRunner
	LLM         llm.Client
	Transcriber stage.Transcriber
	Uploader    stage.Uploader
}

// RunOptions holds configuration for one execution of a recording.
type RunOptions struct {
	// Stages names the requested stage set; the executor expands it to the
	// dependency closure. Empty means the full graph.
	Stages []string
	// Force re-runs the named stages and everything downstream of them
	// even when their recorded inputs are unchanged.
	Force []string
	// OnProgress receives stage lifecycle events for this run.
	OnProgress ProgressCallback
}

// Result summarizes one execution.
type Result struct {
	Ran     []string          `json:"ran"`
	Skipped []string          `json:"skipped"`
	Halted  []string          `json:"halted,omitempty"`
	Blocked []string          `json:"blocked,omitempty"`
	Failed  map[string]string `json:"failed,omitempty"`
	Status  types.Status      `json:"status"`
}

// Executor dispatches stages over the graph. Stages whose dependencies
// carry usable outcomes run concurrently up to the worker limit; a
// stage whose inputs are unchanged since its last usable run is skipped.
type Executor struct {
	store    store.Store
	registry *stage.Registry
	cfg      *config.Config
	collab   Collaborators
	workers  int

	// cancelPoll is how often a run re-reads the stored cancel flag so a
	// cancel issued through the API aborts in-flight stage contexts.
	cancelPoll time.Duration

	// recMu serializes recording mutation and persistence across
	// concurrently running stages.
	recMu sync.Mutex
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithWorkers caps how many stages run concurrently.
func WithWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// NewExecutor builds an executor over the given store and stage graph.
func NewExecutor(s store.Store, reg *stage.Registry, cfg *config.Config, collab Collaborators, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:      s,
		registry:   reg,
		cfg:        cfg,
		collab:     collab,
		workers:    4,
		cancelPoll: 2 * time.Second,
	}
	if cfg != nil && cfg.Workers > 0 {
		e.workers = cfg.Workers
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type stageState int

const (
	statePending stageState = iota
	stateFresh
	stateDone
	stateFailed
	stateBlocked
	stateHalted
)

// Run executes the requested stage closure for one recording and returns
// a summary. Infrastructure errors (store unreachable, unknown stage)
// return an error; stage-level failures are reported in the Result.
func (e *Executor) Run(ctx context.Context, recordingID string, opts RunOptions) (*Result, error) {
	rec, err := e.store.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load recording: %w", err)
	}

	plan, err := e.registry.Closure(opts.Stages)
	if err != nil {
		return nil, err
	}

	forced := make(map[string]bool)
	for _, name := range opts.Force {
		if _, ok := e.registry.Get(name); !ok {
			return nil, fmt.Errorf("unknown stage %q", name)
		}
		forced[name] = true
		for _, down := range e.registry.Downstream(name) {
			forced[down] = true
		}
	}

	// A new run supersedes a prior cancel and clears the gate marker;
	// the blocked stage re-reports if its input is still missing.
	rec.CancelRequested = false
	rec.BlockedStage = ""
	rec.RequestedStages = plan
	rec.CurrentStages = nil
	rec.Status = types.StatusProcessing
	if err := e.store.SaveRecording(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save recording: %w", err)
	}

	latest, err := e.latestRuns(ctx, recordingID)
	if err != nil {
		return nil, err
	}

	states := make(map[string]stageState, len(plan))
	for _, name := range plan {
		states[name] = statePending
	}

	result := &Result{Failed: make(map[string]string)}
	emit(opts.OnProgress, ProgressEvent{
		Category:    CategoryPipeline,
		Message:     fmt.Sprintf("running %d stages", len(plan)),
		RecordingID: recordingID,
	})

	// A cancel written through the store mid-run must reach in-flight
	// stage contexts, not just the next wave boundary, so long media and
	// LLM calls abort promptly.
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go e.watchCancel(runCtx, recordingID, stopRun)

	for {
		if cancelled, err := e.cancelRequested(ctx, rec); err != nil {
			return nil, err
		} else if cancelled {
			break
		}

		wave := e.nextWave(plan, states)
		if len(wave) == 0 {
			break
		}

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(runCtx)
		g.SetLimit(e.workers)
		for _, name := range wave {
			def, _ := e.registry.Get(name)

			if !forced[name] && e.isFresh(ctx, rec.ID, def.Stage, latest[name]) {
				mu.Lock()
				states[name] = stateFresh
				result.Skipped = append(result.Skipped, name)
				mu.Unlock()
				e.markCompleted(ctx, rec, name, latest[name])
				emit(opts.OnProgress, ProgressEvent{
					Stage:       name,
					Category:    CategoryStageSkipped,
					Message:     "inputs unchanged since last run",
					RecordingID: recordingID,
				})
				continue
			}

			g.Go(func() error {
				run := e.runStage(gctx, rec, def, opts.OnProgress)

				mu.Lock()
				defer mu.Unlock()
				latest[name] = run
				switch run.Outcome {
				case types.OutcomeSuccess, types.OutcomeSoftFailure:
					states[name] = stateDone
					result.Ran = append(result.Ran, name)
				case types.OutcomeBlocked:
					states[name] = stateBlocked
					result.Blocked = append(result.Blocked, name)
				default:
					states[name] = stateFailed
					result.Ran = append(result.Ran, name)
					result.Failed[name] = run.Message
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	// Anything still pending has an unusable dependency.
	for _, name := range plan {
		if states[name] == statePending {
			states[name] = stateHalted
			result.Halted = append(result.Halted, name)
		}
	}

	e.recMu.Lock()
	rec.CurrentStages = nil
	saveErr := e.persist(ctx, rec)
	result.Status = rec.Status
	e.recMu.Unlock()
	if saveErr != nil {
		return nil, fmt.Errorf("failed to save recording: %w", saveErr)
	}

	emit(opts.OnProgress, ProgressEvent{
		Category:    CategoryPipeline,
		Message:     fmt.Sprintf("finished with status %s", result.Status),
		RecordingID: recordingID,
	})
	return result, nil
}

// nextWave returns pending stages whose dependencies all carry usable
// outcomes.
func (e *Executor) nextWave(plan []string, states map[string]stageState) []string {
	var wave []string
	for _, name := range plan {
		if states[name] != statePending {
			continue
		}
		def, _ := e.registry.Get(name)
		ready := true
		for _, dep := range def.Deps {
			if s, ok := states[dep]; !ok || (s != stateDone && s != stateFresh) {
				ready = false
				break
			}
		}
		if ready {
			wave = append(wave, name)
		}
	}
	return wave
}

// isFresh reports whether a stage's last usable run is still valid: the
// output exists and every declared input's current version matches the
// version recorded at dispatch time.
func (e *Executor) isFresh(ctx context.Context, recordingID string, st stage.Stage, last *types.StageRun) bool {
	if last == nil || !last.Outcome.Usable() {
		return false
	}
	out, err := e.store.ArtifactVersion(ctx, recordingID, st.Output())
	if err != nil || out == 0 {
		return false
	}
	for _, input := range st.Inputs() {
		current, err := e.store.ArtifactVersion(ctx, recordingID, input)
		if err != nil {
			return false
		}
		if last.InputVersions[input] != current {
			return false
		}
	}
	return true
}

// runStage wraps one stage call with timing, artifact commit, run
// recording, and recording bookkeeping.
func (e *Executor) runStage(ctx context.Context, rec *types.Recording, def stage.Definition, onProgress ProgressCallback) *types.StageRun {
	st := def.Stage
	name := st.Name()

	e.recMu.Lock()
	rec.CurrentStages = append(rec.CurrentStages, name)
	_ = e.persist(ctx, rec)
	// Stages get a private snapshot; concurrent siblings must never
	// read or write the shared struct the executor persists.
	snapshot := rec.Clone()
	e.recMu.Unlock()

	emit(onProgress, ProgressEvent{
		Stage:       name,
		Category:    CategoryStageStart,
		Message:     "started",
		RecordingID: rec.ID,
	})

	inputVersions := make(map[string]int64)
	for _, input := range st.Inputs() {
		v, err := e.store.ArtifactVersion(ctx, rec.ID, input)
		if err == nil {
			inputVersions[input] = v
		}
	}

	started := time.Now()
	env := &stage.Env{
		Store:       e.store,
		Recording:   snapshot,
		Config:      e.cfg,
		Media:       e.collab.Media,
		LLM:         e.collab.LLM,
		Transcriber: e.collab.Transcriber,
		Uploader:    e.collab.Uploader,
	}

	out, err := st.Run(ctx, env)
	if err != nil {
		out = &stage.Outcome{Status: types.OutcomeHardFailure, Message: err.Error()}
	}
	if out.Status == types.OutcomeHardFailure && !def.Critical {
		out = &stage.Outcome{Status: types.OutcomeSoftFailure, Message: out.Message, Doc: out.Doc}
	}
	elapsed := time.Since(started).Seconds()

	var artifacts []string
	if out.Status != types.OutcomeBlocked && (out.Doc != nil || out.Status.Usable()) {
		doc := mergeOutcomeDoc(out, elapsed)
		if _, perr := e.store.PutArtifact(ctx, rec.ID, st.Output(), doc); perr != nil {
			out = &stage.Outcome{
				Status:  types.OutcomeHardFailure,
				Message: fmt.Sprintf("failed to commit %s artifact: %v", st.Output(), perr),
			}
		} else {
			artifacts = append(artifacts, st.Output())
		}
	}

	run := &types.StageRun{
		ID:            uuid.New(),
		RecordingID:   rec.ID,
		Stage:         name,
		Outcome:       out.Status,
		Message:       out.Message,
		StartedAt:     started,
		CompletedAt:   time.Now(),
		ElapsedSec:    elapsed,
		InputVersions: inputVersions,
		Artifacts:     artifacts,
	}
	if err := e.store.AppendStageRun(ctx, run); err != nil {
		emit(onProgress, ProgressEvent{
			Stage:       name,
			Category:    CategoryStageError,
			Message:     fmt.Sprintf("failed to record run: %v", err),
			RecordingID: rec.ID,
		})
	}

	e.recMu.Lock()
	rec.CurrentStages = removeString(rec.CurrentStages, name)
	if out.Update != nil && out.Status.Usable() {
		applyUpdate(rec, out.Update)
	}
	switch out.Status {
	case types.OutcomeSuccess:
		addCompleted(rec, name)
		delete(rec.Errors, name)
		delete(rec.Soft, name)
	case types.OutcomeSoftFailure:
		addCompleted(rec, name)
		delete(rec.Errors, name)
		if rec.Soft == nil {
			rec.Soft = make(map[string]string)
		}
		rec.Soft[name] = out.Message
	case types.OutcomeHardFailure:
		rec.CompletedStages = removeString(rec.CompletedStages, name)
		if rec.Errors == nil {
			rec.Errors = make(map[string]string)
		}
		rec.Errors[name] = out.Message
	case types.OutcomeBlocked:
		rec.BlockedStage = name
	}
	_ = e.persist(ctx, rec)
	e.recMu.Unlock()

	emit(onProgress, ProgressEvent{
		Stage:       name,
		Category:    categoryFor(out.Status),
		Message:     out.Message,
		RecordingID: rec.ID,
		ElapsedSec:  run.ElapsedSec,
	})
	return run
}

// markCompleted restores bookkeeping for a stage skipped as fresh, so a
// run of a partial graph still reports downstream completion correctly.
func (e *Executor) markCompleted(ctx context.Context, rec *types.Recording, name string, last *types.StageRun) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	addCompleted(rec, name)
	delete(rec.Errors, name)
	if last != nil && last.Outcome == types.OutcomeSoftFailure {
		if rec.Soft == nil {
			rec.Soft = make(map[string]string)
		}
		rec.Soft[name] = last.Message
	}
	_ = e.persist(ctx, rec)
}

// persist derives the status and saves the recording, first folding in a
// cancel flag written through the store since the run began. Callers hold
// recMu.
func (e *Executor) persist(ctx context.Context, rec *types.Recording) error {
	if stored, err := e.store.GetRecording(ctx, rec.ID); err == nil && stored.CancelRequested {
		rec.CancelRequested = true
	}
	rec.Status = DeriveStatus(rec)
	return e.store.SaveRecording(ctx, rec)
}

// watchCancel polls the stored cancel flag and cancels the run context
// when it is set, aborting whatever stages are in flight.
func (e *Executor) watchCancel(ctx context.Context, recordingID string, stop context.CancelFunc) {
	ticker := time.NewTicker(e.cancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := e.store.GetRecording(ctx, recordingID)
			if err == nil && current.CancelRequested {
				stop()
				return
			}
		}
	}
}

// cancelRequested re-reads the control flag so a cancel issued through
// the API takes effect at the next wave boundary even when no stage is
// currently blocked on its context.
func (e *Executor) cancelRequested(ctx context.Context, rec *types.Recording) (bool, error) {
	current, err := e.store.GetRecording(ctx, rec.ID)
	if err != nil {
		return false, fmt.Errorf("failed to reload recording: %w", err)
	}
	if !current.CancelRequested {
		return false, nil
	}
	e.recMu.Lock()
	rec.CancelRequested = true
	e.recMu.Unlock()
	return true, nil
}

// latestRuns returns the most recent run per stage.
func (e *Executor) latestRuns(ctx context.Context, recordingID string) (map[string]*types.StageRun, error) {
	runs, err := e.store.ListStageRuns(ctx, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage runs: %w", err)
	}
	latest := make(map[string]*types.StageRun)
	for i := range runs {
		latest[runs[i].Stage] = &runs[i]
	}
	return latest, nil
}

// mergeOutcomeDoc folds the run outcome into the stage's document so the
// committed artifact is self-describing.
func mergeOutcomeDoc(out *stage.Outcome, elapsedSec float64) map[string]any {
	doc := make(map[string]any)
	if out.Doc != nil {
		if b, err := json.Marshal(out.Doc); err == nil {
			_ = json.Unmarshal(b, &doc)
		}
	}
	doc["outcome"] = string(out.Status)
	doc["elapsed_seconds"] = elapsedSec
	if out.Message != "" {
		doc["error"] = out.Message
	}
	return doc
}

func categoryFor(o types.RunOutcome) string {
	switch o {
	case types.OutcomeSuccess:
		return CategoryStageComplete
	case types.OutcomeSoftFailure:
		return CategoryStageWarning
	case types.OutcomeBlocked:
		return CategoryStageBlocked
	default:
		return CategoryStageError
	}
}

func emit(cb ProgressCallback, event ProgressEvent) {
	if cb != nil {
		cb(event)
	}
}

// applyUpdate folds stage-derived recording fields into the shared
// struct. Editable fields only fill when still empty so an operator edit
// wins over an extracted value. Callers hold recMu.
func applyUpdate(rec *types.Recording, upd *stage.RecordingUpdate) {
	if rec.Name == "" && upd.Name != "" {
		rec.Name = upd.Name
	}
	if rec.Description == "" && upd.Description != "" {
		rec.Description = upd.Description
	}
	if upd.DurationSec > 0 {
		rec.DurationSec = upd.DurationSec
	}
}

func addCompleted(rec *types.Recording, name string) {
	if !rec.StageCompleted(name) {
		rec.CompletedStages = append(rec.CompletedStages, name)
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
