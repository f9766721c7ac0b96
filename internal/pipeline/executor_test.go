package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cascade/internal/config"
	"github.com/jonathan/cascade/internal/stage"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

// fakeStage is a scriptable stage for exercising the executor against
// synthetic graphs.
type fakeStage struct {
	name   string
	inputs []string
	runFn  func(ctx context.Context, env *stage.Env) (*stage.Outcome, error)

	mu   sync.Mutex
	runs int
}

func (f *fakeStage) Name() string     { return f.name }
func (f *fakeStage) Inputs() []string { return f.inputs }
func (f *fakeStage) Output() string   { return f.name }

func (f *fakeStage) Run(ctx context.Context, env *stage.Env) (*stage.Outcome, error) {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	if f.runFn != nil {
		return f.runFn(ctx, env)
	}
	return stage.Success(map[string]any{"ok": true}), nil
}

func (f *fakeStage) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type testHarness struct {
	store    store.Store
	exec     *Executor
	rec      *types.Recording
	registry *stage.Registry
}

// newHarness builds an executor over a linear a -> b -> c graph, with
// each stage's output artifact doubling as the next stage's input.
func newHarness(t *testing.T, defs []stage.Definition) *testHarness {
	t.Helper()
	s, err := store.NewFS(t.TempDir())
	require.NoError(t, err)

	rec := &types.Recording{ID: "rec-1", Status: types.StatusQueued, DurationSec: 60}
	require.NoError(t, s.CreateRecording(context.Background(), rec))

	reg, err := stage.NewRegistryFrom(defs)
	require.NoError(t, err)

	cfg := config.Defaults()
	return &testHarness{
		store:    s,
		exec:     NewExecutor(s, reg, &cfg, Collaborators{}),
		rec:      rec,
		registry: reg,
	}
}

func linearDefs(a, b, c *fakeStage) []stage.Definition {
	a.name, b.name, c.name = "a", "b", "c"
	b.inputs = []string{"a"}
	c.inputs = []string{"b"}
	return []stage.Definition{
		{Stage: a, Critical: true},
		{Stage: b, Deps: []string{"a"}, Critical: true},
		{Stage: c, Deps: []string{"b"}, Critical: true},
	}
}

func TestRunExecutesInDependencyOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(name string) func(context.Context, *stage.Env) (*stage.Outcome, error) {
		return func(ctx context.Context, env *stage.Env) (*stage.Outcome, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return stage.Success(map[string]any{}), nil
		}
	}
	a := &fakeStage{runFn: record("a")}
	b := &fakeStage{runFn: record("b")}
	c := &fakeStage{runFn: record("c")}
	h := newHarness(t, linearDefs(a, b, c))

	result, err := h.exec.Run(context.Background(), h.rec.ID, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result.Ran)
	assert.Equal(t, types.StatusReadyForReview, result.Status)

	rec, err := h.store.GetRecording(context.Background(), h.rec.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, rec.CompletedStages)
	assert.Empty(t, rec.CurrentStages)
}

func TestRerunWithUnchangedInputsSkipsEverything(t *testing.T) {
	a, b, c := &fakeStage{}, &fakeStage{}, &fakeStage{}
	h := newHarness(t, linearDefs(a, b, c))
	ctx := context.Background()

	_, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	result, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	assert.Empty(t, result.Ran)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result.Skipped)
	assert.Equal(t, 1, a.runCount())
	assert.Equal(t, 1, b.runCount())
	assert.Equal(t, 1, c.runCount())
	assert.Equal(t, types.StatusReadyForReview, result.Status)
}

func TestUpstreamRecommitInvalidatesDownstream(t *testing.T) {
	a, b, c := &fakeStage{}, &fakeStage{}, &fakeStage{}
	h := newHarness(t, linearDefs(a, b, c))
	ctx := context.Background()

	_, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	// A manual re-commit of a's output bumps its version, so b and c are
	// stale but a itself is not.
	_, err = h.store.PutArtifact(ctx, h.rec.ID, "a", map[string]any{"edited": true})
	require.NoError(t, err)

	result, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b", "c"}, result.Ran)
	assert.ElementsMatch(t, []string{"a"}, result.Skipped)
	assert.Equal(t, 1, a.runCount())
	assert.Equal(t, 2, b.runCount())
	assert.Equal(t, 2, c.runCount())
}

func TestForceInvalidatesDownstreamOnly(t *testing.T) {
	a, b, c := &fakeStage{}, &fakeStage{}, &fakeStage{}
	h := newHarness(t, linearDefs(a, b, c))
	ctx := context.Background()

	_, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	result, err := h.exec.Run(ctx, h.rec.ID, RunOptions{Force: []string{"b"}})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"b", "c"}, result.Ran)
	assert.ElementsMatch(t, []string{"a"}, result.Skipped)
	assert.Equal(t, 1, a.runCount(), "stages upstream of a forced stage stay untouched")
}

func TestHardFailureHaltsDependentsButNotSiblings(t *testing.T) {
	a := &fakeStage{name: "a"}
	bad := &fakeStage{name: "bad", inputs: []string{"a"}, runFn: func(ctx context.Context, env *stage.Env) (*stage.Outcome, error) {
		return stage.Hard("exploded"), nil
	}}
	sibling := &fakeStage{name: "sibling", inputs: []string{"a"}}
	child := &fakeStage{name: "child", inputs: []string{"bad"}}
	h := newHarness(t, []stage.Definition{
		{Stage: a, Critical: true},
		{Stage: bad, Deps: []string{"a"}, Critical: true},
		{Stage: sibling, Deps: []string{"a"}, Critical: true},
		{Stage: child, Deps: []string{"bad"}, Critical: true},
	})

	result, err := h.exec.Run(context.Background(), h.rec.ID, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, sibling.runCount(), "sibling branch continues past the failure")
	assert.Equal(t, 0, child.runCount())
	assert.ElementsMatch(t, []string{"child"}, result.Halted)
	assert.Equal(t, "exploded", result.Failed["bad"])
	assert.Equal(t, types.StatusError, result.Status)

	rec, err := h.store.GetRecording(context.Background(), h.rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "exploded", rec.Errors["bad"])
}

func TestNonCriticalFailureIsDemotedToSoft(t *testing.T) {
	a := &fakeStage{name: "a"}
	flaky := &fakeStage{name: "flaky", inputs: []string{"a"}, runFn: func(ctx context.Context, env *stage.Env) (*stage.Outcome, error) {
		return nil, errors.New("network down")
	}}
	h := newHarness(t, []stage.Definition{
		{Stage: a, Critical: true},
		{Stage: flaky, Deps: []string{"a"}, Critical: false},
	})

	result, err := h.exec.Run(context.Background(), h.rec.ID, RunOptions{})
	require.NoError(t, err)

	assert.Empty(t, result.Failed)
	assert.Equal(t, types.StatusReadyForReview, result.Status)

	rec, err := h.store.GetRecording(context.Background(), h.rec.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.Errors)
	assert.Equal(t, "network down", rec.Soft["flaky"])
	assert.True(t, rec.StageCompleted("flaky"))
}

func TestBlockedStagePausesAndResumes(t *testing.T) {
	ctx := context.Background()
	a := &fakeStage{name: "a"}
	gated := &fakeStage{name: "gated", inputs: []string{"a", "external"}, runFn: func(c context.Context, env *stage.Env) (*stage.Outcome, error) {
		v, err := env.Store.ArtifactVersion(c, env.Recording.ID, "external")
		if err != nil {
			return nil, err
		}
		if v == 0 {
			return stage.Blocked("waiting for external input"), nil
		}
		return stage.Success(map[string]any{}), nil
	}}
	child := &fakeStage{name: "child", inputs: []string{"gated"}}
	h := newHarness(t, []stage.Definition{
		{Stage: a, Critical: true},
		{Stage: gated, Deps: []string{"a"}, Critical: true},
		{Stage: child, Deps: []string{"gated"}, Critical: true},
	})

	result, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gated"}, result.Blocked)
	assert.ElementsMatch(t, []string{"child"}, result.Halted)
	assert.Equal(t, types.StatusAwaitingInput, result.Status)

	rec, err := h.store.GetRecording(ctx, h.rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "gated", rec.BlockedStage)

	// Blocked commits nothing.
	v, err := h.store.ArtifactVersion(ctx, h.rec.ID, "gated")
	require.NoError(t, err)
	assert.Zero(t, v)

	// Supplying the external input unblocks the branch on the next run.
	_, err = h.store.PutArtifact(ctx, h.rec.ID, "external", map[string]any{"supplied": true})
	require.NoError(t, err)

	result, err = h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gated", "child"}, result.Ran)
	assert.Equal(t, types.StatusReadyForReview, result.Status)

	rec, err = h.store.GetRecording(ctx, h.rec.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.BlockedStage)
}

func TestCancelStopsAtWaveBoundary(t *testing.T) {
	ctx := context.Background()
	var h *testHarness
	a := &fakeStage{name: "a", runFn: func(c context.Context, env *stage.Env) (*stage.Outcome, error) {
		// Simulate an external cancel arriving while the stage runs.
		rec, err := h.store.GetRecording(c, env.Recording.ID)
		if err != nil {
			return nil, err
		}
		rec.CancelRequested = true
		if err := h.store.SaveRecording(c, rec); err != nil {
			return nil, err
		}
		return stage.Success(map[string]any{}), nil
	}}
	b := &fakeStage{name: "b", inputs: []string{"a"}}
	h = newHarness(t, []stage.Definition{
		{Stage: a, Critical: true},
		{Stage: b, Deps: []string{"a"}, Critical: true},
	})

	result, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, 0, b.runCount())
	assert.Equal(t, types.StatusCancelled, result.Status)
	assert.ElementsMatch(t, []string{"b"}, result.Halted)
}

func TestRunCommitsOutcomeMetadataIntoArtifact(t *testing.T) {
	ctx := context.Background()
	a := &fakeStage{name: "a", runFn: func(c context.Context, env *stage.Env) (*stage.Outcome, error) {
		return stage.Soft("minor issue", map[string]any{"payload": 42}), nil
	}}
	h := newHarness(t, []stage.Definition{{Stage: a, Critical: true}})

	_, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	var doc map[string]any
	_, err = store.GetJSON(ctx, h.store, h.rec.ID, "a", &doc)
	require.NoError(t, err)
	assert.Equal(t, "soft_failure", doc["outcome"])
	assert.Equal(t, "minor issue", doc["error"])
	assert.Equal(t, float64(42), doc["payload"])
	assert.Contains(t, doc, "elapsed_seconds")
}

func TestRunRecordsStageRunsWithInputVersions(t *testing.T) {
	ctx := context.Background()
	a, b, c := &fakeStage{}, &fakeStage{}, &fakeStage{}
	h := newHarness(t, linearDefs(a, b, c))

	_, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	runs, err := h.store.ListStageRuns(ctx, h.rec.ID)
	require.NoError(t, err)
	require.Len(t, runs, 3)

	byStage := make(map[string]types.StageRun)
	for _, r := range runs {
		byStage[r.Stage] = r
	}

	aVersion, err := h.store.ArtifactVersion(ctx, h.rec.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, aVersion, byStage["b"].InputVersions["a"])
	assert.Equal(t, []string{"b"}, byStage["b"].Artifacts)
	assert.Equal(t, types.OutcomeSuccess, byStage["b"].Outcome)
	assert.Greater(t, byStage["b"].ElapsedSec, -1.0)
}

func TestPartialGraphRequest(t *testing.T) {
	a, b, c := &fakeStage{}, &fakeStage{}, &fakeStage{}
	h := newHarness(t, linearDefs(a, b, c))

	result, err := h.exec.Run(context.Background(), h.rec.ID, RunOptions{Stages: []string{"b"}})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"a", "b"}, result.Ran)
	assert.Equal(t, 0, c.runCount())
	assert.Equal(t, types.StatusReadyForReview, result.Status)
}

func TestRunUnknownRecording(t *testing.T) {
	a, b, c := &fakeStage{}, &fakeStage{}, &fakeStage{}
	h := newHarness(t, linearDefs(a, b, c))

	_, err := h.exec.Run(context.Background(), "no-such-recording", RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentSiblingsBothRun(t *testing.T) {
	root := &fakeStage{name: "root"}
	left := &fakeStage{name: "left", inputs: []string{"root"}}
	right := &fakeStage{name: "right", inputs: []string{"root"}}
	join := &fakeStage{name: "join", inputs: []string{"left", "right"}}
	h := newHarness(t, []stage.Definition{
		{Stage: root, Critical: true},
		{Stage: left, Deps: []string{"root"}, Critical: true},
		{Stage: right, Deps: []string{"root"}, Critical: true},
		{Stage: join, Deps: []string{"left", "right"}, Critical: true},
	})

	result, err := h.exec.Run(context.Background(), h.rec.ID, RunOptions{})
	require.NoError(t, err)
	assert.Len(t, result.Ran, 4)
	assert.Equal(t, 1, join.runCount())
}

func TestSiblingsGetPrivateRecordingSnapshots(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	seen := make(map[string]*types.Recording)
	capture := func(name string) func(context.Context, *stage.Env) (*stage.Outcome, error) {
		return func(c context.Context, env *stage.Env) (*stage.Outcome, error) {
			mu.Lock()
			seen[name] = env.Recording
			mu.Unlock()
			// Writes to the snapshot must never reach the stored recording.
			env.Recording.Name = "scribbled by " + name
			env.Recording.CompletedStages = append(env.Recording.CompletedStages, "phantom")
			return stage.Success(map[string]any{}), nil
		}
	}

	root := &fakeStage{name: "root"}
	left := &fakeStage{name: "left", inputs: []string{"root"}, runFn: capture("left")}
	right := &fakeStage{name: "right", inputs: []string{"root"}, runFn: capture("right")}
	h := newHarness(t, []stage.Definition{
		{Stage: root, Critical: true},
		{Stage: left, Deps: []string{"root"}, Critical: true},
		{Stage: right, Deps: []string{"root"}, Critical: true},
	})

	_, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	assert.NotSame(t, seen["left"], seen["right"])

	rec, err := h.store.GetRecording(ctx, h.rec.ID)
	require.NoError(t, err)
	assert.Empty(t, rec.Name)
	assert.NotContains(t, rec.CompletedStages, "phantom")
}

func TestRecordingUpdateAppliedWithoutOverwritingOperatorFields(t *testing.T) {
	ctx := context.Background()

	a := &fakeStage{name: "a", runFn: func(c context.Context, env *stage.Env) (*stage.Outcome, error) {
		out := stage.Success(map[string]any{})
		out.Update = &stage.RecordingUpdate{
			Name:        "Extracted Title",
			Description: "extracted description",
			DurationSec: 123.5,
		}
		return out, nil
	}}
	b := &fakeStage{name: "b", inputs: []string{"a"}}
	h := newHarness(t, []stage.Definition{
		{Stage: a, Critical: true},
		{Stage: b, Deps: []string{"a"}, Critical: true},
	})

	rec, err := h.store.GetRecording(ctx, h.rec.ID)
	require.NoError(t, err)
	rec.Description = "Operator notes"
	require.NoError(t, h.store.SaveRecording(ctx, rec))

	_, err = h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	rec, err = h.store.GetRecording(ctx, h.rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Extracted Title", rec.Name)
	assert.Equal(t, "Operator notes", rec.Description)
	assert.Equal(t, 123.5, rec.DurationSec)
}

func TestCancelAbortsInFlightStage(t *testing.T) {
	ctx := context.Background()

	started := make(chan struct{})
	a := &fakeStage{name: "a", runFn: func(c context.Context, env *stage.Env) (*stage.Outcome, error) {
		close(started)
		select {
		case <-c.Done():
			return nil, c.Err()
		case <-time.After(5 * time.Second):
			return nil, errors.New("stage context was never cancelled")
		}
	}}
	h := newHarness(t, []stage.Definition{{Stage: a, Critical: true}})
	h.exec.cancelPoll = 10 * time.Millisecond

	go func() {
		<-started
		rec, err := h.store.GetRecording(context.Background(), h.rec.ID)
		if err != nil {
			return
		}
		rec.CancelRequested = true
		_ = h.store.SaveRecording(context.Background(), rec)
	}()

	result, err := h.exec.Run(ctx, h.rec.ID, RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, types.StatusCancelled, result.Status)
	assert.Equal(t, context.Canceled.Error(), result.Failed["a"])
}
