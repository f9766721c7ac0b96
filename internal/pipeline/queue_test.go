package pipeline

import (
	"context"
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

func newQueueHarness(t *testing.T, st *fakeStage) (*Queue, store.Store) {
	t.Helper()
	s, err := store.NewFS(t.TempDir())
	require.NoError(t, err)

	reg, err := stage.NewRegistryFrom([]stage.Definition{{Stage: st, Critical: true}})
	require.NoError(t, err)

	cfg := config.Defaults()
	exec := NewExecutor(s, reg, &cfg, Collaborators{})
	return NewQueue(exec, 2, 4), s
}

func TestQueueRunsEnqueuedRecording(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	st := &fakeStage{name: "a", runFn: func(c context.Context, env *stage.Env) (*stage.Outcome, error) {
		defer close(done)
		return stage.Success(map[string]any{}), nil
	}}
	q, s := newQueueHarness(t, st)
	require.NoError(t, s.CreateRecording(ctx, &types.Recording{ID: "rec-1"}))

	q.Start(ctx)
	require.NoError(t, q.Enqueue("rec-1", RunOptions{}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("queued recording never executed")
	}
	require.NoError(t, q.Shutdown(context.Background()))

	rec, err := s.GetRecording(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusReadyForReview, rec.Status)
}

func TestQueueRejectsDuplicateEnqueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	var once sync.Once
	st := &fakeStage{name: "a", runFn: func(c context.Context, env *stage.Env) (*stage.Outcome, error) {
		once.Do(func() { <-release })
		return stage.Success(map[string]any{}), nil
	}}
	q, s := newQueueHarness(t, st)
	require.NoError(t, s.CreateRecording(ctx, &types.Recording{ID: "rec-1"}))

	q.Start(ctx)
	require.NoError(t, q.Enqueue("rec-1", RunOptions{}))

	err := q.Enqueue("rec-1", RunOptions{})
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.True(t, q.Running("rec-1"))

	close(release)
	require.NoError(t, q.Shutdown(context.Background()))
	assert.False(t, q.Running("rec-1"))
}

func TestQueueFullFailsFast(t *testing.T) {
	st := &fakeStage{name: "a"}
	s, err := store.NewFS(t.TempDir())
	require.NoError(t, err)
	reg, err := stage.NewRegistryFrom([]stage.Definition{{Stage: st, Critical: true}})
	require.NoError(t, err)
	cfg := config.Defaults()
	q := NewQueue(NewExecutor(s, reg, &cfg, Collaborators{}), 1, 1)

	// Not started: the single buffer slot fills and the next enqueue
	// must fail instead of blocking the caller.
	require.NoError(t, q.Enqueue("rec-1", RunOptions{}))
	assert.ErrorIs(t, q.Enqueue("rec-2", RunOptions{}), ErrQueueFull)
}
