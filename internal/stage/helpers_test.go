package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jonathan/cascade/internal/config"
	"github.com/jonathan/cascade/internal/llm"
	"github.com/jonathan/cascade/internal/media"
	"github.com/jonathan/cascade/internal/store"
	"github.com/jonathan/cascade/internal/types"
)

type fakeLLM struct {
	byTier map[llm.ModelTier]string
	err    error
	calls  int
}

func (f *fakeLLM) GenerateJSON(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.byTier[tier], nil
}

func (f *fakeLLM) Close() error { return nil }

type fakeMedia struct {
	probeFn       func(path string) (*media.ProbeInfo, error)
	renderClipErr map[string]error
	rendered      []string
}

func (f *fakeMedia) Probe(ctx context.Context, path string) (*media.ProbeInfo, error) {
	if f.probeFn != nil {
		return f.probeFn(path)
	}
	return &media.ProbeInfo{DurationSec: 600, HasVideo: true, HasAudio: true, AudioChans: 2}, nil
}

func (f *fakeMedia) Concat(ctx context.Context, inputs []string, output string) error { return nil }

func (f *fakeMedia) ExtractChannels(ctx context.Context, input, leftWav, rightWav string) error {
	return nil
}

func (f *fakeMedia) RenderCrops(ctx context.Context, input string, segments []types.Segment, crop *store.CropConfig, output string) error {
	f.rendered = append(f.rendered, output)
	return nil
}

func (f *fakeMedia) RenderClip(ctx context.Context, input string, start, end float64, output string) error {
	if err, ok := f.renderClipErr[output]; ok {
		return err
	}
	f.rendered = append(f.rendered, output)
	return nil
}

type fakeUploader struct {
	err      error
	requests []UploadRequest
}

func (f *fakeUploader) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &UploadResult{VideoID: "vid-" + req.Platform, URL: "https://example.com/" + req.Platform}, nil
}

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	s, err := store.NewFS(t.TempDir())
	require.NoError(t, err)

	rec := &types.Recording{ID: "rec-test", Status: types.StatusProcessing, DurationSec: 600}
	require.NoError(t, s.CreateRecording(context.Background(), rec))

	cfg := config.Defaults()
	return &Env{
		Store:     s,
		Recording: rec,
		Config:    &cfg,
		Media:     &fakeMedia{},
	}
}

func putArtifact(t *testing.T, env *Env, name string, content any) {
	t.Helper()
	_, err := env.Store.PutArtifact(context.Background(), env.Recording.ID, name, content)
	require.NoError(t, err)
}
