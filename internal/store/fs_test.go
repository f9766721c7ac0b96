package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/cascade/internal/schemas"
	"github.com/jonathan/cascade/internal/types"
)

func newTestStore(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestCreateAndGetRecording(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := &types.Recording{
		ID:         "rec-1",
		Status:     types.StatusQueued,
		SourcePath: "/media/session.mkv",
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, s.CreateRecording(ctx, rec))

	got, err := s.GetRecording(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.SourcePath, got.SourcePath)
	assert.Equal(t, types.StatusQueued, got.Status)
}

func TestCreateRecording_DuplicateFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := &types.Recording{ID: "rec-1", CreatedAt: time.Now()}
	require.NoError(t, s.CreateRecording(ctx, rec))
	assert.Error(t, s.CreateRecording(ctx, rec))
}

func TestGetRecording_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecording(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRecording_Updates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rec := &types.Recording{ID: "rec-1", Status: types.StatusQueued, CreatedAt: time.Now()}
	require.NoError(t, s.CreateRecording(ctx, rec))

	rec.Status = types.StatusProcessing
	rec.Name = "episode 12"
	require.NoError(t, s.SaveRecording(ctx, rec))

	got, err := s.GetRecording(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, got.Status)
	assert.Equal(t, "episode 12", got.Name)
}

func TestListRecordings_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"old", "mid", "new"} {
		rec := &types.Recording{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, s.CreateRecording(ctx, rec))
	}

	recs, err := s.ListRecordings(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "new", recs[0].ID)
	assert.Equal(t, "mid", recs[1].ID)
	assert.Equal(t, "old", recs[2].ID)
}

func TestPutArtifact_MonotonicVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRecording(ctx, &types.Recording{ID: "rec-1", CreatedAt: time.Now()}))

	v1, err := s.PutArtifact(ctx, "rec-1", "source", map[string]string{"path": "a.mkv"})
	require.NoError(t, err)
	v2, err := s.PutArtifact(ctx, "rec-1", "stitch", map[string]string{"path": "b.mp4"})
	require.NoError(t, err)
	v3, err := s.PutArtifact(ctx, "rec-1", "source", map[string]string{"path": "a2.mkv"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)
	assert.Equal(t, int64(3), v3, "the counter spans all artifacts of a recording")

	cur, err := s.ArtifactVersion(ctx, "rec-1", "source")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cur, "a rewrite supersedes the old version")
}

func TestArtifactVersion_ZeroWhenUnwritten(t *testing.T) {
	s := newTestStore(t)
	v, err := s.ArtifactVersion(context.Background(), "rec-1", "transcript")
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}

func TestGetArtifact_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRecording(ctx, &types.Recording{ID: "rec-1", CreatedAt: time.Now()}))

	_, err := s.PutArtifact(ctx, "rec-1", ArtifactTranscript, &types.Transcript{
		Utterances: []types.Utterance{{Start: 0, End: 2.5, Speaker: "left", Text: "hello"}},
	})
	require.NoError(t, err)

	tr, err := GetTranscript(ctx, s, "rec-1")
	require.NoError(t, err)
	require.Len(t, tr.Utterances, 1)
	assert.Equal(t, "hello", tr.Utterances[0].Text)
}

func TestGetArtifact_Missing(t *testing.T) {
	s := newTestStore(t)
	_, _, err := s.GetArtifact(context.Background(), "rec-1", "clips")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutArtifact_SchemaRejection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRecording(ctx, &types.Recording{ID: "rec-1", CreatedAt: time.Now()}))

	// "segments" requires duration_seconds and a valid speaker enum.
	_, err := s.PutArtifact(ctx, "rec-1", ArtifactSegments, map[string]any{
		"segments": []map[string]any{{"start": 0.0, "end": 1.0, "speaker": "narrator"}},
	})
	require.Error(t, err)
	var ve *schemas.ValidationError
	assert.ErrorAs(t, err, &ve)

	v, err := s.ArtifactVersion(ctx, "rec-1", ArtifactSegments)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v, "a rejected write must not bump the counter")
}

func TestPutArtifact_ValidSegments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRecording(ctx, &types.Recording{ID: "rec-1", CreatedAt: time.Now()}))

	set := &types.SegmentSet{
		Segments: []types.Segment{
			{Start: 0, End: 4.2, Speaker: types.SpeakerLeft},
			{Start: 4.2, End: 9.0, Speaker: types.SpeakerBoth},
		},
		DurationSec: 9.0,
	}
	_, err := s.PutArtifact(ctx, "rec-1", ArtifactSegments, set)
	require.NoError(t, err)

	got, err := GetSegments(ctx, s, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, set.Segments, got.Segments)
}

func TestPutArtifact_ConcurrentWritersGetDistinctVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRecording(ctx, &types.Recording{ID: "rec-1", CreatedAt: time.Now()}))

	const writers = 16
	versions := make([]int64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.PutArtifact(ctx, "rec-1", "audio_analysis", map[string]int{"writer": i})
			assert.NoError(t, err)
			versions[i] = v
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for _, v := range versions {
		assert.False(t, seen[v], "version %d issued twice", v)
		seen[v] = true
	}
	max, err := s.ArtifactVersion(ctx, "rec-1", "audio_analysis")
	require.NoError(t, err)
	assert.Equal(t, int64(writers), max)
}

func TestStageRuns_AppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, stage := range []string{"ingest", "stitch", "transcribe"} {
		run := &types.StageRun{
			ID:          uuid.New(),
			RecordingID: "rec-1",
			Stage:       stage,
			Outcome:     types.OutcomeSuccess,
			StartedAt:   time.Now(),
			CompletedAt: time.Now(),
		}
		require.NoError(t, s.AppendStageRun(ctx, run))
	}

	runs, err := s.ListStageRuns(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "ingest", runs[0].Stage)
	assert.Equal(t, "stitch", runs[1].Stage)
	assert.Equal(t, "transcribe", runs[2].Stage)
}

func TestListStageRuns_EmptyHistory(t *testing.T) {
	s := newTestStore(t)
	runs, err := s.ListStageRuns(context.Background(), "rec-1")
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestWeights_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	w, err := s.GetWeights(ctx)
	require.NoError(t, err)
	assert.Nil(t, w, "unset weights mean use the configured default")

	in := map[string]float64{"llm_virality": 0.5, "quotability": 0.5}
	require.NoError(t, s.PutWeights(ctx, in))

	out, err := s.GetWeights(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestArms_ListFiltersByPlatformAndContentType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keys := []types.ArmKey{
		{Platform: "youtube", ContentType: "interview", Day: time.Monday, Hour: 9},
		{Platform: "youtube", ContentType: "interview", Day: time.Friday, Hour: 18},
		{Platform: "youtube", ContentType: "rant", Day: time.Monday, Hour: 9},
		{Platform: "tiktok", ContentType: "interview", Day: time.Monday, Hour: 9},
	}
	for _, k := range keys {
		_, err := s.ApplyReward(ctx, k, 0.5)
		require.NoError(t, err)
	}

	arms, err := s.ListArms(ctx, "youtube", "interview")
	require.NoError(t, err)
	assert.Len(t, arms, 2)
	for _, arm := range arms {
		assert.Equal(t, "youtube", arm.Key.Platform)
		assert.Equal(t, "interview", arm.Key.ContentType)
	}
}

func TestResetArms_ScopedToPlatform(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	yt := types.ArmKey{Platform: "youtube", Day: time.Monday, Hour: 9}
	tk := types.ArmKey{Platform: "tiktok", Day: time.Monday, Hour: 9}
	_, err := s.ApplyReward(ctx, yt, 1.0)
	require.NoError(t, err)
	_, err = s.ApplyReward(ctx, tk, 1.0)
	require.NoError(t, err)

	require.NoError(t, s.ResetArms(ctx, "youtube"))

	arm, err := s.GetArm(ctx, yt)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, arm.Mean(), 1e-9, "a reset arm is back at the uniform prior")

	arm, err = s.GetArm(ctx, tk)
	require.NoError(t, err)
	assert.Greater(t, arm.Mean(), 0.5, "other platforms keep their belief")
}

func TestMediaDir_CreatesDirectory(t *testing.T) {
	s := newTestStore(t)
	dir := s.MediaDir("rec-1")
	assert.DirExists(t, dir)
}
