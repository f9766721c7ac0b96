// Package store provides durable, per-recording artifact storage plus
// process-wide bandit and scoring-weight state. All inter-stage
// communication passes through a Store; nothing is held only in memory
// between stages.
package store

import (
	"context"
	"errors"

	"github.com/jonathan/cascade/internal/types"
)

// ErrNotFound is returned when a recording, artifact, or arm does not exist.
var ErrNotFound = errors.New("not found")

// Store is implemented by the filesystem backend (default) and the
// Postgres backend. Artifact writes are atomic: a reader sees either the
// previous committed content or the new one, never a partial write. Each
// write bumps a per-recording monotonic version counter; freshness checks
// compare counters instead of hashing media.
type Store interface {
	// Recordings
	CreateRecording(ctx context.Context, rec *types.Recording) error
	GetRecording(ctx context.Context, id string) (*types.Recording, error)
	SaveRecording(ctx context.Context, rec *types.Recording) error
	ListRecordings(ctx context.Context) ([]types.Recording, error)

	// Artifacts. PutArtifact validates content against the registered
	// schema for the artifact name and returns the new version counter.
	PutArtifact(ctx context.Context, recordingID, name string, content any) (int64, error)
	GetArtifact(ctx context.Context, recordingID, name string) ([]byte, int64, error)
	// ArtifactVersion returns 0 for an artifact that has never been written.
	ArtifactVersion(ctx context.Context, recordingID, name string) (int64, error)

	// Stage runs are append-only history; a re-run appends a new record.
	AppendStageRun(ctx context.Context, run *types.StageRun) error
	ListStageRuns(ctx context.Context, recordingID string) ([]types.StageRun, error)

	// Bandit arms. ApplyReward performs an atomic read-modify-write of
	// one arm: alpha += reward, beta += 1-reward. Missing arms start at
	// the uniform prior (1, 1). Updates are commutative, so delayed
	// feedback may be applied in any order.
	GetArm(ctx context.Context, key types.ArmKey) (types.BanditArm, error)
	ListArms(ctx context.Context, platform, contentType string) ([]types.BanditArm, error)
	ApplyReward(ctx context.Context, key types.ArmKey, reward float64) (types.BanditArm, error)
	ResetArms(ctx context.Context, platform string) error

	// Active fusion weight vector. Empty map means "use configured default".
	GetWeights(ctx context.Context) (map[string]float64, error)
	PutWeights(ctx context.Context, weights map[string]float64) error

	// MediaDir returns the directory where a recording's media files live.
	MediaDir(recordingID string) string
}

// GetJSON loads an artifact and unmarshals it into v. Returns ErrNotFound
// if the artifact has never been written.
func GetJSON(ctx context.Context, s Store, recordingID, name string, v any) (int64, error) {
	data, version, err := s.GetArtifact(ctx, recordingID, name)
	if err != nil {
		return 0, err
	}
	return version, unmarshalArtifact(name, data, v)
}
