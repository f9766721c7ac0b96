package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jonathan/cascade/internal/schemas"
	"github.com/jonathan/cascade/internal/types"
)

// FS is the filesystem-backed store. Every JSON write goes through a
// write-temp-then-rename commit so readers never observe partial content.
// Writes within one recording are serialized by a per-recording mutex;
// recordings never share locks.
type FS struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	armMu    sync.Mutex
	weightMu sync.Mutex
}

// artifactIndex tracks the per-recording monotonic write counter.
type artifactIndex struct {
	Next     int64            `json:"next"`
	Versions map[string]int64 `json:"versions"`
}

// NewFS opens (creating if needed) a filesystem store rooted at dir.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is empty")
	}
	if err := os.MkdirAll(filepath.Join(dir, "recordings"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	return &FS{root: dir, locks: make(map[string]*sync.Mutex)}, nil
}

func (f *FS) recordingLock(id string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[id]
	if !ok {
		l = &sync.Mutex{}
		f.locks[id] = l
	}
	return l
}

func (f *FS) recordingDir(id string) string {
	return filepath.Join(f.root, "recordings", id)
}

// MediaDir returns the media directory for a recording, creating it if needed.
func (f *FS) MediaDir(recordingID string) string {
	dir := filepath.Join(f.recordingDir(recordingID), "media")
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// writeJSONAtomic marshals v and commits it to path via temp-file rename.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return writeBytesAtomic(path, data)
}

func writeBytesAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// CreateRecording persists a new recording and prepares its directories.
func (f *FS) CreateRecording(_ context.Context, rec *types.Recording) error {
	lock := f.recordingLock(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	dir := f.recordingDir(rec.ID)
	if _, err := os.Stat(filepath.Join(dir, "recording.json")); err == nil {
		return fmt.Errorf("recording already exists: %s", rec.ID)
	}
	for _, sub := range []string{"artifacts", "media"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("failed to create recording directory: %w", err)
		}
	}
	return writeJSONAtomic(filepath.Join(dir, "recording.json"), rec)
}

// GetRecording loads a recording by ID.
func (f *FS) GetRecording(_ context.Context, id string) (*types.Recording, error) {
	var rec types.Recording
	if err := readJSON(filepath.Join(f.recordingDir(id), "recording.json"), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveRecording persists the recording document.
func (f *FS) SaveRecording(_ context.Context, rec *types.Recording) error {
	lock := f.recordingLock(rec.ID)
	lock.Lock()
	defer lock.Unlock()
	return writeJSONAtomic(filepath.Join(f.recordingDir(rec.ID), "recording.json"), rec)
}

// ListRecordings returns all recordings sorted by creation time descending.
func (f *FS) ListRecordings(ctx context.Context) ([]types.Recording, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "recordings"))
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	var recs []types.Recording
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := f.GetRecording(ctx, e.Name())
		if err != nil {
			continue
		}
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}

// PutArtifact validates, commits, and versions one artifact write. Only
// one writer per (recording, artifact) is in flight at a time.
func (f *FS) PutArtifact(_ context.Context, recordingID, name string, content any) (int64, error) {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal artifact %s: %w", name, err)
	}
	if err := schemas.ValidateArtifact(name, data); err != nil {
		return 0, err
	}

	lock := f.recordingLock(recordingID)
	lock.Lock()
	defer lock.Unlock()

	dir := f.recordingDir(recordingID)
	indexPath := filepath.Join(dir, "artifacts.index.json")

	idx := artifactIndex{Versions: make(map[string]int64)}
	if err := readJSON(indexPath, &idx); err != nil && err != ErrNotFound {
		return 0, err
	}
	if idx.Versions == nil {
		idx.Versions = make(map[string]int64)
	}

	if err := writeBytesAtomic(filepath.Join(dir, "artifacts", name+".json"), data); err != nil {
		return 0, err
	}

	idx.Next++
	idx.Versions[name] = idx.Next
	if err := writeJSONAtomic(indexPath, &idx); err != nil {
		return 0, err
	}
	return idx.Next, nil
}

// GetArtifact returns the committed bytes and version of an artifact.
func (f *FS) GetArtifact(ctx context.Context, recordingID, name string) ([]byte, int64, error) {
	data, err := os.ReadFile(filepath.Join(f.recordingDir(recordingID), "artifacts", name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	version, err := f.ArtifactVersion(ctx, recordingID, name)
	if err != nil {
		return nil, 0, err
	}
	return data, version, nil
}

// ArtifactVersion returns the write counter for an artifact, 0 if never written.
func (f *FS) ArtifactVersion(_ context.Context, recordingID, name string) (int64, error) {
	var idx artifactIndex
	err := readJSON(filepath.Join(f.recordingDir(recordingID), "artifacts.index.json"), &idx)
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return idx.Versions[name], nil
}

// AppendStageRun appends one run record to the recording's history.
func (f *FS) AppendStageRun(_ context.Context, run *types.StageRun) error {
	lock := f.recordingLock(run.RecordingID)
	lock.Lock()
	defer lock.Unlock()

	path := filepath.Join(f.recordingDir(run.RecordingID), "runs.json")
	var runs []types.StageRun
	if err := readJSON(path, &runs); err != nil && err != ErrNotFound {
		return err
	}
	runs = append(runs, *run)
	return writeJSONAtomic(path, runs)
}

// ListStageRuns returns the full run history in append order.
func (f *FS) ListStageRuns(_ context.Context, recordingID string) ([]types.StageRun, error) {
	var runs []types.StageRun
	err := readJSON(filepath.Join(f.recordingDir(recordingID), "runs.json"), &runs)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// --- bandit state ---

func armKeyString(key types.ArmKey) string {
	return fmt.Sprintf("%s|%s|%d|%02d", key.Platform, key.ContentType, key.Day, key.Hour)
}

func (f *FS) armsPath() string {
	return filepath.Join(f.root, "bandit", "arms.json")
}

func (f *FS) loadArms() (map[string]types.BanditArm, error) {
	arms := make(map[string]types.BanditArm)
	if err := readJSON(f.armsPath(), &arms); err != nil && err != ErrNotFound {
		return nil, err
	}
	return arms, nil
}

// GetArm returns the arm for a key, at the uniform prior if never updated.
func (f *FS) GetArm(_ context.Context, key types.ArmKey) (types.BanditArm, error) {
	f.armMu.Lock()
	defer f.armMu.Unlock()
	arms, err := f.loadArms()
	if err != nil {
		return types.BanditArm{}, err
	}
	if arm, ok := arms[armKeyString(key)]; ok {
		return arm, nil
	}
	return types.BanditArm{Key: key, Alpha: 1, Beta: 1}, nil
}

// ListArms returns every persisted arm matching platform and content type.
func (f *FS) ListArms(_ context.Context, platform, contentType string) ([]types.BanditArm, error) {
	f.armMu.Lock()
	defer f.armMu.Unlock()
	arms, err := f.loadArms()
	if err != nil {
		return nil, err
	}
	var out []types.BanditArm
	for _, arm := range arms {
		if arm.Key.Platform == platform && arm.Key.ContentType == contentType {
			out = append(out, arm)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return armKeyString(out[i].Key) < armKeyString(out[j].Key)
	})
	return out, nil
}

// ApplyReward atomically folds one observed reward into an arm's belief.
func (f *FS) ApplyReward(_ context.Context, key types.ArmKey, reward float64) (types.BanditArm, error) {
	if reward < 0 || reward > 1 {
		return types.BanditArm{}, fmt.Errorf("reward %v out of range [0,1]", reward)
	}
	f.armMu.Lock()
	defer f.armMu.Unlock()

	arms, err := f.loadArms()
	if err != nil {
		return types.BanditArm{}, err
	}
	ks := armKeyString(key)
	arm, ok := arms[ks]
	if !ok {
		arm = types.BanditArm{Key: key, Alpha: 1, Beta: 1}
	}
	arm.Alpha += reward
	arm.Beta += 1 - reward
	arm.Trials++
	arm.Rewards += reward
	arms[ks] = arm

	if err := writeJSONAtomic(f.armsPath(), arms); err != nil {
		return types.BanditArm{}, err
	}
	return arm, nil
}

// ResetArms removes all persisted arms for a platform.
func (f *FS) ResetArms(_ context.Context, platform string) error {
	f.armMu.Lock()
	defer f.armMu.Unlock()
	arms, err := f.loadArms()
	if err != nil {
		return err
	}
	for ks, arm := range arms {
		if arm.Key.Platform == platform {
			delete(arms, ks)
		}
	}
	return writeJSONAtomic(f.armsPath(), arms)
}

// --- fusion weights ---

func (f *FS) weightsPath() string {
	return filepath.Join(f.root, "weights.json")
}

// GetWeights returns the active fusion weight vector, nil if unset.
func (f *FS) GetWeights(_ context.Context) (map[string]float64, error) {
	f.weightMu.Lock()
	defer f.weightMu.Unlock()
	weights := make(map[string]float64)
	err := readJSON(f.weightsPath(), &weights)
	if err == ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return weights, nil
}

// PutWeights replaces the active fusion weight vector.
func (f *FS) PutWeights(_ context.Context, weights map[string]float64) error {
	f.weightMu.Lock()
	defer f.weightMu.Unlock()
	return writeJSONAtomic(f.weightsPath(), weights)
}
