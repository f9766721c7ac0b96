package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/cascade/internal/schemas"
	"github.com/jonathan/cascade/internal/types"
)

// Postgres is the database-backed store used by server deployments.
// Structured documents live in Postgres; media files stay on disk under
// mediaRoot. Artifact commit atomicity comes from the enclosing
// transaction rather than a file rename.
type Postgres struct {
	pool      *pgxpool.Pool
	mediaRoot string
}

// ConnectPostgres establishes a connection pool and verifies it.
func ConnectPostgres(ctx context.Context, databaseURL, mediaRoot string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{pool: pool, mediaRoot: mediaRoot}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Migrate creates the schema if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS recordings (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS artifact_counters (
			recording_id TEXT PRIMARY KEY REFERENCES recordings(id) ON DELETE CASCADE,
			next         BIGINT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS artifacts (
			recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			name         TEXT NOT NULL,
			content      JSONB NOT NULL,
			version      BIGINT NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (recording_id, name)
		);
		CREATE TABLE IF NOT EXISTS stage_runs (
			id           UUID PRIMARY KEY,
			recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
			doc          JSONB NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS bandit_arms (
			platform     TEXT NOT NULL,
			content_type TEXT NOT NULL DEFAULT '',
			day          INT NOT NULL,
			hour         INT NOT NULL,
			alpha        DOUBLE PRECISION NOT NULL DEFAULT 1,
			beta         DOUBLE PRECISION NOT NULL DEFAULT 1,
			trials       BIGINT NOT NULL DEFAULT 0,
			rewards      DOUBLE PRECISION NOT NULL DEFAULT 0,
			PRIMARY KEY (platform, content_type, day, hour)
		);
		CREATE TABLE IF NOT EXISTS fusion_weights (
			singleton  BOOL PRIMARY KEY DEFAULT TRUE,
			weights    JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// MediaDir returns the on-disk media directory for a recording.
func (p *Postgres) MediaDir(recordingID string) string {
	dir := filepath.Join(p.mediaRoot, recordingID)
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// CreateRecording inserts a new recording document.
func (p *Postgres) CreateRecording(ctx context.Context, rec *types.Recording) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recording: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO recordings (id, doc) VALUES ($1, $2)`, rec.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO artifact_counters (recording_id) VALUES ($1) ON CONFLICT DO NOTHING`, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to init artifact counter: %w", err)
	}
	return nil
}

// GetRecording loads a recording by ID.
func (p *Postgres) GetRecording(ctx context.Context, id string) (*types.Recording, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT doc FROM recordings WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get recording: %w", err)
	}
	var rec types.Recording
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recording: %w", err)
	}
	return &rec, nil
}

// SaveRecording replaces the recording document.
func (p *Postgres) SaveRecording(ctx context.Context, rec *types.Recording) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal recording: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `UPDATE recordings SET doc = $2 WHERE id = $1`, rec.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecordings returns all recordings, newest first.
func (p *Postgres) ListRecordings(ctx context.Context) ([]types.Recording, error) {
	rows, err := p.pool.Query(ctx, `SELECT doc FROM recordings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var recs []types.Recording
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan recording: %w", err)
		}
		var rec types.Recording
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recording: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// PutArtifact validates and upserts one artifact inside a transaction,
// bumping the recording's write counter.
func (p *Postgres) PutArtifact(ctx context.Context, recordingID, name string, content any) (int64, error) {
	data, err := json.Marshal(content)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal artifact %s: %w", name, err)
	}
	if err := schemas.ValidateArtifact(name, data); err != nil {
		return 0, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin artifact write: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var version int64
	err = tx.QueryRow(ctx,
		`UPDATE artifact_counters SET next = next + 1 WHERE recording_id = $1 RETURNING next`,
		recordingID,
	).Scan(&version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to bump artifact counter: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO artifacts (recording_id, name, content, version)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (recording_id, name) DO UPDATE SET content = $3, version = $4, updated_at = NOW()`,
		recordingID, name, data, version)
	if err != nil {
		return 0, fmt.Errorf("failed to save artifact %s: %w", name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit artifact %s: %w", name, err)
	}
	return version, nil
}

// GetArtifact returns the committed content and version of an artifact.
func (p *Postgres) GetArtifact(ctx context.Context, recordingID, name string) ([]byte, int64, error) {
	var content []byte
	var version int64
	err := p.pool.QueryRow(ctx,
		`SELECT content, version FROM artifacts WHERE recording_id = $1 AND name = $2`,
		recordingID, name,
	).Scan(&content, &version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("failed to get artifact %s: %w", name, err)
	}
	return content, version, nil
}

// ArtifactVersion returns the write counter for an artifact, 0 if never written.
func (p *Postgres) ArtifactVersion(ctx context.Context, recordingID, name string) (int64, error) {
	var version int64
	err := p.pool.QueryRow(ctx,
		`SELECT version FROM artifacts WHERE recording_id = $1 AND name = $2`,
		recordingID, name,
	).Scan(&version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get artifact version: %w", err)
	}
	return version, nil
}

// AppendStageRun appends one run record to the recording's history.
func (p *Postgres) AppendStageRun(ctx context.Context, run *types.StageRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal stage run: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO stage_runs (id, recording_id, doc) VALUES ($1, $2, $3)`,
		run.ID, run.RecordingID, doc)
	if err != nil {
		return fmt.Errorf("failed to append stage run: %w", err)
	}
	return nil
}

// ListStageRuns returns the full run history in append order.
func (p *Postgres) ListStageRuns(ctx context.Context, recordingID string) ([]types.StageRun, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT doc FROM stage_runs WHERE recording_id = $1 ORDER BY created_at`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage runs: %w", err)
	}
	defer rows.Close()

	var runs []types.StageRun
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan stage run: %w", err)
		}
		var run types.StageRun
		if err := json.Unmarshal(doc, &run); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// GetArm returns the arm for a key, at the uniform prior if never updated.
func (p *Postgres) GetArm(ctx context.Context, key types.ArmKey) (types.BanditArm, error) {
	arm := types.BanditArm{Key: key, Alpha: 1, Beta: 1}
	err := p.pool.QueryRow(ctx,
		`SELECT alpha, beta, trials, rewards FROM bandit_arms
		 WHERE platform = $1 AND content_type = $2 AND day = $3 AND hour = $4`,
		key.Platform, key.ContentType, int(key.Day), key.Hour,
	).Scan(&arm.Alpha, &arm.Beta, &arm.Trials, &arm.Rewards)
	if err != nil && err != pgx.ErrNoRows {
		return types.BanditArm{}, fmt.Errorf("failed to get arm: %w", err)
	}
	return arm, nil
}

// ListArms returns every persisted arm matching platform and content type.
func (p *Postgres) ListArms(ctx context.Context, platform, contentType string) ([]types.BanditArm, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT day, hour, alpha, beta, trials, rewards FROM bandit_arms
		 WHERE platform = $1 AND content_type = $2 ORDER BY day, hour`,
		platform, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to list arms: %w", err)
	}
	defer rows.Close()

	var arms []types.BanditArm
	for rows.Next() {
		var day int
		arm := types.BanditArm{Key: types.ArmKey{Platform: platform, ContentType: contentType}}
		if err := rows.Scan(&day, &arm.Key.Hour, &arm.Alpha, &arm.Beta, &arm.Trials, &arm.Rewards); err != nil {
			return nil, fmt.Errorf("failed to scan arm: %w", err)
		}
		arm.Key.Day = time.Weekday(day)
		arms = append(arms, arm)
	}
	return arms, nil
}

// ApplyReward atomically folds one observed reward into an arm's belief.
// The upsert increment runs server-side, so concurrent feedback for the
// same arm serializes on the row.
func (p *Postgres) ApplyReward(ctx context.Context, key types.ArmKey, reward float64) (types.BanditArm, error) {
	if reward < 0 || reward > 1 {
		return types.BanditArm{}, fmt.Errorf("reward %v out of range [0,1]", reward)
	}
	arm := types.BanditArm{Key: key}
	err := p.pool.QueryRow(ctx,
		`INSERT INTO bandit_arms (platform, content_type, day, hour, alpha, beta, trials, rewards)
		 VALUES ($1, $2, $3, $4, 1 + $5, 1 + (1 - $5), 1, $5)
		 ON CONFLICT (platform, content_type, day, hour) DO UPDATE SET
		   alpha = bandit_arms.alpha + $5,
		   beta = bandit_arms.beta + (1 - $5),
		   trials = bandit_arms.trials + 1,
		   rewards = bandit_arms.rewards + $5
		 RETURNING alpha, beta, trials, rewards`,
		key.Platform, key.ContentType, int(key.Day), key.Hour, reward,
	).Scan(&arm.Alpha, &arm.Beta, &arm.Trials, &arm.Rewards)
	if err != nil {
		return types.BanditArm{}, fmt.Errorf("failed to apply reward: %w", err)
	}
	return arm, nil
}

// ResetArms removes all persisted arms for a platform.
func (p *Postgres) ResetArms(ctx context.Context, platform string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM bandit_arms WHERE platform = $1`, platform); err != nil {
		return fmt.Errorf("failed to reset arms: %w", err)
	}
	return nil
}

// GetWeights returns the active fusion weight vector, nil if unset.
func (p *Postgres) GetWeights(ctx context.Context) (map[string]float64, error) {
	var doc []byte
	err := p.pool.QueryRow(ctx, `SELECT weights FROM fusion_weights WHERE singleton`).Scan(&doc)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get weights: %w", err)
	}
	weights := make(map[string]float64)
	if err := json.Unmarshal(doc, &weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}
	return weights, nil
}

// PutWeights replaces the active fusion weight vector.
func (p *Postgres) PutWeights(ctx context.Context, weights map[string]float64) error {
	doc, err := json.Marshal(weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO fusion_weights (singleton, weights) VALUES (TRUE, $1)
		 ON CONFLICT (singleton) DO UPDATE SET weights = $1, updated_at = NOW()`,
		doc)
	if err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}
	return nil
}
