package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andresmejia3/neptune/internal/types"
)

// DB is the subset of pgxpool.Pool the store uses (also satisfied by pgxmock).
type DB interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store persists processing runs and the faces found in them.
type Store struct {
	db DB
}

// Run is one processed image.
type Run struct {
	ID          uuid.UUID
	ImageID     string
	SourcePath  string
	Width       int
	Height      int
	FaceCount   int
	Elapsed     time.Duration
	Error       string
	ProcessedAt time.Time
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{db: pool}, nil
}

// NewWithDB wraps an existing connection. The schema is assumed to exist.
func NewWithDB(db DB) *Store {
	return &Store{db: db}
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, db DB) error {
	query := `
		CREATE TABLE IF NOT EXISTS processing_runs (
			id UUID PRIMARY KEY,
			image_id TEXT NOT NULL,
			source_path TEXT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			face_count INT NOT NULL,
			elapsed_ms BIGINT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS face_results (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES processing_runs(id) ON DELETE CASCADE,
			x INT NOT NULL,
			y INT NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			confidence REAL NOT NULL,
			emotion SMALLINT NOT NULL,
			emotion_confidence REAL NOT NULL,
			liveness SMALLINT NOT NULL,
			liveness_confidence REAL NOT NULL,
			liveness_reason TEXT NOT NULL DEFAULT '',
			processing_time_ms DOUBLE PRECISION NOT NULL
		);
		CREATE INDEX IF NOT EXISTS processing_runs_image_id_idx ON processing_runs (image_id);
		CREATE INDEX IF NOT EXISTS face_results_run_id_idx ON face_results (run_id);
	`
	_, err := db.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close() {
	s.db.Close()
}

// SaveResult records one processed image and its faces. Re-processing the same
// image replaces its previous run.
func (s *Store) SaveResult(ctx context.Context, res types.ImageResult) (uuid.UUID, error) {
	runID := uuid.New()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	// Cascades to face_results.
	if _, err := tx.Exec(ctx, "DELETE FROM processing_runs WHERE image_id = $1", res.ImageID); err != nil {
		return uuid.Nil, err
	}

	processedAt := res.Processed
	if processedAt.IsZero() {
		processedAt = time.Now()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO processing_runs (id, image_id, source_path, width, height, face_count, elapsed_ms, error, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, runID, res.ImageID, res.Path, res.Width, res.Height, len(res.Faces), res.Elapsed.Milliseconds(), res.Err, processedAt)
	if err != nil {
		return uuid.Nil, err
	}

	for _, f := range res.Faces {
		_, err := tx.Exec(ctx, `
			INSERT INTO face_results (run_id, x, y, width, height, confidence, emotion, emotion_confidence, liveness, liveness_confidence, liveness_reason, processing_time_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		`, runID, f.Box.X, f.Box.Y, f.Box.Width, f.Box.Height, f.Box.Confidence,
			int(f.Emotion.Label), f.Emotion.Confidence,
			int(f.Liveness.Status), f.Liveness.Confidence, f.Liveness.Reason,
			f.ProcessingTimeMs)
		if err != nil {
			return uuid.Nil, err
		}
	}

	return runID, tx.Commit(ctx)
}

// ListRuns returns the most recent runs first. limit <= 0 returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, image_id, source_path, width, height, face_count, elapsed_ms, error, processed_at
		FROM processing_runs
		ORDER BY processed_at DESC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var elapsedMs int64
		if err := rows.Scan(&r.ID, &r.ImageID, &r.SourcePath, &r.Width, &r.Height, &r.FaceCount, &elapsedMs, &r.Error, &r.ProcessedAt); err != nil {
			return nil, err
		}
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListFaces returns the faces recorded for a run in insertion order.
func (s *Store) ListFaces(ctx context.Context, runID uuid.UUID) ([]types.FaceResult, error) {
	rows, err := s.db.Query(ctx, `
		SELECT x, y, width, height, confidence, emotion, emotion_confidence, liveness, liveness_confidence, liveness_reason, processing_time_ms
		FROM face_results
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	faces := []types.FaceResult{}
	for rows.Next() {
		var f types.FaceResult
		var emotion, liveness int
		if err := rows.Scan(
			&f.Box.X, &f.Box.Y, &f.Box.Width, &f.Box.Height, &f.Box.Confidence,
			&emotion, &f.Emotion.Confidence,
			&liveness, &f.Liveness.Confidence, &f.Liveness.Reason,
			&f.ProcessingTimeMs,
		); err != nil {
			return nil, err
		}
		f.Emotion.Label = types.Emotion(emotion)
		f.Liveness.Status = types.LivenessStatus(liveness)
		faces = append(faces, f)
	}
	return faces, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		DROP TABLE IF EXISTS face_results CASCADE;
		DROP TABLE IF EXISTS processing_runs CASCADE;
	`)
	return err
}
