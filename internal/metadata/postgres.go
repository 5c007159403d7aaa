package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on a pgx pool, for deployments that
// already run Postgres instead of the embedded sqlite file.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
    job_id          TEXT PRIMARY KEY,
    content_hash    TEXT NOT NULL,
    ciphertext_path TEXT NOT NULL,
    algorithm_tag   TEXT NOT NULL,
    key_fingerprint TEXT NOT NULL,
    original_size   BIGINT NOT NULL,
    stored_size     BIGINT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_artifacts_content_hash ON artifacts (content_hash);
CREATE TABLE IF NOT EXISTS deletions (
    job_id       TEXT PRIMARY KEY,
    content_hash TEXT NOT NULL,
    deletion_ts  TIMESTAMPTZ NOT NULL,
    proof_digest TEXT NOT NULL
);
`

// NewPostgresStore connects and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) InsertArtifact(ctx context.Context, row ArtifactRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO artifacts (job_id, content_hash, ciphertext_path, algorithm_tag, key_fingerprint, original_size, stored_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, row.JobID, row.ContentHash, row.CiphertextPath, row.AlgorithmTag, row.KeyFingerprint, row.OriginalSize, row.StoredSize, row.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanArtifact(row pgx.Row) (ArtifactRow, error) {
	var a ArtifactRow
	var created time.Time
	err := row.Scan(&a.JobID, &a.ContentHash, &a.CiphertextPath, &a.AlgorithmTag, &a.KeyFingerprint, &a.OriginalSize, &a.StoredSize, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return ArtifactRow{}, ErrNotFound
	}
	if err != nil {
		return ArtifactRow{}, fmt.Errorf("scan artifact: %w", err)
	}
	a.CreatedAt = created.UTC()
	return a, nil
}

func (s *PostgresStore) ArtifactByJob(ctx context.Context, jobID string) (ArtifactRow, error) {
	return s.scanArtifact(s.pool.QueryRow(ctx, `
		SELECT job_id, content_hash, ciphertext_path, algorithm_tag, key_fingerprint, original_size, stored_size, created_at
		FROM artifacts WHERE job_id = $1
	`, jobID))
}

func (s *PostgresStore) ArtifactByHash(ctx context.Context, contentHash string) (ArtifactRow, error) {
	return s.scanArtifact(s.pool.QueryRow(ctx, `
		SELECT job_id, content_hash, ciphertext_path, algorithm_tag, key_fingerprint, original_size, stored_size, created_at
		FROM artifacts WHERE content_hash = $1 LIMIT 1
	`, contentHash))
}

func (s *PostgresStore) HashRefCount(ctx context.Context, contentHash string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM artifacts WHERE content_hash = $1
	`, contentHash).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hash refs: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteArtifact(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM artifacts WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertDeletion(ctx context.Context, row DeletionRow) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO deletions (job_id, content_hash, deletion_ts, proof_digest)
		VALUES ($1, $2, $3, $4)
	`, row.JobID, row.ContentHash, row.DeletionTS.UTC(), row.ProofDigest)
	if err != nil {
		return fmt.Errorf("insert deletion: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletionByJob(ctx context.Context, jobID string) (DeletionRow, error) {
	var d DeletionRow
	var ts time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, content_hash, deletion_ts, proof_digest FROM deletions WHERE job_id = $1
	`, jobID).Scan(&d.JobID, &d.ContentHash, &ts, &d.ProofDigest)
	if errors.Is(err, pgx.ErrNoRows) {
		return DeletionRow{}, ErrNotFound
	}
	if err != nil {
		return DeletionRow{}, fmt.Errorf("scan deletion: %w", err)
	}
	d.DeletionTS = ts.UTC()
	return d, nil
}
