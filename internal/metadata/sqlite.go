package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"genomevault/internal/metadata/migrations"
)

// SQLiteStore implements Store on a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if necessary) the metadata database at
// path and applies migrations. ":memory:" is accepted for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	// Single writer at a time; readers share. Serialize on one
	// connection so in-memory databases keep their schema too.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrations.Apply(db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertArtifact(ctx context.Context, row ArtifactRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (job_id, content_hash, ciphertext_path, algorithm_tag, key_fingerprint, original_size, stored_size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, row.JobID, row.ContentHash, row.CiphertextPath, row.AlgorithmTag, row.KeyFingerprint, row.OriginalSize, row.StoredSize, row.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanArtifact(row *sql.Row) (ArtifactRow, error) {
	var a ArtifactRow
	var createdMS int64
	err := row.Scan(&a.JobID, &a.ContentHash, &a.CiphertextPath, &a.AlgorithmTag, &a.KeyFingerprint, &a.OriginalSize, &a.StoredSize, &createdMS)
	if errors.Is(err, sql.ErrNoRows) {
		return ArtifactRow{}, ErrNotFound
	}
	if err != nil {
		return ArtifactRow{}, fmt.Errorf("scan artifact: %w", err)
	}
	a.CreatedAt = time.UnixMilli(createdMS).UTC()
	return a, nil
}

func (s *SQLiteStore) ArtifactByJob(ctx context.Context, jobID string) (ArtifactRow, error) {
	return s.scanArtifact(s.db.QueryRowContext(ctx, `
		SELECT job_id, content_hash, ciphertext_path, algorithm_tag, key_fingerprint, original_size, stored_size, created_at
		FROM artifacts WHERE job_id = ?
	`, jobID))
}

func (s *SQLiteStore) ArtifactByHash(ctx context.Context, contentHash string) (ArtifactRow, error) {
	return s.scanArtifact(s.db.QueryRowContext(ctx, `
		SELECT job_id, content_hash, ciphertext_path, algorithm_tag, key_fingerprint, original_size, stored_size, created_at
		FROM artifacts WHERE content_hash = ? LIMIT 1
	`, contentHash))
}

func (s *SQLiteStore) HashRefCount(ctx context.Context, contentHash string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM artifacts WHERE content_hash = ?
	`, contentHash).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hash refs: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) DeleteArtifact(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertDeletion(ctx context.Context, row DeletionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deletions (job_id, content_hash, deletion_ts, proof_digest)
		VALUES (?, ?, ?, ?)
	`, row.JobID, row.ContentHash, row.DeletionTS.UnixMilli(), row.ProofDigest)
	if err != nil {
		return fmt.Errorf("insert deletion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeletionByJob(ctx context.Context, jobID string) (DeletionRow, error) {
	var d DeletionRow
	var tsMS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, content_hash, deletion_ts, proof_digest FROM deletions WHERE job_id = ?
	`, jobID).Scan(&d.JobID, &d.ContentHash, &tsMS, &d.ProofDigest)
	if errors.Is(err, sql.ErrNoRows) {
		return DeletionRow{}, ErrNotFound
	}
	if err != nil {
		return DeletionRow{}, fmt.Errorf("scan deletion: %w", err)
	}
	d.DeletionTS = time.UnixMilli(tsMS).UTC()
	return d, nil
}
