package metadata

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("metadata row not found")

// ArtifactRow mirrors the artifacts table: one row per persisted job.
type ArtifactRow struct {
	JobID          string
	ContentHash    string
	CiphertextPath string
	AlgorithmTag   string
	KeyFingerprint string
	OriginalSize   int64
	StoredSize     int64
	CreatedAt      time.Time
}

// DeletionRow mirrors the append-only deletion log.
type DeletionRow struct {
	JobID       string
	ContentHash string
	DeletionTS  time.Time
	ProofDigest string
}

// Store is the durable metadata index behind the object store. Every
// mutating call is a single transaction on the backing database;
// reads may run concurrently.
type Store interface {
	InsertArtifact(ctx context.Context, row ArtifactRow) error
	ArtifactByJob(ctx context.Context, jobID string) (ArtifactRow, error)
	ArtifactByHash(ctx context.Context, contentHash string) (ArtifactRow, error)

	// HashRefCount reports how many artifact rows share a content
	// hash; content-addressed blobs are only unlinked at zero.
	HashRefCount(ctx context.Context, contentHash string) (int, error)

	DeleteArtifact(ctx context.Context, jobID string) error

	InsertDeletion(ctx context.Context, row DeletionRow) error
	DeletionByJob(ctx context.Context, jobID string) (DeletionRow, error)

	Close() error
}
