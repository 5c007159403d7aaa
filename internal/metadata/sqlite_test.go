package metadata

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleArtifact(jobID, hash string) ArtifactRow {
	return ArtifactRow{
		JobID:          jobID,
		ContentHash:    hash,
		CiphertextPath: hash[:2] + "/" + hash[2:],
		AlgorithmTag:   "aes256gcm",
		KeyFingerprint: "fp",
		OriginalSize:   100,
		StoredSize:     128,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestArtifactInsertAndLookup(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	row := sampleArtifact("job-1", "abcdef")
	require.NoError(t, s.InsertArtifact(ctx, row))

	byJob, err := s.ArtifactByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, row, byJob)

	byHash, err := s.ArtifactByHash(ctx, "abcdef")
	require.NoError(t, err)
	assert.Equal(t, row, byHash)
}

func TestArtifactNotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, err := s.ArtifactByJob(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ArtifactByHash(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestArtifactDuplicateJobRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertArtifact(ctx, sampleArtifact("job-1", "aa11")))
	assert.Error(t, s.InsertArtifact(ctx, sampleArtifact("job-1", "bb22")))
}

func TestHashRefCount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	n, err := s.HashRefCount(ctx, "shared")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.InsertArtifact(ctx, sampleArtifact("job-1", "shared")))
	require.NoError(t, s.InsertArtifact(ctx, sampleArtifact("job-2", "shared")))
	n, err = s.HashRefCount(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.DeleteArtifact(ctx, "job-1"))
	n, err = s.HashRefCount(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeleteArtifactIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertArtifact(ctx, sampleArtifact("job-1", "aa11")))
	require.NoError(t, s.DeleteArtifact(ctx, "job-1"))
	require.NoError(t, s.DeleteArtifact(ctx, "job-1"))
	_, err := s.ArtifactByJob(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeletionLog(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.DeletionByJob(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)

	row := DeletionRow{
		JobID:       "job-1",
		ContentHash: "abcdef",
		DeletionTS:  time.Now().UTC().Truncate(time.Millisecond),
		ProofDigest: "digest",
	}
	require.NoError(t, s.InsertDeletion(ctx, row))

	got, err := s.DeletionByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, row, got)

	// Append-only: a second insert for the same job fails.
	assert.Error(t, s.InsertDeletion(ctx, row))
}

func TestSQLiteFileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meta.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.InsertArtifact(ctx, sampleArtifact("job-1", "aa11")))
	require.NoError(t, s.Close())

	// Reopen and read back.
	s2, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s2.Close()
	row, err := s2.ArtifactByJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "aa11", row.ContentHash)
}
