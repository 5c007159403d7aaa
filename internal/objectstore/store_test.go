package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"genomevault/internal/blob"
	"genomevault/internal/metadata"
)

func newTestStore(t *testing.T, algorithm string) (*Store, *blob.MemoryStore) {
	t.Helper()
	meta, err := metadata.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	blobs := blob.NewMemoryStore()
	store, err := New(blobs, meta, algorithm, []byte("test-server-secret"), zap.NewNop().Sugar())
	require.NoError(t, err)
	return store, blobs
}

func TestPutGetRoundTrip(t *testing.T) {
	for _, algorithm := range []string{AlgorithmAESGCM, AlgorithmXORHMAC} {
		t.Run(algorithm, func(t *testing.T) {
			store, _ := newTestStore(t, algorithm)
			ctx := context.Background()
			plaintext := []byte(">h1\nACGTACGTACGT\n")

			ref, err := store.Put(ctx, "job-1", plaintext)
			require.NoError(t, err)

			sum := sha256.Sum256(plaintext)
			assert.Equal(t, hex.EncodeToString(sum[:]), ref.ContentHash)
			assert.Equal(t, int64(len(plaintext)), ref.OriginalSize)
			assert.Equal(t, algorithm, ref.AlgorithmTag)
			assert.Equal(t, KeyFingerprint(store.KeyFor(ref.ContentHash)), ref.KeyFingerprint)

			got, err := store.Get(ctx, ref.ContentHash, store.KeyFor(ref.ContentHash))
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestGetUnknownHash(t *testing.T) {
	store, _ := newTestStore(t, AlgorithmAESGCM)
	_, err := store.Get(context.Background(), "deadbeef", store.KeyFor("deadbeef"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetWrongKeyIsIntegrityError(t *testing.T) {
	store, _ := newTestStore(t, AlgorithmAESGCM)
	ctx := context.Background()
	ref, err := store.Put(ctx, "job-1", []byte("payload"))
	require.NoError(t, err)

	_, err = store.Get(ctx, ref.ContentHash, store.KeyFor("some-other-hash"))
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestRePutSameContentSameHash(t *testing.T) {
	store, blobs := newTestStore(t, AlgorithmAESGCM)
	ctx := context.Background()
	plaintext := []byte("same content")

	ref1, err := store.Put(ctx, "job-1", plaintext)
	require.NoError(t, err)
	ref2, err := store.Put(ctx, "job-2", plaintext)
	require.NoError(t, err)

	assert.Equal(t, ref1.ContentHash, ref2.ContentHash)
	assert.Equal(t, ref1.CiphertextPath, ref2.CiphertextPath)
	// Content-addressed: one blob for both jobs.
	assert.Equal(t, 1, blobs.Len())
}

func TestDeleteIssuesVerifiableProof(t *testing.T) {
	store, blobs := newTestStore(t, AlgorithmAESGCM)
	ctx := context.Background()
	plaintext := []byte(">h1\nACGT\n")

	ref, err := store.Put(ctx, "job-1", plaintext)
	require.NoError(t, err)

	proof, err := store.Delete(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", proof.JobID)
	assert.Equal(t, ref.ContentHash, proof.ArtifactContentHash)
	assert.Equal(t,
		ProofDigest("job-1", ref.ContentHash, proof.DeletionTimestamp, []byte("test-server-secret")),
		proof.ProofDigest)

	// Ciphertext gone, get reports not found.
	assert.Equal(t, 0, blobs.Len())
	_, err = store.Get(ctx, ref.ContentHash, store.KeyFor(ref.ContentHash))
	assert.ErrorIs(t, err, ErrNotFound)

	// Proof is retrievable afterwards.
	lookup, err := store.Proof(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, proof, lookup)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t, AlgorithmAESGCM)
	ctx := context.Background()
	_, err := store.Put(ctx, "job-1", []byte("payload"))
	require.NoError(t, err)

	first, err := store.Delete(ctx, "job-1")
	require.NoError(t, err)
	second, err := store.Delete(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, first.DeletionTimestamp, second.DeletionTimestamp)
}

func TestDeleteKeepsSharedBlob(t *testing.T) {
	store, blobs := newTestStore(t, AlgorithmAESGCM)
	ctx := context.Background()
	plaintext := []byte("shared content")

	ref, err := store.Put(ctx, "job-1", plaintext)
	require.NoError(t, err)
	_, err = store.Put(ctx, "job-2", plaintext)
	require.NoError(t, err)

	_, err = store.Delete(ctx, "job-1")
	require.NoError(t, err)
	// Second job still references the content; the blob stays.
	assert.Equal(t, 1, blobs.Len())

	got, err := store.Get(ctx, ref.ContentHash, store.KeyFor(ref.ContentHash))
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestDeleteUnknownJob(t *testing.T) {
	store, _ := newTestStore(t, AlgorithmAESGCM)
	_, err := store.Delete(context.Background(), "no-such-job")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProofBeforeDeletion(t *testing.T) {
	store, _ := newTestStore(t, AlgorithmAESGCM)
	ctx := context.Background()
	_, err := store.Put(ctx, "job-1", []byte("payload"))
	require.NoError(t, err)

	_, err = store.Proof(ctx, "job-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHasArtifact(t *testing.T) {
	store, _ := newTestStore(t, AlgorithmAESGCM)
	ctx := context.Background()

	has, err := store.HasArtifact(ctx, "job-1")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.Put(ctx, "job-1", []byte("payload"))
	require.NoError(t, err)
	has, err = store.HasArtifact(ctx, "job-1")
	require.NoError(t, err)
	assert.True(t, has)
}
