package objectstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"genomevault/internal/blob"
	"genomevault/internal/metadata"
	"genomevault/internal/models"
	"genomevault/internal/telemetry"
)

// Store error kinds.
var (
	ErrNotFound  = errors.New("artifact not found")
	ErrIntegrity = errors.New("ciphertext integrity verification failed")
	ErrStorage   = errors.New("storage operation failed")
)

// Store is the content-addressed encrypted object store: ciphertext
// blobs in a blob backend, a durable metadata index, and an
// append-only deletion log that backs evidence-of-deletion proofs.
type Store struct {
	blobs  blob.Store
	meta   metadata.Store
	sealer Sealer
	secret []byte
	log    *zap.SugaredLogger
}

// New wires the store. algorithmTag selects the sealer used for new
// artifacts; get honors whatever tag an artifact was written with.
func New(blobs blob.Store, meta metadata.Store, algorithmTag string, secret []byte, log *zap.SugaredLogger) (*Store, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("object store requires a server secret")
	}
	sealer, err := NewSealer(algorithmTag)
	if err != nil {
		return nil, err
	}
	return &Store{blobs: blobs, meta: meta, sealer: sealer, secret: secret, log: log}, nil
}

// KeyFor returns the encryption key for a content hash. Keys are
// bound to content so duplicate uploads share one ciphertext; the
// store records only the key's fingerprint.
func (s *Store) KeyFor(contentHash string) []byte {
	return DeriveKey(s.secret, contentHash)
}

// Put encrypts plaintext under the content-derived key and persists
// ciphertext plus a metadata row. The blob write and the row insert
// must both land; on row failure the blob is unlinked again unless
// another job shares the content.
func (s *Store) Put(ctx context.Context, jobID string, plaintext []byte) (models.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return models.ArtifactRef{}, err
	}
	hash := ContentHash(plaintext)
	key := s.KeyFor(hash)

	ciphertext, err := s.sealer.Seal(key, plaintext)
	if err != nil {
		return models.ArtifactRef{}, fmt.Errorf("%w: seal: %v", ErrStorage, err)
	}
	path := blob.HashPath(hash)
	if err := s.blobs.Put(ctx, path, ciphertext); err != nil {
		if ctx.Err() != nil {
			return models.ArtifactRef{}, ctx.Err()
		}
		return models.ArtifactRef{}, fmt.Errorf("%w: write blob: %v", ErrStorage, err)
	}

	row := metadata.ArtifactRow{
		JobID:          jobID,
		ContentHash:    hash,
		CiphertextPath: path,
		AlgorithmTag:   s.sealer.Tag(),
		KeyFingerprint: KeyFingerprint(key),
		OriginalSize:   int64(len(plaintext)),
		StoredSize:     int64(len(ciphertext)),
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.meta.InsertArtifact(ctx, row); err != nil {
		if refs, cntErr := s.meta.HashRefCount(ctx, hash); cntErr == nil && refs == 0 {
			if delErr := s.blobs.Delete(ctx, path); delErr != nil && !errors.Is(delErr, blob.ErrNotFound) {
				s.log.Warnw("orphan blob cleanup failed", "path", path, "err", delErr)
			}
		}
		return models.ArtifactRef{}, fmt.Errorf("%w: insert metadata: %v", ErrStorage, err)
	}

	telemetry.ArtifactsWritten.Inc()
	telemetry.ArtifactBytes.Add(float64(len(ciphertext)))
	s.log.Infow("artifact written", "job_id", jobID, "content_hash", hash, "size", len(ciphertext))

	return models.ArtifactRef{
		ContentHash:    hash,
		CiphertextPath: path,
		OriginalSize:   row.OriginalSize,
		StoredSize:     row.StoredSize,
		AlgorithmTag:   row.AlgorithmTag,
		KeyFingerprint: row.KeyFingerprint,
	}, nil
}

// Get reads, verifies, and decrypts an artifact by content hash.
// Integrity is always verified; plaintext never comes back from disk
// unchecked.
func (s *Store) Get(ctx context.Context, contentHash string, key []byte) ([]byte, error) {
	row, err := s.meta.ArtifactByHash(ctx, contentHash)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrStorage, err)
	}

	ciphertext, err := s.blobs.Get(ctx, row.CiphertextPath)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: ciphertext missing for indexed artifact", ErrStorage)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read blob: %v", ErrStorage, err)
	}

	sealer, err := NewSealer(row.AlgorithmTag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	plaintext, err := sealer.Open(key, ciphertext)
	if err != nil {
		telemetry.IntegrityFailure.Inc()
		s.log.Errorw("integrity failure", "content_hash", contentHash)
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// Delete removes an artifact and issues a deletion proof. Idempotent:
// a second call returns the proof already logged, same timestamp. The
// blob is unlinked only when no other job references the content.
func (s *Store) Delete(ctx context.Context, jobID string) (models.DeletionProof, error) {
	if logged, err := s.meta.DeletionByJob(ctx, jobID); err == nil {
		return proofFromRow(logged), nil
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return models.DeletionProof{}, fmt.Errorf("%w: read deletion log: %v", ErrStorage, err)
	}

	row, err := s.meta.ArtifactByJob(ctx, jobID)
	if errors.Is(err, metadata.ErrNotFound) {
		return models.DeletionProof{}, ErrNotFound
	}
	if err != nil {
		return models.DeletionProof{}, fmt.Errorf("%w: read metadata: %v", ErrStorage, err)
	}

	refs, err := s.meta.HashRefCount(ctx, row.ContentHash)
	if err != nil {
		return models.DeletionProof{}, fmt.Errorf("%w: count refs: %v", ErrStorage, err)
	}
	if refs <= 1 {
		if err := s.blobs.Delete(ctx, row.CiphertextPath); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return models.DeletionProof{}, fmt.Errorf("%w: remove ciphertext: %v", ErrStorage, err)
		}
	}
	// Metadata removal after the file: a failure here leaves the row,
	// and the next Delete call retries from the top.
	if err := s.meta.DeleteArtifact(ctx, jobID); err != nil {
		return models.DeletionProof{}, fmt.Errorf("%w: remove metadata: %v", ErrStorage, err)
	}

	// Millisecond precision, as the deletion log stores it, so the
	// proof returned here equals the one read back later.
	now := time.Now().UTC().Truncate(time.Millisecond)
	deletion := metadata.DeletionRow{
		JobID:       jobID,
		ContentHash: row.ContentHash,
		DeletionTS:  now,
		ProofDigest: ProofDigest(jobID, row.ContentHash, now, s.secret),
	}
	if err := s.meta.InsertDeletion(ctx, deletion); err != nil {
		return models.DeletionProof{}, fmt.Errorf("%w: record deletion: %v", ErrStorage, err)
	}

	telemetry.ArtifactsDeleted.Inc()
	s.log.Infow("artifact deleted", "job_id", jobID, "content_hash", row.ContentHash)
	return proofFromRow(deletion), nil
}

// Proof returns the deletion proof for a job, or ErrNotFound if no
// deletion has occurred.
func (s *Store) Proof(ctx context.Context, jobID string) (models.DeletionProof, error) {
	row, err := s.meta.DeletionByJob(ctx, jobID)
	if errors.Is(err, metadata.ErrNotFound) {
		return models.DeletionProof{}, ErrNotFound
	}
	if err != nil {
		return models.DeletionProof{}, fmt.Errorf("%w: read deletion log: %v", ErrStorage, err)
	}
	return proofFromRow(row), nil
}

// HasArtifact reports whether a metadata row exists for the job.
func (s *Store) HasArtifact(ctx context.Context, jobID string) (bool, error) {
	_, err := s.meta.ArtifactByJob(ctx, jobID)
	if errors.Is(err, metadata.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func proofFromRow(row metadata.DeletionRow) models.DeletionProof {
	return models.DeletionProof{
		JobID:               row.JobID,
		ArtifactContentHash: row.ContentHash,
		DeletionTimestamp:   row.DeletionTS,
		ProofDigest:         row.ProofDigest,
	}
}
