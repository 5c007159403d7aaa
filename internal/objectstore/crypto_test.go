package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealersRoundTrip(t *testing.T) {
	for _, tag := range []string{AlgorithmAESGCM, AlgorithmXORHMAC} {
		t.Run(tag, func(t *testing.T) {
			sealer, err := NewSealer(tag)
			require.NoError(t, err)
			assert.Equal(t, tag, sealer.Tag())

			key := DeriveKey([]byte("secret"), "job-1")
			plaintext := []byte(">h1\nACGTACGTACGT\n")

			ciphertext, err := sealer.Seal(key, plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, plaintext, ciphertext)

			got, err := sealer.Open(key, ciphertext)
			require.NoError(t, err)
			assert.Equal(t, plaintext, got)
		})
	}
}

func TestSealersRejectTampering(t *testing.T) {
	for _, tag := range []string{AlgorithmAESGCM, AlgorithmXORHMAC} {
		t.Run(tag, func(t *testing.T) {
			sealer, err := NewSealer(tag)
			require.NoError(t, err)
			key := DeriveKey([]byte("secret"), "job-1")
			ciphertext, err := sealer.Seal(key, []byte("payload"))
			require.NoError(t, err)

			ciphertext[len(ciphertext)/2] ^= 0xFF
			_, err = sealer.Open(key, ciphertext)
			assert.ErrorIs(t, err, ErrIntegrity)
		})
	}
}

func TestSealersRejectWrongKey(t *testing.T) {
	for _, tag := range []string{AlgorithmAESGCM, AlgorithmXORHMAC} {
		sealer, err := NewSealer(tag)
		require.NoError(t, err)
		ciphertext, err := sealer.Seal(DeriveKey([]byte("secret"), "job-1"), []byte("payload"))
		require.NoError(t, err)
		_, err = sealer.Open(DeriveKey([]byte("secret"), "job-2"), ciphertext)
		assert.ErrorIs(t, err, ErrIntegrity)
	}
}

func TestSealersRejectTruncatedCiphertext(t *testing.T) {
	for _, tag := range []string{AlgorithmAESGCM, AlgorithmXORHMAC} {
		sealer, err := NewSealer(tag)
		require.NoError(t, err)
		_, err = sealer.Open(DeriveKey([]byte("secret"), "job"), []byte{1, 2, 3})
		assert.ErrorIs(t, err, ErrIntegrity)
	}
}

func TestNewSealerUnknown(t *testing.T) {
	_, err := NewSealer("rot13")
	assert.Error(t, err)
}

func TestDeriveKeyDeterministic(t *testing.T) {
	k1 := DeriveKey([]byte("secret"), "job-1")
	k2 := DeriveKey([]byte("secret"), "job-1")
	k3 := DeriveKey([]byte("secret"), "job-2")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 32)
}

func TestKeyFingerprintIsHashOfKey(t *testing.T) {
	key := DeriveKey([]byte("secret"), "job-1")
	sum := sha256.Sum256(key)
	assert.Equal(t, hex.EncodeToString(sum[:]), KeyFingerprint(key))
}

func TestProofDigestRecomputes(t *testing.T) {
	ts := time.UnixMilli(1700000000000).UTC()
	secret := []byte("server-secret")
	digest := ProofDigest("job-1", "abc123", ts, secret)

	h := sha256.New()
	fmt.Fprintf(h, "job-1|abc123|%d|", ts.UnixMilli())
	h.Write(secret)
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), digest)

	// A different secret yields a different digest.
	assert.NotEqual(t, digest, ProofDigest("job-1", "abc123", ts, []byte("other")))
}
