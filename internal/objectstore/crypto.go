package objectstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Algorithm tags recorded per artifact.
const (
	AlgorithmAESGCM  = "aes256gcm"
	AlgorithmXORHMAC = "xor-hmac-sha256"
)

// Sealer turns plaintext into authenticated ciphertext and back.
// Open must fail on any tampering with the ciphertext.
type Sealer interface {
	Tag() string
	Seal(key, plaintext []byte) ([]byte, error)
	Open(key, ciphertext []byte) ([]byte, error)
}

// NewSealer returns the sealer for an algorithm tag.
func NewSealer(tag string) (Sealer, error) {
	switch tag {
	case AlgorithmAESGCM, "":
		return aeadSealer{}, nil
	case AlgorithmXORHMAC:
		return streamSealer{}, nil
	default:
		return nil, fmt.Errorf("unknown store algorithm: %q", tag)
	}
}

// aeadSealer is AES-256-GCM with a random 12-byte nonce prefixed to
// the ciphertext.
type aeadSealer struct{}

func (aeadSealer) Tag() string { return AlgorithmAESGCM }

func (aeadSealer) Seal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (aeadSealer) Open(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < aesgcm.NonceSize() {
		return nil, ErrIntegrity
	}
	nonce, ct := ciphertext[:aesgcm.NonceSize()], ciphertext[aesgcm.NonceSize():]
	plaintext, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, ErrIntegrity
	}
	return plaintext, nil
}

// streamSealer is the fallback: a keyed SHA-256 counter keystream XOR
// plus an HMAC-SHA256 tag over the ciphertext, appended.
type streamSealer struct{}

func (streamSealer) Tag() string { return AlgorithmXORHMAC }

func xorKeystream(key, data []byte) []byte {
	out := make([]byte, len(data))
	var counter [8]byte
	block := 0
	for off := 0; off < len(data); off += sha256.Size {
		binary.LittleEndian.PutUint64(counter[:], uint64(block))
		h := sha256.New()
		h.Write(key)
		h.Write(counter[:])
		stream := h.Sum(nil)
		for i := 0; i < sha256.Size && off+i < len(data); i++ {
			out[off+i] = data[off+i] ^ stream[i]
		}
		block++
	}
	return out
}

func (streamSealer) Seal(key, plaintext []byte) ([]byte, error) {
	ct := xorKeystream(key, plaintext)
	mac := hmac.New(sha256.New, key)
	mac.Write(ct)
	return mac.Sum(ct), nil
}

func (streamSealer) Open(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < sha256.Size {
		return nil, ErrIntegrity
	}
	ct, tag := ciphertext[:len(ciphertext)-sha256.Size], ciphertext[len(ciphertext)-sha256.Size:]
	mac := hmac.New(sha256.New, key)
	mac.Write(ct)
	if !hmac.Equal(tag, mac.Sum(nil)) {
		return nil, ErrIntegrity
	}
	return xorKeystream(key, ct), nil
}

// DeriveKey produces a deterministic 256-bit key from the server
// secret and a binding string. The store binds keys to the content
// hash so deduplicated artifacts share one ciphertext.
func DeriveKey(secret []byte, binding string) []byte {
	r := hkdf.New(sha256.New, secret, nil, []byte("genomevault/artifact-key/"+binding))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// SHA-256 HKDF cannot fail to produce 32 bytes.
		panic(err)
	}
	return key
}

// KeyFingerprint is the hex SHA-256 of key material. Never the key.
func KeyFingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

// ContentHash is the hex SHA-256 of plaintext.
func ContentHash(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}

// ProofDigest binds a deletion assertion to the server secret:
// SHA256(job_id | content_hash | deletion_ts_unix_ms | secret).
func ProofDigest(jobID, contentHash string, deletionTS time.Time, secret []byte) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|", jobID, contentHash, deletionTS.UnixMilli())
	h.Write(secret)
	return hex.EncodeToString(h.Sum(nil))
}
