// Package cipher implements the AEAD primitive used to seal and open
// chunk plaintext: AES-256-GCM with the chunk id bound in as associated
// data, producing nonce || ciphertext || tag on the wire.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"

	"github.com/mvance/tgfs/internal/apperrors"
)

const (
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce size in bytes.
	NonceSize = 12
	// TagSize is the GCM authentication tag size in bytes.
	TagSize = 16
)

// Sealed is the wire representation of a sealed chunk: nonce, then
// ciphertext with the GCM tag appended.
type Sealed struct {
	Nonce      []byte
	Ciphertext []byte // includes the 16-byte tag
}

// Size returns the total on-disk size of the sealed payload.
func (s Sealed) Size() int {
	return len(s.Nonce) + len(s.Ciphertext)
}

// ToBytes serializes a Sealed value as nonce || ciphertext.
func (s Sealed) ToBytes() []byte {
	out := make([]byte, 0, s.Size())
	out = append(out, s.Nonce...)
	out = append(out, s.Ciphertext...)
	return out
}

// FromBytes parses nonce || ciphertext produced by ToBytes.
func FromBytes(b []byte) (Sealed, error) {
	if len(b) < NonceSize+TagSize {
		return Sealed{}, apperrors.New(apperrors.KindDecryption, "sealed payload shorter than nonce+tag")
	}
	nonce := make([]byte, NonceSize)
	copy(nonce, b[:NonceSize])
	ct := make([]byte, len(b)-NonceSize)
	copy(ct, b[NonceSize:])
	return Sealed{Nonce: nonce, Ciphertext: ct}, nil
}

// AEAD wraps a keyed AES-256-GCM instance. Every chunk key derived by
// internal/ckdf produces its own AEAD; instances are not reused across
// chunk ids.
type AEAD struct {
	gcm cipher.AEAD
}

// New constructs an AEAD from a 32-byte key, matching the teacher's
// cipher.NewGCM(aes.NewCipher(key)) construction used in
// internal/crypto/chunked.go, generalized to whole-chunk sealing.
func New(key []byte) (*AEAD, error) {
	if len(key) != KeySize {
		return nil, apperrors.New(apperrors.KindInvalidKeyLength, "expected 32-byte key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncryption, "constructing AES block cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncryption, "constructing GCM", err)
	}
	return &AEAD{gcm: gcm}, nil
}

// Seal encrypts plaintext, binding aad (typically the chunk id) as
// associated data, and returns the sealed wire representation.
func (a *AEAD) Seal(plaintext, aad []byte) (Sealed, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Sealed{}, apperrors.Wrap(apperrors.KindEncryption, "generating nonce", err)
	}
	ct := a.gcm.Seal(nil, nonce, plaintext, aad)
	return Sealed{Nonce: nonce, Ciphertext: ct}, nil
}

// Open decrypts and authenticates a Sealed payload, verifying aad
// matches what was bound at Seal time.
func (a *AEAD) Open(s Sealed, aad []byte) ([]byte, error) {
	if len(s.Nonce) != NonceSize {
		return nil, apperrors.New(apperrors.KindDecryption, "invalid nonce length")
	}
	pt, err := a.gcm.Open(nil, s.Nonce, s.Ciphertext, aad)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDecryption, "GCM authentication failed", err)
	}
	return pt, nil
}
