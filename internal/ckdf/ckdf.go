// Package ckdf derives the master key and labeled subkeys tgfs uses to
// protect metadata and chunk content, mirroring
// original_source/src/crypto/keys.rs: a memory-hard password stretch
// into a master key, then HKDF-SHA256 expansion into purpose-labeled
// subkeys.
package ckdf

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/mvance/tgfs/internal/apperrors"
)

const (
	// KeySize is the size in bytes of the master key and every
	// derived subkey.
	KeySize = 32
	// SaltSize is the size in bytes of the Argon2 salt.
	SaltSize = 16

	metadataLabel = "tgfs-metadata-v1"
	machineLabel  = "tgfs-machine-v1"
	chunkLabelFmt = "tgfs-chunk-v1:%x"
)

// Params controls the memory-hard password stretch. Defaults follow
// the OWASP-recommended Argon2id baseline; spec.md §6 exposes these as
// configurable KDF options.
type Params struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// DefaultParams is a conservative interactive-use baseline.
var DefaultParams = Params{MemoryKiB: 64 * 1024, Iterations: 3, Parallelism: 4}

// MasterKey is the root key material derived from a password, plus the
// salt needed to reproduce it deterministically.
type MasterKey struct {
	key  [KeySize]byte
	salt [SaltSize]byte
}

// FromPassword derives a MasterKey from a password using Argon2id. If
// salt is nil, a fresh random salt is generated; pass the salt back in
// on subsequent opens of the same store via FromExisting.
func FromPassword(password []byte, salt []byte, params Params) (*MasterKey, error) {
	var s [SaltSize]byte
	if salt == nil {
		if _, err := rand.Read(s[:]); err != nil {
			return nil, apperrors.Wrap(apperrors.KindKeyDerivation, "generating salt", err)
		}
	} else {
		if len(salt) != SaltSize {
			return nil, apperrors.New(apperrors.KindKeyDerivation, fmt.Sprintf("expected %d-byte salt, got %d", SaltSize, len(salt)))
		}
		copy(s[:], salt)
	}

	derived := argon2.IDKey(password, s[:], params.Iterations, params.MemoryKiB, params.Parallelism, KeySize)

	mk := &MasterKey{salt: s}
	copy(mk.key[:], derived)
	return mk, nil
}

// FromExisting reopens a MasterKey deterministically given the salt
// recorded when the store was created.
func FromExisting(password, salt []byte, params Params) (*MasterKey, error) {
	return FromPassword(password, salt, params)
}

// Salt returns the salt used to derive this master key.
func (m *MasterKey) Salt() []byte {
	out := make([]byte, SaltSize)
	copy(out, m.salt[:])
	return out
}

// Zero overwrites the key material in place. Callers should defer this
// once the master key is no longer needed.
func (m *MasterKey) Zero() {
	for i := range m.key {
		m.key[i] = 0
	}
}

// deriveSubkey expands the master key into a purpose-labeled 32-byte
// subkey via HKDF-SHA256, matching keys.rs's derive_subkey(purpose).
func (m *MasterKey) deriveSubkey(label string) ([]byte, error) {
	r := hkdf.New(sha256.New, m.key[:], m.salt[:], []byte(label))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, apperrors.Wrap(apperrors.KindKeyDerivation, "HKDF expand", err)
	}
	return out, nil
}

// MetadataKey derives the key used to encrypt the metadata store.
func (m *MasterKey) MetadataKey() ([]byte, error) {
	return m.deriveSubkey(metadataLabel)
}

// MachineKey derives the subkey labeled machineLabel, distinct from the
// metadata key. The label is a fixed constant with no machine
// identifier in it, so every caller holding the same master key
// derives the same machine key.
func (m *MasterKey) MachineKey() ([]byte, error) {
	return m.deriveSubkey(machineLabel)
}

// ChunkKey derives the per-chunk content key for chunkID. Each chunk id
// produces a distinct, deterministic key so that re-uploading identical
// content (same chunk id) always re-derives the same key without
// needing to store it.
func (m *MasterKey) ChunkKey(chunkID []byte) ([]byte, error) {
	label := fmt.Sprintf(chunkLabelFmt, chunkID)
	return m.deriveSubkey(label)
}
