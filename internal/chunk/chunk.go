// Package chunk implements fixed-size splitting of file data into
// chunks, content hashing for chunk ids, optional
// compression, and the chunk manifest that maps a file's byte range
// back onto its chunks. Grounded on
// original_source/src/chunk/mod.rs.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	// DefaultSize is the default plaintext chunk size, matching the
	// teacher's internal/crypto.DefaultChunkSize.
	DefaultSize = 4 * 1024 * 1024
	// MinSize is the smallest configurable chunk size.
	MinSize = 64 * 1024
	// MaxSize is the largest configurable chunk size.
	MaxSize = 32 * 1024 * 1024
)

// ID is a content hash identifying a chunk's post-compression bytes.
// Two chunks with identical compressed content share an ID, which is
// what makes deduplication possible.
type ID [32]byte

// String renders the ID as lowercase hex, used as map keys, cache
// filenames and the chunk-id AAD bound into the cipher.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns id as a byte slice.
func (id ID) Bytes() []byte { return id[:] }

// ComputeID hashes post-compression bytes to produce a chunk id.
func ComputeID(compressed []byte) ID {
	return ID(sha256.Sum256(compressed))
}

// Ref describes one chunk within a file's manifest: which chunk,
// where it sits in the logical (pre-compression) byte stream, and its
// sizes before/after compression.
type Ref struct {
	ID             ID
	Offset         uint64 // logical offset of this chunk's first byte
	OriginalSize   uint32 // plaintext size before compression
	CompressedSize uint32 // size actually stored (post-compression)
	Compressed     bool
}

// End returns the logical offset one past this chunk's last byte.
func (r Ref) End() uint64 { return r.Offset + uint64(r.OriginalSize) }

// Manifest maps a file's full logical byte range onto an ordered list
// of chunk refs, mirroring original_source's ChunkManifest.
type Manifest struct {
	Version   uint32
	TotalSize uint64
	Chunks    []Ref
	FileHash  ID // hash of the concatenated plaintext chunks in order, for integrity checks
}

// ComputeFileHash hashes the concatenation of a file's plaintext
// chunks in order. Split produces contiguous, non-overlapping slices,
// so that concatenation is exactly the original plaintext.
func ComputeFileHash(data []byte) ID {
	return ID(sha256.Sum256(data))
}

// StoredSize returns the total bytes actually persisted across all
// chunks (post-compression), before erasure/parity expansion.
func (m *Manifest) StoredSize() uint64 {
	var total uint64
	for _, c := range m.Chunks {
		total += uint64(c.CompressedSize)
	}
	return total
}

// ChunkCount returns the number of chunks in the manifest.
func (m *Manifest) ChunkCount() int { return len(m.Chunks) }

// ChunkAtOffset returns the Ref covering logical offset, or false if
// offset is beyond TotalSize. Mirrors chunk_at_offset's linear scan;
// manifests are small enough (few thousand entries even for large
// files at the default chunk size) that a linear scan is simpler than
// maintaining a parallel offset index.
func (m *Manifest) ChunkAtOffset(offset uint64) (Ref, bool) {
	for _, c := range m.Chunks {
		if offset >= c.Offset && offset < c.End() {
			return c, true
		}
	}
	return Ref{}, false
}

// Split breaks data into consecutive slices of size bytes (DefaultSize
// when size is 0; the last slice may be shorter), returning each
// slice along with its logical offset. Callers compress/encrypt/hash
// each slice independently before assembling the Manifest.
func Split(data []byte, size uint32) []struct {
	Offset uint64
	Data   []byte
} {
	if size == 0 {
		size = DefaultSize
	}
	var out []struct {
		Offset uint64
		Data   []byte
	}
	for off := uint64(0); off < uint64(len(data)); off += uint64(size) {
		end := off + uint64(size)
		if end > uint64(len(data)) {
			end = uint64(len(data))
		}
		out = append(out, struct {
			Offset uint64
			Data   []byte
		}{Offset: off, Data: data[off:end]})
	}
	return out
}
