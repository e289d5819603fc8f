package chunk

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIDDeterministic(t *testing.T) {
	data := []byte("some compressed bytes")
	assert.Equal(t, ComputeID(data), ComputeID(data))
}

func TestComputeIDDiffersByContent(t *testing.T) {
	assert.NotEqual(t, ComputeID([]byte("a")), ComputeID([]byte("b")))
}

func TestManifestChunkAtOffset(t *testing.T) {
	m := &Manifest{
		TotalSize: 300,
		Chunks: []Ref{
			{ID: ComputeID([]byte("a")), Offset: 0, OriginalSize: 100},
			{ID: ComputeID([]byte("b")), Offset: 100, OriginalSize: 100},
			{ID: ComputeID([]byte("c")), Offset: 200, OriginalSize: 100},
		},
	}

	ref, ok := m.ChunkAtOffset(150)
	require.True(t, ok)
	assert.Equal(t, uint64(100), ref.Offset)

	ref, ok = m.ChunkAtOffset(0)
	require.True(t, ok)
	assert.Equal(t, uint64(0), ref.Offset)

	_, ok = m.ChunkAtOffset(300)
	assert.False(t, ok)
}

func TestManifestStoredSize(t *testing.T) {
	m := &Manifest{Chunks: []Ref{
		{CompressedSize: 10},
		{CompressedSize: 20},
	}}
	assert.Equal(t, uint64(30), m.StoredSize())
}

func TestSplitAlignment(t *testing.T) {
	data := make([]byte, 250)
	_, _ = rand.Read(data)

	slices := Split(data, 100)
	require.Len(t, slices, 3)
	assert.Equal(t, uint64(0), slices[0].Offset)
	assert.Len(t, slices[0].Data, 100)
	assert.Equal(t, uint64(200), slices[2].Offset)
	assert.Len(t, slices[2].Data, 50)
}

func TestCompressDecompressRoundtrip(t *testing.T) {
	data := bytes.Repeat([]byte("hello world, this compresses well "), 200)

	compressed, shrank, err := CompressIfSmaller(data, 0, 0)
	require.NoError(t, err)
	assert.True(t, shrank)
	assert.Less(t, len(compressed), len(data))

	out, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestCompressIfSmallerFallsBackOnIncompressibleData(t *testing.T) {
	data := make([]byte, 1024)
	_, _ = rand.Read(data)

	out, shrank, err := CompressIfSmaller(data, 0, 0)
	require.NoError(t, err)
	assert.False(t, shrank)
	assert.Equal(t, data, out)
}

func TestCompressIfSmallerSkipsBelowThreshold(t *testing.T) {
	data := bytes.Repeat([]byte("aaaaaaaaaa"), 100) // highly compressible, but under threshold

	out, shrank, err := CompressIfSmaller(data, 0, uint32(len(data)+1))
	require.NoError(t, err)
	assert.False(t, shrank)
	assert.Equal(t, data, out)
}

func TestComputeFileHashMatchesConcatenatedChunks(t *testing.T) {
	data := bytes.Repeat([]byte("xyz"), 1000)
	slices := Split(data, 777)

	var reassembled []byte
	for _, s := range slices {
		reassembled = append(reassembled, s.Data...)
	}

	assert.Equal(t, ComputeFileHash(data), ComputeFileHash(reassembled))
}

func TestManifestCodecRoundtrip(t *testing.T) {
	m := &Manifest{
		Version:   3,
		TotalSize: 300,
		FileHash:  ComputeID([]byte("whole file")),
		Chunks: []Ref{
			{ID: ComputeID([]byte("a")), Offset: 0, OriginalSize: 100, CompressedSize: 80, Compressed: true},
			{ID: ComputeID([]byte("b")), Offset: 100, OriginalSize: 200, CompressedSize: 200},
		},
	}

	encoded, err := MarshalManifest(m)
	require.NoError(t, err)

	decoded, err := UnmarshalManifest(encoded)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}
