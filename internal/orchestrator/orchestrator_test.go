package orchestrator

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvance/tgfs/internal/audit"
	"github.com/mvance/tgfs/internal/cache"
	"github.com/mvance/tgfs/internal/chunk"
	"github.com/mvance/tgfs/internal/ckdf"
	"github.com/mvance/tgfs/internal/erasure"
	"github.com/mvance/tgfs/internal/metadata"
	"github.com/mvance/tgfs/internal/pool"
)

type memClient struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemClient() *memClient { return &memClient{data: make(map[string][]byte)} }

func (m *memClient) PutBlock(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[key] = cp
	return nil
}

func (m *memClient) GetBlock(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memClient) DeleteBlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memClient) HeadBlock(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	mk, err := ckdf.FromPassword([]byte("pw"), nil, ckdf.Params{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1})
	require.NoError(t, err)
	metaKey, err := mk.MetadataKey()
	require.NoError(t, err)

	store, err := metadata.Open(filepath.Join(t.TempDir(), "meta.db"), metaKey, "")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	chunkCache, err := cache.Open(t.TempDir(), 0, false)
	require.NoError(t, err)

	var backends []pool.Backend
	for i := 0; i < 3; i++ {
		backends = append(backends, pool.Backend{ID: uint8(i + 1), Client: newMemClient()})
	}
	p, err := pool.New(backends, pool.Config{DataShards: 2, ParityShards: 1})
	require.NoError(t, err)

	codec, err := erasure.New(2, 3)
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return New(mk, store, chunkCache, p, codec, log)
}

func TestWriteReadRoundtrip(t *testing.T) {
	o := newTestOrchestrator(t)
	data := bytes.Repeat([]byte("abcdefgh"), 10_000) // 80KB, multiple chunks at small chunk size

	manifest, err := o.Write(context.Background(), 42, data, 16*1024)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), manifest.TotalSize)

	got, err := o.Read(context.Background(), manifest, 0, uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReadPartialRange(t *testing.T) {
	o := newTestOrchestrator(t)
	data := bytes.Repeat([]byte("0123456789"), 5000)

	manifest, err := o.Write(context.Background(), 1, data, 8*1024)
	require.NoError(t, err)

	got, err := o.Read(context.Background(), manifest, 100, 50)
	require.NoError(t, err)
	assert.Equal(t, data[100:150], got)
}

func TestDedupSkipsReupload(t *testing.T) {
	o := newTestOrchestrator(t)
	data := bytes.Repeat([]byte("same content "), 1000)

	m1, err := o.Write(context.Background(), 1, data, 64*1024)
	require.NoError(t, err)
	m2, err := o.Write(context.Background(), 2, data, 64*1024)
	require.NoError(t, err)

	assert.Equal(t, m1.Chunks[0].ID, m2.Chunks[0].ID)
}

func TestDeleteReleasesLastRef(t *testing.T) {
	o := newTestOrchestrator(t)
	data := []byte("some file content to store")

	manifest, err := o.Write(context.Background(), 1, data, 64*1024)
	require.NoError(t, err)

	require.NoError(t, o.Delete(context.Background(), manifest))

	_, found, err := o.meta.GetChunkRef(manifest.Chunks[0].ID.String())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriteReadRecordsAuditEvents(t *testing.T) {
	o := newTestOrchestrator(t)
	logger := audit.NewLogger(100, nil)
	o.SetAuditLogger(logger)

	data := []byte("audited content")
	manifest, err := o.Write(context.Background(), 7, data, 64*1024)
	require.NoError(t, err)

	_, err = o.Read(context.Background(), manifest, 0, uint64(len(data)))
	require.NoError(t, err)

	events := logger.GetEvents()
	var sawEncrypt, sawUpload, sawDecrypt bool
	for _, e := range events {
		switch e.EventType {
		case audit.EventTypeChunkEncrypt:
			sawEncrypt = true
		case audit.EventTypeChunkUpload:
			sawUpload = true
		case audit.EventTypeChunkDecrypt:
			sawDecrypt = true
		}
	}
	assert.True(t, sawEncrypt)
	assert.True(t, sawUpload)
	assert.True(t, sawDecrypt)
}

func TestTruncateShrinksManifest(t *testing.T) {
	o := newTestOrchestrator(t)
	data := bytes.Repeat([]byte("x"), 40_000)

	manifest, err := o.Write(context.Background(), 1, data, 16*1024)
	require.NoError(t, err)

	truncated, err := o.Truncate(context.Background(), 1, manifest, 20_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000), truncated.TotalSize)

	got, err := o.Read(context.Background(), truncated, 0, 20_000)
	require.NoError(t, err)
	assert.Equal(t, data[:20_000], got)
}

func TestTruncatePublishesNewManifest(t *testing.T) {
	o := newTestOrchestrator(t)
	data := bytes.Repeat([]byte("y"), 40_000)

	manifest, err := o.Write(context.Background(), 2, data, 16*1024)
	require.NoError(t, err)

	truncated, err := o.Truncate(context.Background(), 2, manifest, 20_000)
	require.NoError(t, err)

	loaded, err := o.LoadManifest(2)
	require.NoError(t, err)
	assert.Equal(t, truncated.TotalSize, loaded.TotalSize)
	assert.Equal(t, truncated.FileHash, loaded.FileHash)
	assert.NotEqual(t, chunk.ID{}, loaded.FileHash)
}

func TestWritePublishesManifestSurvivingReload(t *testing.T) {
	o := newTestOrchestrator(t)
	data := []byte("durable content")

	manifest, err := o.Write(context.Background(), 9, data, 64*1024)
	require.NoError(t, err)

	loaded, err := o.LoadManifest(9)
	require.NoError(t, err)
	assert.Equal(t, manifest, loaded)

	in, err := o.meta.GetInode(9)
	require.NoError(t, err)
	assert.NotEmpty(t, in.ManifestID)
	assert.Equal(t, manifest.TotalSize, in.Size)
}

func TestWriteTwicePublishesIncrementedVersion(t *testing.T) {
	o := newTestOrchestrator(t)

	m1, err := o.Write(context.Background(), 11, []byte("first"), 64*1024)
	require.NoError(t, err)
	m2, err := o.Write(context.Background(), 11, []byte("second, longer content"), 64*1024)
	require.NoError(t, err)

	assert.Equal(t, m1.Version+1, m2.Version)

	loaded, err := o.LoadManifest(11)
	require.NoError(t, err)
	assert.Equal(t, m2.Version, loaded.Version)
}

func TestDeleteFileRemovesInodeAndReleasesChunks(t *testing.T) {
	o := newTestOrchestrator(t)
	data := []byte("file to be removed")

	ino, err := o.meta.AllocIno()
	require.NoError(t, err)
	require.NoError(t, o.meta.SaveInode(&metadata.Inode{Ino: ino, ParentIno: 1, Name: "doomed", Nlink: 1}))

	manifest, err := o.Write(context.Background(), ino, data, 64*1024)
	require.NoError(t, err)

	require.NoError(t, o.DeleteFile(context.Background(), ino))

	_, err = o.meta.GetInode(ino)
	assert.Error(t, err)

	_, found, err := o.meta.GetChunkRef(manifest.Chunks[0].ID.String())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDeleteFileKeepsInodeWhileHardLinksRemain(t *testing.T) {
	o := newTestOrchestrator(t)
	data := []byte("linked content")

	ino, err := o.meta.AllocIno()
	require.NoError(t, err)
	require.NoError(t, o.meta.SaveInode(&metadata.Inode{Ino: ino, ParentIno: 1, Name: "first", Nlink: 1}))
	require.NoError(t, o.meta.Link(ino, 1, "second"))

	_, err = o.Write(context.Background(), ino, data, 64*1024)
	require.NoError(t, err)

	require.NoError(t, o.DeleteFile(context.Background(), ino))

	in, err := o.meta.GetInode(ino)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), in.Nlink)
}
