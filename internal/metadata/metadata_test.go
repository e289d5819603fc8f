package metadata

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	s, err := Open(filepath.Join(t.TempDir(), "meta.db"), key, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateStoreInitializesRoot(t *testing.T) {
	s := newTestStore(t)
	root, err := s.GetInode(rootIno)
	require.NoError(t, err)
	assert.True(t, root.IsDir)
}

func TestSaveAndGetInode(t *testing.T) {
	s := newTestStore(t)
	ino, err := s.AllocIno()
	require.NoError(t, err)

	in := &Inode{Ino: ino, ParentIno: rootIno, Name: "file.txt", Mode: 0o644, Nlink: 1, Mtime: time.Now(), Ctime: time.Now()}
	require.NoError(t, s.SaveInode(in))

	got, err := s.GetInode(ino)
	require.NoError(t, err)
	assert.Equal(t, "file.txt", got.Name)
	assert.Equal(t, uint32(0o644), got.Mode)
}

func TestLookup(t *testing.T) {
	s := newTestStore(t)
	ino, err := s.AllocIno()
	require.NoError(t, err)
	in := &Inode{Ino: ino, ParentIno: rootIno, Name: "dir", IsDir: true}
	require.NoError(t, s.SaveInode(in))

	found, err := s.Lookup(rootIno, "dir")
	require.NoError(t, err)
	assert.Equal(t, ino, found)

	_, err = s.Lookup(rootIno, "missing")
	assert.Error(t, err)
}

func TestGetChildrenExcludesRootSelfParent(t *testing.T) {
	s := newTestStore(t)
	ino1, _ := s.AllocIno()
	ino2, _ := s.AllocIno()
	require.NoError(t, s.SaveInode(&Inode{Ino: ino1, ParentIno: rootIno, Name: "a"}))
	require.NoError(t, s.SaveInode(&Inode{Ino: ino2, ParentIno: rootIno, Name: "b"}))

	children, err := s.GetChildren(rootIno)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{ino1, ino2}, children)
}

func TestDeleteInode(t *testing.T) {
	s := newTestStore(t)
	ino, _ := s.AllocIno()
	in := &Inode{Ino: ino, ParentIno: rootIno, Name: "tmp"}
	require.NoError(t, s.SaveInode(in))
	require.NoError(t, s.DeleteInode(in))

	_, err := s.GetInode(ino)
	assert.Error(t, err)
}

func TestChunkRefExactSemantics(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveChunkRef("chunk-a", "stripe-1"))
	require.NoError(t, s.SaveChunkRef("chunk-a", "stripe-1")) // second writer dedups onto same chunk

	ref, found, err := s.GetChunkRef("chunk-a")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "stripe-1", ref)

	_, deleted, err := s.DecrementChunkRef("chunk-a")
	require.NoError(t, err)
	assert.False(t, deleted) // refcount was 2, now 1

	_, deleted, err = s.DecrementChunkRef("chunk-a")
	require.NoError(t, err)
	assert.True(t, deleted) // refcount was 1, now 0: row removed

	_, found, err = s.GetChunkRef("chunk-a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMetadataRoundtrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveMetadata("pool-config", []byte(`{"k":4,"n":6}`)))

	v, found, err := s.GetMetadata("pool-config")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"k":4,"n":6}`, string(v))

	require.NoError(t, s.DeleteMetadata("pool-config"))
	_, found, err = s.GetMetadata("pool-config")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestXattrRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ino, _ := s.AllocIno()
	require.NoError(t, s.SetXattr(ino, "user.comment", []byte("hello")))

	v, found, err := s.GetXattr(ino, "user.comment")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), v)

	require.NoError(t, s.RemoveXattr(ino, "user.comment"))
	_, found, err = s.GetXattr(ino, "user.comment")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestHardLinkNlinkTracksPathCount(t *testing.T) {
	s := newTestStore(t)
	ino, _ := s.AllocIno()
	require.NoError(t, s.SaveInode(&Inode{Ino: ino, ParentIno: rootIno, Name: "first", Nlink: 1}))

	require.NoError(t, s.Link(ino, rootIno, "first"))
	require.NoError(t, s.Link(ino, rootIno, "second"))

	in, err := s.GetInode(ino)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), in.Nlink)

	orphaned, err := s.Unlink(ino, rootIno, "first")
	require.NoError(t, err)
	assert.False(t, orphaned)

	orphaned, err = s.Unlink(ino, rootIno, "second")
	require.NoError(t, err)
	assert.True(t, orphaned)
}
