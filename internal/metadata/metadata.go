// Package metadata implements the encrypted embedded KV store backing
// the filesystem's inode tree, parent index, chunk refcounts, xattrs
// and hard links, ported from
// original_source/src/metadata/store.rs onto go.etcd.io/bbolt as the
// Go ecosystem's embedded ordered-KV analogue of the original's sled.
package metadata

import (
	"encoding/binary"
	"encoding/json"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mvance/tgfs/internal/apperrors"
	"github.com/mvance/tgfs/internal/cipher"
)

var (
	bucketInodes      = []byte("inodes")
	bucketParentIndex = []byte("parent_index")
	bucketChunks      = []byte("chunks")
	bucketMetadata    = []byte("metadata")
	bucketXattrs      = []byte("xattrs")
	bucketHardlinks   = []byte("hardlinks")
	bucketCounters    = []byte("counters")
)

var allBuckets = [][]byte{
	bucketInodes, bucketParentIndex, bucketChunks,
	bucketMetadata, bucketXattrs, bucketHardlinks, bucketCounters,
}

const rootIno = uint64(1)

// Inode is the filesystem's per-entry metadata record.
type Inode struct {
	Ino       uint64
	ParentIno uint64
	Name      string
	IsDir     bool
	Size      uint64
	Mode      uint32
	UID       uint32
	GID       uint32
	Nlink     uint32
	Mtime     time.Time
	Ctime     time.Time
	ManifestID string // reference into the chunk manifest store; empty for directories
}

// Store is the encrypted metadata store. All inode and metadata values
// are AEAD-sealed with the metadata key before being written to bbolt;
// keys (ino, parent/name, chunk id) are left in the clear since bbolt's
// own B+tree ordering is what makes range scans like GetChildren cheap.
type Store struct {
	db        *bbolt.DB
	aead      *cipher.AEAD
	namespace string

	mu        sync.RWMutex
	inodeCache map[uint64]*Inode
	inoCounter uint64
}

// Open opens (creating if necessary) a metadata store at path, sealed
// with metadataKey. namespace, if non-empty, prefixes every bucket
// name, allowing multiple independent filesystems to share one file.
func Open(path string, metadataKey []byte, namespace string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "opening metadata store", err)
	}
	aead, err := cipher.New(metadataKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, aead: aead, namespace: namespace, inodeCache: make(map[uint64]*Inode)}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(s.bucketName(b)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.KindDatabase, "creating buckets", err)
	}

	if err := s.initRoot(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the underlying database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "closing metadata store", err)
	}
	return nil
}

func (s *Store) bucketName(b []byte) []byte {
	if s.namespace == "" {
		return b
	}
	return []byte(s.namespace + ":" + string(b))
}

// NamespacePrefix reports the namespace this store was opened with.
func (s *Store) NamespacePrefix() string { return s.namespace }

// IsNamespaced reports whether this store uses a namespace prefix.
func (s *Store) IsNamespaced() bool { return s.namespace != "" }

func (s *Store) initRoot() error {
	_, err := s.GetInode(rootIno)
	if err == nil {
		return nil
	}
	root := &Inode{
		Ino: rootIno, ParentIno: rootIno, Name: "", IsDir: true,
		Mode: 0o755, Nlink: 2, Mtime: time.Unix(0, 0), Ctime: time.Unix(0, 0),
	}
	return s.SaveInode(root)
}

// AllocIno returns a fresh, monotonically increasing inode number.
func (s *Store) AllocIno() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucketName(bucketCounters))
		v := b.Get([]byte("next_ino"))
		cur := rootIno + 1
		if v != nil {
			cur = binary.BigEndian.Uint64(v)
		}
		next = cur
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, cur+1)
		return b.Put([]byte("next_ino"), buf)
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindDatabase, "allocating inode number", err)
	}
	return next, nil
}

func inodeKey(ino uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, ino)
	return b
}

func parentNameKey(parent uint64, name string) []byte {
	b := make([]byte, 8+len(name))
	binary.BigEndian.PutUint64(b[:8], parent)
	copy(b[8:], name)
	return b
}

type inodeWire struct {
	Ino        uint64    `json:"ino"`
	ParentIno  uint64    `json:"parent_ino"`
	Name       string    `json:"name"`
	IsDir      bool      `json:"is_dir"`
	Size       uint64    `json:"size"`
	Mode       uint32    `json:"mode"`
	UID        uint32    `json:"uid"`
	GID        uint32    `json:"gid"`
	Nlink      uint32    `json:"nlink"`
	Mtime      time.Time `json:"mtime"`
	Ctime      time.Time `json:"ctime"`
	ManifestID string    `json:"manifest_id"`
}

func (s *Store) encryptInode(in *Inode) ([]byte, error) {
	wire := inodeWire(*in)
	plain, err := json.Marshal(wire)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindSerialization, "marshaling inode", err)
	}
	sealed, err := s.aead.Seal(plain, inodeKey(in.Ino))
	if err != nil {
		return nil, err
	}
	return sealed.ToBytes(), nil
}

func (s *Store) decryptInode(ino uint64, raw []byte) (*Inode, error) {
	sealed, err := cipher.FromBytes(raw)
	if err != nil {
		return nil, err
	}
	plain, err := s.aead.Open(sealed, inodeKey(ino))
	if err != nil {
		return nil, err
	}
	var wire inodeWire
	if err := json.Unmarshal(plain, &wire); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDeserialization, "unmarshaling inode", err)
	}
	in := Inode(wire)
	return &in, nil
}

// SaveInode persists in, writing both the inodes tree and the
// parent_index, and refreshes the in-memory inode cache.
func (s *Store) SaveInode(in *Inode) error {
	enc, err := s.encryptInode(in)
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(s.bucketName(bucketInodes)).Put(inodeKey(in.Ino), enc); err != nil {
			return err
		}
		if in.Ino != in.ParentIno || in.Ino == rootIno {
			key := parentNameKey(in.ParentIno, in.Name)
			buf := make([]byte, 8)
			binary.BigEndian.PutUint64(buf, in.Ino)
			if err := tx.Bucket(s.bucketName(bucketParentIndex)).Put(key, buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "saving inode", err)
	}

	s.mu.Lock()
	cp := *in
	s.inodeCache[in.Ino] = &cp
	s.mu.Unlock()
	return nil
}

// GetInode looks up ino, checking the in-memory cache before the
// bucket.
func (s *Store) GetInode(ino uint64) (*Inode, error) {
	s.mu.RLock()
	if cached, ok := s.inodeCache[ino]; ok {
		s.mu.RUnlock()
		cp := *cached
		return &cp, nil
	}
	s.mu.RUnlock()

	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucketName(bucketInodes)).Get(inodeKey(ino))
		if v == nil {
			return nil
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "reading inode", err)
	}
	if raw == nil {
		return nil, apperrors.New(apperrors.KindInodeNotFound, "inode not found")
	}

	in, err := s.decryptInode(ino, raw)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cp := *in
	s.inodeCache[ino] = &cp
	s.mu.Unlock()
	return in, nil
}

// GetInodeRequired returns exactly what GetInode returns: a
// KindInodeNotFound error when ino is absent and GetInode's own error
// for any other failure (kept as a separate name mirroring
// get_inode_required).
func (s *Store) GetInodeRequired(ino uint64) (*Inode, error) {
	return s.GetInode(ino)
}

// Lookup resolves (parent, name) to an inode number.
func (s *Store) Lookup(parent uint64, name string) (uint64, error) {
	var ino uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucketName(bucketParentIndex)).Get(parentNameKey(parent, name))
		if v == nil {
			return nil
		}
		ino = binary.BigEndian.Uint64(v)
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindDatabase, "lookup", err)
	}
	if ino == 0 {
		return 0, apperrors.New(apperrors.KindPathNotFound, "name not found in parent")
	}
	return ino, nil
}

// DeleteInode removes in's inodes-tree and parent_index entries and
// evicts it from the cache.
func (s *Store) DeleteInode(in *Inode) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(s.bucketName(bucketInodes)).Delete(inodeKey(in.Ino)); err != nil {
			return err
		}
		return tx.Bucket(s.bucketName(bucketParentIndex)).Delete(parentNameKey(in.ParentIno, in.Name))
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "deleting inode", err)
	}
	s.mu.Lock()
	delete(s.inodeCache, in.Ino)
	s.mu.Unlock()
	return nil
}

// GetChildren scans the parent_index for entries under parent,
// excluding parent's own self-referential root entry.
func (s *Store) GetChildren(parent uint64) ([]uint64, error) {
	var children []uint64
	prefix := inodeKey(parent)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(s.bucketName(bucketParentIndex)).Cursor()
		for k, v := c.Seek(prefix); k != nil && len(k) >= 8 && binary.BigEndian.Uint64(k[:8]) == parent; k, v = c.Next() {
			ino := binary.BigEndian.Uint64(v)
			if ino == parent {
				continue // root's self-parent entry
			}
			children = append(children, ino)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "listing children", err)
	}
	return children, nil
}

// SaveChunkRef records that chunkID is stored at backendRef
// (e.g. an erasure stripe id), incrementing its refcount. Mirrors
// save_chunk_ref's 4-byte-ref + 4-byte-count row layout, widened to a
// variable-length backend reference since stripe ids are not fixed
// 4-byte message ids here.
func (s *Store) SaveChunkRef(chunkID string, backendRef string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucketName(bucketChunks))
		row, _ := parseChunkRow(b.Get([]byte(chunkID)))
		if backendRef != "" {
			row.BackendRef = backendRef
		}
		row.RefCount++
		return b.Put([]byte(chunkID), row.encode())
	})
}

// GetChunkRef returns the backend reference for chunkID, if present.
func (s *Store) GetChunkRef(chunkID string) (string, bool, error) {
	var ref string
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucketName(bucketChunks)).Get([]byte(chunkID))
		if v == nil {
			return nil
		}
		row, err := parseChunkRow(v)
		if err != nil {
			return err
		}
		ref = row.BackendRef
		found = true
		return nil
	})
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.KindDatabase, "reading chunk ref", err)
	}
	return ref, found, nil
}

// DecrementChunkRef decrements chunkID's refcount, deleting the row
// entirely when the count reaches zero. Returns the backend reference
// and whether the row was deleted (meaning the caller should garbage
// collect the underlying stripe), mirroring decrement_chunk_ref.
func (s *Store) DecrementChunkRef(chunkID string) (backendRef string, deleted bool, err error) {
	txErr := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucketName(bucketChunks))
		v := b.Get([]byte(chunkID))
		if v == nil {
			return nil
		}
		row, perr := parseChunkRow(v)
		if perr != nil {
			return perr
		}
		backendRef = row.BackendRef
		if row.RefCount <= 1 {
			deleted = true
			return b.Delete([]byte(chunkID))
		}
		row.RefCount--
		return b.Put([]byte(chunkID), row.encode())
	})
	if txErr != nil {
		return "", false, apperrors.Wrap(apperrors.KindDatabase, "decrementing chunk ref", txErr)
	}
	return backendRef, deleted, nil
}

type chunkRow struct {
	BackendRef string
	RefCount   uint32
}

func parseChunkRow(v []byte) (chunkRow, error) {
	if v == nil {
		return chunkRow{}, nil
	}
	if len(v) < 4 {
		return chunkRow{}, apperrors.New(apperrors.KindDeserialization, "malformed chunk row")
	}
	count := binary.BigEndian.Uint32(v[:4])
	return chunkRow{BackendRef: string(v[4:]), RefCount: count}, nil
}

func (r chunkRow) encode() []byte {
	buf := make([]byte, 4+len(r.BackendRef))
	binary.BigEndian.PutUint32(buf[:4], r.RefCount)
	copy(buf[4:], r.BackendRef)
	return buf
}

// SaveMetadata stores an AEAD-sealed arbitrary value under key in the
// generic metadata bucket (used for filesystem-wide settings, not
// per-inode data).
func (s *Store) SaveMetadata(key string, value []byte) error {
	sealed, err := s.aead.Seal(value, []byte(key))
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucketName(bucketMetadata)).Put([]byte(key), sealed.ToBytes())
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "saving metadata", err)
	}
	return nil
}

// GetMetadata retrieves and opens a value stored by SaveMetadata.
func (s *Store) GetMetadata(key string) ([]byte, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucketName(bucketMetadata)).Get([]byte(key))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindDatabase, "reading metadata", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	sealed, err := cipher.FromBytes(raw)
	if err != nil {
		return nil, false, err
	}
	plain, err := s.aead.Open(sealed, []byte(key))
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}

// DeleteMetadata removes a value stored by SaveMetadata.
func (s *Store) DeleteMetadata(key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucketName(bucketMetadata)).Delete([]byte(key))
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "deleting metadata", err)
	}
	return nil
}

// Stats summarizes store occupancy.
type Stats struct {
	InodeCount int
	ChunkCount int
}

// GetStats counts inode and chunk rows.
func (s *Store) GetStats() (Stats, error) {
	var stats Stats
	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.InodeCount = tx.Bucket(s.bucketName(bucketInodes)).Stats().KeyN
		stats.ChunkCount = tx.Bucket(s.bucketName(bucketChunks)).Stats().KeyN
		return nil
	})
	if err != nil {
		return Stats{}, apperrors.Wrap(apperrors.KindDatabase, "computing stats", err)
	}
	return stats, nil
}

// ClearCache empties the in-memory inode cache without touching
// persisted state.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inodeCache = make(map[uint64]*Inode)
}

// Flush forces a sync of the underlying database file.
func (s *Store) Flush() error {
	return s.db.Sync()
}
