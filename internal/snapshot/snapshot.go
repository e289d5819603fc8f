// Package snapshot implements point-in-time inode-set snapshots: a BFS
// walk of the inode tree, gob-encoded and AEAD-sealed for storage, and
// a bounded-retention manager. Grounded on
// original_source/src/snapshot/snapshot.rs.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/google/uuid"

	"github.com/mvance/tgfs/internal/apperrors"
	"github.com/mvance/tgfs/internal/cipher"
	"github.com/mvance/tgfs/internal/metadata"
)

const rootIno = uint64(1)

// Snapshot captures every inode reachable from the root at the moment
// it was taken. Chunk data itself is immutable and content-addressed,
// so a snapshot only needs inode metadata, not chunk payloads.
type Snapshot struct {
	ID          string
	Name        string
	Description string
	Created     time.Time
	RootIno     uint64
	Inodes      map[uint64]metadata.Inode
}

// New starts an empty, named snapshot.
func New(name, description string) *Snapshot {
	return &Snapshot{
		ID:      uuid.NewString(),
		Name:    name,
		Description: description,
		Created: time.Now(),
		RootIno: rootIno,
		Inodes:  make(map[uint64]metadata.Inode),
	}
}

// AddInode records in's current state in the snapshot.
func (s *Snapshot) AddInode(in metadata.Inode) {
	s.Inodes[in.Ino] = in
}

// GetInode returns the snapshotted state of ino, if present.
func (s *Snapshot) GetInode(ino uint64) (metadata.Inode, bool) {
	in, ok := s.Inodes[ino]
	return in, ok
}

// InodeCount returns the number of inodes captured.
func (s *Snapshot) InodeCount() int { return len(s.Inodes) }

// Capture performs a BFS walk of store's inode tree from the root,
// recording every reachable inode into a new Snapshot.
func Capture(store *metadata.Store, name, description string) (*Snapshot, error) {
	snap := New(name, description)

	queue := []uint64{rootIno}
	visited := map[uint64]bool{rootIno: true}

	for len(queue) > 0 {
		ino := queue[0]
		queue = queue[1:]

		in, err := store.GetInode(ino)
		if err != nil {
			return nil, err
		}
		snap.AddInode(*in)

		if !in.IsDir {
			continue
		}
		children, err := store.GetChildren(ino)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if !visited[c] {
				visited[c] = true
				queue = append(queue, c)
			}
		}
	}

	return snap, nil
}

func encode(snap *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, apperrors.Wrap(apperrors.KindSerialization, "encoding snapshot", err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDeserialization, "decoding snapshot", err)
	}
	return &snap, nil
}

// Manager holds an AEAD-sealed, bounded-retention list of snapshots in
// memory, serializing the whole list to/from encrypted storage.
// Grounded on SnapshotManager.
type Manager struct {
	aead         *cipher.AEAD
	maxSnapshots int
	snapshots    []*Snapshot
}

const aeadLabel = "tgfs-snapshots-v1"

// NewManager constructs a Manager sealed with key, retaining at most
// maxSnapshots (0 means unbounded).
func NewManager(key []byte, maxSnapshots int) (*Manager, error) {
	aead, err := cipher.New(key)
	if err != nil {
		return nil, err
	}
	return &Manager{aead: aead, maxSnapshots: maxSnapshots}, nil
}

// Create appends snap to the manager, pruning the oldest snapshot if
// max_snapshots has been reached.
func (m *Manager) Create(snap *Snapshot) {
	if m.maxSnapshots > 0 && len(m.snapshots) >= m.maxSnapshots {
		m.snapshots = m.snapshots[1:]
	}
	m.snapshots = append(m.snapshots, snap)
}

// List returns every retained snapshot, oldest first.
func (m *Manager) List() []*Snapshot { return m.snapshots }

// Get returns the snapshot with the given id.
func (m *Manager) Get(id string) (*Snapshot, bool) {
	for _, s := range m.snapshots {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// GetByName returns the snapshot with the given name.
func (m *Manager) GetByName(name string) (*Snapshot, bool) {
	for _, s := range m.snapshots {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Delete removes the snapshot with the given id, reporting whether one was found.
func (m *Manager) Delete(id string) bool {
	for i, s := range m.snapshots {
		if s.ID == id {
			m.snapshots = append(m.snapshots[:i], m.snapshots[i+1:]...)
			return true
		}
	}
	return false
}

// Latest returns the most recently created snapshot, if any.
func (m *Manager) Latest() (*Snapshot, bool) {
	if len(m.snapshots) == 0 {
		return nil, false
	}
	return m.snapshots[len(m.snapshots)-1], true
}

// Export encrypts and serializes every retained snapshot for durable
// storage (e.g. as a metadata-store value under a well-known key).
func (m *Manager) Export() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m.snapshots); err != nil {
		return nil, apperrors.Wrap(apperrors.KindSerialization, "encoding snapshot list", err)
	}
	sealed, err := m.aead.Seal(buf.Bytes(), []byte(aeadLabel))
	if err != nil {
		return nil, err
	}
	return sealed.ToBytes(), nil
}

// Import replaces the manager's retained snapshots with those decoded
// from data produced by Export.
func (m *Manager) Import(data []byte) error {
	sealed, err := cipher.FromBytes(data)
	if err != nil {
		return err
	}
	plain, err := m.aead.Open(sealed, []byte(aeadLabel))
	if err != nil {
		return err
	}
	var snaps []*Snapshot
	if err := gob.NewDecoder(bytes.NewReader(plain)).Decode(&snaps); err != nil {
		return apperrors.Wrap(apperrors.KindDeserialization, "decoding snapshot list", err)
	}
	m.snapshots = snaps
	return nil
}
