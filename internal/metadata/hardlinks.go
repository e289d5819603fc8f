package metadata

import (
	"encoding/binary"
	"encoding/json"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/mvance/tgfs/internal/apperrors"
)

// HardLinkTable records every (parent, name) path pointing at a given
// inode, so Nlink can be derived as len(paths) exactly as spec.md's
// HardLinkTable entity requires. Grounded on
// original_source/src/metadata/hardlinks.rs.
type linkEntry struct {
	Parent uint64 `json:"parent"`
	Name   string `json:"name"`
}

func (e linkEntry) encode() string {
	return itoa(e.Parent) + "\x00" + e.Name
}

func itoa(v uint64) string {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return string(b)
}

// Link adds a new path (parent, name) pointing at ino and bumps its
// link count, persisting the updated inode.
func (s *Store) Link(ino, parent uint64, name string) error {
	links, err := s.getLinks(ino)
	if err != nil {
		return err
	}
	links = append(links, linkEntry{Parent: parent, Name: name})
	if err := s.putLinks(ino, links); err != nil {
		return err
	}

	in, err := s.GetInode(ino)
	if err != nil {
		return err
	}
	in.Nlink = uint32(len(links))
	return s.SaveInode(in)
}

// Unlink removes the path (parent, name) from ino's link set and
// drops its link count, persisting the updated inode. Returns true if
// no links remain, meaning the inode itself should now be deleted.
func (s *Store) Unlink(ino, parent uint64, name string) (orphaned bool, err error) {
	links, err := s.getLinks(ino)
	if err != nil {
		return false, err
	}
	filtered := links[:0]
	for _, l := range links {
		if l.Parent == parent && l.Name == name {
			continue
		}
		filtered = append(filtered, l)
	}
	if err := s.putLinks(ino, filtered); err != nil {
		return false, err
	}

	in, err := s.GetInode(ino)
	if err != nil {
		return false, err
	}
	in.Nlink = uint32(len(filtered))
	if err := s.SaveInode(in); err != nil {
		return false, err
	}
	return len(filtered) == 0, nil
}

func (s *Store) getLinks(ino uint64) ([]linkEntry, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucketName(bucketHardlinks)).Get(inodeKey(ino))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindDatabase, "reading hard links", err)
	}
	if raw == nil {
		return nil, nil
	}
	var links []linkEntry
	if err := json.Unmarshal(raw, &links); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDeserialization, "unmarshaling hard links", err)
	}
	return links, nil
}

func (s *Store) putLinks(ino uint64, links []linkEntry) error {
	raw, err := json.Marshal(links)
	if err != nil {
		return apperrors.Wrap(apperrors.KindSerialization, "marshaling hard links", err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucketName(bucketHardlinks)).Put(inodeKey(ino), raw)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "writing hard links", err)
	}
	return nil
}

// Paths returns every (parent, name) path currently linking to ino,
// rendered as "parent_ino/name" strings for diagnostics.
func (s *Store) Paths(ino uint64) ([]string, error) {
	links, err := s.getLinks(ino)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(links))
	for _, l := range links {
		var b strings.Builder
		b.WriteString(itoaDecimal(l.Parent))
		b.WriteByte('/')
		b.WriteString(l.Name)
		out = append(out, b.String())
	}
	return out, nil
}

func itoaDecimal(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
