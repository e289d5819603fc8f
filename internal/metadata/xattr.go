package metadata

import (
	"go.etcd.io/bbolt"

	"github.com/mvance/tgfs/internal/apperrors"
	"github.com/mvance/tgfs/internal/cipher"
)

const (
	maxXattrNameLen  = 255
	maxXattrValueLen = 64 * 1024
)

func xattrKey(ino uint64, name string) []byte {
	return append(inodeKey(ino), []byte(name)...)
}

// SetXattr stores an extended attribute on ino, subject to spec.md's
// name/value size limits (255-byte names, 64 KiB values), grounded on
// original_source/src/metadata/xattr.rs.
func (s *Store) SetXattr(ino uint64, name string, value []byte) error {
	if len(name) > maxXattrNameLen {
		return apperrors.New(apperrors.KindInvalidChunkSize, "xattr name exceeds 255 bytes")
	}
	if len(value) > maxXattrValueLen {
		return apperrors.New(apperrors.KindInvalidChunkSize, "xattr value exceeds 64 KiB")
	}
	sealed, err := s.aead.Seal(value, xattrKey(ino, name))
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucketName(bucketXattrs)).Put(xattrKey(ino, name), sealed.ToBytes())
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "setting xattr", err)
	}
	return nil
}

// GetXattr retrieves an extended attribute previously set by SetXattr.
func (s *Store) GetXattr(ino uint64, name string) ([]byte, bool, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(s.bucketName(bucketXattrs)).Get(xattrKey(ino, name))
		if v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, apperrors.Wrap(apperrors.KindDatabase, "reading xattr", err)
	}
	if raw == nil {
		return nil, false, nil
	}
	sealed, err := cipher.FromBytes(raw)
	if err != nil {
		return nil, false, err
	}
	plain, err := s.aead.Open(sealed, xattrKey(ino, name))
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}

// RemoveXattr deletes an extended attribute.
func (s *Store) RemoveXattr(ino uint64, name string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(s.bucketName(bucketXattrs)).Delete(xattrKey(ino, name))
	})
	if err != nil {
		return apperrors.Wrap(apperrors.KindDatabase, "removing xattr", err)
	}
	return nil
}
