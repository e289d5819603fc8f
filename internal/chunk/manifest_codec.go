package chunk

import (
	"bytes"
	"encoding/gob"

	"github.com/mvance/tgfs/internal/apperrors"
)

// MarshalManifest gob-encodes a manifest for storage under an inode's
// ManifestID, the same wire approach internal/snapshot uses for
// encoding inode snapshots.
func MarshalManifest(m *Manifest) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, apperrors.Wrap(apperrors.KindSerialization, "encoding manifest", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalManifest reverses MarshalManifest.
func UnmarshalManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, apperrors.Wrap(apperrors.KindDeserialization, "decoding manifest", err)
	}
	return &m, nil
}
