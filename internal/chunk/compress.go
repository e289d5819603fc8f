package chunk

import (
	"bytes"
	"compress/flate"
	"io"

	"github.com/mvance/tgfs/internal/apperrors"
)

// Compress DEFLATE-compresses data at the given level (flate.DefaultCompression
// if level is 0). Chunks that don't shrink are stored uncompressed by the
// caller (see CompressIfSmaller).
func Compress(data []byte, level int) ([]byte, error) {
	if level == 0 {
		level = flate.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "constructing flate writer", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "compressing chunk", err)
	}
	if err := w.Close(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "closing flate writer", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInternal, "decompressing chunk", err)
	}
	return out, nil
}

// CompressIfSmaller compresses data and returns (compressed, true) only
// if the result is smaller than the original; otherwise it returns
// (data, false) so callers store the chunk uncompressed. Chunks
// smaller than threshold are never compressed (threshold of 0 disables
// the skip), mirroring spec.md's chunker.compression_threshold option.
func CompressIfSmaller(data []byte, level int, threshold uint32) ([]byte, bool, error) {
	if threshold > 0 && uint32(len(data)) < threshold {
		return data, false, nil
	}
	compressed, err := Compress(data, level)
	if err != nil {
		return nil, false, err
	}
	if len(compressed) >= len(data) {
		return data, false, nil
	}
	return compressed, true, nil
}
