// Package erasure implements K-of-N Reed-Solomon striping over
// github.com/klauspost/reedsolomon, matching the shard layout of
// original_source/src/raid/erasure.rs byte for byte: an 8-byte
// big-endian length header precedes the payload, which is padded to a
// multiple of the data shard count before being split.
package erasure

import (
	"encoding/binary"

	"github.com/klauspost/reedsolomon"

	"github.com/mvance/tgfs/internal/apperrors"
)

const lengthHeaderSize = 8

// Codec encodes/decodes one stripe's worth of data across DataShards +
// ParityShards total shards, tolerating the loss of up to ParityShards
// of them.
type Codec struct {
	dataShards   int
	parityShards int
	enc          reedsolomon.Encoder
}

// New constructs a Codec for dataShards data shards and totalShards
// total shards (dataShards + parity). Mirrors Encoder::new's
// validation: dataShards must be positive and totalShards must exceed
// it.
func New(dataShards, totalShards int) (*Codec, error) {
	if dataShards <= 0 {
		return nil, apperrors.New(apperrors.KindInvalidErasureConfig, "data shard count must be positive")
	}
	if totalShards <= dataShards {
		return nil, apperrors.New(apperrors.KindInvalidErasureConfig, "total shards must exceed data shards")
	}
	parity := totalShards - dataShards
	enc, err := reedsolomon.New(dataShards, parity)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindInvalidErasureConfig, "constructing reed-solomon encoder", err)
	}
	return &Codec{dataShards: dataShards, parityShards: parity, enc: enc}, nil
}

// DataShards returns K, the number of data shards.
func (c *Codec) DataShards() int { return c.dataShards }

// TotalShards returns N, the total shard count (data + parity).
func (c *Codec) TotalShards() int { return c.dataShards + c.parityShards }

// shardSize computes ceil((len(data)+8)/K), the per-shard size after
// the length header is prepended, matching erasure.rs's shard_size
// calculation.
func (c *Codec) shardSize(dataLen int) int {
	total := dataLen + lengthHeaderSize
	return (total + c.dataShards - 1) / c.dataShards
}

// Encode splits data into c.TotalShards() shards: a big-endian length
// header is prepended, the result is zero-padded to a multiple of
// dataShards, split into dataShards data shards, and parityShards
// parity shards are computed over them.
func (c *Codec) Encode(data []byte) ([][]byte, error) {
	shardSize := c.shardSize(len(data))
	padded := make([]byte, shardSize*c.dataShards)
	binary.BigEndian.PutUint64(padded[:lengthHeaderSize], uint64(len(data)))
	copy(padded[lengthHeaderSize:], data)

	shards := make([][]byte, c.dataShards+c.parityShards)
	for i := 0; i < c.dataShards; i++ {
		shards[i] = padded[i*shardSize : (i+1)*shardSize]
	}
	for i := c.dataShards; i < len(shards); i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := c.enc.Encode(shards); err != nil {
		return nil, apperrors.Wrap(apperrors.KindErasureEncode, "reed-solomon encode", err)
	}
	return shards, nil
}

// Decode reconstructs the original data given a shard set where
// unavailable shards are nil. At least c.DataShards() shards must be
// present, mirroring decode's can_reconstruct precheck.
func (c *Codec) Decode(shards [][]byte) ([]byte, error) {
	if len(shards) != c.dataShards+c.parityShards {
		return nil, apperrors.New(apperrors.KindErasureDecode, "shard count does not match codec configuration")
	}

	available := 0
	for _, s := range shards {
		if s != nil {
			available++
		}
	}
	if available < c.dataShards {
		return nil, apperrors.Wrap(apperrors.KindStripeUnrecoverable,
			"insufficient shards to reconstruct", errAvailability{available: available, required: c.dataShards})
	}

	work := make([][]byte, len(shards))
	copy(work, shards)
	if err := c.enc.Reconstruct(work); err != nil {
		return nil, apperrors.Wrap(apperrors.KindErasureDecode, "reed-solomon reconstruct", err)
	}

	var out []byte
	for i := 0; i < c.dataShards; i++ {
		out = append(out, work[i]...)
	}

	if len(out) < lengthHeaderSize {
		return nil, apperrors.New(apperrors.KindErasureDecode, "reconstructed data shorter than length header")
	}
	n := binary.BigEndian.Uint64(out[:lengthHeaderSize])
	out = out[lengthHeaderSize:]
	if uint64(len(out)) < n {
		return nil, apperrors.New(apperrors.KindErasureDecode, "length header exceeds reconstructed data")
	}
	return out[:n], nil
}

type errAvailability struct {
	available, required int
}

func (e errAvailability) Error() string {
	return "not enough shards available"
}
