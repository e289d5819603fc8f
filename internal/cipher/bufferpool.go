package cipher

import "sync"

// bufferPool recycles scratch buffers (Seal and Open do not draw from
// it), adapted from the teacher's internal/crypto.BufferPool: same
// zeroize-on-return discipline, trimmed to the sizes this package
// actually needs (chunk payload buffers; keys and nonces are small
// enough that pooling them is not worth the bookkeeping).
type bufferPool struct {
	pool *sync.Pool
}

func newBufferPool(defaultSize int) *bufferPool {
	return &bufferPool{
		pool: &sync.Pool{
			New: func() interface{} { return make([]byte, 0, defaultSize) },
		},
	}
}

func (p *bufferPool) get(size int) []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

func (p *bufferPool) put(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	p.pool.Put(buf[:0]) //nolint:staticcheck // intentionally re-slicing to zero length for reuse
}

// ChunkBufferPool is the package-level pool of scratch buffers; new
// buffers get a 64 KiB capacity (internal/chunk.MinSize, not the 4 MiB
// internal/chunk.DefaultSize).
var ChunkBufferPool = newBufferPool(64 * 1024)
