package bufpool

import "sync"

// DefaultChunkSize is the buffer size used by the migration data plane when
// streaming file payloads.
const DefaultChunkSize = 256 * 1024

// Pool provides a pool of byte buffers of a fixed size.
// Buffers are reused to reduce allocations and GC pressure in the
// per-file send and receive loops.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a new buffer pool that returns buffers of exactly bufSize bytes.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufSize must be positive")
	}
	return &Pool{
		bufSize: bufSize,
		pool: sync.Pool{
			New: func() any {
				return make([]byte, bufSize)
			},
		},
	}
}

// Get returns a buffer from the pool, or allocates a new one if the pool is
// empty. The returned buffer is always exactly bufSize bytes.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns a buffer to the pool for reuse. Buffers smaller than bufSize
// are discarded.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}
