// File: pool/bytepool.go
// Author: momentics <momentics@gmail.com>

package pool

import "sync"

// BytePool hands out fixed-size chunks used to stage stream payloads
// between a file and a socket.
type BytePool struct {
	pool sync.Pool
	size int
}

// NewBytePool creates a pool of chunks of the given size.
func NewBytePool(size int) *BytePool {
	bp := &BytePool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Size reports the chunk size.
func (b *BytePool) Size() int { return b.size }

// GetBuffer returns a chunk of Size bytes.
func (b *BytePool) GetBuffer() []byte {
	return (*b.pool.Get().(*[]byte))[:b.size]
}

// PutBuffer returns a chunk to the pool. Foreign slices are dropped.
func (b *BytePool) PutBuffer(buf []byte) {
	if cap(buf) < b.size {
		return
	}
	buf = buf[:b.size]
	b.pool.Put(&buf)
}

var (
	sharedMu    sync.Mutex
	sharedPools = make(map[int]*BytePool)
)

// Shared returns a process-wide pool for the given chunk size so channels
// with equal configuration reuse the same chunks.
func Shared(size int) *BytePool {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	bp, ok := sharedPools[size]
	if !ok {
		bp = NewBytePool(size)
		sharedPools[size] = bp
	}
	return bp
}
