// Package pool provides reusable I/O buffers for copy and digest workers.
//
// sync.Pool caches allocated but unused objects for later reuse and is safe
// for concurrent use. Items are dropped during garbage collection, which makes
// it a good fit for short-lived buffers and a bad one for persistent resources.
package pool

import (
	"fmt"
	"sync"
)

// MinBufferSize is the smallest buffer the pool hands out.
const MinBufferSize = 4 * 1024

// BufferPool hands out byte slices of one fixed size.
type BufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool creates a pool of size-byte buffers.
func NewBufferPool(size int) *BufferPool {
	if size < MinBufferSize {
		panic(fmt.Sprintf("buffer size %d is below the minimum of %d", size, MinBufferSize))
	}
	bp := &BufferPool{size: size}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Size returns the length of every buffer in the pool.
func (bp *BufferPool) Size() int {
	return bp.size
}

// Get returns a buffer of exactly Size bytes.
func (bp *BufferPool) Get() *[]byte {
	bufPtr := bp.pool.Get().(*[]byte)
	// In case a caller resliced it, always restore len to cap.
	*bufPtr = (*bufPtr)[:cap(*bufPtr)]
	return bufPtr
}

// Put returns a buffer to the pool. Foreign-sized buffers are dropped.
func (bp *BufferPool) Put(bufPtr *[]byte) {
	if bufPtr == nil || cap(*bufPtr) != bp.size {
		return
	}
	bp.pool.Put(bufPtr)
}
