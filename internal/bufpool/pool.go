package bufpool

import (
	"sync"
)

// Pool hands out chunk buffers of one fixed size.
// Buffers are stored as *[]byte so Put does not allocate.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool whose buffers are exactly bufSize bytes long.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufpool: bufSize must be positive")
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() any {
		buf := make([]byte, bufSize)
		return &buf
	}
	return p
}

// Get returns a buffer of length BufSize.
func (p *Pool) Get() []byte {
	bp := p.pool.Get().(*[]byte)
	buf := *bp
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns buf to the pool. Buffers smaller than BufSize are dropped.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	buf = buf[:cap(buf)]
	p.pool.Put(&buf)
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}
