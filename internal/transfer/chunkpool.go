package transfer

import (
	"sync"

	"github.com/sheerbytes/segflux/internal/bufpool"
)

var chunkPools sync.Map // map[int]*bufpool.Pool

// chunkPoolFor returns the shared buffer pool for chunkSize. Sessions using
// the same chunk size recycle each other's buffers.
func chunkPoolFor(chunkSize int) *bufpool.Pool {
	if chunkSize <= 0 {
		return nil
	}
	if pool, ok := chunkPools.Load(chunkSize); ok {
		return pool.(*bufpool.Pool)
	}
	pool := bufpool.New(chunkSize)
	actual, _ := chunkPools.LoadOrStore(chunkSize, pool)
	return actual.(*bufpool.Pool)
}
