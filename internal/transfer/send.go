package transfer

import (
	"context"
	"io"
	"sync"

	"github.com/sheerbytes/segflux/internal/segment"
)

// Send streams segs of src to w in ascending segment order, with one
// worker goroutine per segment reading concurrently. The first failure
// cancels every other worker; all workers are joined before Send returns.
// The returned error, if any, is the failure of the lowest-index segment
// that the stream had reached, usually a *SegmentError.
func Send(ctx context.Context, w io.Writer, src io.ReaderAt, segs []segment.Segment, opts Options) (int64, error) {
	opts = NormalizeOptions(opts)
	if len(segs) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := chunkPoolFor(opts.ChunkSize)
	seq := NewSequencer(len(segs), opts.ReadAhead)

	var wg sync.WaitGroup
	for i, seg := range segs {
		worker := &Worker{
			Segment:   seg,
			Source:    src,
			Lane:      seq.Lane(i),
			ChunkSize: opts.ChunkSize,
			Pool:      pool,
		}
		wg.Add(1)
		go func(worker *Worker) {
			defer wg.Done()
			_ = worker.Run(ctx)
		}(worker)
	}

	written, err := seq.Drain(ctx, w, pool.Put, opts.ProgressFn)
	if err != nil {
		cancel()
	}
	wg.Wait()
	seq.discard(pool.Put)
	return written, err
}
