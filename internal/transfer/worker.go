package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sheerbytes/segflux/internal/bufpool"
	"github.com/sheerbytes/segflux/internal/segment"
)

var (
	// ErrShortSegment indicates the source ended inside a segment, usually
	// because the file shrank after it was planned.
	ErrShortSegment = errors.New("source ended before segment end")
)

// SegmentError reports the segment whose read or write failed.
type SegmentError struct {
	Index int
	Err   error
}

func (e *SegmentError) Error() string {
	return fmt.Sprintf("segment %d: %v", e.Index, e.Err)
}

func (e *SegmentError) Unwrap() error {
	return e.Err
}

// Worker reads one segment of Source and publishes it to Lane in chunks of
// at most ChunkSize bytes. Reads are positioned (ReadAt), so any number of
// workers can share one source without locking.
type Worker struct {
	Segment   segment.Segment
	Source    io.ReaderAt
	Lane      *Lane
	ChunkSize int
	Pool      *bufpool.Pool
}

// Run reads the whole segment. The lane is finished on every return path,
// so the next segment's turn always comes.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer func() {
		w.Lane.Finish(err)
	}()

	total := w.Segment.Len()
	section := io.NewSectionReader(w.Source, w.Segment.Start, total)
	remaining := total
	for remaining > 0 {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		buf := w.getBuf()
		want := len(buf)
		if int64(want) > remaining {
			want = int(remaining)
		}
		n, rerr := io.ReadFull(section, buf[:want])
		if rerr != nil {
			w.putBuf(buf)
			done := total - remaining + int64(n)
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: read %d of %d bytes", ErrShortSegment, done, total)
			}
			return fmt.Errorf("read at offset %d: %w", w.Segment.Start+done, rerr)
		}
		if perr := w.Lane.Publish(ctx, buf, n); perr != nil {
			w.putBuf(buf)
			return perr
		}
		remaining -= int64(n)
	}
	return nil
}

func (w *Worker) getBuf() []byte {
	if w.Pool != nil {
		return w.Pool.Get()
	}
	size := w.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	return make([]byte, size)
}

func (w *Worker) putBuf(buf []byte) {
	if w.Pool != nil {
		w.Pool.Put(buf)
	}
}
