package transfer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// chunk is a pooled buffer holding n valid bytes.
type chunk struct {
	buf []byte
	n   int
}

// Lane carries one segment's chunks from its worker to the drain loop.
// The worker owns the sending side; Finish hands the turn to the next lane.
type Lane struct {
	index int
	ch    chan chunk
	once  sync.Once
	err   error // written before ch is closed
}

// Index returns the segment index served by this lane.
func (l *Lane) Index() int {
	return l.index
}

// Publish queues n bytes of buf for writing. It blocks while the lane holds
// its full read-ahead depth and the drain loop has not reached it yet.
// Ownership of buf passes to the drain loop on success.
func (l *Lane) Publish(ctx context.Context, buf []byte, n int) error {
	select {
	case l.ch <- chunk{buf: buf, n: n}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Finish closes the lane. A non-nil err makes the drain loop stop at this
// lane with a *SegmentError. Only the first call has an effect, and no
// Publish may follow it.
func (l *Lane) Finish(err error) {
	l.once.Do(func() {
		l.err = err
		close(l.ch)
	})
}

// SequencerState is the turn counter of a transfer.
type SequencerState struct {
	NextTurn     int
	TotalWorkers int
}

// Done reports whether every lane has had its turn.
func (s SequencerState) Done() bool {
	return s.NextTurn >= s.TotalWorkers
}

// Sequencer merges per-segment lanes into one stream in index order.
// Workers fill their lanes concurrently; a single drain loop performs every
// write, so exactly one writer ever touches the stream.
type Sequencer struct {
	lanes []*Lane
	next  atomic.Int64
}

// NewSequencer creates total lanes, each buffering up to depth chunks.
func NewSequencer(total, depth int) *Sequencer {
	if depth < 1 {
		depth = 1
	}
	lanes := make([]*Lane, total)
	for i := range lanes {
		lanes[i] = &Lane{index: i, ch: make(chan chunk, depth)}
	}
	return &Sequencer{lanes: lanes}
}

// Lane returns lane i.
func (s *Sequencer) Lane(i int) *Lane {
	return s.lanes[i]
}

// State returns a snapshot of the turn counter. Safe for concurrent use.
func (s *Sequencer) State() SequencerState {
	return SequencerState{
		NextTurn:     int(s.next.Load()),
		TotalWorkers: len(s.lanes),
	}
}

// Drain writes every lane to w, lane 0 first, moving to lane i+1 only after
// lane i is finished. release receives each buffer once it has been
// written; progress, if set, is told about each write. Drain returns the
// number of bytes written and stops at the first failed lane, failed write
// or context cancellation.
func (s *Sequencer) Drain(ctx context.Context, w io.Writer, release func([]byte), progress ProgressFn) (int64, error) {
	var written int64
	for i, lane := range s.lanes {
		for {
			var (
				c  chunk
				ok bool
			)
			select {
			case c, ok = <-lane.ch:
			case <-ctx.Done():
				return written, ctx.Err()
			}
			if !ok {
				break
			}
			n, err := w.Write(c.buf[:c.n])
			if release != nil {
				release(c.buf)
			}
			written += int64(n)
			if err != nil {
				return written, &SegmentError{Index: i, Err: fmt.Errorf("write to stream: %w", err)}
			}
			if progress != nil {
				progress(i, int64(n))
			}
		}
		if lane.err != nil {
			return written, &SegmentError{Index: i, Err: lane.err}
		}
		s.next.Store(int64(i + 1))
	}
	return written, nil
}

// discard empties finished lanes after an aborted drain so their buffers
// go back to the pool. Every lane must already be finished.
func (s *Sequencer) discard(release func([]byte)) {
	for _, lane := range s.lanes {
		for c := range lane.ch {
			if release != nil {
				release(c.buf)
			}
		}
	}
}
