// Package segment partitions a file's byte range into per-worker segments.
package segment

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWorkerCount indicates a worker count below one.
	ErrInvalidWorkerCount = errors.New("worker count must be positive")
	// ErrInvalidSize indicates a negative file size.
	ErrInvalidSize = errors.New("file size must not be negative")
)

// Segment is the half-open byte range [Start, End) assigned to one worker.
type Segment struct {
	Index int
	Start int64
	End   int64
}

// Len returns the number of bytes in the segment.
func (s Segment) Len() int64 {
	return s.End - s.Start
}

// Empty reports whether the segment carries no bytes.
func (s Segment) Empty() bool {
	return s.End <= s.Start
}

func (s Segment) String() string {
	return fmt.Sprintf("#%d[%d,%d)", s.Index, s.Start, s.End)
}

// Plan splits [0, size) into n contiguous segments of size/n bytes each.
// The last segment absorbs the remainder, so when n > size the leading
// segments are empty.
func Plan(size int64, n int) ([]Segment, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWorkerCount, n)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	base := size / int64(n)
	segs := make([]Segment, n)
	for i := 0; i < n; i++ {
		start := int64(i) * base
		end := start + base
		if i == n-1 {
			end = size
		}
		segs[i] = Segment{Index: i, Start: start, End: end}
	}
	return segs, nil
}

// Total returns the number of bytes covered by segs.
func Total(segs []Segment) int64 {
	var total int64
	for _, s := range segs {
		total += s.Len()
	}
	return total
}
