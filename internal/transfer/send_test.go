package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sheerbytes/segflux/internal/segment"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return data
}

func plan(t *testing.T, size int64, n int) []segment.Segment {
	t.Helper()
	segs, err := segment.Plan(size, n)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	return segs
}

// skewedReaderAt delays reads near the start of the file, so late segments
// finish reading long before early ones.
type skewedReaderAt struct {
	r    *bytes.Reader
	size int64
}

func (s *skewedReaderAt) ReadAt(p []byte, off int64) (int, error) {
	delay := time.Duration(s.size-off) * time.Microsecond / 8
	time.Sleep(delay)
	return s.r.ReadAt(p, off)
}

// orderRecorder records which segment each write belonged to.
type orderRecorder struct {
	mu     sync.Mutex
	events []int
}

func (o *orderRecorder) progress(segment int, _ int64) {
	o.mu.Lock()
	o.events = append(o.events, segment)
	o.mu.Unlock()
}

func TestSendPreservesOrderUnderSkewedReads(t *testing.T) {
	data := randomBytes(t, 64*1024)
	src := &skewedReaderAt{r: bytes.NewReader(data), size: int64(len(data))}

	for _, workers := range []int{1, 2, 3, 7, 16} {
		var out bytes.Buffer
		rec := &orderRecorder{}
		n, err := Send(context.Background(), &out, src, plan(t, int64(len(data)), workers), Options{
			ChunkSize:  1024,
			ReadAhead:  4,
			ProgressFn: rec.progress,
		})
		if err != nil {
			t.Fatalf("workers=%d: Send: %v", workers, err)
		}
		if n != int64(len(data)) {
			t.Fatalf("workers=%d: wrote %d bytes, want %d", workers, n, len(data))
		}
		if !bytes.Equal(out.Bytes(), data) {
			t.Fatalf("workers=%d: stream differs from source", workers)
		}
		// Segment i's writes all precede segment i+1's first write.
		for i := 1; i < len(rec.events); i++ {
			if rec.events[i] < rec.events[i-1] {
				t.Fatalf("workers=%d: write for segment %d after segment %d", workers, rec.events[i], rec.events[i-1])
			}
		}
	}
}

func TestSendSingleWorkerEqualsCopy(t *testing.T) {
	data := randomBytes(t, 5000)
	var segmented, plain bytes.Buffer

	if _, err := Send(context.Background(), &segmented, bytes.NewReader(data), plan(t, int64(len(data)), 1), Options{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := io.Copy(&plain, bytes.NewReader(data)); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if !bytes.Equal(segmented.Bytes(), plain.Bytes()) {
		t.Fatal("single-worker output differs from a plain copy")
	}
}

// chunkSizes records the size of every write.
type chunkSizes struct {
	bytes.Buffer
	sizes []int
}

func (c *chunkSizes) Write(p []byte) (int, error) {
	c.sizes = append(c.sizes, len(p))
	return c.Buffer.Write(p)
}

func TestSendTenThousandBytesThreeWorkers(t *testing.T) {
	data := randomBytes(t, 10000)
	out := &chunkSizes{}

	n, err := Send(context.Background(), out, bytes.NewReader(data), plan(t, 10000, 3), Options{ChunkSize: 1024})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 10000 || sha256.Sum256(out.Bytes()) != sha256.Sum256(data) {
		t.Fatalf("stream mismatch (%d bytes)", n)
	}
	for _, size := range out.sizes {
		if size > 1024 || size == 0 {
			t.Fatalf("write of %d bytes violates chunk bound", size)
		}
	}
	// 3333 = 3*1024 + 261 for the first two segments, 3334 for the last.
	if len(out.sizes) != 12 {
		t.Fatalf("expected 12 chunk writes, got %d (%v)", len(out.sizes), out.sizes)
	}
}

func TestSendEightBytesFiveWorkers(t *testing.T) {
	data := []byte("abcdefgh")
	var out bytes.Buffer
	rec := &orderRecorder{}

	n, err := Send(context.Background(), &out, bytes.NewReader(data), plan(t, 8, 5), Options{ProgressFn: rec.progress})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n != 8 || out.String() != "abcdefgh" {
		t.Fatalf("unexpected stream %q (%d bytes)", out.String(), n)
	}
	want := []int{0, 1, 2, 3, 4}
	if len(rec.events) != len(want) {
		t.Fatalf("events %v, want %v", rec.events, want)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Fatalf("events %v, want %v", rec.events, want)
		}
	}
}

func TestSendEmptySegmentsTakeTheirTurn(t *testing.T) {
	data := []byte("xyz")
	var out bytes.Buffer
	if _, err := Send(context.Background(), &out, bytes.NewReader(data), plan(t, 3, 6), Options{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if out.String() != "xyz" {
		t.Fatalf("unexpected stream %q", out.String())
	}
}

func TestSendEmptyFile(t *testing.T) {
	var out bytes.Buffer
	n, err := Send(context.Background(), &out, bytes.NewReader(nil), plan(t, 0, 4), Options{})
	if err != nil || n != 0 || out.Len() != 0 {
		t.Fatalf("expected empty stream, got n=%d err=%v", n, err)
	}
}

// failingReaderAt fails every read that touches failAt.
type failingReaderAt struct {
	r      *bytes.Reader
	failAt int64
	err    error
}

func (f *failingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off <= f.failAt && f.failAt < off+int64(len(p)) {
		return 0, f.err
	}
	return f.r.ReadAt(p, off)
}

func TestSendWorkerFailureAbortsWithoutDeadlock(t *testing.T) {
	data := randomBytes(t, 40*1024)
	segs := plan(t, int64(len(data)), 4)
	boom := errors.New("EIO")
	src := &failingReaderAt{r: bytes.NewReader(data), failAt: segs[1].Start + 2048, err: boom}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	_, err := Send(ctx, &out, src, segs, Options{ChunkSize: 1024, ReadAhead: 2})
	if ctx.Err() != nil {
		t.Fatal("Send hung after a worker failure")
	}
	var segErr *SegmentError
	if !errors.As(err, &segErr) || segErr.Index != 1 {
		t.Fatalf("expected SegmentError for segment 1, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped read error, got %v", err)
	}
	if int64(out.Len()) > segs[1].End {
		t.Fatalf("bytes past the failed segment were written: %d", out.Len())
	}
	if !bytes.Equal(out.Bytes(), data[:out.Len()]) {
		t.Fatal("written prefix does not match the source")
	}
}

func TestSendShortSource(t *testing.T) {
	data := randomBytes(t, 4096)
	// Plan for more bytes than the source has, as if the file shrank.
	segs := plan(t, 8192, 2)

	var out bytes.Buffer
	_, err := Send(context.Background(), &out, bytes.NewReader(data), segs, Options{})
	if !errors.Is(err, ErrShortSegment) {
		t.Fatalf("expected ErrShortSegment, got %v", err)
	}
}

func TestSendCancelled(t *testing.T) {
	data := randomBytes(t, 8192)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Send(ctx, io.Discard, bytes.NewReader(data), plan(t, int64(len(data)), 3), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNormalizeOptions(t *testing.T) {
	got := NormalizeOptions(Options{})
	if got.ChunkSize != DefaultChunkSize || got.ReadAhead != DefaultReadAhead {
		t.Fatalf("unexpected defaults %+v", got)
	}
	got = NormalizeOptions(Options{ChunkSize: maxChunkSize * 2, ReadAhead: 10000})
	if got.ChunkSize != maxChunkSize || got.ReadAhead != maxReadAhead {
		t.Fatalf("unexpected clamps %+v", got)
	}
}
