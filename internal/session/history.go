package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Record summarizes one served session. State is the furthest state the
// session reached before it was closed.
type Record struct {
	ID         string    `json:"session_id"`
	Remote     string    `json:"remote_addr"`
	Filename   string    `json:"filename,omitempty"`
	Workers    int       `json:"workers,omitempty"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest,omitempty"`
	State      State     `json:"state"`
	Err        string    `json:"error,omitempty"`
	BytesSent  int64     `json:"bytes_sent"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded reports whether the whole file was sent.
func (r Record) Succeeded() bool {
	return r.Err == "" && r.State == Completed
}

// Duration is how long the session took.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// History stores finished session records.
type History interface {
	Add(ctx context.Context, rec Record) error
	// List returns up to limit records, newest first. limit <= 0 means all
	// retained records.
	List(ctx context.Context, limit int) ([]Record, error)
	Get(ctx context.Context, id string) (Record, bool, error)
}

// MemoryHistory keeps the most recent records in a fixed-size ring.
type MemoryHistory struct {
	mu    sync.RWMutex
	ring  []Record
	next  int
	count int
}

// NewMemoryHistory creates a history retaining up to size records.
func NewMemoryHistory(size int) *MemoryHistory {
	if size <= 0 {
		size = 1
	}
	return &MemoryHistory{ring: make([]Record, size)}
}

func (h *MemoryHistory) Add(_ context.Context, rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = rec
	h.next = (h.next + 1) % len(h.ring)
	if h.count < len(h.ring) {
		h.count++
	}
	return nil
}

func (h *MemoryHistory) List(_ context.Context, limit int) ([]Record, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > h.count {
		limit = h.count
	}
	out := make([]Record, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (h.next - i + len(h.ring)) % len(h.ring)
		out = append(out, h.ring[idx])
	}
	return out, nil
}

func (h *MemoryHistory) Get(_ context.Context, id string) (Record, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := 1; i <= h.count; i++ {
		idx := (h.next - i + len(h.ring)) % len(h.ring)
		if h.ring[idx].ID == id {
			return h.ring[idx], true, nil
		}
	}
	return Record{}, false, nil
}

// MultiHistory writes to every backend. Reads go to the first backend and
// fall through to the next one when a backend fails.
type MultiHistory []History

func (m MultiHistory) Add(ctx context.Context, rec Record) error {
	var errs []error
	for _, h := range m {
		if err := h.Add(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiHistory) List(ctx context.Context, limit int) ([]Record, error) {
	var errs []error
	for _, h := range m {
		recs, err := h.List(ctx, limit)
		if err == nil {
			return recs, nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func (m MultiHistory) Get(ctx context.Context, id string) (Record, bool, error) {
	var errs []error
	for _, h := range m {
		rec, ok, err := h.Get(ctx, id)
		if err == nil {
			return rec, ok, nil
		}
		errs = append(errs, err)
	}
	return Record{}, false, errors.Join(errs...)
}

// Stats counts session outcomes since the server started.
type Stats struct {
	sessions  atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	failed    atomic.Int64
	bytesSent atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Sessions  int64 `json:"sessions"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	Failed    int64 `json:"failed"`
	BytesSent int64 `json:"bytes_sent"`
}

// Observe folds one finished session into the counters. Sessions that
// never got past their request count as rejected.
func (s *Stats) Observe(rec Record) {
	s.sessions.Add(1)
	s.bytesSent.Add(rec.BytesSent)
	switch {
	case rec.Succeeded():
		s.completed.Add(1)
	case rec.State < FileOpened:
		s.rejected.Add(1)
	default:
		s.failed.Add(1)
	}
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Sessions:  s.sessions.Load(),
		Completed: s.completed.Load(),
		Rejected:  s.rejected.Load(),
		Failed:    s.failed.Load(),
		BytesSent: s.bytesSent.Load(),
	}
}
