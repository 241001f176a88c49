package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestMemoryHistoryRing(t *testing.T) {
	ctx := context.Background()
	h := NewMemoryHistory(3)
	for i := 0; i < 5; i++ {
		if err := h.Add(ctx, Record{ID: fmt.Sprintf("s%d", i)}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	recs, err := h.List(ctx, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	if fmt.Sprint(ids) != "[s4 s3 s2]" {
		t.Fatalf("List = %v, want newest first [s4 s3 s2]", ids)
	}

	recs, _ = h.List(ctx, 2)
	if len(recs) != 2 || recs[0].ID != "s4" {
		t.Fatalf("List(2) = %+v", recs)
	}

	if _, ok, _ := h.Get(ctx, "s1"); ok {
		t.Fatal("evicted record should not be found")
	}
	rec, ok, err := h.Get(ctx, "s3")
	if err != nil || !ok || rec.ID != "s3" {
		t.Fatalf("Get(s3) = %+v, %v, %v", rec, ok, err)
	}
}

func TestMemoryHistoryEmpty(t *testing.T) {
	h := NewMemoryHistory(0)
	recs, err := h.List(context.Background(), 10)
	if err != nil || len(recs) != 0 {
		t.Fatalf("List on empty history = %v, %v", recs, err)
	}
}

var errBackendDown = errors.New("backend down")

type failingHistory struct{}

func (failingHistory) Add(context.Context, Record) error { return errBackendDown }

func (failingHistory) List(context.Context, int) ([]Record, error) { return nil, errBackendDown }

func (failingHistory) Get(context.Context, string) (Record, bool, error) {
	return Record{}, false, errBackendDown
}

func TestMultiHistory(t *testing.T) {
	ctx := context.Background()
	fallback := NewMemoryHistory(4)
	m := MultiHistory{failingHistory{}, fallback}
	if err := m.Add(ctx, Record{ID: "a"}); !errors.Is(err, errBackendDown) {
		t.Fatalf("Add error = %v, want backend error", err)
	}
	if rec, ok, err := m.Get(ctx, "a"); err != nil || !ok || rec.ID != "a" {
		t.Fatalf("Get(a) = %+v, %v, %v", rec, ok, err)
	}
	if recs, err := m.List(ctx, 0); err != nil || len(recs) != 1 {
		t.Fatalf("List = %v, %v", recs, err)
	}
}

func TestMultiHistoryReadsFirstHealthyBackend(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryHistory(4)
	secondary := NewMemoryHistory(4)
	_ = primary.Add(ctx, Record{ID: "p"})
	_ = secondary.Add(ctx, Record{ID: "s"})
	m := MultiHistory{primary, secondary}
	if _, ok, _ := m.Get(ctx, "s"); ok {
		t.Fatal("a healthy primary should answer Get on its own")
	}
	if recs, _ := m.List(ctx, 0); len(recs) != 1 || recs[0].ID != "p" {
		t.Fatalf("List = %+v, want the primary's records", recs)
	}
}

func TestMultiHistoryAllBackendsDown(t *testing.T) {
	m := MultiHistory{failingHistory{}, failingHistory{}}
	if _, err := m.List(context.Background(), 0); !errors.Is(err, errBackendDown) {
		t.Fatalf("List error = %v", err)
	}
	if _, _, err := m.Get(context.Background(), "x"); !errors.Is(err, errBackendDown) {
		t.Fatalf("Get error = %v", err)
	}
	if recs, err := (MultiHistory{}).List(context.Background(), 0); err != nil || recs != nil {
		t.Fatalf("empty MultiHistory List = %v, %v", recs, err)
	}
}

func TestStatsObserve(t *testing.T) {
	var s Stats
	s.Observe(Record{State: Completed, BytesSent: 100})
	s.Observe(Record{State: RequestParsed, Err: "file not found"})
	s.Observe(Record{State: WorkersRunning, Err: "short segment", BytesSent: 40})
	got := s.Snapshot()
	want := StatsSnapshot{Sessions: 3, Completed: 1, Rejected: 1, Failed: 1, BytesSent: 140}
	if got != want {
		t.Fatalf("Snapshot = %+v, want %+v", got, want)
	}
}

func TestRecordDuration(t *testing.T) {
	start := time.Now()
	r := Record{StartedAt: start}
	if r.Duration() != 0 {
		t.Fatal("unfinished record should have zero duration")
	}
	r.FinishedAt = start.Add(1500 * time.Millisecond)
	if r.Duration() != 1500*time.Millisecond {
		t.Fatalf("unexpected duration %v", r.Duration())
	}
}

func TestRedisHistoryKeys(t *testing.T) {
	h := NewRedisHistory(nil, "", 0, 0)
	if h.listKey() != "segflux:sessions" {
		t.Fatalf("unexpected list key %q", h.listKey())
	}
	if h.recordKey("abc") != "segflux:session:abc" {
		t.Fatalf("unexpected record key %q", h.recordKey("abc"))
	}
	if h.max != 100 || h.ttl != defaultRedisTTL {
		t.Fatalf("unexpected defaults max=%d ttl=%v", h.max, h.ttl)
	}
	custom := NewRedisHistory(nil, "edge1", 5, time.Hour)
	if custom.listKey() != "edge1:sessions" || custom.max != 5 || custom.ttl != time.Hour {
		t.Fatalf("custom settings not applied: %+v", custom)
	}
}

func TestRecordEncoding(t *testing.T) {
	in := Record{
		ID:         "id-1",
		Remote:     "127.0.0.1:5000",
		Filename:   "a.bin",
		Workers:    3,
		Size:       10000,
		Digest:     "ab",
		State:      WorkersRunning,
		Err:        "boom",
		BytesSent:  4096,
		StartedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		FinishedAt: time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC),
	}
	data, err := encodeRecord(in)
	if err != nil {
		t.Fatalf("encodeRecord: %v", err)
	}
	if !strings.Contains(string(data), `"state":"workers_running"`) || !strings.Contains(string(data), `"session_id":"id-1"`) {
		t.Fatalf("unexpected encoding %s", data)
	}
	out, err := decodeRecord(data)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if !out.StartedAt.Equal(in.StartedAt) || out.State != in.State || out.BytesSent != in.BytesSent {
		t.Fatalf("decoded %+v, want %+v", out, in)
	}
	if _, err := decodeRecord([]byte("{")); err == nil {
		t.Fatal("expected decode error")
	}
}
