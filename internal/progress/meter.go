package progress

import (
	"sync"
	"time"
)

// Stats represents a point-in-time snapshot of progress. Total is zero
// when the size is not known in advance.
type Stats struct {
	BytesDone int64
	Total     int64
	RateBps   float64
	ETA       time.Duration
	Percent   float64
	StartedAt time.Time
	Elapsed   time.Duration
}

// Meter tracks byte progress and computes a smoothed rate.
type Meter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	startedAt time.Time
	lastAt    time.Time
	lastDone  int64
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter returns a meter with a default smoothing factor.
func NewMeter() *Meter {
	return NewMeterWithNow(time.Now)
}

// NewMeterWithNow returns a meter with a custom time source (for tests).
func NewMeterWithNow(now func() time.Time) *Meter {
	if now == nil {
		now = time.Now
	}
	return &Meter{alpha: 0.2, now: now}
}

// Start resets the meter. totalBytes may be zero if unknown.
func (m *Meter) Start(totalBytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = totalBytes
	m.done = 0
	m.startedAt = m.now()
	m.lastAt = m.startedAt
	m.lastDone = 0
	m.rateBps = 0
}

// Add increments the completed byte count.
func (m *Meter) Add(n int) {
	if n <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.startedAt.IsZero() {
		m.startedAt = now
		m.lastAt = now
	}
	m.done += int64(n)
	deltaBytes := m.done - m.lastDone
	deltaTime := now.Sub(m.lastAt).Seconds()
	if deltaTime > 0 {
		inst := float64(deltaBytes) / deltaTime
		if m.rateBps == 0 {
			m.rateBps = inst
		} else {
			m.rateBps = m.alpha*inst + (1-m.alpha)*m.rateBps
		}
		m.lastAt = now
		m.lastDone = m.done
	}
}

// Snapshot returns a current snapshot of progress stats.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rateBps,
		StartedAt: m.startedAt,
	}
	if !m.startedAt.IsZero() {
		stats.Elapsed = m.now().Sub(m.startedAt)
	}
	if m.total > 0 {
		stats.Percent = float64(m.done) / float64(m.total) * 100
	}
	if m.rateBps > 0 && m.total > m.done {
		remaining := float64(m.total - m.done)
		stats.ETA = time.Duration(remaining / m.rateBps * float64(time.Second))
	}
	return stats
}

// Writer counts bytes written through it into the meter.
type Writer struct {
	Meter *Meter
	// OnWrite, if set, is called after every write.
	OnWrite func()
}

func (w *Writer) Write(p []byte) (int, error) {
	w.Meter.Add(len(p))
	if w.OnWrite != nil {
		w.OnWrite()
	}
	return len(p), nil
}
