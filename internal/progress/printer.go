package progress

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sheerbytes/segflux/internal/transport"
)

const updateInterval = 250 * time.Millisecond

// Printer renders a one-line progress display, at most once per interval.
type Printer struct {
	out      io.Writer
	meter    *Meter
	label    string
	interval time.Duration
	last     atomic.Int64
	printed  atomic.Bool
	now      func() time.Time
}

// NewPrinter writes progress for meter to out, typically stderr.
func NewPrinter(out io.Writer, meter *Meter, label string) *Printer {
	return &Printer{out: out, meter: meter, label: label, interval: updateInterval, now: time.Now}
}

// shouldUpdate lets one caller per interval through.
func (p *Printer) shouldUpdate() bool {
	now := p.now().UnixNano()
	prev := p.last.Load()
	if now-prev < int64(p.interval) {
		return false
	}
	return p.last.CompareAndSwap(prev, now)
}

// Update redraws the line if the throttle interval has passed.
func (p *Printer) Update() {
	if !p.shouldUpdate() {
		return
	}
	p.draw()
}

// Finish draws the final state and ends the line.
func (p *Printer) Finish() {
	if !p.printed.Load() {
		return
	}
	p.draw()
	fmt.Fprintln(p.out)
}

func (p *Printer) draw() {
	p.printed.Store(true)
	fmt.Fprintf(p.out, "\r%s", Format(p.label, p.meter.Snapshot()))
}

// Format renders stats as a single status line.
func Format(label string, s Stats) string {
	line := fmt.Sprintf("%s %s  %s/s", label, transport.FormatBytes(s.BytesDone), transport.FormatBytes(int64(s.RateBps)))
	if s.Total > 0 {
		line = fmt.Sprintf("%s %s/%s (%.1f%%)  %s/s", label, transport.FormatBytes(s.BytesDone), transport.FormatBytes(s.Total), s.Percent, transport.FormatBytes(int64(s.RateBps)))
		if s.ETA > 0 {
			line += "  eta " + s.ETA.Round(time.Second).String()
		}
	}
	return line
}
