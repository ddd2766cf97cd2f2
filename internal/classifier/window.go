package classifier

import (
	"time"

	"harbor-presence/internal/models"
)

// Side is the doorway side a receiver is mounted on.
type Side int

const (
	SideWater Side = iota
	SideHarbor
)

func (s Side) String() string {
	if s == SideWater {
		return "water"
	}
	return "harbor"
}

type point struct {
	t time.Time
	v float64
}

// peak is a confirmed local maximum: the largest value in the stream, preceded
// by a lower sample and followed by at least one lower sample.
type peak struct {
	t time.Time
	v float64
}

// CorrelationWindow holds the recent filtered samples of one beacon on both
// receivers, pruned by a time horizon relative to the newest sample.
type CorrelationWindow struct {
	horizon  time.Duration
	streams  [2][]point
	lastSeen [2]time.Time // survives Clear so staleness is unaffected
	newest   time.Time
}

func NewCorrelationWindow(horizon time.Duration) *CorrelationWindow {
	return &CorrelationWindow{horizon: horizon}
}

// Append adds a sample to side and prunes both streams. A sample not after
// the last one on the same stream is ignored and Append returns false.
func (w *CorrelationWindow) Append(side Side, t time.Time, v float64) bool {
	if !w.lastSeen[side].IsZero() && !t.After(w.lastSeen[side]) {
		return false
	}
	w.streams[side] = append(w.streams[side], point{t: t, v: v})
	w.lastSeen[side] = t
	if t.After(w.newest) {
		w.newest = t
	}
	w.prune()
	return true
}

func (w *CorrelationWindow) prune() {
	cutoff := w.newest.Add(-w.horizon)
	for i := range w.streams {
		s := w.streams[i]
		n := 0
		for n < len(s) && s[n].t.Before(cutoff) {
			n++
		}
		if n > 0 {
			w.streams[i] = append(s[:0], s[n:]...)
		}
	}
}

// Clear forgets buffered samples so an evaluated peak pair is never reused.
func (w *CorrelationWindow) Clear() {
	w.streams[SideWater] = w.streams[SideWater][:0]
	w.streams[SideHarbor] = w.streams[SideHarbor][:0]
}

// Status reports per-side freshness: a side is STALE when it has never been
// seen or its last sample is more than timeout older than the newest sample.
func (w *CorrelationWindow) Status(timeout time.Duration) (water, harbor models.StreamStatus) {
	return w.status(SideWater, timeout), w.status(SideHarbor, timeout)
}

func (w *CorrelationWindow) status(side Side, timeout time.Duration) models.StreamStatus {
	last := w.lastSeen[side]
	if last.IsZero() || w.newest.Sub(last) > timeout {
		return models.StreamStale
	}
	return models.StreamFresh
}

// Len returns the number of buffered samples on side.
func (w *CorrelationWindow) Len(side Side) int {
	return len(w.streams[side])
}

func (w *CorrelationWindow) Newest() time.Time {
	return w.newest
}

func (w *CorrelationWindow) confirmedPeak(side Side) (peak, bool) {
	s := w.streams[side]
	if len(s) < 2 {
		return peak{}, false
	}
	best := 0
	for i := 1; i < len(s); i++ {
		if s[i].v > s[best].v {
			best = i
		}
	}
	// best is the first occurrence of the maximum, so any earlier sample is lower;
	// a maximum at the start of the window is a falling tail, not a peak
	if best == 0 {
		return peak{}, false
	}
	for i := best + 1; i < len(s); i++ {
		if s[i].v < s[best].v {
			return peak{t: s[best].t, v: s[best].v}, true
		}
	}
	return peak{}, false
}
