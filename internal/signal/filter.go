package signal

import (
	"sort"
	"time"
)

// Key identifies one filtered stream.
type Key struct {
	ReceiverID string
	BeaconID   string
}

// state is the per-stream filter memory: a ring of the last W compensated
// values plus the previous EMA output.
type state struct {
	ring     []float64
	next     int
	count    int
	ema      float64
	seeded   bool
	lastSeen time.Time
}

// Filter keeps one state per (receiver, beacon). It is not safe for concurrent
// use; each beacon worker owns its own Filter.
type Filter struct {
	states  map[Key]*state
	scratch []float64
}

func NewFilter() *Filter {
	return &Filter{states: make(map[Key]*state)}
}

// Apply feeds one compensated value through the median stage (window W) and
// then the EMA stage (alpha) and returns the filtered value. If W differs from
// the window the state was built with, the state is cold-started.
// Bursts of outliers longer than W/2 samples pass through the median.
func (f *Filter) Apply(key Key, value float64, window int, alpha float64, at time.Time) float64 {
	st, ok := f.states[key]
	if !ok || len(st.ring) != window {
		st = &state{ring: make([]float64, window)}
		f.states[key] = st
	}
	st.lastSeen = at

	st.ring[st.next] = value
	st.next = (st.next + 1) % window
	if st.count < window {
		st.count++
	}

	med := f.median(st)
	if !st.seeded {
		st.ema = med
		st.seeded = true
		return st.ema
	}
	st.ema = alpha*med + (1-alpha)*st.ema
	return st.ema
}

// Evict drops states that have not seen a sample for longer than idle and
// returns how many were removed. The next sample for an evicted key re-seeds.
func (f *Filter) Evict(now time.Time, idle time.Duration) int {
	removed := 0
	for k, st := range f.states {
		if now.Sub(st.lastSeen) > idle {
			delete(f.states, k)
			removed++
		}
	}
	return removed
}

// Reset drops every state.
func (f *Filter) Reset() {
	f.states = make(map[Key]*state)
}

func (f *Filter) Len() int {
	return len(f.states)
}

// median of the buffered values; with fewer than W values only those are used.
func (f *Filter) median(st *state) float64 {
	// the ring fills from index 0, so the first count slots are the buffered values
	f.scratch = append(f.scratch[:0], st.ring[:st.count]...)
	return Median(f.scratch)
}

// Median sorts values in place and returns the middle value, or the mean of
// the two middle values for an even count. It returns 0 for no values.
func Median(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	sort.Float64s(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}
