// Package perfstats holds small helpers for measuring how long things take.
package perfstats

import (
	"math/bits"
	"time"

	"github.com/bmharper/ringbuffer"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) Reset() {
	a.Samples = 0
	a.Total = 0
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// TimeWindow remembers the last N durations, so that we can report on recent behaviour
// instead of the average over the whole lifetime.
// TimeWindow is not thread safe.
type TimeWindow struct {
	samples ringbuffer.RingP[time.Duration]
}

// NewTimeWindow creates a window that holds at least size samples.
// The ring buffer needs a power of 2 slots (one of which is always empty), so the
// actual capacity is rounded up to 2^N - 1, and Len() can exceed size.
func NewTimeWindow(size int) *TimeWindow {
	slots := 2
	if size >= 2 {
		slots = 1 << bits.Len(uint(size))
	}
	return &TimeWindow{
		samples: ringbuffer.NewRingP[time.Duration](slots),
	}
}

// Capacity is the number of samples that the window holds before it starts dropping the oldest
func (w *TimeWindow) Capacity() int {
	return w.samples.Capacity()
}

func (w *TimeWindow) Add(v time.Duration) {
	w.samples.Add(v)
}

func (w *TimeWindow) Len() int {
	return w.samples.Len()
}

func (w *TimeWindow) Average() time.Duration {
	n := w.samples.Len()
	if n == 0 {
		return 0
	}
	total := time.Duration(0)
	for i := 0; i < n; i++ {
		total += w.samples.Peek(i)
	}
	return total / time.Duration(n)
}

// Max returns the longest duration in the window
func (w *TimeWindow) Max() time.Duration {
	m := time.Duration(0)
	for i := 0; i < w.samples.Len(); i++ {
		m = max(m, w.samples.Peek(i))
	}
	return m
}
