package classify

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// DefaultTickInterval is roughly one display refresh at 60 Hz
const DefaultTickInterval = time.Second / 60

// Scheduler decides when the next iteration of a loop may begin.
// NextTick blocks until then, or until ctx is done, in which case it must return ctx.Err().
type Scheduler interface {
	NextTick(ctx context.Context) error
}

// SchedulerFunc adapts a plain function to a Scheduler
type SchedulerFunc func(ctx context.Context) error

func (f SchedulerFunc) NextTick(ctx context.Context) error {
	return f(ctx)
}

// Immediate yields the processor and then lets the next iteration run straight away.
// This is mostly useful for tests, and for offline processing where we want to go as fast as possible.
var Immediate Scheduler = SchedulerFunc(func(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
})

// TickScheduler releases iterations on a fixed cadence, like a display refresh.
// If an iteration takes longer than one tick, the next iteration runs on the
// following tick, and the missed ticks are dropped (time.Ticker semantics).
type TickScheduler struct {
	interval time.Duration

	lock   sync.Mutex
	ticker *time.Ticker
}

// Create a new TickScheduler. If interval is zero, we use DefaultTickInterval.
func NewTickScheduler(interval time.Duration) *TickScheduler {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &TickScheduler{
		interval: interval,
	}
}

func (s *TickScheduler) Interval() time.Duration {
	return s.interval
}

func (s *TickScheduler) NextTick(ctx context.Context) error {
	s.lock.Lock()
	// Create the ticker lazily, so that an idle scheduler doesn't burn a timer
	if s.ticker == nil {
		s.ticker = time.NewTicker(s.interval)
	}
	ticker := s.ticker
	s.lock.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ticker.C:
		return nil
	}
}

// Stop releases the underlying ticker. The scheduler may still be used afterwards,
// in which case a new ticker is created.
func (s *TickScheduler) Stop() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
}
