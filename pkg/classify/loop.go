package classify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/livelabel/pkg/perfstats"
	"github.com/cyclopcam/logs"
)

type State int32

const (
	StateIdle      State = iota // Handle has not been started
	StateRunning                // Loop is running
	StateCancelled              // Cancel() has been called. This is terminal.
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Number of recent classification durations that we keep, for Stats.RecentClassifyTime
const recentClassifyHistory = 31

// Don't spam the logs with classification errors more often than this
const errorLogInterval = 15 * time.Second

// Stats of a running loop.
// SYNC-LOOP-STATS
type Stats struct {
	Iterations         int64         `json:"iterations"`         // Number of iterations started
	FramesUnavailable  int64         `json:"framesUnavailable"`  // Iterations skipped because no frame was ready
	Classified         int64         `json:"classified"`         // Successful classifications
	ClassifyErrors     int64         `json:"classifyErrors"`     // Failed classifications
	SourceErrors       int64         `json:"sourceErrors"`       // FrameSource errors other than ErrFrameUnavailable
	Delivered          int64         `json:"delivered"`          // Callbacks invoked (predictions + errors)
	Discarded          int64         `json:"discarded"`          // Results that arrived after cancellation
	AvgClassifyTime    time.Duration `json:"avgClassifyTime"`    // Average over the lifetime of the loop
	RecentClassifyTime time.Duration `json:"recentClassifyTime"` // Average over the last few classifications
}

type options struct {
	scheduler       Scheduler
	onError         func(error)
	log             logs.Log
	classifyTimeout time.Duration
}

// Option configures a loop created by Start
type Option func(o *options)

// WithScheduler sets the scheduler that paces iterations.
// The default is a TickScheduler running at DefaultTickInterval.
func WithScheduler(s Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

// WithErrorHandler sets the callback that receives ClassificationError and FrameSourceError.
// It is never invoked concurrently with the prediction callback.
func WithErrorHandler(onError func(err error)) Option {
	return func(o *options) {
		o.onError = onError
	}
}

// WithLog enables (throttled) logging of loop errors
func WithLog(log logs.Log) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithClassifyTimeout limits how long a single classification may take.
// Zero (the default) means no limit, in which case a hung model stalls the loop.
// A timeout is reported as a ClassificationError wrapping context.DeadlineExceeded.
func WithClassifyTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.classifyTimeout = timeout
	}
}

// Handle is a running classification loop.
// The only way to stop the loop is Cancel(). A cancelled Handle cannot be restarted.
type Handle struct {
	log    logs.Log
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{} // Closed when the loop goroutine exits

	// deliverLock makes callback delivery mutually exclusive with Cancel().
	// Once Cancel() has acquired this lock and flipped the state, no further
	// callbacks can run.
	deliverLock sync.Mutex

	statsLock      sync.Mutex
	stats          Stats
	classifyTotal  perfstats.TimeAccumulator
	classifyRecent *perfstats.TimeWindow
	lastErrAt      time.Time
}

// Start launches a new loop on its own goroutine, and returns its Handle.
// onPredictions receives every successful classification, in iteration order,
// ranked most confident first. It must not call Cancel() on its own Handle.
func Start[F any](source FrameSource[F], model Model[F], onPredictions func(predictions []Prediction), opts ...Option) *Handle {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	var ownScheduler *TickScheduler
	if o.scheduler == nil {
		ownScheduler = NewTickScheduler(DefaultTickInterval)
		o.scheduler = ownScheduler
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		log:            o.log,
		cancel:         cancel,
		done:           make(chan struct{}),
		classifyRecent: perfstats.NewTimeWindow(recentClassifyHistory),
	}
	h.state.Store(int32(StateRunning))

	go func() {
		defer close(h.done)
		if ownScheduler != nil {
			defer ownScheduler.Stop()
		}
		runLoop(ctx, h, source, model, onPredictions, &o)
	}()

	return h
}

func runLoop[F any](ctx context.Context, h *Handle, source FrameSource[F], model Model[F], onPredictions func([]Prediction), o *options) {
	for iteration := int64(0); ctx.Err() == nil; iteration++ {
		h.updateStats(func(s *Stats) { s.Iterations++ })

		frame, err := source.NextFrame()
		if errors.Is(err, ErrFrameUnavailable) {
			h.updateStats(func(s *Stats) { s.FramesUnavailable++ })
		} else if err != nil {
			h.updateStats(func(s *Stats) { s.SourceErrors++ })
			h.deliverError(o.onError, &FrameSourceError{Iteration: iteration, Err: err})
		} else {
			classifyFrame(ctx, h, iteration, frame, model, onPredictions, o)
		}

		if err := o.scheduler.NextTick(ctx); err != nil {
			return
		}
	}
}

// Run one classification, and deliver the result.
func classifyFrame[F any](ctx context.Context, h *Handle, iteration int64, frame F, model Model[F], onPredictions func([]Prediction), o *options) {
	classifyCtx := ctx
	if o.classifyTimeout > 0 {
		var cancel context.CancelFunc
		classifyCtx, cancel = context.WithTimeout(ctx, o.classifyTimeout)
		defer cancel()
	}

	start := time.Now()
	predictions, err := model.Classify(classifyCtx, frame)
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		// We were cancelled while the model was busy. Whatever it produced is stale.
		h.updateStats(func(s *Stats) { s.Discarded++ })
		return
	}

	if err != nil {
		h.updateStats(func(s *Stats) { s.ClassifyErrors++ })
		h.deliverError(o.onError, &ClassificationError{Iteration: iteration, Err: err})
		return
	}

	h.statsLock.Lock()
	h.stats.Classified++
	h.classifyTotal.AddSample(elapsed)
	h.classifyRecent.Add(elapsed)
	h.statsLock.Unlock()

	// Take a copy, so that the model can reuse its buffers, and so that
	// the receiver can hold onto the list without worrying about it changing.
	ranked := make([]Prediction, len(predictions))
	copy(ranked, predictions)
	if !IsRanked(ranked) {
		SortPredictions(ranked)
	}

	h.deliver(func() {
		if onPredictions != nil {
			onPredictions(ranked)
		}
	})
}

func (h *Handle) deliverError(onError func(error), err error) {
	if h.log != nil {
		h.statsLock.Lock()
		mustLog := time.Since(h.lastErrAt) > errorLogInterval
		if mustLog {
			h.lastErrAt = time.Now()
		}
		h.statsLock.Unlock()
		if mustLog {
			h.log.Errorf("%v", err)
		}
	}
	h.deliver(func() {
		if onError != nil {
			onError(err)
		}
	})
}

// Invoke a callback, unless we've been cancelled
func (h *Handle) deliver(callback func()) {
	h.deliverLock.Lock()
	defer h.deliverLock.Unlock()
	if State(h.state.Load()) != StateRunning {
		h.updateStats(func(s *Stats) { s.Discarded++ })
		return
	}
	callback()
	h.updateStats(func(s *Stats) { s.Delivered++ })
}

func (h *Handle) updateStats(f func(s *Stats)) {
	h.statsLock.Lock()
	f(&h.stats)
	h.statsLock.Unlock()
}

// Cancel stops the loop. It is safe to call Cancel more than once, and from any goroutine
// except from inside one of the loop's own callbacks.
// When Cancel returns, no callback is running, and no further callbacks will be invoked.
// Cancel does not wait for an in-flight classification to finish. Use Wait() for that.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	h.deliverLock.Lock()
	old := State(h.state.Swap(int32(StateCancelled)))
	h.deliverLock.Unlock()
	if old == StateRunning && h.cancel != nil {
		h.cancel()
	}
}

func (h *Handle) State() State {
	return State(h.state.Load())
}

// Done returns a channel that is closed once the loop goroutine has exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the loop goroutine has exited.
// If the model is hung, this will block for as long as the model does.
func (h *Handle) Wait() {
	<-h.done
}

func (h *Handle) Stats() Stats {
	h.statsLock.Lock()
	defer h.statsLock.Unlock()
	s := h.stats
	s.AvgClassifyTime = h.classifyTotal.Average()
	s.RecentClassifyTime = h.classifyRecent.Average()
	return s
}
