package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// Hands out the frames in a slice, and then reports ErrFrameUnavailable forever
type sliceSource[F any] struct {
	lock   sync.Mutex
	frames []F
}

func newSliceSource[F any](frames ...F) *sliceSource[F] {
	return &sliceSource[F]{frames: frames}
}

func (s *sliceSource[F]) NextFrame() (F, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	var zero F
	if len(s.frames) == 0 {
		return zero, ErrFrameUnavailable
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *sliceSource[F]) remaining() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.frames)
}

type event struct {
	predictions []Prediction
	err         error
}

// Records callbacks in the order that they arrive
type recorder struct {
	lock   sync.Mutex
	events []event
}

func (r *recorder) onPredictions(p []Prediction) {
	r.lock.Lock()
	r.events = append(r.events, event{predictions: p})
	r.lock.Unlock()
}

func (r *recorder) onError(err error) {
	r.lock.Lock()
	r.events = append(r.events, event{err: err})
	r.lock.Unlock()
}

func (r *recorder) snapshot() []event {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]event{}, r.events...)
}

func (r *recorder) len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.events)
}

func TestScenarioABC(t *testing.T) {
	model := ModelFunc[string](func(ctx context.Context, frame string) ([]Prediction, error) {
		switch frame {
		case "A":
			return []Prediction{{"cat", 0.9}, {"dog", 0.1}}, nil
		case "B":
			return nil, errors.New("bad frame")
		case "C":
			return []Prediction{{"dog", 0.8}}, nil
		}
		return nil, fmt.Errorf("unexpected frame %v", frame)
	})

	rec := &recorder{}
	src := newSliceSource("A", "B", "C")
	h := Start[string](src, model, rec.onPredictions, WithScheduler(Immediate), WithErrorHandler(rec.onError), WithLog(logs.NewTestingLog(t)))
	require.Eventually(t, func() bool { return rec.len() == 3 }, 5*time.Second, time.Millisecond)
	h.Cancel()
	h.Wait()

	events := rec.snapshot()
	require.Len(t, events, 3)
	require.Nil(t, events[0].err)
	require.Equal(t, []Prediction{{"cat", 0.9}, {"dog", 0.1}}, events[0].predictions)

	var cerr *ClassificationError
	require.ErrorAs(t, events[1].err, &cerr)
	require.Equal(t, int64(1), cerr.Iteration)
	require.EqualError(t, cerr.Err, "bad frame")

	require.Nil(t, events[2].err)
	require.Equal(t, []Prediction{{"dog", 0.8}}, events[2].predictions)

	stats := h.Stats()
	require.Equal(t, int64(2), stats.Classified)
	require.Equal(t, int64(1), stats.ClassifyErrors)
	require.Equal(t, int64(3), stats.Delivered)
}

func TestAtMostOneCallbackPerFrameAndRanked(t *testing.T) {
	const nFrames = 50
	frames := []int{}
	for i := 0; i < nFrames; i++ {
		frames = append(frames, i)
	}

	// Deliberately return predictions in the wrong order, to check that the loop ranks them
	model := ModelFunc[int](func(ctx context.Context, frame int) ([]Prediction, error) {
		return []Prediction{
			{"low", float32(frame%5) / 100},
			{"high", 0.9},
			{"mid", 0.5},
		}, nil
	})

	src := newSliceSource(frames...)
	var nCalls atomic.Int64
	var unranked atomic.Int64
	h := Start[int](src, model, func(p []Prediction) {
		nCalls.Add(1)
		if !IsRanked(p) {
			unranked.Add(1)
		}
	}, WithScheduler(Immediate))

	require.Eventually(t, func() bool { return src.remaining() == 0 && h.Stats().FramesUnavailable > 0 }, 5*time.Second, time.Millisecond)
	h.Cancel()
	h.Wait()

	require.LessOrEqual(t, nCalls.Load(), int64(nFrames))
	require.Equal(t, int64(nFrames), nCalls.Load())
	require.Equal(t, int64(0), unranked.Load())
}

func TestCancelIsIdempotent(t *testing.T) {
	src := newSliceSource[int]()
	model := ModelFunc[int](func(ctx context.Context, frame int) ([]Prediction, error) {
		return nil, nil
	})
	h := Start[int](src, model, nil, WithScheduler(Immediate))
	require.Equal(t, StateRunning, h.State())

	h.Cancel()
	h.Wait()
	require.Equal(t, StateCancelled, h.State())
	before := h.Stats()

	h.Cancel()
	require.Equal(t, StateCancelled, h.State())
	require.Equal(t, before, h.Stats())

	select {
	case <-h.Done():
	default:
		t.Fatal("Done channel should be closed")
	}

	// A nil handle is a no-op
	var nilHandle *Handle
	nilHandle.Cancel()
}

func TestNoCallbackAfterCancelWithClassificationInFlight(t *testing.T) {
	entered := make(chan bool)
	release := make(chan bool)

	// This model ignores its context, to simulate a model that can't be interrupted
	model := ModelFunc[string](func(ctx context.Context, frame string) ([]Prediction, error) {
		entered <- true
		<-release
		return []Prediction{{"late", 1}}, nil
	})

	rec := &recorder{}
	h := Start[string](newSliceSource("A"), model, rec.onPredictions, WithScheduler(Immediate), WithErrorHandler(rec.onError))
	<-entered
	h.Cancel()
	require.Equal(t, StateCancelled, h.State())
	close(release)
	h.Wait()

	require.Equal(t, 0, rec.len())
	require.Equal(t, int64(1), h.Stats().Discarded)
	require.Equal(t, int64(0), h.Stats().Delivered)
}

func TestContextAwareModelIsInterrupted(t *testing.T) {
	entered := make(chan bool)
	model := ModelFunc[string](func(ctx context.Context, frame string) ([]Prediction, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	rec := &recorder{}
	h := Start[string](newSliceSource("A"), model, rec.onPredictions, WithScheduler(Immediate), WithErrorHandler(rec.onError))
	<-entered
	h.Cancel()
	h.Wait()
	// The cancellation error must not be reported as a classification failure
	require.Equal(t, 0, rec.len())
}

func TestSingleFailureDoesNotStopLoop(t *testing.T) {
	const failOn = 3
	model := ModelFunc[int](func(ctx context.Context, frame int) ([]Prediction, error) {
		if frame == failOn {
			return nil, errors.New("model exploded")
		}
		return []Prediction{{fmt.Sprintf("frame-%v", frame), 0.5}}, nil
	})

	rec := &recorder{}
	h := Start[int](newSliceSource(0, 1, 2, 3, 4, 5), model, rec.onPredictions, WithScheduler(Immediate), WithErrorHandler(rec.onError))
	require.Eventually(t, func() bool { return rec.len() == 6 }, 5*time.Second, time.Millisecond)
	h.Cancel()
	h.Wait()

	events := rec.snapshot()
	require.Error(t, events[failOn].err)
	require.Equal(t, "frame-4", events[failOn+1].predictions[0].Label)
	require.Equal(t, "frame-5", events[failOn+2].predictions[0].Label)
}

func TestStartThenImmediateCancel(t *testing.T) {
	// The source only produces frames once 'open' is set, which happens after Cancel()
	var open atomic.Bool
	src := FrameSourceFunc[string](func() (string, error) {
		if !open.Load() {
			return "", ErrFrameUnavailable
		}
		return "A", nil
	})
	model := ModelFunc[string](func(ctx context.Context, frame string) ([]Prediction, error) {
		return []Prediction{{"cat", 1}}, nil
	})

	var nCalls atomic.Int64
	h := Start[string](src, model, func(p []Prediction) { nCalls.Add(1) })
	h.Cancel()
	open.Store(true)
	h.Wait()

	require.Equal(t, int64(0), nCalls.Load())
	require.Equal(t, StateCancelled, h.State())
}

func TestAtMostOneClassificationInFlight(t *testing.T) {
	var inFlight atomic.Int32
	var maxInFlight atomic.Int32
	model := ModelFunc[int](func(ctx context.Context, frame int) ([]Prediction, error) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
		return []Prediction{{"x", 1}}, nil
	})

	frames := make([]int, 20)
	var nCalls atomic.Int64
	h := Start[int](newSliceSource(frames...), model, func(p []Prediction) { nCalls.Add(1) }, WithScheduler(Immediate))
	require.Eventually(t, func() bool { return nCalls.Load() == 20 }, 5*time.Second, time.Millisecond)
	h.Cancel()
	h.Wait()
	require.Equal(t, int32(1), maxInFlight.Load())
}

func TestFrameSourceErrorIsReported(t *testing.T) {
	var calls atomic.Int32
	src := FrameSourceFunc[int](func() (int, error) {
		if calls.Add(1) == 1 {
			return 0, errors.New("camera unplugged")
		}
		return 7, nil
	})
	model := ModelFunc[int](func(ctx context.Context, frame int) ([]Prediction, error) {
		return []Prediction{{"seven", 1}}, nil
	})

	rec := &recorder{}
	h := Start[int](src, model, rec.onPredictions, WithScheduler(Immediate), WithErrorHandler(rec.onError))
	require.Eventually(t, func() bool { return rec.len() >= 2 }, 5*time.Second, time.Millisecond)
	h.Cancel()
	h.Wait()

	events := rec.snapshot()
	var serr *FrameSourceError
	require.ErrorAs(t, events[0].err, &serr)
	require.Equal(t, int64(0), serr.Iteration)
	require.Equal(t, "seven", events[1].predictions[0].Label)
	require.Equal(t, int64(1), h.Stats().SourceErrors)
}

func TestClassifyTimeout(t *testing.T) {
	model := ModelFunc[string](func(ctx context.Context, frame string) ([]Prediction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	errs := make(chan error, 10)
	h := Start[string](newSliceSource("A"), model, nil,
		WithScheduler(Immediate),
		WithClassifyTimeout(10*time.Millisecond),
		WithErrorHandler(func(err error) { errs <- err }))

	err := <-errs
	h.Cancel()
	h.Wait()

	var cerr *ClassificationError
	require.ErrorAs(t, err, &cerr)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnavailableFramesStillReschedule(t *testing.T) {
	src := newSliceSource[string]()
	var nClassify atomic.Int64
	model := ModelFunc[string](func(ctx context.Context, frame string) ([]Prediction, error) {
		nClassify.Add(1)
		return nil, nil
	})
	h := Start[string](src, model, nil, WithScheduler(NewTickScheduler(time.Millisecond)))
	require.Eventually(t, func() bool { return h.Stats().FramesUnavailable >= 5 }, 5*time.Second, time.Millisecond)
	h.Cancel()
	h.Wait()
	require.Equal(t, int64(0), nClassify.Load())
	require.Equal(t, h.Stats().Iterations, h.Stats().FramesUnavailable)
}

func TestNewHandleIsIndependent(t *testing.T) {
	model := ModelFunc[int](func(ctx context.Context, frame int) ([]Prediction, error) {
		return []Prediction{{"x", 1}}, nil
	})
	h1 := Start[int](newSliceSource[int](), model, nil, WithScheduler(Immediate))
	h1.Cancel()
	h1.Wait()

	var nCalls atomic.Int64
	h2 := Start[int](newSliceSource(1, 2), model, func(p []Prediction) { nCalls.Add(1) }, WithScheduler(Immediate))
	require.Eventually(t, func() bool { return nCalls.Load() == 2 }, 5*time.Second, time.Millisecond)
	require.Equal(t, StateCancelled, h1.State())
	require.Equal(t, StateRunning, h2.State())
	h2.Cancel()
	h2.Wait()
}
