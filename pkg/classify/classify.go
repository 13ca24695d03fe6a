// Package classify runs a continuous "grab frame, classify, publish" loop.
//
// A loop pulls the latest frame from a FrameSource, hands it to a Model,
// and delivers the ranked predictions to a callback. Then it waits for the
// next scheduler tick and does it all again, until the Handle is cancelled.
// There is never more than one classification in flight per loop.
package classify

import (
	"context"
	"sort"
)

// A single label emitted by a classification model
// SYNC-PREDICTION-JSON
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"` // 0..1
}

// FrameSource hands out frames on demand.
// If no new frame is ready, NextFrame must return ErrFrameUnavailable (possibly wrapped).
// That is a normal state, and the loop will simply try again on the next tick.
type FrameSource[F any] interface {
	NextFrame() (F, error)
}

// FrameSourceFunc adapts a plain function to a FrameSource
type FrameSourceFunc[F any] func() (F, error)

func (f FrameSourceFunc[F]) NextFrame() (F, error) {
	return f()
}

// Model maps a frame to a list of predictions, most confident first.
// The context is cancelled when the loop is cancelled. Models are free to ignore it,
// in which case the result will be discarded when it arrives.
type Model[F any] interface {
	Classify(ctx context.Context, frame F) ([]Prediction, error)
}

// ModelFunc adapts a plain function to a Model
type ModelFunc[F any] func(ctx context.Context, frame F) ([]Prediction, error)

func (f ModelFunc[F]) Classify(ctx context.Context, frame F) ([]Prediction, error) {
	return f(ctx, frame)
}

// IsRanked returns true if predictions are sorted by descending confidence
func IsRanked(predictions []Prediction) bool {
	for i := 1; i < len(predictions); i++ {
		if predictions[i].Confidence > predictions[i-1].Confidence {
			return false
		}
	}
	return true
}

// SortPredictions sorts by descending confidence.
// The sort is stable, so models that emit ties in a meaningful order keep that order.
func SortPredictions(predictions []Prediction) {
	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Confidence > predictions[j].Confidence
	})
}

// Top returns the most confident prediction, or false if the list is empty
func Top(predictions []Prediction) (Prediction, bool) {
	if len(predictions) == 0 {
		return Prediction{}, false
	}
	return predictions[0], true
}
