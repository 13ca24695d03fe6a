package classify

import (
	"errors"
	"fmt"
)

// ErrFrameUnavailable is returned by a FrameSource when it has no new frame for us.
// It is transient, and never reported to the error callback.
var ErrFrameUnavailable = errors.New("Frame unavailable")

// ClassificationError is sent to the error callback when the model fails on a frame.
// The loop keeps running after one of these.
type ClassificationError struct {
	Iteration int64 // Zero-based iteration of the loop on which the error occurred
	Err       error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("Classification failed on iteration %v: %v", e.Iteration, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// FrameSourceError is sent to the error callback when the FrameSource fails with
// anything other than ErrFrameUnavailable.
type FrameSourceError struct {
	Iteration int64
	Err       error
}

func (e *FrameSourceError) Error() string {
	return fmt.Sprintf("Frame source failed on iteration %v: %v", e.Iteration, e.Err)
}

func (e *FrameSourceError) Unwrap() error {
	return e.Err
}
