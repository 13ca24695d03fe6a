package camera

import (
	"sync"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
)

// LatestFrame is a single slot mailbox of camera frames.
// A new frame overwrites the previous one, whether or not it was consumed,
// so a slow reader always sees the most recent frame instead of a backlog.
// LatestFrame implements classify.FrameSource[*cimg.Image].
type LatestFrame struct {
	lock      sync.Mutex
	frame     *cimg.Image
	consumed  bool // True if NextFrame has already returned 'frame'
	published int64
	dropped   int64 // Frames that were overwritten before anybody consumed them
	delivered int64
}

// SYNC-LATEST-FRAME-STATS
type FrameStats struct {
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

func NewLatestFrame() *LatestFrame {
	return &LatestFrame{}
}

// Publish replaces the current frame.
// The caller must not modify img after publishing it.
func (l *LatestFrame) Publish(img *cimg.Image) {
	l.lock.Lock()
	if l.frame != nil && !l.consumed {
		l.dropped++
	}
	l.frame = img
	l.consumed = false
	l.published++
	l.lock.Unlock()
}

// NextFrame returns the newest frame that has not yet been returned by NextFrame.
// If there is no such frame, it returns classify.ErrFrameUnavailable.
func (l *LatestFrame) NextFrame() (*cimg.Image, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.frame == nil || l.consumed {
		return nil, classify.ErrFrameUnavailable
	}
	l.consumed = true
	l.delivered++
	return l.frame, nil
}

// LastImage returns the most recent frame, or nil if no frame has been published yet.
// This does not affect NextFrame.
func (l *LatestFrame) LastImage() *cimg.Image {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.frame
}

func (l *LatestFrame) Stats() FrameStats {
	l.lock.Lock()
	defer l.lock.Unlock()
	return FrameStats{
		Published: l.published,
		Delivered: l.delivered,
		Dropped:   l.dropped,
	}
}
