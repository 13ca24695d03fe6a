package nn

import (
	"github.com/cyclopcam/livelabel/pkg/classify"
)

// Options for offline labelling of a batch of images
type InferenceOptions struct {
	MaxImageHeight int      // If image height is larger than this, then scale it down to this size (0 = no scaling)
	StartFrame     int      // Start processing at frame (0 = start at beginning)
	EndFrame       int      // Stop processing at frame (0 = process to end)
	Classes        []string // List of class names to keep (eg ["tabby", "golden retriever"]). Empty means keep everything.
	StdOutProgress bool     // Emit progress to stdout
}

// Returns true if frame index falls inside [StartFrame, EndFrame]
func (o *InferenceOptions) InRange(frame int) bool {
	if frame < o.StartFrame {
		return false
	}
	return o.EndFrame <= 0 || frame <= o.EndFrame
}

// Filter removes predictions for classes that we're not interested in.
// The relative order of the remaining predictions is preserved.
func (o *InferenceOptions) Filter(predictions []classify.Prediction) []classify.Prediction {
	if len(o.Classes) == 0 {
		return predictions
	}
	keep := map[string]bool{}
	for _, c := range o.Classes {
		keep[c] = true
	}
	out := []classify.Prediction{}
	for _, p := range predictions {
		if keep[p.Label] {
			out = append(out, p)
		}
	}
	return out
}
