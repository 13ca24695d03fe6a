package nn

import "github.com/cyclopcam/livelabel/pkg/classify"

// LabelSet contains the labels of a sequence of images (eg the frames of a video, or a directory of photos)
type LabelSet struct {
	Model  string         `json:"model"`
	Images []*ImageLabels `json:"images"`
}

type ImageLabels struct {
	Frame       int                   `json:"frame"`          // Sequence number of the image
	File        string                `json:"file,omitempty"` // Source file, if the image came from disk
	Predictions []classify.Prediction `json:"predictions"`
	Error       string                `json:"error,omitempty"` // Set if classification of this image failed
}
