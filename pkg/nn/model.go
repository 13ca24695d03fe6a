package nn

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
)

// ClassifierModel adapts an ImageClassifier to the classify.Model interface,
// so that it can be driven by a classify loop.
// The classify params can be changed while the loop is running.
type ClassifierModel struct {
	Classifier ImageClassifier
	params     atomic.Pointer[ClassifyParams]
}

func NewClassifierModel(classifier ImageClassifier, params *ClassifyParams) *ClassifierModel {
	if params == nil {
		params = NewClassifyParams()
	}
	m := &ClassifierModel{
		Classifier: classifier,
	}
	m.params.Store(params)
	return m
}

// Replace the classify params. The new params apply from the next frame onwards.
func (m *ClassifierModel) SetParams(params *ClassifyParams) {
	cp := *params
	m.params.Store(&cp)
}

func (m *ClassifierModel) Params() ClassifyParams {
	return *m.params.Load()
}

// Classify implements classify.Model.
// NN inference can't be interrupted once it starts, so we only check ctx before we begin.
func (m *ClassifierModel) Classify(ctx context.Context, frame *cimg.Image) ([]classify.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := ImageCropFromCImg(frame)
	if err != nil {
		return nil, err
	}
	return m.Classifier.Classify(img, m.params.Load())
}

// ImageCropFromCImg wraps a tightly packed RGB image
func ImageCropFromCImg(img *cimg.Image) (ImageCrop, error) {
	if img == nil {
		return ImageCrop{}, fmt.Errorf("Image is nil")
	}
	if img.NChan() != 3 {
		return ImageCrop{}, fmt.Errorf("Expected a 3 channel image, but image has %v channels", img.NChan())
	}
	if img.Stride != img.Width*img.NChan() {
		return ImageCrop{}, fmt.Errorf("Image stride %v is not tightly packed (width %v)", img.Stride, img.Width)
	}
	return WholeImage(img.NChan(), img.Pixels, img.Width, img.Height), nil
}

// ResizeToModel scales img to the input size of the network.
// If the image is already the right size, it is returned as-is.
func ResizeToModel(img *cimg.Image, config *ModelConfig) *cimg.Image {
	if img.Width == config.Width && img.Height == config.Height {
		return img
	}
	return cimg.ResizeNew(img, config.Width, config.Height, nil)
}
