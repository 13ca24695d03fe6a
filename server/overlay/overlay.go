// Package overlay draws the prediction list on top of a camera frame
package overlay

import (
	"fmt"
	"image"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/fogleman/gg"
)

const (
	margin      = 8.0
	padding     = 6.0
	lineSpacing = 1.4
	jpegQuality = 85
)

// FormatPrediction returns the text that we show for a prediction, eg "tabby cat 87%"
func FormatPrediction(p classify.Prediction) string {
	return fmt.Sprintf("%v %.0f%%", p.Label, p.Confidence*100)
}

// ToRGBA converts a 3 or 4 channel cimg image into a Go image
func ToRGBA(img *cimg.Image) (*image.RGBA, error) {
	nchan := img.NChan()
	if nchan != 3 && nchan != 4 {
		return nil, fmt.Errorf("Unsupported number of channels %v", nchan)
	}
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		src := img.Pixels[y*img.Stride : y*img.Stride+img.Width*nchan]
		dst := out.Pix[y*out.Stride : y*out.Stride+img.Width*4]
		for x := 0; x < img.Width; x++ {
			dst[x*4] = src[x*nchan]
			dst[x*4+1] = src[x*nchan+1]
			dst[x*4+2] = src[x*nchan+2]
			dst[x*4+3] = 255
		}
	}
	return out, nil
}

// FromRGBA converts a Go image into a tightly packed RGB cimg image, discarding alpha
func FromRGBA(src *image.RGBA) *cimg.Image {
	w := src.Rect.Dx()
	h := src.Rect.Dy()
	img := cimg.NewImage(w, h, cimg.PixelFormatRGB)
	for y := 0; y < h; y++ {
		s := src.Pix[src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y):]
		d := img.Pixels[y*img.Stride:]
		for x := 0; x < w; x++ {
			d[x*3] = s[x*4]
			d[x*3+1] = s[x*4+1]
			d[x*3+2] = s[x*4+2]
		}
	}
	return img
}

// DrawPredictions returns a copy of img with the predictions listed in the top left corner,
// most confident first, on a translucent panel.
// If there are no predictions, the frame is returned without a panel.
func DrawPredictions(img *cimg.Image, predictions []classify.Prediction) (*image.RGBA, error) {
	rgba, err := ToRGBA(img)
	if err != nil {
		return nil, err
	}
	if len(predictions) == 0 {
		return rgba, nil
	}

	dc := gg.NewContextForRGBA(rgba)
	lines := make([]string, len(predictions))
	maxWidth := 0.0
	for i, p := range predictions {
		lines[i] = FormatPrediction(p)
		w, _ := dc.MeasureString(lines[i])
		maxWidth = max(maxWidth, w)
	}
	lineHeight := dc.FontHeight() * lineSpacing
	panelW := maxWidth + padding*2
	panelH := lineHeight*float64(len(lines)) + padding*2

	dc.SetRGBA(0, 0, 0, 0.6)
	dc.DrawRoundedRectangle(margin, margin, panelW, panelH, 4)
	dc.Fill()

	for i, line := range lines {
		if i == 0 {
			// The top prediction is the headline
			dc.SetRGB(1, 1, 0.3)
		} else {
			dc.SetRGB(1, 1, 1)
		}
		y := margin + padding + lineHeight*float64(i) + dc.FontHeight()
		dc.DrawString(line, margin+padding, y)
	}
	return rgba, nil
}

// RenderJPEG draws the predictions on img, and compresses the result to JPEG
func RenderJPEG(img *cimg.Image, predictions []classify.Prediction) ([]byte, error) {
	rgba, err := DrawPredictions(img, predictions)
	if err != nil {
		return nil, err
	}
	return cimg.Compress(FromRGBA(rgba), cimg.MakeCompressParams(cimg.Sampling420, jpegQuality, 0))
}
