package overlay

import (
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/stretchr/testify/require"
)

func grayImage(w, h int, v byte) *cimg.Image {
	img := cimg.NewImage(w, h, cimg.PixelFormatRGB)
	for i := range img.Pixels {
		img.Pixels[i] = v
	}
	return img
}

func TestFormatPrediction(t *testing.T) {
	require.Equal(t, "tabby cat 87%", FormatPrediction(classify.Prediction{Label: "tabby cat", Confidence: 0.871}))
	require.Equal(t, "x 100%", FormatPrediction(classify.Prediction{Label: "x", Confidence: 1}))
}

func TestRGBARoundTrip(t *testing.T) {
	img := cimg.NewImage(5, 3, cimg.PixelFormatRGB)
	for i := range img.Pixels {
		img.Pixels[i] = byte(i * 7)
	}
	rgba, err := ToRGBA(img)
	require.NoError(t, err)
	back := FromRGBA(rgba)
	require.Equal(t, img.Pixels, back.Pixels)
}

func TestDrawPredictions(t *testing.T) {
	img := grayImage(200, 100, 128)
	predictions := []classify.Prediction{
		{Label: "cat", Confidence: 0.8},
		{Label: "dog", Confidence: 0.15},
	}
	out, err := DrawPredictions(img, predictions)
	require.NoError(t, err)
	require.Equal(t, 200, out.Rect.Dx())

	// The panel darkens the top left, but the bottom right is untouched
	require.Less(t, out.Pix[out.PixOffset(10, 10)], uint8(128))
	require.Equal(t, uint8(128), out.Pix[out.PixOffset(195, 95)])

	// The source image is not modified
	require.Equal(t, byte(128), img.Pixels[0])

	// No predictions means no panel
	out, err = DrawPredictions(img, nil)
	require.NoError(t, err)
	require.Equal(t, uint8(128), out.Pix[out.PixOffset(10, 10)])
}

func TestRenderJPEG(t *testing.T) {
	b, err := RenderJPEG(grayImage(64, 48, 50), []classify.Prediction{{Label: "a", Confidence: 1}})
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xd8}, b[:2])

	dec, err := cimg.Decompress(b)
	require.NoError(t, err)
	require.Equal(t, 64, dec.Width)
}
