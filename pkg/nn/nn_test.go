package nn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/stretchr/testify/require"
)

func TestLoadModelConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels.txt"), []byte("cat\n\n dog \nbird\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mobilenet.json"), []byte(`{
		"architecture": "mobilenet_v2",
		"width": 224,
		"height": 224,
		"classFile": "labels.txt",
		"mean": [127.5, 127.5, 127.5],
		"scale": 0.0078125,
		"softmax": true
	}`), 0644))

	cfg, err := LoadModelConfig(filepath.Join(dir, "mobilenet.json"))
	require.NoError(t, err)
	require.Equal(t, []string{"cat", "dog", "bird"}, cfg.Classes)
	require.Equal(t, 224, cfg.Width)
	require.True(t, cfg.Softmax)
	require.Equal(t, "dog", cfg.ClassName(1))
	require.Equal(t, "class-7", cfg.ClassName(7))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"width": 0, "height": 224, "classes": ["a"]}`), 0644))
	_, err = LoadModelConfig(filepath.Join(dir, "bad.json"))
	require.Error(t, err)
}

func TestImageCrop(t *testing.T) {
	// 4x3 RGB image where every byte is its own offset
	pixels := make([]byte, 4*3*3)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	whole := WholeImage(3, pixels, 4, 3)
	require.True(t, whole.IsWholeImage())
	require.Equal(t, 12, whole.Stride())
	require.Equal(t, pixels, whole.Bytes())

	crop := whole.Crop(1, 1, 3, 3)
	require.False(t, crop.IsWholeImage())
	require.Equal(t, []byte{
		15, 16, 17, 18, 19, 20,
		27, 28, 29, 30, 31, 32,
	}, crop.Bytes())

	require.Panics(t, func() { whole.Crop(0, 0, 5, 1) })
}

type fakeClassifier struct {
	config     ModelConfig
	lastParams ClassifyParams
	lastWidth  int
}

func (f *fakeClassifier) Close() {}

func (f *fakeClassifier) Config() *ModelConfig {
	return &f.config
}

func (f *fakeClassifier) Classify(img ImageCrop, params *ClassifyParams) ([]classify.Prediction, error) {
	f.lastParams = *params
	f.lastWidth = img.CropWidth
	return RankScores([]float32{0.1, 0.6, 0.3}, &f.config, params), nil
}

func TestClassifierModel(t *testing.T) {
	fc := &fakeClassifier{config: ModelConfig{Width: 2, Height: 2, Classes: []string{"a", "b", "c"}}}
	m := NewClassifierModel(fc, nil)
	img := cimg.NewImage(8, 6, cimg.PixelFormatRGB)

	p, err := m.Classify(context.Background(), img)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c", "a"}, []string{p[0].Label, p[1].Label, p[2].Label})
	require.Equal(t, 8, fc.lastWidth)
	require.Equal(t, DefaultTopK, fc.lastParams.TopK)

	m.SetParams(&ClassifyParams{TopK: 1, MinConfidence: 0.5})
	p, err = m.Classify(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, p, 1)
	require.Equal(t, 1, m.Params().TopK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Classify(ctx, img)
	require.ErrorIs(t, err, context.Canceled)

	_, err = m.Classify(context.Background(), nil)
	require.Error(t, err)
}

func TestResizeToModel(t *testing.T) {
	cfg := &ModelConfig{Width: 4, Height: 4}
	img := cimg.NewImage(4, 4, cimg.PixelFormatRGB)
	require.True(t, img == ResizeToModel(img, cfg))

	big := cimg.NewImage(16, 8, cimg.PixelFormatRGB)
	small := ResizeToModel(big, cfg)
	require.Equal(t, 4, small.Width)
	require.Equal(t, 4, small.Height)
}

func TestInferenceOptions(t *testing.T) {
	o := InferenceOptions{StartFrame: 2, EndFrame: 4, Classes: []string{"cat"}}
	require.False(t, o.InRange(1))
	require.True(t, o.InRange(2))
	require.True(t, o.InRange(4))
	require.False(t, o.InRange(5))

	p := o.Filter([]classify.Prediction{{Label: "dog", Confidence: 0.9}, {Label: "cat", Confidence: 0.1}})
	require.Equal(t, []classify.Prediction{{Label: "cat", Confidence: 0.1}}, p)

	all := InferenceOptions{}
	require.True(t, all.InRange(1000))
	require.Len(t, all.Filter(p), 1)
}
