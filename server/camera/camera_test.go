package camera

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/stretchr/testify/require"
)

func TestLatestFrame(t *testing.T) {
	l := NewLatestFrame()
	_, err := l.NextFrame()
	require.ErrorIs(t, err, classify.ErrFrameUnavailable)
	require.Nil(t, l.LastImage())

	a := cimg.NewImage(4, 4, cimg.PixelFormatRGB)
	b := cimg.NewImage(8, 8, cimg.PixelFormatRGB)
	l.Publish(a)
	l.Publish(b)

	// Only the newest frame is delivered
	img, err := l.NextFrame()
	require.NoError(t, err)
	require.Same(t, b, img)
	_, err = l.NextFrame()
	require.ErrorIs(t, err, classify.ErrFrameUnavailable)

	// LastImage still sees the frame after it's been consumed
	require.Same(t, b, l.LastImage())

	require.Equal(t, FrameStats{Published: 2, Delivered: 1, Dropped: 1}, l.Stats())
}

func writeTestJPEG(t *testing.T, filename string, width, height int) {
	img := cimg.NewImage(width, height, cimg.PixelFormatRGB)
	for i := range img.Pixels {
		img.Pixels[i] = byte(i)
	}
	b, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, 90, 0))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filename, b, 0644))
}

func TestImageDirSource(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "002.jpg"), 16, 8)
	writeTestJPEG(t, filepath.Join(dir, "001.jpg"), 32, 8)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	src, err := NewImageDirSource(dir)
	require.NoError(t, err)
	require.Len(t, src.Files, 2)

	img, err := src.NextFrame()
	require.NoError(t, err)
	require.Equal(t, 32, img.Width)
	require.Equal(t, 3, img.NChan())

	img, err = src.NextFrame()
	require.NoError(t, err)
	require.Equal(t, 16, img.Width)

	_, err = src.NextFrame()
	require.ErrorIs(t, err, io.EOF)

	src.Seek(1)
	require.Equal(t, 1, src.Position())
	_, err = src.NextFrame()
	require.NoError(t, err)
}
