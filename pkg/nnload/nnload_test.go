package nnload

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/livelabel/pkg/nn"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestModelFiles(t *testing.T) {
	dir := t.TempDir()
	_, _, err := ModelFiles(dir, "net")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "net.caffemodel"), []byte("x"), 0644))
	_, _, err = ModelFiles(dir, "net")
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "net.prototxt"), []byte("x"), 0644))
	w, g, err := ModelFiles(dir, "net")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "net.caffemodel"), w)
	require.Equal(t, filepath.Join(dir, "net.prototxt"), g)

	// ONNX is preferred
	require.NoError(t, os.WriteFile(filepath.Join(dir, "net.onnx"), []byte("x"), 0644))
	w, g, err = ModelFiles(dir, "net")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "net.onnx"), w)
	require.Equal(t, "", g)
}

func TestDownloadModel(t *testing.T) {
	log := logs.NewTestingLog(t)
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		switch r.URL.Path {
		case "/tiny.json":
			w.Write([]byte(`{"width": 8, "height": 8, "classes": ["a", "b"]}`))
		case "/tiny.onnx":
			w.Write([]byte("weights"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	require.NoError(t, DownloadModel(log, srv.URL, dir, "tiny"))
	require.Equal(t, 2, requests)
	b, err := os.ReadFile(filepath.Join(dir, "tiny.onnx"))
	require.NoError(t, err)
	require.Equal(t, "weights", string(b))

	// Second call doesn't hit the network
	require.NoError(t, DownloadModel(log, srv.URL, dir, "tiny"))
	require.Equal(t, 2, requests)

	require.Error(t, DownloadModel(log, srv.URL, dir, "missing"))
	require.Error(t, DownloadModel(log, "", t.TempDir(), "tiny"))
}

func TestLoadRemoteModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(nn.ModelConfig{Width: 16, Height: 16, Classes: []string{"x"}})
	}))
	defer srv.Close()

	require.True(t, IsRemote(srv.URL))
	require.False(t, IsRemote("mobilenet_v2"))

	model, err := LoadModel(logs.NewTestingLog(t), t.TempDir(), srv.URL)
	require.NoError(t, err)
	defer model.Close()
	require.Equal(t, 16, model.Config().Width)
}
