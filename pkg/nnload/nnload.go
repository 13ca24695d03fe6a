package nnload

// Package nnload wraps up our 'nn' interface layer, and has concrete references to our
// neural network implementations (OpenCV DNN, or a remote inference server), so that you
// can just call one function to load a model, and not need to know about the implementation details.

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/livelabel/pkg/cvnn"
	"github.com/cyclopcam/livelabel/pkg/nn"
	"github.com/cyclopcam/livelabel/pkg/nnremote"
	"github.com/cyclopcam/logs"
)

// Models that are not on disk are fetched from here.
// Set to an empty string to disable downloads.
var ModelServer = "https://models.cyclopcam.org/classify"

// Weight file formats that we know how to load, in order of preference.
// Each entry is the weights extension, and optionally the graph extension (for Caffe).
var weightFormats = [][2]string{
	{".onnx", ""},
	{".pb", ""},
	{".caffemodel", ".prototxt"},
	{".weights", ".cfg"},
}

// IsRemote returns true if modelName refers to an inference server instead of a file on disk
func IsRemote(modelName string) bool {
	return strings.HasPrefix(modelName, "http://") || strings.HasPrefix(modelName, "https://")
}

func downloadFile(srcUrl, targetFile string) error {
	tempFile := targetFile + ".tmp"
	if err := os.MkdirAll(filepath.Dir(targetFile), 0755); err != nil {
		return err
	}
	resp, err := http.DefaultClient.Get(srcUrl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("HTTP error %v", resp.Status)
	}
	file, err := os.Create(tempFile)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = io.Copy(file, resp.Body)
	if err != nil {
		os.Remove(tempFile)
		return err
	}
	file.Close()
	return os.Rename(tempFile, targetFile)
}

// ModelFiles returns the weights file (and graph file, which may be empty) of a model that is on disk.
func ModelFiles(modelDir, modelName string) (weights, graph string, err error) {
	base := filepath.Join(modelDir, modelName)
	for _, f := range weightFormats {
		if _, err := os.Stat(base + f[0]); err != nil {
			continue
		}
		if f[1] != "" {
			if _, err := os.Stat(base + f[1]); err != nil {
				return "", "", fmt.Errorf("Model %v is missing its graph file %v", modelName, base+f[1])
			}
			return base + f[0], base + f[1], nil
		}
		return base + f[0], "", nil
	}
	return "", "", fmt.Errorf("No weights found for model %v in %v", modelName, modelDir)
}

// If the model files are not yet downloaded, then download them now.
// Returns immediately if the files are already downloaded.
// We only know how to download ONNX models.
func DownloadModel(logs logs.Log, serverUrl, modelDir, modelName string) error {
	for _, ext := range []string{".json", ".onnx"} {
		diskPath := filepath.Join(modelDir, modelName+ext)
		if _, err := os.Stat(diskPath); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return err
		}
		if ext == ".onnx" {
			if _, _, err := ModelFiles(modelDir, modelName); err == nil {
				// Weights are present in another format
				continue
			}
		}
		if serverUrl == "" {
			return fmt.Errorf("Model file %v not found, and downloads are disabled", diskPath)
		}
		networkUrl := strings.TrimSuffix(serverUrl, "/") + "/" + modelName + ext
		logs.Infof("Downloading %v to %v", networkUrl, diskPath)
		if err := downloadFile(networkUrl, diskPath); err != nil {
			return fmt.Errorf("Failed to download %v: %w", networkUrl, err)
		}
	}
	return nil
}

// LoadModel loads an image classifier.
// If modelName is an http(s) URL, then we talk to a remote inference server.
// Otherwise modelName is the base filename inside modelDir, without extensions,
// and we expect to find modelName.json alongside the weights.
func LoadModel(logs logs.Log, modelDir, modelName string) (nn.ImageClassifier, error) {
	// modelName examples:
	// mobilenet_v2
	// http://localhost:8100

	if IsRemote(modelName) {
		logs.Infof("Using remote inference server %v", modelName)
		return nnremote.NewClassifier(modelName, nil)
	}

	if err := DownloadModel(logs, ModelServer, modelDir, modelName); err != nil {
		return nil, fmt.Errorf("Download failed: %w", err)
	}

	config, err := nn.LoadModelConfig(filepath.Join(modelDir, modelName+".json"))
	if err != nil {
		return nil, err
	}

	weights, graph, err := ModelFiles(modelDir, modelName)
	if err != nil {
		return nil, err
	}
	logs.Infof("Loading %v model %v (%v x %v, %v classes)", config.Architecture, weights, config.Width, config.Height, len(config.Classes))
	return cvnn.NewClassifier(weights, graph, config)
}
