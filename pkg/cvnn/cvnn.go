// Package cvnn runs image classification networks through OpenCV's DNN module.
// Any format that OpenCV can read (ONNX, Caffe, TensorFlow, Darknet) will work.
package cvnn

import (
	"errors"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/cyclopcam/livelabel/pkg/nn"
	"gocv.io/x/gocv"
)

// Classifier is an nn.ImageClassifier backed by an OpenCV network.
// gocv.Net is not safe for concurrent use, so Classify is serialized.
type Classifier struct {
	config *nn.ModelConfig

	lock   sync.Mutex
	net    gocv.Net
	closed bool
}

// NewClassifier loads the network from modelFile (and optionally configFile, for formats such as Caffe
// that split the weights and the graph).
func NewClassifier(modelFile, configFile string, config *nn.ModelConfig) (*Classifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(modelFile); err != nil {
		return nil, fmt.Errorf("Model file %v: %w", modelFile, err)
	}

	net := gocv.ReadNet(modelFile, configFile)
	if net.Empty() {
		return nil, fmt.Errorf("Failed to load network from %v", modelFile)
	}
	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &Classifier{
		config: config,
		net:    net,
	}, nil
}

func (c *Classifier) Close() {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.closed {
		c.net.Close()
		c.closed = true
	}
}

func (c *Classifier) Config() *nn.ModelConfig {
	return c.config
}

func (c *Classifier) Classify(img nn.ImageCrop, params *nn.ClassifyParams) ([]classify.Prediction, error) {
	if img.NChan != 3 {
		return nil, fmt.Errorf("Expected 3 channel image, but got %v", img.NChan)
	}

	mat, err := gocv.NewMatFromBytes(img.CropHeight, img.CropWidth, gocv.MatTypeCV8UC3, img.Bytes())
	if err != nil {
		return nil, fmt.Errorf("Failed to wrap image: %w", err)
	}
	defer mat.Close()

	scale := c.config.Scale
	if scale == 0 {
		scale = 1
	}
	mean := gocv.NewScalar(c.config.Mean[0], c.config.Mean[1], c.config.Mean[2], 0)
	// Our pixels are RGB, and BlobFromImage's swapRB flips the first and third channels.
	blob := gocv.BlobFromImage(mat, scale, image.Pt(c.config.Width, c.config.Height), mean, c.config.SwapRB, false)
	defer blob.Close()

	scores, err := c.forward(blob)
	if err != nil {
		return nil, err
	}
	return nn.RankScores(scores, c.config, params), nil
}

// Run the network, and return a copy of the output vector
func (c *Classifier) forward(blob gocv.Mat) ([]float32, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil, errors.New("Classifier is closed")
	}

	c.net.SetInput(blob, "")
	output := c.net.Forward("")
	defer output.Close()

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("Failed to read network output: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("Network produced no output")
	}
	scores := make([]float32, len(data))
	copy(scores, data)
	return scores, nil
}
