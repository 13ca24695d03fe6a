package nn

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cyclopcam/livelabel/pkg/classify"
)

// Package nn is a Neural Network interface layer for image classifiers.
// To load a model, use the nnload package.

// mobilenet's classify() returns the top 3 by default, and so do we
const DefaultTopK = 3

// NN classification parameters
type ClassifyParams struct {
	TopK          int     // Maximum number of predictions to return. Zero value will use the default.
	MinConfidence float32 // Value between 0 and 1. Predictions below this are dropped.
}

// Create a default ClassifyParams object
func NewClassifyParams() *ClassifyParams {
	return &ClassifyParams{
		TopK:          DefaultTopK,
		MinConfidence: 0,
	}
}

// EffectiveTopK returns TopK, or DefaultTopK if TopK is not set
func (p *ClassifyParams) EffectiveTopK() int {
	if p.TopK <= 0 {
		return DefaultTopK
	}
	return p.TopK
}

// ImageCrop is a crop of an image.
// In C we would represent this as a pointer and a stride, but since that's not memory safe,
// we must resort to this kind of thing.
// To create an ImageCrop, start with WholeImage(), and then use Crop() to get a sub-crop.
type ImageCrop struct {
	NChan       int    // Number of channels (eg 3 for RGB)
	Pixels      []byte // The whole image
	ImageWidth  int    // The width of the original image, held in Pixels
	ImageHeight int    // The height of the original image, held in Pixels
	CropX       int    // Origin of crop X
	CropY       int    // Origin of crop Y
	CropWidth   int    // The width of this crop
	CropHeight  int    // The height of this crop
}

func (c ImageCrop) Stride() int {
	return c.ImageWidth * c.NChan
}

// Returns true if the crop covers the entire image
func (c ImageCrop) IsWholeImage() bool {
	return c.CropX == 0 && c.CropY == 0 && c.CropWidth == c.ImageWidth && c.CropHeight == c.ImageHeight
}

// Return a crop of the crop (new crop is relative to existing).
// If any parameter is out of bounds, we panic
func (c ImageCrop) Crop(x1, y1, x2, y2 int) ImageCrop {
	nc := ImageCrop{
		NChan:       c.NChan,
		Pixels:      c.Pixels,
		ImageWidth:  c.ImageWidth,
		ImageHeight: c.ImageHeight,
		CropX:       c.CropX + x1,
		CropY:       c.CropY + y1,
		CropWidth:   x2 - x1,
		CropHeight:  y2 - y1,
	}
	if nc.CropX < 0 || nc.CropY < 0 || nc.CropWidth < 0 || nc.CropHeight < 0 || nc.CropX+nc.CropWidth > c.ImageWidth || nc.CropY+nc.CropHeight > c.ImageHeight {
		panic("Crop out of bounds")
	}
	return nc
}

// Return the pixels of the crop as a tightly packed buffer.
// If the crop is the whole image, then no copy is made.
func (c ImageCrop) Bytes() []byte {
	if c.IsWholeImage() {
		return c.Pixels[:c.ImageHeight*c.Stride()]
	}
	rowBytes := c.CropWidth * c.NChan
	out := make([]byte, rowBytes*c.CropHeight)
	for y := 0; y < c.CropHeight; y++ {
		src := (c.CropY+y)*c.Stride() + c.CropX*c.NChan
		copy(out[y*rowBytes:(y+1)*rowBytes], c.Pixels[src:src+rowBytes])
	}
	return out
}

// Return a 'crop' of the entire image
func WholeImage(nchan int, pixels []byte, width, height int) ImageCrop {
	return ImageCrop{
		NChan:       nchan,
		Pixels:      pixels,
		ImageWidth:  width,
		ImageHeight: height,
		CropX:       0,
		CropY:       0,
		CropWidth:   width,
		CropHeight:  height,
	}
}

// ImageClassifier is given an image, and returns a ranked list of labels
type ImageClassifier interface {
	// Close closes the classifier (you MUST call this when finished, because it's a C++ object underneath)
	Close()

	// Classify returns the most likely labels for the image, most confident first.
	// nchan is expected to be 3, and image is a 24-bit RGB image.
	// You can create a default ClassifyParams with NewClassifyParams()
	Classify(img ImageCrop, params *ClassifyParams) ([]classify.Prediction, error)

	// Model Config.
	// Callers assume that ModelConfig will remain constant, so don't change it
	// once the classifier has been created.
	Config() *ModelConfig
}

// ModelConfig is saved in a JSON file along with the weights of the NN model
type ModelConfig struct {
	Architecture string     `json:"architecture"`        // eg "mobilenet_v2"
	Width        int        `json:"width"`               // eg 224
	Height       int        `json:"height"`              // eg 224
	Classes      []string   `json:"classes"`             // eg ["tench", "goldfish", ...]
	ClassFile    string     `json:"classFile,omitempty"` // Text file with one class per line (relative to the config file). Used if Classes is empty.
	Mean         [3]float64 `json:"mean"`                // Subtracted from each channel before scaling, eg [127.5, 127.5, 127.5]
	Scale        float64    `json:"scale"`               // Multiplied with each channel after mean subtraction, eg 1/127.5. Zero means 1.
	SwapRB       bool       `json:"swapRB"`              // Network expects BGR instead of RGB
	Softmax      bool       `json:"softmax"`             // Network emits raw logits, so we must apply softmax ourselves
}

func (c *ModelConfig) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("Invalid model input size %v x %v", c.Width, c.Height)
	}
	if len(c.Classes) == 0 {
		return errors.New("Model has no classes")
	}
	return nil
}

// Return the class name of the given index, or a placeholder if the model emits more outputs than we have names for
func (c *ModelConfig) ClassName(idx int) string {
	if idx >= 0 && idx < len(c.Classes) {
		return c.Classes[idx]
	}
	return fmt.Sprintf("class-%v", idx)
}

// Load model config from a JSON file
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, fmt.Errorf("Failed to decode model config %v: %w", filename, err)
	}
	if len(config.Classes) == 0 && config.ClassFile != "" {
		classFile := config.ClassFile
		if !filepath.IsAbs(classFile) {
			classFile = filepath.Join(filepath.Dir(filename), classFile)
		}
		config.Classes, err = LoadClassFile(classFile)
		if err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", filename, err)
	}
	return config, nil
}

// Load a text file with class names on each line
func LoadClassFile(filename string) ([]string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	classes := []string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			classes = append(classes, line)
		}
	}
	return classes, scanner.Err()
}
