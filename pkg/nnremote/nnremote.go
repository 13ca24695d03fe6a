// Package nnremote is an nn.ImageClassifier that ships frames to an inference server over HTTP.
//
// The server must implement:
//
//	GET  /config    -> nn.ModelConfig JSON
//	POST /classify  (body: JPEG, query: topk) -> {"predictions": [{"label": "cat", "confidence": 0.9}, ...]}
//	                                          or {"scores": [0.01, 0.9, ...]} (raw output vector)
package nnremote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/chewxy/math32"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/cyclopcam/livelabel/pkg/gen"
	"github.com/cyclopcam/livelabel/pkg/nn"
	"github.com/cyclopcam/www"
)

const DefaultTimeout = 10 * time.Second

// JPEG quality of frames that we send to the server
const jpegQuality = 90

// SYNC-NNREMOTE-RESPONSE
type classifyResponse struct {
	Predictions []classify.Prediction `json:"predictions"`
	Scores      []float32             `json:"scores"`
}

type Classifier struct {
	baseURL string
	config  *nn.ModelConfig
	Timeout time.Duration
}

// NewClassifier creates a remote classifier. If config is nil, it is fetched from the server.
func NewClassifier(baseURL string, config *nn.ModelConfig) (*Classifier, error) {
	c := &Classifier{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		config:  config,
		Timeout: DefaultTimeout,
	}
	if c.config == nil {
		cfg, err := c.fetchConfig()
		if err != nil {
			return nil, fmt.Errorf("Failed to fetch model config from %v: %w", c.baseURL, err)
		}
		c.config = cfg
	}
	if err := c.config.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Classifier) fetchConfig() (*nn.ModelConfig, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/config", nil)
	if err != nil {
		return nil, err
	}
	cfg := &nn.ModelConfig{}
	if err := www.FetchJSON(req, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Classifier) Close() {
}

func (c *Classifier) Config() *nn.ModelConfig {
	return c.config
}

func (c *Classifier) Classify(img nn.ImageCrop, params *nn.ClassifyParams) ([]classify.Prediction, error) {
	if img.NChan != 3 {
		return nil, fmt.Errorf("Expected 3 channel image, but got %v", img.NChan)
	}
	if params == nil {
		params = nn.NewClassifyParams()
	}

	// Shrink to the network size before sending, which saves a lot of bandwidth
	rgb := cimg.WrapImage(img.CropWidth, img.CropHeight, cimg.PixelFormatRGB, img.Bytes())
	rgb = nn.ResizeToModel(rgb, c.config)
	jpg, err := cimg.Compress(rgb, cimg.MakeCompressParams(cimg.Sampling420, jpegQuality, 0))
	if err != nil {
		return nil, fmt.Errorf("Failed to compress frame: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Timeout)
	defer cancel()
	topK := params.EffectiveTopK()
	url := c.baseURL + "/classify?topk=" + strconv.Itoa(topK)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jpg))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp := classifyResponse{}
	if err := www.FetchJSON(req, &resp); err != nil {
		return nil, err
	}

	if resp.Scores != nil {
		return nn.RankScores(resp.Scores, c.config, params), nil
	}
	if resp.Predictions == nil {
		return nil, errors.New("Server response has neither predictions nor scores")
	}

	// Hold the server to the same rules as RankScores
	predictions := []classify.Prediction{}
	for _, p := range resp.Predictions {
		if math32.IsNaN(p.Confidence) || p.Confidence < params.MinConfidence {
			continue
		}
		p.Confidence = gen.Clamp(p.Confidence, 0, 1)
		predictions = append(predictions, p)
	}
	classify.SortPredictions(predictions)
	if len(predictions) > topK {
		predictions = predictions[:topK]
	}
	return predictions, nil
}
