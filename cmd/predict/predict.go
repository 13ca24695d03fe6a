package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/akamensky/argparse"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/cyclopcam/livelabel/pkg/nn"
	"github.com/cyclopcam/livelabel/pkg/nnload"
	"github.com/cyclopcam/livelabel/server/camera"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("predict", "Label a directory of images")
	input := parser.String("i", "input", &argparse.Options{Help: "Directory of JPEG/PNG images", Required: true})
	output := parser.File("o", "output", os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0664, &argparse.Options{Help: "Output label file", Required: true})
	maxImageHeight := parser.Int("", "vheight", &argparse.Options{Help: "If image height is larger than this, then scale it down to this size", Required: false, Default: 0})
	startFrame := parser.Int("", "startframe", &argparse.Options{Help: "Start processing at image", Required: false, Default: 0})
	endFrame := parser.Int("", "endframe", &argparse.Options{Help: "Stop processing at image", Required: false, Default: 0})
	classes := parser.String("c", "classes", &argparse.Options{Help: "Comma-separated list of classes to keep (default all)", Required: false, Default: ""})
	topK := parser.Int("k", "topk", &argparse.Options{Help: "Number of predictions per image", Required: false, Default: nn.DefaultTopK})
	modelFile := parser.String("n", "model", &argparse.Options{Help: "Path to NN model (without extension), or URL of an inference server", Required: true})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	options := nn.InferenceOptions{
		MaxImageHeight: *maxImageHeight,
		StartFrame:     *startFrame,
		EndFrame:       *endFrame,
		StdOutProgress: true,
	}
	if *classes != "" {
		options.Classes = strings.Split(*classes, ",")
	}

	var classifier nn.ImageClassifier
	if nnload.IsRemote(*modelFile) {
		classifier, err = nnload.LoadModel(logger, "", *modelFile)
	} else {
		classifier, err = nnload.LoadModel(logger, filepath.Dir(*modelFile), filepath.Base(*modelFile))
	}
	check(err)
	defer classifier.Close()

	source, err := camera.NewImageDirSource(*input)
	check(err)

	labels := RunInference(logger, classifier, source, &nn.ClassifyParams{TopK: *topK}, options)
	labels.Model = *modelFile

	encoder := json.NewEncoder(output)
	encoder.SetIndent("", "  ")
	check(encoder.Encode(labels))
}

// RunInference classifies every image in source, as fast as the model allows
func RunInference(log logs.Log, classifier nn.ImageClassifier, source *camera.ImageDirSource, params *nn.ClassifyParams, options nn.InferenceOptions) *nn.LabelSet {
	source.Seek(options.StartFrame)
	total := len(source.Files)
	if options.EndFrame > 0 {
		total = min(total, options.EndFrame+1)
	}

	labels := &nn.LabelSet{
		Images: []*nn.ImageLabels{},
	}
	var lock sync.Mutex
	finished := make(chan bool)
	var finishOnce sync.Once

	// The loop classifies one image at a time, so the most recently fetched image is always
	// the one whose result is being delivered.
	current := -1
	frames := classify.FrameSourceFunc[*cimg.Image](func() (*cimg.Image, error) {
		idx := source.Position()
		if !options.InRange(idx) {
			return nil, io.EOF
		}
		img, err := source.NextFrame()
		current = idx
		if err != nil {
			return nil, err
		}
		if options.MaxImageHeight > 0 && img.Height > options.MaxImageHeight {
			w := img.Width * options.MaxImageHeight / img.Height
			img = cimg.ResizeNew(img, w, options.MaxImageHeight, nil)
		}
		return img, nil
	})

	model := nn.NewClassifierModel(classifier, params)

	add := func(il *nn.ImageLabels) {
		lock.Lock()
		labels.Images = append(labels.Images, il)
		lock.Unlock()
		if options.StdOutProgress {
			fmt.Printf("\r%v/%v", il.Frame+1, total)
		}
	}

	onPredictions := func(predictions []classify.Prediction) {
		add(&nn.ImageLabels{
			Frame:       current,
			File:        source.Files[current],
			Predictions: options.Filter(predictions),
		})
	}

	onError := func(err error) {
		if errors.Is(err, io.EOF) {
			// We can't cancel the loop from inside a callback, so let the main goroutine do it
			finishOnce.Do(func() { close(finished) })
			return
		}
		// The iteration number means nothing to the reader of the label file, so we record the cause
		if cause := errors.Unwrap(err); cause != nil {
			err = cause
		}
		il := &nn.ImageLabels{
			Frame:       current,
			Predictions: []classify.Prediction{},
			Error:       err.Error(),
		}
		if current >= 0 && current < len(source.Files) {
			il.File = source.Files[current]
		}
		add(il)
	}

	handle := classify.Start[*cimg.Image](frames, model, onPredictions,
		classify.WithScheduler(classify.Immediate),
		classify.WithErrorHandler(onError),
	)
	<-finished
	handle.Cancel()
	handle.Wait()

	if options.StdOutProgress {
		fmt.Printf("\n")
	}
	nErrors := 0
	for _, il := range labels.Images {
		if il.Error != "" {
			nErrors++
		}
	}
	log.Infof("Labelled %v images (%v errors), average %v per image", len(labels.Images), nErrors, handle.Stats().AvgClassifyTime)
	return labels
}
