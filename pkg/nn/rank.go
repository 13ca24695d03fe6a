package nn

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/livelabel/pkg/classify"
	"github.com/cyclopcam/livelabel/pkg/gen"
)

// Softmax converts raw logits into probabilities, in place.
// We subtract the max before exponentiating, so that large logits don't overflow.
func Softmax(scores []float32) {
	if len(scores) == 0 {
		return
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		maxScore = max(maxScore, s)
	}
	sum := float32(0)
	for i, s := range scores {
		e := math32.Exp(s - maxScore)
		scores[i] = e
		sum += e
	}
	if sum == 0 {
		return
	}
	for i := range scores {
		scores[i] /= sum
	}
}

// TopK returns the indices of the k highest scores, highest first.
// Ties are broken by the lower index.
func TopK(scores []float32, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool {
		return scores[idx[i]] > scores[idx[j]]
	})
	if k > 0 && k < len(idx) {
		idx = idx[:k]
	}
	return idx
}

// RankScores turns the raw output vector of a classification network into a ranked list of predictions.
// If the model config says that the network emits logits, then scores is modified in place by Softmax.
func RankScores(scores []float32, config *ModelConfig, params *ClassifyParams) []classify.Prediction {
	if params == nil {
		params = NewClassifyParams()
	}
	topK := params.EffectiveTopK()
	if config.Softmax {
		Softmax(scores)
	}
	predictions := []classify.Prediction{}
	for _, i := range TopK(scores, topK) {
		conf := scores[i]
		if math32.IsNaN(conf) || conf < params.MinConfidence {
			continue
		}
		predictions = append(predictions, classify.Prediction{
			Label:      config.ClassName(i),
			Confidence: gen.Clamp(conf, 0, 1),
		})
	}
	return predictions
}
