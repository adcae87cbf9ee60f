package enrich

import (
	"strings"
	"time"

	"ChannelPipeline/internal/domain"
)

// DefaultRelevanceThreshold is the score an image must exceed to count as relevant.
const DefaultRelevanceThreshold = 0.5

// RelevanceScorer weighs detections by how strongly their class signals
// on-topic content.
type RelevanceScorer struct {
	weights   map[string]float64
	threshold float64
}

// NewRelevanceScorer copies the class weights with case-folded keys.
func NewRelevanceScorer(weights map[string]float64, threshold float64) *RelevanceScorer {
	folded := make(map[string]float64, len(weights))
	for class, w := range weights {
		folded[strings.ToLower(strings.TrimSpace(class))] = w
	}
	if threshold <= 0 {
		threshold = DefaultRelevanceThreshold
	}
	return &RelevanceScorer{weights: folded, threshold: threshold}
}

// Score averages weight*confidence over the detections whose class carries
// a weight. Images without weighted detections score zero.
func (s *RelevanceScorer) Score(detections []domain.Detection) (float64, bool) {
	var (
		total   float64
		matched int
	)
	for _, d := range detections {
		w, ok := s.weights[strings.ToLower(d.ClassName)]
		if !ok {
			continue
		}
		total += w * d.Confidence
		matched++
	}
	if matched == 0 {
		return 0, false
	}
	score := total / float64(matched)
	return score, score > s.threshold
}

// Result assembles the stored detection row for one image.
func (s *RelevanceScorer) Result(img domain.PendingImage, detections []domain.Detection, now time.Time) domain.DetectionResult {
	score, relevant := s.Score(detections)
	if detections == nil {
		detections = []domain.Detection{}
	}
	return domain.DetectionResult{
		MessageID:         img.MessageID,
		ImagePath:         img.Path,
		Detections:        detections,
		AverageConfidence: AverageConfidence(detections),
		RelevanceScore:    score,
		IsRelevant:        relevant,
		ProcessedAt:       now.UTC(),
	}
}

// AverageConfidence is the mean confidence per detected class.
func AverageConfidence(detections []domain.Detection) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, d := range detections {
		sums[d.ClassName] += d.Confidence
		counts[d.ClassName]++
	}
	out := make(map[string]float64, len(sums))
	for class, sum := range sums {
		out[class] = sum / float64(counts[class])
	}
	return out
}
