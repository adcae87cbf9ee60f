// Package enrich derives entities, sentiment, urgency and image relevance
// from stored messages.
package enrich

import (
	"strings"
	"time"

	"ChannelPipeline/internal/config"
	"ChannelPipeline/internal/domain"
)

const defaultSentimentStep = 0.1

// TextAnalyzer applies the configured lexicons to message text.
type TextAnalyzer struct {
	keywords      []string
	positive      []string
	negative      []string
	highUrgency   []string
	mediumUrgency []string
	step          float64
}

// NewTextAnalyzer folds every lexicon entry once so Analyze only lowercases the text.
func NewTextAnalyzer(lex config.LexiconConfig) *TextAnalyzer {
	step := lex.SentimentStep
	if step <= 0 {
		step = defaultSentimentStep
	}
	return &TextAnalyzer{
		keywords:      fold(lex.Keywords),
		positive:      fold(lex.Positive),
		negative:      fold(lex.Negative),
		highUrgency:   fold(lex.HighUrgency),
		mediumUrgency: fold(lex.MediumUrgency),
		step:          step,
	}
}

// Analyze builds the enrichment record for one message.
func (a *TextAnalyzer) Analyze(msg domain.RawMessage, now time.Time) domain.EnrichedRecord {
	text := strings.ToLower(msg.Text())
	return domain.EnrichedRecord{
		RawMessageID: msg.MessageID,
		Entities:     a.Entities(text),
		Sentiment:    a.Sentiment(text),
		Urgency:      a.Urgency(text),
		ProcessedAt:  now.UTC(),
	}
}

// Entities returns the keywords found in text, in lexicon order.
func (a *TextAnalyzer) Entities(text string) []string {
	text = strings.ToLower(text)
	found := make([]string, 0)
	for _, kw := range a.keywords {
		if strings.Contains(text, kw) {
			found = append(found, kw)
		}
	}
	return found
}

// Sentiment moves one step per positive or negative lexicon hit, clamped to [-1, 1].
func (a *TextAnalyzer) Sentiment(text string) float64 {
	text = strings.ToLower(text)
	var score float64
	score += a.step * float64(hits(text, a.positive))
	score -= a.step * float64(hits(text, a.negative))
	return clamp(score, -1, 1)
}

// Urgency picks the highest level with at least one hit.
func (a *TextAnalyzer) Urgency(text string) domain.UrgencyLevel {
	text = strings.ToLower(text)
	switch {
	case hits(text, a.highUrgency) > 0:
		return domain.UrgencyHigh
	case hits(text, a.mediumUrgency) > 0:
		return domain.UrgencyMedium
	default:
		return domain.UrgencyNormal
	}
}

func hits(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func fold(words []string) []string {
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}
