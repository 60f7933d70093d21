// Package scoring rates backend responses with a cheap, explainable heuristic. No model call is made.
package scoring

import (
	"strings"
	"unicode/utf8"
)

const (
	lengthWeight    = 0.2
	sentimentWeight = 0.3
	coherenceWeight = 0.3
	relevanceWeight = 0.2

	// Responses at or beyond this many characters get the full length signal.
	saturationLength = 500
)

var (
	positiveWords = []string{"great", "excellent", "yes", "can", "possible", "素晴らしい", "はい", "できます", "可能"}
	negativeWords = []string{"cannot", "error", "failed", "できません", "無理"}
)

// Signals are the four normalized sub-scores, each in [0,1].
type Signals struct {
	Length    float64 `json:"length"`
	Sentiment float64 `json:"sentiment"`
	Coherence float64 `json:"coherence"`
	Relevance float64 `json:"relevance"`
}

// Combined returns the weighted sum of the signals before backend weighting.
func (s Signals) Combined() float64 {
	return s.Length*lengthWeight +
		s.Sentiment*sentimentWeight +
		s.Coherence*coherenceWeight +
		s.Relevance*relevanceWeight
}

// Score returns the quality of response for query, scaled by the backend weight and clamped to [0,1].
// An empty response scores 0.
func Score(response, query string, weight float64) float64 {
	if response == "" {
		return 0
	}
	return clamp(Analyze(response, query).Combined() * weight)
}

// Analyze computes the sub-signals for a response.
func Analyze(response, query string) Signals {
	lower := strings.ToLower(response)
	return Signals{
		Length:    lengthSignal(response),
		Sentiment: sentimentSignal(lower),
		Coherence: coherenceSignal(response),
		Relevance: relevanceSignal(lower, query),
	}
}

func lengthSignal(response string) float64 {
	return min(float64(utf8.RuneCountInString(response))/saturationLength, 1)
}

// sentimentSignal starts neutral and moves 0.1 per lexicon hit. Each word counts once.
func sentimentSignal(lower string) float64 {
	s := 0.5
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			s += 0.1
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			s -= 0.1
		}
	}
	return clamp(s)
}

// coherenceSignal rewards a moderate mean sentence length. Empty fragments between terminators count.
func coherenceSignal(response string) float64 {
	sentences := strings.FieldsFunc(response, isTerminator)
	fragments := strings.Count(response, ".") + strings.Count(response, "!") +
		strings.Count(response, "?") + strings.Count(response, "。") + 1

	total := 0
	for _, s := range sentences {
		total += utf8.RuneCountInString(s)
	}
	mean := float64(total) / float64(fragments)
	if mean > 10 && mean < 200 {
		return 0.8
	}
	return 0.5
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。':
		return true
	}
	return false
}

// relevanceSignal is the share of query words found in the response. A query with no words scores 0.
func relevanceSignal(lower, query string) float64 {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return 0
	}
	matched := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			matched++
		}
	}
	return float64(matched) / float64(len(words))
}

func clamp(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
