package feedback

import "strings"

// Sentiment is the polarity summary extracted from free-text feedback.
type Sentiment struct {
	Positive int     `json:"positive"`
	Negative int     `json:"negative"`
	Neutral  int     `json:"neutral"`
	Score    float64 `json:"score"` // [-1,1]
}

// SentimentScorer maps free text to a polarity summary. The collector's
// control flow only depends on this contract, so a model-based scorer can
// replace the lexicon without touching the collector.
type SentimentScorer func(text string) Sentiment

// positiveWords and negativeWords form the default polarity lexicon.
// Intentionally small; tokens are matched lowercase after trimming
// punctuation.
var positiveWords = map[string]bool{
	"good": true, "great": true, "excellent": true, "helpful": true,
	"correct": true, "accurate": true, "fast": true, "clear": true,
	"useful": true, "perfect": true, "love": true, "works": true,
	"reliable": true, "right": true, "thanks": true,
}

var negativeWords = map[string]bool{
	"bad": true, "wrong": true, "slow": true, "broken": true,
	"confusing": true, "useless": true, "incorrect": true, "failed": true,
	"error": true, "terrible": true, "hate": true, "unreliable": true,
	"poor": true, "worse": true, "unhelpful": true,
}

// LexiconSentiment is the default SentimentScorer. Score is the signed
// share of polar tokens: (positive-negative)/(positive+negative), or 0
// when the text carries no polar tokens.
func LexiconSentiment(text string) Sentiment {
	var s Sentiment
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		word := strings.Trim(raw, ".,!?;:'\"()")
		switch {
		case positiveWords[word]:
			s.Positive++
		case negativeWords[word]:
			s.Negative++
		default:
			s.Neutral++
		}
	}
	if polar := s.Positive + s.Negative; polar > 0 {
		s.Score = float64(s.Positive-s.Negative) / float64(polar)
	}
	return s
}
