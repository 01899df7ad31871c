package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLexiconSentiment(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		positive int
		negative int
		score    float64
	}{
		{"positive", "great and helpful!", 2, 0, 1},
		{"negative", "slow, broken, useless", 0, 3, -1},
		{"mixed", "fast but wrong", 1, 1, 0},
		{"no polarity", "the answer arrived", 0, 0, 0},
		{"punctuation trimmed", "Great! Really helpful.", 2, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := LexiconSentiment(tt.text)
			assert.Equal(t, tt.positive, s.Positive)
			assert.Equal(t, tt.negative, s.Negative)
			assert.InDelta(t, tt.score, s.Score, 1e-9)
		})
	}
}
