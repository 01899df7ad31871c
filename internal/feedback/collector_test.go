package feedback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

func newTestCollector(t *testing.T, cfg Config, opts ...Option) *Collector {
	t.Helper()
	return NewCollector(cfg, opts...)
}

func samplingRate(v float64) *float64 { return &v }

func TestProcessRejectsMissingContent(t *testing.T) {
	c := newTestCollector(t, Config{})
	_, err := c.Process(context.Background(), Submission{Source: "user"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestProcessRejectsMissingSource(t *testing.T) {
	c := newTestCollector(t, Config{})
	_, err := c.Process(context.Background(), Submission{
		Content: map[string]any{"text": "great"},
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSourceShorthandPromoted(t *testing.T) {
	c := newTestCollector(t, Config{})
	rec, err := c.Process(context.Background(), Submission{
		Source:  "user",
		Content: map[string]any{"rating": 5.0},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, memory.SourceUser, rec.Source.Type)
	assert.NotEmpty(t, rec.Source.ID)
	assert.Equal(t, 0.8, rec.Source.Reliability)
}

func TestUnknownSourceTypeGetsDefaultReliability(t *testing.T) {
	c := newTestCollector(t, Config{})
	rec, err := c.Process(context.Background(), Submission{
		Source:  "telemetry",
		Content: map[string]any{"value": 1.0},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultReliability, rec.Source.Reliability)
}

func TestContextMergeAdditionalWins(t *testing.T) {
	c := newTestCollector(t, Config{})
	rec, err := c.Process(context.Background(), Submission{
		Source:  "user",
		Content: map[string]any{"rating": 3.0},
		Context: map[string]string{"env": "staging", "region": "eu"},
	}, map[string]string{"env": "production"})
	require.NoError(t, err)
	assert.Equal(t, "production", rec.Context["env"])
	assert.Equal(t, "eu", rec.Context["region"])
}

func TestUserRatingNormalized(t *testing.T) {
	c := newTestCollector(t, Config{})
	tests := []struct {
		rating float64
		want   float64
	}{
		{1, 0},
		{3, 0.5},
		{5, 1},
	}
	for _, tt := range tests {
		rec, err := c.Process(context.Background(), Submission{
			Source:  "user",
			Content: map[string]any{"rating": tt.rating},
		}, nil)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, rec.Metadata["normalized_rating"], 1e-9)
		assert.Equal(t, "rating", rec.Metadata["feedback_type"])
	}
}

func TestUserTextSentiment(t *testing.T) {
	c := newTestCollector(t, Config{})
	rec, err := c.Process(context.Background(), Submission{
		Source:  "user",
		Content: map[string]any{"text": "great answer, very helpful and clear"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "text", rec.Metadata["feedback_type"])

	sentiment, ok := rec.Metadata["sentiment"].(Sentiment)
	require.True(t, ok)
	assert.Greater(t, sentiment.Score, 0.0)
	assert.Equal(t, 3, sentiment.Positive)
}

func TestSystemFeedbackCarriesComponent(t *testing.T) {
	c := newTestCollector(t, Config{})
	rec, err := c.Process(context.Background(), Submission{
		Source:  SourceSpec{Type: "system", ID: "router"},
		Content: map[string]any{"event": "fallback"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "router", rec.Metadata["component"])
	assert.Equal(t, map[string]any{}, rec.Metadata["metrics"])
}

func TestObserverConstitutionalTagging(t *testing.T) {
	c := newTestCollector(t, Config{})

	rec, err := c.Process(context.Background(), Submission{
		Source:  SourceSpec{Type: "observer", ID: ObserverPrism},
		Content: map[string]any{"observation": "trace consistent"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, rec.Metadata["constitutional_verification"])
	assert.Equal(t, ObserverPrism, rec.Metadata["verification_type"])

	other, err := c.Process(context.Background(), Submission{
		Source:  SourceSpec{Type: "observer", ID: "bystander"},
		Content: map[string]any{"observation": "looks fine"},
	}, nil)
	require.NoError(t, err)
	_, tagged := other.Metadata["constitutional_verification"]
	assert.False(t, tagged)
}

func TestOutcomeSuccessFromStatus(t *testing.T) {
	c := newTestCollector(t, Config{})

	completed, err := c.Process(context.Background(), Submission{
		Source:  "outcome",
		Content: map[string]any{"status": "completed"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, completed.Metadata["success"])

	failed, err := c.Process(context.Background(), Submission{
		Source:  "outcome",
		Content: map[string]any{"status": "timeout"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, false, failed.Metadata["success"])
}

func TestOutcomeMissingDataDefaultsToFailure(t *testing.T) {
	c := newTestCollector(t, Config{})
	rec, err := c.Process(context.Background(), Submission{
		Source:  "outcome",
		Content: map[string]any{"note": "nothing recorded"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, false, rec.Metadata["success"])
}

func TestOutcomeQualityScoreBounded(t *testing.T) {
	c := newTestCollector(t, Config{})
	rec, err := c.Process(context.Background(), Submission{
		Source: "outcome",
		Content: map[string]any{
			"success": true,
			"metrics": map[string]any{"latency_score": 0.9, "accuracy": 2.5},
		},
	}, nil)
	require.NoError(t, err)

	quality, ok := rec.Metadata["quality_score"].(float64)
	require.True(t, ok)
	// accuracy clamps to 1.0: 0.7 + 0.3*((0.9+1.0)/2)
	assert.InDelta(t, 0.985, quality, 1e-9)
	assert.LessOrEqual(t, quality, 1.0)
}

func TestSamplingGateDiscardsAfterValidation(t *testing.T) {
	// rng always draws above the sampling rate, so every valid record is
	// discarded — but invalid ones still fail.
	c := newTestCollector(t, Config{SamplingRate: samplingRate(10)}, WithRand(func() float64 { return 0.99 }))

	rec, err := c.Process(context.Background(), Submission{
		Source:  "user",
		Content: map[string]any{"rating": 4.0},
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = c.Process(context.Background(), Submission{Source: "user"}, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSamplingGateKeepsUnderRate(t *testing.T) {
	c := newTestCollector(t, Config{SamplingRate: samplingRate(10)}, WithRand(func() float64 { return 0.05 }))
	rec, err := c.Process(context.Background(), Submission{
		Source:  "user",
		Content: map[string]any{"rating": 4.0},
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestSamplingRateZeroDiscardsEverything(t *testing.T) {
	// An explicit rate of 0 is not the same as unset: every record is
	// discarded, even on the lowest possible draw.
	c := newTestCollector(t, Config{SamplingRate: samplingRate(0)}, WithRand(func() float64 { return 0 }))
	rec, err := c.Process(context.Background(), Submission{
		Source:  "user",
		Content: map[string]any{"rating": 4.0},
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSamplingRateUnsetKeepsEverything(t *testing.T) {
	c := newTestCollector(t, Config{}, WithRand(func() float64 { return 0.999 }))
	rec, err := c.Process(context.Background(), Submission{
		Source:  "user",
		Content: map[string]any{"rating": 4.0},
	}, nil)
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestFreeTextSanitized(t *testing.T) {
	c := newTestCollector(t, Config{})
	rec, err := c.Process(context.Background(), Submission{
		Source:  "user",
		Content: map[string]any{"text": `helpful <script>alert("x")</script> answer`},
	}, nil)
	require.NoError(t, err)
	assert.NotContains(t, rec.Content["text"], "<script>")
	assert.Contains(t, rec.Content["text"], "helpful")
}

func TestDomainLiftedFromContext(t *testing.T) {
	c := newTestCollector(t, Config{})
	rec, err := c.Process(context.Background(), Submission{
		Source:  "user",
		Content: map[string]any{"rating": 4.0},
		Context: map[string]string{"domain": "routing"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "routing", rec.Domain)
}

func TestParseSubmissionSchema(t *testing.T) {
	sub, err := ParseSubmission([]byte(`{"source":"user","content":{"rating":4},"context":{"env":"prod"}}`))
	require.NoError(t, err)
	assert.Equal(t, "user", sub.Source)
	assert.Equal(t, "prod", sub.Context["env"])

	_, err = ParseSubmission([]byte(`{"source":{"id":"missing-type"},"content":{}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}
