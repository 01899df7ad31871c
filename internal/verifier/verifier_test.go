package verifier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesheets/promethios-sub018/internal/memory"
)

func testAdaptation(t *testing.T, patternID string, confidence float64) *memory.Adaptation {
	t.Helper()
	return &memory.Adaptation{
		ID:   "adapt_test",
		Type: memory.AdaptationParameter,
		Target: memory.AdaptationTarget{
			Parameter:   "sampling_rate",
			TargetValue: 80,
			Direction:   "decrease",
		},
		Justification: memory.Justification{Confidence: confidence, PatternID: patternID},
		Status:        memory.StatusPending,
	}
}

func validTrace(decisionID string) *BeliefTrace {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &BeliefTrace{
		ID:         "trace_1",
		DecisionID: decisionID,
		Steps: []TraceStep{
			{ID: "s1", Operation: "observe", Timestamp: base},
			{ID: "s2", Operation: "infer", SourceIDs: []string{"s1"}, Timestamp: base.Add(time.Second)},
			{ID: "s3", Operation: "conclude", SourceIDs: []string{"s2"}, Timestamp: base.Add(2 * time.Second)},
		},
		CreatedAt: base,
	}
}

func TestTraceRegistryVerifiesWellFormedTrace(t *testing.T) {
	reg := NewTraceRegistry()
	trace := validTrace("pat_1")
	reg.Register(trace)

	got, ok := reg.GetTrace(context.Background(), "pat_1")
	require.True(t, ok)
	result := reg.VerifyTrace(context.Background(), got)
	assert.True(t, result.Verified)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestTraceRegistryRejectsStructuralDefects(t *testing.T) {
	reg := NewTraceRegistry()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		trace *BeliefTrace
	}{
		{"nil trace", nil},
		{"empty steps", &BeliefTrace{ID: "t", DecisionID: "d"}},
		{"unknown source", &BeliefTrace{ID: "t", DecisionID: "d", Steps: []TraceStep{
			{ID: "s1", SourceIDs: []string{"ghost"}, Timestamp: base},
		}}},
		{"backwards timestamps", &BeliefTrace{ID: "t", DecisionID: "d", Steps: []TraceStep{
			{ID: "s1", Timestamp: base},
			{ID: "s2", SourceIDs: []string{"s1"}, Timestamp: base.Add(-time.Second)},
		}}},
		{"duplicate step", &BeliefTrace{ID: "t", DecisionID: "d", Steps: []TraceStep{
			{ID: "s1", Timestamp: base},
			{ID: "s1", Timestamp: base.Add(time.Second)},
		}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			result := reg.VerifyTrace(context.Background(), tc.trace)
			assert.False(t, result.Verified)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestTraceRegistryWeakensUnsourcedSteps(t *testing.T) {
	reg := NewTraceRegistry()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	trace := &BeliefTrace{ID: "t", DecisionID: "d", Steps: []TraceStep{
		{ID: "s1", Timestamp: base},
		{ID: "s2", Timestamp: base.Add(time.Second)},
		{ID: "s3", Timestamp: base.Add(2 * time.Second)},
	}}

	result := reg.VerifyTrace(context.Background(), trace)
	assert.True(t, result.Verified)
	assert.InDelta(t, 0.8, result.Confidence, 1e-9)
}

func TestLocalVerifierFailsClosedWithoutTrace(t *testing.T) {
	v := NewLocalVerifier(NewTraceRegistry())

	result := v.Verify(context.Background(), testAdaptation(t, "pat_missing", 0.9))
	assert.False(t, result.Verified)
	assert.Contains(t, result.Reason, "no belief trace")

	result = v.Verify(context.Background(), testAdaptation(t, "", 0.9))
	assert.False(t, result.Verified)
	assert.Contains(t, result.Reason, "no source pattern")
}

func TestLocalVerifierVerifiesRegisteredTrace(t *testing.T) {
	reg := NewTraceRegistry()
	reg.Register(validTrace("pat_1"))
	v := NewLocalVerifier(reg)

	result := v.Verify(context.Background(), testAdaptation(t, "pat_1", 0.9))
	assert.True(t, result.Verified)
}

func TestWebhookVerifierAcceptsServiceVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"verified":true,"confidence":0.95}`))
	}))
	defer srv.Close()

	v := NewWebhookVerifier(srv.URL, nil, WithAPIKey("sekrit"))
	result := v.Verify(context.Background(), testAdaptation(t, "pat_1", 0.9))
	assert.True(t, result.Verified)
	assert.Equal(t, 0.95, result.Confidence)
}

func TestWebhookVerifierFailsClosedOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	v := NewWebhookVerifier(srv.URL, nil)
	result := v.Verify(context.Background(), testAdaptation(t, "pat_1", 0.9))
	assert.False(t, result.Verified)
	assert.Contains(t, result.Reason, "500")
}

func TestWebhookVerifierFailsClosedOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	v := NewWebhookVerifier(srv.URL, nil,
		WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	result := v.Verify(context.Background(), testAdaptation(t, "pat_1", 0.9))
	assert.False(t, result.Verified)
	assert.Contains(t, result.Reason, "unreachable")
}

func TestOPAAssessorAllowsConfidentAdaptation(t *testing.T) {
	a, err := NewOPAAssessor(context.Background(), TrustConfig{MinConfidence: 0.6})
	require.NoError(t, err)

	result, err := a.Assess(context.Background(), testAdaptation(t, "pat_1", 0.9))
	require.NoError(t, err)
	assert.True(t, result.Trustworthy)
	assert.Empty(t, result.Reasons)
	assert.Equal(t, 0.9, result.Score)
}

func TestOPAAssessorRejectsLowConfidence(t *testing.T) {
	a, err := NewOPAAssessor(context.Background(), TrustConfig{MinConfidence: 0.6})
	require.NoError(t, err)

	result, err := a.Assess(context.Background(), testAdaptation(t, "pat_1", 0.3))
	require.NoError(t, err)
	assert.False(t, result.Trustworthy)
	require.NotEmpty(t, result.Reasons)
	assert.Contains(t, result.Reasons[0], "trust floor")
}

func TestOPAAssessorRejectsProtectedParameter(t *testing.T) {
	a, err := NewOPAAssessor(context.Background(), TrustConfig{})
	require.NoError(t, err)

	adaptation := testAdaptation(t, "pat_1", 0.9)
	adaptation.Target.Parameter = "trust_threshold"

	result, err := a.Assess(context.Background(), adaptation)
	require.NoError(t, err)
	assert.False(t, result.Trustworthy)
	assert.Contains(t, result.Reasons[0], "protected")
}

func TestOPAAssessorRejectsBlockedRuleAction(t *testing.T) {
	a, err := NewOPAAssessor(context.Background(), TrustConfig{})
	require.NoError(t, err)

	adaptation := &memory.Adaptation{
		ID:   "adapt_rule",
		Type: memory.AdaptationRule,
		Target: memory.AdaptationTarget{
			Condition: "confidence < 0.2",
			Action:    "disable_verification",
		},
		Justification: memory.Justification{Confidence: 0.95, PatternID: "pat_1"},
		Status:        memory.StatusPending,
	}

	result, err := a.Assess(context.Background(), adaptation)
	require.NoError(t, err)
	assert.False(t, result.Trustworthy)
	assert.Contains(t, result.Reasons[0], "blocked")
}

func TestOPAAssessorStrategyWhitelist(t *testing.T) {
	a, err := NewOPAAssessor(context.Background(), TrustConfig{
		AllowedStrategies: []string{"conservative", "balanced"},
	})
	require.NoError(t, err)

	adaptation := &memory.Adaptation{
		ID:            "adapt_strategy",
		Type:          memory.AdaptationStrategy,
		Target:        memory.AdaptationTarget{Strategy: "reckless"},
		Justification: memory.Justification{Confidence: 0.95, PatternID: "pat_1"},
		Status:        memory.StatusPending,
	}

	result, err := a.Assess(context.Background(), adaptation)
	require.NoError(t, err)
	assert.False(t, result.Trustworthy)
	assert.Contains(t, result.Reasons[0], "allowed set")

	adaptation.Target.Strategy = "balanced"
	result, err = a.Assess(context.Background(), adaptation)
	require.NoError(t, err)
	assert.True(t, result.Trustworthy)
}
