package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFeedback(id, domain string, ts time.Time) *FeedbackRecord {
	return &FeedbackRecord{
		ID:        id,
		Timestamp: ts,
		Source:    FeedbackSource{Type: SourceUser, ID: "u1", Reliability: 0.9},
		Content:   map[string]any{"rating": 4.0},
		Context:   map[string]string{"feature_x": "enabled"},
		Domain:    domain,
	}
}

func testPattern(id, domain string, significance float64) *Pattern {
	return &Pattern{
		ID:       id,
		Type:     PatternCorrelation,
		Elements: []PatternElement{{Factor: "feature_x", Value: "enabled"}},
		Outcome:  PatternOutcome{Factor: "outcome", Value: "success"},
		Statistics: PatternStats{
			Confidence:   0.8,
			Significance: significance,
			Support:      5,
		},
		DiscoveredAt: time.Now(),
		Domain:       domain,
	}
}

func testAdaptation(id, domain string, confidence float64) *Adaptation {
	return &Adaptation{
		ID:   id,
		Type: AdaptationParameter,
		Target: AdaptationTarget{
			Parameter:   "sampling_rate",
			TargetValue: 80,
			Direction:   "increase",
		},
		Justification: Justification{Confidence: confidence, PatternID: "pat_1"},
		Status:        StatusPending,
		Domain:        domain,
	}
}

func TestStoreFeedbackRequiresID(t *testing.T) {
	store := NewStore()
	err := store.StoreFeedback(context.Background(), &FeedbackRecord{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestStoreAndStampFeedback(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	rec := testFeedback("fb_1", "", time.Now())
	require.NoError(t, store.StoreFeedback(ctx, rec))

	got := store.GetRecentFeedback(ctx, FeedbackQuery{})
	require.Len(t, got, 1)
	assert.Equal(t, "fb_1", got[0].ID)
	assert.False(t, got[0].StoredAt.IsZero())
	// Caller's record is not mutated with the stamp.
	assert.True(t, rec.StoredAt.IsZero())
}

func TestUpdateAdaptationRequiresExisting(t *testing.T) {
	store := NewStore()
	err := store.UpdateAdaptation(context.Background(), testAdaptation("missing", "", 0.9))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdaptationNotFound)
}

func TestUpdateAdaptationNilIsValidationError(t *testing.T) {
	store := NewStore()
	assert.NotPanics(t, func() {
		err := store.UpdateAdaptation(context.Background(), nil)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestUpdateAdaptationStampsUpdatedAt(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	a := testAdaptation("ad_1", "", 0.9)
	require.NoError(t, store.StoreAdaptation(ctx, a))

	a.Status = StatusApplied
	require.NoError(t, store.UpdateAdaptation(ctx, a))

	got, err := store.GetAdaptation(ctx, "ad_1")
	require.NoError(t, err)
	assert.Equal(t, StatusApplied, got.Status)
	assert.False(t, got.UpdatedAt.IsZero())
	assert.False(t, got.StoredAt.IsZero())
}

func TestVerifyIntegrityAfterMutations(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.StoreFeedback(ctx, testFeedback("fb_1", "", time.Now())))
	require.NoError(t, store.StoreFeedback(ctx, testFeedback("fb_2", "", time.Now())))
	require.NoError(t, store.StorePattern(ctx, testPattern("pat_1", "", 0.9)))
	require.NoError(t, store.StoreAdaptation(ctx, testAdaptation("ad_1", "", 0.8)))

	a := testAdaptation("ad_1", "", 0.8)
	a.Status = StatusApplied
	require.NoError(t, store.UpdateAdaptation(ctx, a))

	report := store.VerifyIntegrity(ctx)
	assert.True(t, report.Verified)
	require.Len(t, report.Collections, 3)
	for name, c := range report.Collections {
		assert.True(t, c.Verified, "collection %s", name)
		assert.Equal(t, c.StoredRoot, c.ComputedRoot, "collection %s", name)
	}
	assert.Equal(t, 2, report.Collections[CollectionFeedback].Entities)
}

func TestVerifyIntegrityDetectsTampering(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.StorePattern(ctx, testPattern("pat_1", "", 0.9)))

	// Reach into the collection and corrupt a leaf without going through
	// the store's critical section.
	store.mu.Lock()
	store.patterns.leaves["pat_1"] = "0000"
	store.mu.Unlock()

	report := store.VerifyIntegrity(ctx)
	assert.False(t, report.Verified)
	assert.False(t, report.Collections[CollectionPatterns].Verified)
	assert.True(t, report.Collections[CollectionFeedback].Verified)
}

func TestClearDomainRequiresDomain(t *testing.T) {
	store := NewStore()
	_, err := store.ClearDomain(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestClearDomainRemovesOnlyTagged(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	require.NoError(t, store.StoreFeedback(ctx, testFeedback("fb_d1", "domain1", time.Now())))
	require.NoError(t, store.StoreFeedback(ctx, testFeedback("fb_d2", "domain2", time.Now())))
	require.NoError(t, store.StorePattern(ctx, testPattern("pat_d1", "domain1", 0.9)))
	require.NoError(t, store.StorePattern(ctx, testPattern("pat_d2", "domain2", 0.9)))
	require.NoError(t, store.StoreAdaptation(ctx, testAdaptation("ad_d1", "domain1", 0.8)))
	require.NoError(t, store.StoreAdaptation(ctx, testAdaptation("ad_d2", "domain2", 0.8)))

	report, err := store.ClearDomain(ctx, "domain1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Feedback)
	assert.Equal(t, 1, report.Patterns)
	assert.Equal(t, 1, report.Adaptations)

	counts := store.Counts()
	assert.Equal(t, 1, counts[CollectionFeedback])
	assert.Equal(t, 1, counts[CollectionPatterns])
	assert.Equal(t, 1, counts[CollectionAdaptations])

	// domain2 entities untouched, trees rebuilt consistently.
	integrity := store.VerifyIntegrity(ctx)
	assert.True(t, integrity.Verified)
	_, err = store.GetAdaptation(ctx, "ad_d2")
	assert.NoError(t, err)
}

func TestRecordCycleMetrics(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	store.RecordCycleMetrics(ctx, CycleMetrics{Cycle: 1, Status: "completed"})
	store.RecordCycleMetrics(ctx, CycleMetrics{Cycle: 2, Status: "skipped"})

	history := store.CycleHistory(ctx)
	require.Len(t, history, 2)
	assert.Equal(t, 1, history[0].Cycle)
	assert.False(t, history[0].RecordedAt.IsZero())
}
